package cloudevents

// Extension attributes carried by exported management events.
const (
	// ExtAttempt is the redelivery attempt, starting at 1.
	ExtAttempt = "fsattempt"
	// ExtMaxAttempts is the configured maximum number of redeliveries.
	ExtMaxAttempts = "fsmaxattempts"
	// ExtDeadLetter marks events about exchanges moved to a dead letter endpoint.
	ExtDeadLetter = "fsdeadletter"
	// ExtErrorMessage holds the failure cause.
	ExtErrorMessage = "fserror"
	ExtExchangeID   = "fsexchangeid"
	ExtRouteID      = "fsrouteid"
	ExtEndpoint     = "fsendpoint"
	// ExtCorrelationID links events of exchanges sharing a correlation id.
	ExtCorrelationID = "fscorrelationid"
	// ExtTraceParent carries the W3C trace context of the exchange.
	ExtTraceParent = "traceparent"
)

func Attempt(evt Event) int { return evt.ExtensionInt(ExtAttempt) }

// WithAttempt records the redelivery attempt and its configured maximum.
func WithAttempt(evt Event, attempt, maxAttempts int) Event {
	evt = evt.WithExtension(ExtAttempt, attempt)
	if maxAttempts > 0 {
		evt = evt.WithExtension(ExtMaxAttempts, maxAttempts)
	}
	return evt
}

func IsDeadLetter(evt Event) bool {
	b, _ := evt.Extensions[ExtDeadLetter].(bool)
	return b
}

// WithDeadLetter marks the event as describing a dead lettered exchange.
func WithDeadLetter(evt Event, cause error) Event {
	evt = evt.WithExtension(ExtDeadLetter, true)
	if cause != nil {
		evt = evt.WithExtension(ExtErrorMessage, cause.Error())
	}
	return evt
}

// WithExchange sets the correlation extensions, skipping empty values.
func WithExchange(evt Event, exchangeID, routeID, endpoint, correlationID string) Event {
	for key, value := range map[string]string{
		ExtExchangeID:    exchangeID,
		ExtRouteID:       routeID,
		ExtEndpoint:      endpoint,
		ExtCorrelationID: correlationID,
	} {
		if value != "" {
			evt = evt.WithExtension(key, value)
		}
	}
	return evt
}
