package events

// Kind is the closed set of event types published by the runtime.
type Kind uint8

const (
	ContextStarting Kind = iota + 1
	ContextStarted
	ContextStartupFailure
	ContextStopping
	ContextStopped

	RouteAdded
	RouteStarted
	RouteStopped
	RouteRemoved

	ServiceStartupFailure
	ServiceStopFailure

	ExchangeCreated
	ExchangeSending
	ExchangeSent
	ExchangeCompleted
	ExchangeFailed
	ExchangeFailureHandling
	ExchangeFailureHandled
	ExchangeRedelivery

	kindCount
)

var kindNames = [...]string{
	ContextStarting:         "ContextStarting",
	ContextStarted:          "ContextStarted",
	ContextStartupFailure:   "ContextStartupFailure",
	ContextStopping:         "ContextStopping",
	ContextStopped:          "ContextStopped",
	RouteAdded:              "RouteAdded",
	RouteStarted:            "RouteStarted",
	RouteStopped:            "RouteStopped",
	RouteRemoved:            "RouteRemoved",
	ServiceStartupFailure:   "ServiceStartupFailure",
	ServiceStopFailure:      "ServiceStopFailure",
	ExchangeCreated:         "ExchangeCreated",
	ExchangeSending:         "ExchangeSending",
	ExchangeSent:            "ExchangeSent",
	ExchangeCompleted:       "ExchangeCompleted",
	ExchangeFailed:          "ExchangeFailed",
	ExchangeFailureHandling: "ExchangeFailureHandling",
	ExchangeFailureHandled:  "ExchangeFailureHandled",
	ExchangeRedelivery:      "ExchangeRedelivery",
}

func (k Kind) String() string {
	if k == 0 || k >= kindCount {
		return "Unknown"
	}
	return kindNames[k]
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := ContextStarting; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := ContextStarting; k < kindCount; k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Category groups kinds for filtering.
type Category uint8

const (
	CategoryContext Category = iota + 1
	CategoryRoute
	CategoryService
	CategoryExchange
)

func (k Kind) Category() Category {
	switch {
	case k >= ContextStarting && k <= ContextStopped:
		return CategoryContext
	case k >= RouteAdded && k <= RouteRemoved:
		return CategoryRoute
	case k == ServiceStartupFailure || k == ServiceStopFailure:
		return CategoryService
	case k >= ExchangeCreated && k < kindCount:
		return CategoryExchange
	default:
		return 0
	}
}

// IsTerminal reports whether k ends an exchange's unit of work.
func (k Kind) IsTerminal() bool {
	return k == ExchangeCompleted || k == ExchangeFailed
}
