package events

import (
	"fmt"
	"time"

	"github.com/drblury/flowscope/internal/runtime/exchange"
	idspkg "github.com/drblury/flowscope/internal/runtime/ids"
)

// Event is an immutable notification. Builders return modified copies.
type Event struct {
	kind          Kind
	id            string
	timestamp     time.Time
	contextName   string
	routeID       string
	serviceName   string
	exchangeID    string
	exchange      *exchange.Exchange
	endpointURI   string
	attempt       int
	elapsed       time.Duration
	err           error
	handled       bool
	deadLetterURI string
}

// New returns an event of kind stamped with the current time and a fresh id.
func New(kind Kind) Event {
	now := time.Now()
	return Event{kind: kind, id: idspkg.CreateULIDAt(now), timestamp: now}
}

// ForExchange returns an exchange-scoped event.
func ForExchange(kind Kind, ex *exchange.Exchange) Event {
	evt := New(kind)
	if ex != nil {
		evt.exchange = ex
		evt.exchangeID = ex.ID
		evt.routeID = ex.RouteID
		evt.err = ex.Err
	}
	return evt
}

// ForRoute returns a route lifecycle event.
func ForRoute(kind Kind, routeID string) Event {
	evt := New(kind)
	evt.routeID = routeID
	return evt
}

func (e Event) WithContextName(name string) Event {
	e.contextName = name
	return e
}

func (e Event) WithRouteID(id string) Event {
	e.routeID = id
	return e
}

func (e Event) WithService(name string) Event {
	e.serviceName = name
	return e
}

func (e Event) WithEndpoint(uri string) Event {
	e.endpointURI = uri
	return e
}

func (e Event) WithAttempt(n int) Event {
	e.attempt = n
	return e
}

func (e Event) WithElapsed(d time.Duration) Event {
	e.elapsed = d
	return e
}

func (e Event) WithError(err error) Event {
	e.err = err
	return e
}

func (e Event) WithHandled(handled bool) Event {
	e.handled = handled
	return e
}

func (e Event) WithDeadLetter(uri string) Event {
	e.deadLetterURI = uri
	return e
}

func (e Event) Kind() Kind             { return e.kind }
func (e Event) ID() string             { return e.id }
func (e Event) Timestamp() time.Time   { return e.timestamp }
func (e Event) ContextName() string    { return e.contextName }
func (e Event) RouteID() string        { return e.routeID }
func (e Event) ServiceName() string    { return e.serviceName }
func (e Event) ExchangeID() string     { return e.exchangeID }
func (e Event) EndpointURI() string    { return e.endpointURI }
func (e Event) Attempt() int           { return e.attempt }
func (e Event) Elapsed() time.Duration { return e.elapsed }
func (e Event) Err() error             { return e.err }
func (e Event) Handled() bool          { return e.handled }
func (e Event) DeadLetterURI() string  { return e.deadLetterURI }
func (e Event) Category() Category     { return e.kind.Category() }

// Exchange returns the live exchange for exchange-scoped events. Notifiers
// must treat it as read-only.
func (e Event) Exchange() *exchange.Exchange { return e.exchange }

func (e Event) String() string {
	switch e.kind.Category() {
	case CategoryExchange:
		if e.endpointURI != "" {
			return fmt.Sprintf("%s[%s -> %s]", e.kind, e.exchangeID, e.endpointURI)
		}
		return fmt.Sprintf("%s[%s]", e.kind, e.exchangeID)
	case CategoryRoute:
		return fmt.Sprintf("%s[%s]", e.kind, e.routeID)
	case CategoryService:
		return fmt.Sprintf("%s[%s]", e.kind, e.serviceName)
	default:
		return fmt.Sprintf("%s[%s]", e.kind, e.contextName)
	}
}
