package events

import "context"

// Notifier receives events from a Bus. IsEnabled is consulted per event
// before Notify.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
	IsEnabled(evt Event) bool
}

// Starter is implemented by notifiers that need to start before their first
// delivery.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by notifiers that release resources on removal or
// context shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// NotifierFunc adapts a function into a Notifier that accepts every event.
type NotifierFunc func(ctx context.Context, evt Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

func (f NotifierFunc) IsEnabled(Event) bool { return true }

// Filter suppresses categories of events for one subscription. The zero
// value lets everything through.
type Filter struct {
	IgnoreContextEvents            bool
	IgnoreRouteEvents              bool
	IgnoreServiceEvents            bool
	IgnoreExchangeEvents           bool
	IgnoreExchangeCreatedEvent     bool
	IgnoreExchangeSendingEvents    bool
	IgnoreExchangeSentEvents       bool
	IgnoreExchangeCompletedEvent   bool
	IgnoreExchangeFailedEvents     bool
	IgnoreExchangeRedeliveryEvents bool
}

// ExchangeOnly ignores everything but exchange events.
func ExchangeOnly() Filter {
	return Filter{IgnoreContextEvents: true, IgnoreRouteEvents: true, IgnoreServiceEvents: true}
}

// Allows reports whether kind passes the filter. Failure handling events
// follow the failed flag.
func (f Filter) Allows(kind Kind) bool {
	switch kind.Category() {
	case CategoryContext:
		return !f.IgnoreContextEvents
	case CategoryRoute:
		return !f.IgnoreRouteEvents
	case CategoryService:
		return !f.IgnoreServiceEvents
	case CategoryExchange:
	default:
		return false
	}
	if f.IgnoreExchangeEvents {
		return false
	}
	switch kind {
	case ExchangeCreated:
		return !f.IgnoreExchangeCreatedEvent
	case ExchangeSending:
		return !f.IgnoreExchangeSendingEvents
	case ExchangeSent:
		return !f.IgnoreExchangeSentEvents
	case ExchangeCompleted:
		return !f.IgnoreExchangeCompletedEvent
	case ExchangeFailed, ExchangeFailureHandling, ExchangeFailureHandled:
		return !f.IgnoreExchangeFailedEvents
	case ExchangeRedelivery:
		return !f.IgnoreExchangeRedeliveryEvents
	}
	return true
}

func (f Filter) mask() uint64 {
	var m uint64
	for k := ContextStarting; k < kindCount; k++ {
		if f.Allows(k) {
			m |= 1 << k
		}
	}
	return m
}
