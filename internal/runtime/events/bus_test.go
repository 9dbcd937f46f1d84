package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

type recordingNotifier struct {
	mu      sync.Mutex
	kinds   []Kind
	enabled func(Event) bool
	starts  atomic.Int32
	stops   atomic.Int32
}

func (r *recordingNotifier) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, evt.Kind())
	return nil
}

func (r *recordingNotifier) IsEnabled(evt Event) bool {
	if r.enabled == nil {
		return true
	}
	return r.enabled(evt)
}

func (r *recordingNotifier) Start(context.Context) error {
	r.starts.Add(1)
	return nil
}

func (r *recordingNotifier) Stop(context.Context) error {
	r.stops.Add(1)
	return nil
}

func (r *recordingNotifier) received() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

func newBus() *Bus {
	return NewBus("ctx-1", loggingpkg.Discard())
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := newBus()
	var order []string
	bus.Subscribe(NotifierFunc(func(context.Context, Event) error {
		order = append(order, "first")
		return nil
	}), Filter{})
	bus.Subscribe(NotifierFunc(func(context.Context, Event) error {
		order = append(order, "second")
		return nil
	}), Filter{})

	bus.Publish(context.Background(), New(ContextStarting))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNotifierFailureIsIsolated(t *testing.T) {
	bus := newBus()
	bus.Subscribe(NotifierFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}), Filter{})
	bus.Subscribe(NotifierFunc(func(context.Context, Event) error {
		panic("kaboom")
	}), Filter{})
	rec := &recordingNotifier{}
	bus.Subscribe(rec, Filter{})

	bus.Publish(context.Background(), ForExchange(ExchangeCreated, exchange.New("hello")))

	assert.Equal(t, []Kind{ExchangeCreated}, rec.received())
	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestFilterSuppressesCategories(t *testing.T) {
	bus := newBus()
	exchangeOnly := &recordingNotifier{}
	bus.Subscribe(exchangeOnly, ExchangeOnly())
	noFailures := &recordingNotifier{}
	bus.Subscribe(noFailures, Filter{IgnoreExchangeFailedEvents: true, IgnoreRouteEvents: true})
	predicate := &recordingNotifier{enabled: func(e Event) bool { return e.Kind() == ExchangeRedelivery }}
	bus.Subscribe(predicate, Filter{})

	ctx := context.Background()
	ex := exchange.New(nil)
	for _, evt := range []Event{
		New(ContextStarted),
		ForRoute(RouteStarted, "route1"),
		ForExchange(ExchangeFailureHandling, ex),
		ForExchange(ExchangeRedelivery, ex).WithAttempt(1),
		ForExchange(ExchangeFailed, ex),
	} {
		bus.Publish(ctx, evt)
	}

	want := []Kind{ExchangeFailureHandling, ExchangeRedelivery, ExchangeFailed}
	if diff := cmp.Diff(want, exchangeOnly.received()); diff != "" {
		t.Fatalf("exchange-only notifier mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Kind{ContextStarted, ExchangeRedelivery}, noFailures.received()); diff != "" {
		t.Fatalf("no-failures notifier mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []Kind{ExchangeRedelivery}, predicate.received())
}

func TestEnabledFastPath(t *testing.T) {
	bus := newBus()
	assert.False(t, bus.Enabled(ExchangeCreated))

	h := bus.Subscribe(&recordingNotifier{}, Filter{IgnoreExchangeCreatedEvent: true})
	assert.False(t, bus.Enabled(ExchangeCreated))
	assert.True(t, bus.Enabled(ExchangeSent))

	bus.Unsubscribe(context.Background(), h)
	assert.False(t, bus.Enabled(ExchangeSent))
}

func TestLateSubscriberIsStartedBeforeFirstDelivery(t *testing.T) {
	bus := newBus()
	early := &recordingNotifier{}
	bus.Subscribe(early, Filter{})
	require.NoError(t, bus.Start(context.Background()))
	assert.Equal(t, int32(1), early.starts.Load())

	late := &recordingNotifier{}
	h := bus.Subscribe(late, Filter{})
	assert.Equal(t, int32(0), late.starts.Load())

	bus.Publish(context.Background(), ForRoute(RouteAdded, "r"))
	assert.Equal(t, int32(1), late.starts.Load())
	assert.Equal(t, []Kind{RouteAdded}, late.received())

	bus.Unsubscribe(context.Background(), h)
	assert.Equal(t, int32(1), late.stops.Load())
	bus.Publish(context.Background(), ForRoute(RouteRemoved, "r"))
	assert.Equal(t, []Kind{RouteAdded}, late.received())

	bus.Stop(context.Background())
	assert.Equal(t, int32(1), early.stops.Load())
	assert.Equal(t, int32(1), late.stops.Load())
}

func TestUnsubscribeWaitsForInflightDelivery(t *testing.T) {
	bus := newBus()
	entered := make(chan struct{})
	release := make(chan struct{})
	var after atomic.Bool
	var unsubscribed atomic.Bool
	h := bus.Subscribe(NotifierFunc(func(context.Context, Event) error {
		if unsubscribed.Load() {
			after.Store(true)
		}
		close(entered)
		<-release
		return nil
	}), Filter{})

	go bus.Publish(context.Background(), New(ContextStarted))
	<-entered

	done := make(chan struct{})
	go func() {
		bus.Unsubscribe(context.Background(), h)
		unsubscribed.Store(true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while a delivery was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done

	bus.Publish(context.Background(), New(ContextStopping))
	assert.False(t, after.Load())
	assert.Equal(t, 0, bus.Len())
}

func TestNotifierPublishingDuringUnsubscribeDoesNotBlock(t *testing.T) {
	bus := newBus()
	entered := make(chan struct{})
	release := make(chan struct{})
	var nested atomic.Int32
	var h *Handle
	h = bus.Subscribe(NotifierFunc(func(ctx context.Context, evt Event) error {
		if evt.Kind() != ContextStarted {
			nested.Add(1)
			return nil
		}
		close(entered)
		<-release
		bus.Publish(ctx, New(ContextStopping))
		return nil
	}), Filter{})

	published := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), New(ContextStarted))
		close(published)
	}()
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		bus.Unsubscribe(context.Background(), h)
		close(unsubscribed)
	}()
	require.Eventually(t, func() bool { return bus.Len() == 0 }, 2*time.Second, time.Millisecond)
	close(release)

	for _, ch := range []chan struct{}{published, unsubscribed} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("nested publish deadlocked with unsubscribe")
		}
	}
	assert.Zero(t, nested.Load())
}

func TestPublishStampsContextName(t *testing.T) {
	bus := newBus()
	var got Event
	bus.Subscribe(NotifierFunc(func(_ context.Context, e Event) error {
		got = e
		return nil
	}), Filter{})

	ex := exchange.New("x")
	ex.RouteID = "route1"
	bus.Publish(context.Background(), ForExchange(ExchangeSending, ex).WithEndpoint("mock://result").WithElapsed(time.Millisecond))

	assert.Equal(t, "ctx-1", got.ContextName())
	assert.Equal(t, ex.ID, got.ExchangeID())
	assert.Equal(t, "route1", got.RouteID())
	assert.Equal(t, "mock://result", got.EndpointURI())
	assert.Same(t, ex, got.Exchange())
	assert.NotEmpty(t, got.ID())
	assert.Contains(t, got.String(), "mock://result")
}

func TestKindMetadata(t *testing.T) {
	assert.Equal(t, CategoryContext, ContextStopped.Category())
	assert.Equal(t, CategoryRoute, RouteRemoved.Category())
	assert.Equal(t, CategoryService, ServiceStopFailure.Category())
	assert.Equal(t, CategoryExchange, ExchangeRedelivery.Category())
	assert.True(t, ExchangeFailed.IsTerminal())
	assert.False(t, ExchangeSent.IsTerminal())
	assert.Len(t, Kinds(), 19)

	k, ok := ParseKind("ExchangeFailureHandled")
	require.True(t, ok)
	assert.Equal(t, ExchangeFailureHandled, k)
	assert.Equal(t, "Unknown", Kind(0).String())
}
