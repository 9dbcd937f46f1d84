package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/flowscope/internal/runtime/config"
	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
	"github.com/drblury/flowscope/internal/runtime/stats"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type recordedEvent struct {
	Kind     events.Kind
	Endpoint string
	Attempt  int
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) IsEnabled(events.Event) bool { return true }

func (r *recordingNotifier) exchangeEvents() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, evt := range r.events {
		if evt.Category() != events.CategoryExchange {
			continue
		}
		out = append(out, recordedEvent{Kind: evt.Kind(), Endpoint: evt.EndpointURI(), Attempt: evt.Attempt()})
	}
	return out
}

func (r *recordingNotifier) kinds(category events.Category) []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, evt := range r.events {
		if evt.Category() == category {
			out = append(out, evt.Kind())
		}
	}
	return out
}

func newTestService(t *testing.T, mutate func(*configpkg.Config), notifiers ...events.Notifier) *Service {
	t.Helper()
	cfg := configpkg.Default()
	cfg.ContextName = "test"
	cfg.AdminPort = 18081
	if mutate != nil {
		mutate(cfg)
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
		Notifiers:         notifiers,
	})
	t.Cleanup(func() {
		svc.Debugger().Disable()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

func startService(t *testing.T, svc *Service, routes ...*RouteBuilder) {
	t.Helper()
	require.NoError(t, svc.AddRoutes(context.Background(), routes...))
	require.NoError(t, svc.Start(context.Background()))
}

func countNames(t *testing.T, svc *Service, entityType string) int {
	t.Helper()
	names, err := svc.Registry().FindString("flowscope:context=test,type=" + entityType + ",*")
	require.NoError(t, err)
	return len(names)
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(nil, nil, context.Background(), ServiceDependencies{MetricsRegisterer: prometheus.NewRegistry()})

	assert.Equal(t, "flowscope-1", svc.Name())
	assert.Equal(t, StatusStopped, svc.Status())
	assert.NotNil(t, svc.Template())
	assert.Equal(t, "flowscope", svc.Naming().Domain())
	assert.Zero(t, svc.Registry().Len())
}

func TestNewServicePanicsOnInvalidConfig(t *testing.T) {
	cfg := configpkg.Default()
	cfg.StatisticsLevel = "Everything"
	assert.Panics(t, func() {
		NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})
	})
}

func TestDirectRouteEventOrder(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	startService(t, svc, From("direct:start").RouteID("main").To("log:foo").To("mock:result"))

	_, err := svc.Template().SendBody(context.Background(), "direct:start", "hello")
	require.NoError(t, err)

	want := []recordedEvent{
		{Kind: events.ExchangeCreated},
		{Kind: events.ExchangeSending, Endpoint: "direct://start"},
		{Kind: events.ExchangeSending, Endpoint: "log://foo"},
		{Kind: events.ExchangeSent, Endpoint: "log://foo"},
		{Kind: events.ExchangeSending, Endpoint: "mock://result"},
		{Kind: events.ExchangeSent, Endpoint: "mock://result"},
		{Kind: events.ExchangeCompleted},
		{Kind: events.ExchangeSent, Endpoint: "direct://start"},
	}
	if diff := cmp.Diff(want, rec.exchangeEvents()); diff != "" {
		t.Fatalf("unexpected exchange events (-want +got):\n%s", diff)
	}

	mock, err := svc.MockEndpoint("mock:result")
	require.NoError(t, err)
	assert.Equal(t, []any{"hello"}, mock.ReceivedBodies())
}

func TestContextLifecycleEvents(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	startService(t, svc, From("direct:a").RouteID("a").To("mock:a"))
	require.NoError(t, svc.Stop(context.Background()))

	assert.Equal(t, []events.Kind{
		events.ContextStarting, events.ContextStarted, events.ContextStopping, events.ContextStopped,
	}, rec.kinds(events.CategoryContext))
	assert.Equal(t, []events.Kind{
		events.RouteAdded, events.RouteStarted, events.RouteStopped, events.RouteRemoved,
	}, rec.kinds(events.CategoryRoute))
}

func TestManagedEntityRegistration(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("main").To("log:foo").To("mock:result"))

	assert.Equal(t, 1, countNames(t, svc, naming.TypeContext))
	assert.Equal(t, 2, countNames(t, svc, naming.TypeTracer))
	assert.Equal(t, 3, countNames(t, svc, naming.TypeEndpoints))
	assert.Equal(t, 1, countNames(t, svc, naming.TypeRoutes))
	assert.Equal(t, 2, countNames(t, svc, naming.TypeProcessors))
	assert.Equal(t, 1, countNames(t, svc, naming.TypeConsumers))
	assert.Equal(t, 2, countNames(t, svc, naming.TypeProducers))
	assert.Equal(t, 1, countNames(t, svc, naming.TypeErrorHandlers))
	assert.Equal(t, 13, svc.Registry().Len())

	require.NoError(t, svc.Stop(context.Background()))
	assert.Zero(t, svc.Registry().Len())

	// Routes survive a restart and are registered again.
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, 13, svc.Registry().Len())
}

func TestRemoveRouteUnregistersOwnedEntities(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	startService(t, svc,
		From("direct:start").RouteID("main").To("mock:result"),
		From("direct:other").RouteID("other").To("mock:result"),
	)
	require.Equal(t, 2, countNames(t, svc, naming.TypeRoutes))

	require.NoError(t, svc.RemoveRoute(context.Background(), "main"))

	assert.Equal(t, []string{"other"}, svc.RouteIDs())
	assert.Equal(t, 1, countNames(t, svc, naming.TypeRoutes))
	assert.Equal(t, 1, countNames(t, svc, naming.TypeProcessors))
	assert.Equal(t, 1, countNames(t, svc, naming.TypeConsumers))
	// Endpoints are shared and stay registered.
	assert.Equal(t, 3, countNames(t, svc, naming.TypeEndpoints))
	assert.Contains(t, rec.kinds(events.CategoryRoute), events.RouteRemoved)

	err := svc.RemoveRoute(context.Background(), "main")
	assert.ErrorIs(t, err, errspkg.ErrRouteNotFound)
}

func TestAddRouteAfterStartRegistersWhenEnabled(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:a").RouteID("a").To("mock:a"))

	require.NoError(t, svc.AddRoutes(context.Background(), From("direct:b").RouteID("b").To("mock:b")))
	assert.Equal(t, 2, countNames(t, svc, naming.TypeRoutes))

	svc.Conf.RegisterNewRoutes = false
	require.NoError(t, svc.AddRoutes(context.Background(), From("direct:c").RouteID("c").To("mock:c")))
	assert.Equal(t, 2, countNames(t, svc, naming.TypeRoutes))

	_, err := svc.Template().SendBody(context.Background(), "direct:c", "x")
	require.NoError(t, err)
}

func TestAddRoutesRejectsDuplicates(t *testing.T) {
	svc := newTestService(t, nil)
	require.NoError(t, svc.AddRoutes(context.Background(), From("direct:a").RouteID("a").To("mock:a")))

	err := svc.AddRoutes(context.Background(), From("direct:z").RouteID("a").To("mock:a"))
	assert.ErrorIs(t, err, errspkg.ErrDuplicateRoute)

	err = svc.AddRoutes(context.Background(), From("direct:b").RouteID("b").To("mock:a").ID("dup").To("mock:b").ID("dup"))
	assert.ErrorIs(t, err, errspkg.ErrDuplicateNodeID)

	err = svc.AddRoutes(context.Background(), From("nope:x"))
	assert.ErrorIs(t, err, errspkg.ErrUnknownComponent)
}

func TestOnlyRegisterProcessorsWithCustomID(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.OnlyRegisterProcessorsWithCustomID = true })
	startService(t, svc, From("direct:start").RouteID("main").To("mock:a").ID("custom").To("mock:b"))

	names, err := svc.Registry().FindString("flowscope:type=processors,*")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "custom", names[0].Name)
}

func TestManagementDisabled(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.ManagementDisabled = true })
	startService(t, svc, From("direct:start").To("mock:a"))
	assert.Zero(t, svc.Registry().Len())
}

func TestRedeliveryAttempts(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	boom := errors.New("boom")
	startService(t, svc, From("direct:start").RouteID("main").
		ErrorHandler(DefaultErrorHandler().MaximumRedeliveries(4).RedeliveryDelay(time.Millisecond)).
		Process(func(context.Context, *exchangepkg.Exchange) error { return boom }).ID("fail"))

	_, err := svc.Template().SendBody(context.Background(), "direct:start", "x")
	require.ErrorIs(t, err, boom)

	var attempts []int
	var terminal []events.Kind
	for _, evt := range rec.exchangeEvents() {
		switch evt.Kind {
		case events.ExchangeRedelivery:
			attempts = append(attempts, evt.Attempt)
		case events.ExchangeCompleted, events.ExchangeFailed:
			terminal = append(terminal, evt.Kind)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.Equal(t, []events.Kind{events.ExchangeFailed}, terminal)

	attrs, err := svc.Registry().Attributes(svc.Naming().ErrorHandler(KindDefaultErrorHandler, "main"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, attrs["Redeliveries"])
	assert.Equal(t, 4, attrs["MaximumRedeliveries"])

	rec2, ok := svc.Statistics().Snapshot(stats.ScopeRoute, "main")
	require.True(t, ok)
	assert.EqualValues(t, 1, rec2.ExchangesFailed)
	assert.EqualValues(t, 4, rec2.Redeliveries)
}

func TestDeadLetterChannelHandlesFailure(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	startService(t, svc, From("direct:start").RouteID("main").
		ErrorHandler(DeadLetterChannel("mock:dead").MaximumRedeliveries(1)).
		Process(func(context.Context, *exchangepkg.Exchange) error { return errors.New("boom") }).
		To("mock:never"))

	_, err := svc.Template().SendBody(context.Background(), "direct:start", "x")
	require.NoError(t, err)

	dead, err := svc.MockEndpoint("mock:dead")
	require.NoError(t, err)
	never, err := svc.MockEndpoint("mock:never")
	require.NoError(t, err)
	assert.Equal(t, 1, dead.ReceivedCounter())
	assert.Zero(t, never.ReceivedCounter())

	failed, ok := dead.ReceivedExchanges()[0].Property(exchangepkg.PropertyFailureRouteID)
	require.True(t, ok)
	assert.Equal(t, "main", failed)

	var kinds []events.Kind
	for _, evt := range rec.exchangeEvents() {
		if evt.Kind != events.ExchangeSending && evt.Kind != events.ExchangeSent {
			kinds = append(kinds, evt.Kind)
		}
	}
	assert.Equal(t, []events.Kind{
		events.ExchangeCreated,
		events.ExchangeRedelivery,
		events.ExchangeFailureHandling,
		events.ExchangeFailureHandled,
		events.ExchangeCompleted,
	}, kinds)

	metrics := svc.DeadLetterMetrics().Endpoint("mock://dead")
	require.NotNil(t, metrics)
	assert.EqualValues(t, 1, metrics.Exchanges)
	assert.EqualValues(t, 1, metrics.ByRoute["main"])
}

func TestErrorHandlerAttributesAreWritable(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("main").To("mock:a"))
	name := svc.Naming().ErrorHandler(KindDefaultErrorHandler, "main")

	require.NoError(t, svc.Registry().SetAttribute(name, "MaximumRedeliveries", 3))
	require.NoError(t, svc.Registry().SetAttribute(name, "RedeliveryDelay", 250))
	require.NoError(t, svc.Registry().SetAttribute(name, "UseExponentialBackOff", "true"))

	attrs, err := svc.Registry().Attributes(name)
	require.NoError(t, err)
	assert.Equal(t, 3, attrs["MaximumRedeliveries"])
	assert.EqualValues(t, 250, attrs["RedeliveryDelay"])
	assert.Equal(t, true, attrs["UseExponentialBackOff"])

	err = svc.Registry().SetAttribute(name, "Redeliveries", 1)
	assert.ErrorIs(t, err, errspkg.ErrReadOnlyAttribute)
	require.NoError(t, svc.Registry().SetAttribute(name, "MaximumRedeliveries", RedeliverForever))
	attrs, err = svc.Registry().Attributes(name)
	require.NoError(t, err)
	assert.Equal(t, RedeliverForever, attrs["MaximumRedeliveries"])
	err = svc.Registry().SetAttribute(name, "MaximumRedeliveries", -2)
	assert.ErrorIs(t, err, errspkg.ErrInvalidArgument)
}

func TestRedeliverForeverRetriesUntilSuccess(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	calls := 0
	startService(t, svc, From("direct:start").RouteID("main").
		ErrorHandler(DefaultErrorHandler().MaximumRedeliveries(RedeliverForever).RedeliveryDelay(time.Millisecond)).
		Process(func(context.Context, *exchangepkg.Exchange) error {
			calls++
			if calls <= 7 {
				return errors.New("not yet")
			}
			return nil
		}).ID("flaky"))

	_, err := svc.Template().SendBody(context.Background(), "direct:start", "x")
	require.NoError(t, err)
	assert.Equal(t, 8, calls)

	var attempts int
	for _, evt := range rec.exchangeEvents() {
		if evt.Kind == events.ExchangeRedelivery {
			attempts++
		}
	}
	assert.Equal(t, 7, attempts)
}

func TestRedeliveryBelowForeverIsRejected(t *testing.T) {
	svc := newTestService(t, nil)
	err := svc.AddRoutes(context.Background(), From("direct:start").RouteID("main").
		ErrorHandler(DefaultErrorHandler().MaximumRedeliveries(-5)).
		To("mock:out"))
	assert.ErrorIs(t, err, errspkg.ErrInvalidArgument)
}

func TestStatisticsResetRecursive(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("main").To("mock:a").ID("to-a"))

	for i := 0; i < 2; i++ {
		_, err := svc.Template().SendBody(context.Background(), "direct:start", i)
		require.NoError(t, err)
	}

	routeName := svc.Naming().Route("main")
	total, err := svc.Registry().Attribute(routeName, "ExchangesTotal")
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	processed, err := svc.Registry().Attribute(svc.Naming().Processor("to-a"), "ExchangesCompleted")
	require.NoError(t, err)
	assert.EqualValues(t, 2, processed)

	_, err = svc.Registry().Invoke(context.Background(), routeName, "reset", true)
	require.NoError(t, err)

	total, err = svc.Registry().Attribute(routeName, "ExchangesTotal")
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	processed, err = svc.Registry().Attribute(svc.Naming().Processor("to-a"), "ExchangesCompleted")
	require.NoError(t, err)
	assert.EqualValues(t, 0, processed)
}

func TestBacklogTracerPattern(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) {
		c.BacklogTracing = true
		c.TracePattern = "traced*"
	})
	startService(t, svc,
		From("direct:traced").RouteID("traced-1").To("mock:a").ID("traced-node"),
		From("direct:other").RouteID("other").To("mock:b").ID("other-node"),
	)

	for _, uri := range []string{"direct:traced", "direct:other", "direct:traced"} {
		_, err := svc.Template().SendBody(context.Background(), uri, "body")
		require.NoError(t, err)
	}

	tracer := svc.Tracer()
	assert.EqualValues(t, 2, tracer.TraceCounter())
	assert.Len(t, tracer.DumpTracedMessages("traced-node"), 2)
	assert.Empty(t, tracer.DumpTracedMessages("other-node"))

	// Dumping removes the messages by default.
	assert.Empty(t, tracer.DumpTracedMessages("traced-node"))

	name := svc.Naming().Tracer(tracerEntityName)
	require.NoError(t, svc.Registry().SetAttribute(name, "TracePattern", ""))
	_, err := svc.Template().SendBody(context.Background(), "direct:other", "body")
	require.NoError(t, err)
	all, err := svc.Registry().Invoke(context.Background(), name, "dumpAllTracedMessagesAsXml")
	require.NoError(t, err)
	assert.Contains(t, all, "<toNode>other-node</toNode>")
}

func TestDebuggerSuspendsOneExchangePerNode(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.DebuggerEnabled = true })
	startService(t, svc, From("seda:in?concurrentConsumers=2").RouteID("main").
		To("mock:out").ID("to-out"))
	mock, err := svc.MockEndpoint("mock:out")
	require.NoError(t, err)

	debugger := svc.Debugger()
	debugger.AddBreakpoint("to-out")

	for _, body := range []string{"a", "b"} {
		_, err := svc.Template().SendBody(context.Background(), "seda:in", body)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return cmp.Equal([]string{"to-out"}, debugger.SuspendedBreakpointNodeIDs()) && mock.ReceivedCounter() == 1
	}, 5*time.Second, 10*time.Millisecond)

	suspended, ok := debugger.SuspendedExchange("to-out")
	require.True(t, ok)
	require.NoError(t, debugger.SetMessageBodyOnBreakpoint("to-out", "changed", ""))
	assert.Equal(t, "changed", suspended.In.Body)

	debugger.ResumeBreakpoint("to-out")
	require.Eventually(t, func() bool { return mock.ReceivedCounter() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []any{"a", "changed"}, mock.ReceivedBodies())
	assert.Empty(t, debugger.SuspendedBreakpointNodeIDs())
	assert.EqualValues(t, 1, debugger.DebugCounter())

	pool, err := svc.Registry().Attributes(svc.Naming().ThreadPool("seda", "main"))
	require.NoError(t, err)
	assert.Equal(t, 2, pool["MaximumPoolSize"])
}

func TestDebuggerSingleStep(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.DebuggerEnabled = true })
	startService(t, svc, From("direct:start").RouteID("main").
		SetProperty("p", 1).ID("n1").
		SetProperty("q", 2).ID("n2").
		To("mock:out").ID("n3"))
	debugger := svc.Debugger()
	debugger.AddBreakpoint("n1")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Template().SendBody(context.Background(), "direct:start", "x")
		done <- err
	}()

	waitSuspended := func(node string) {
		t.Helper()
		require.Eventually(t, func() bool {
			return cmp.Equal([]string{node}, debugger.SuspendedBreakpointNodeIDs())
		}, 5*time.Second, 10*time.Millisecond)
	}

	waitSuspended("n1")
	debugger.StepBreakpoint("n1")
	assert.True(t, debugger.IsSingleStepMode())
	waitSuspended("n2")
	debugger.Step()
	waitSuspended("n3")
	debugger.Step()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not complete")
	}
	assert.Eventually(t, func() bool { return !debugger.IsSingleStepMode() }, time.Second, 10*time.Millisecond)
}

func TestConditionalBreakpointSuspendsMatchingExchanges(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.DebuggerEnabled = true })
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out").ID("confirm"))
	mock, err := svc.MockEndpoint("mock:out")
	require.NoError(t, err)

	debugger := svc.Debugger()
	assert.Empty(t, debugger.ValidateConditionalBreakpoint("simple", "${body} contains 'Camel'"))
	require.NoError(t, debugger.AddConditionalBreakpoint("confirm", "simple", "${body} contains 'Camel'"))
	assert.Equal(t, []string{"confirm"}, debugger.Breakpoints())

	_, err = svc.Template().SendBody(context.Background(), "direct:start", "Hello World")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.ReceivedCounter())
	assert.Empty(t, debugger.SuspendedBreakpointNodeIDs())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Template().SendBody(context.Background(), "direct:start", "Hello Camel")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return cmp.Equal([]string{"confirm"}, debugger.SuspendedBreakpointNodeIDs())
	}, 5*time.Second, 10*time.Millisecond)
	suspended, ok := debugger.SuspendedExchange("confirm")
	require.True(t, ok)
	assert.Equal(t, "Hello Camel", suspended.In.Body)

	debugger.ResumeBreakpoint("confirm")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not complete")
	}
	assert.Equal(t, []any{"Hello World", "Hello Camel"}, mock.ReceivedBodies())
	assert.EqualValues(t, 1, debugger.DebugCounter())
}

func TestTraceFilterRecordsMatchingMessagesOnly(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) {
		c.BacklogTracing = true
		c.TraceFilter = "${body} contains 'Camel'"
	})
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out").ID("to-out"))

	for _, body := range []string{"Hello Camel", "Hello World", "Bye Camel"} {
		_, err := svc.Template().SendBody(context.Background(), "direct:start", body)
		require.NoError(t, err)
	}

	lang, expression := svc.Tracer().TraceFilter()
	assert.Equal(t, "simple", lang)
	assert.Equal(t, "${body} contains 'Camel'", expression)
	assert.EqualValues(t, 2, svc.Tracer().TraceCounter())
	xml := svc.Tracer().DumpAllTracedMessagesAsXML()
	assert.Contains(t, xml, "Hello Camel")
	assert.Contains(t, xml, "Bye Camel")
	assert.NotContains(t, xml, "Hello World")
}

func TestStopReleasesSuspendedExchanges(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.DebuggerEnabled = true })
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out").ID("n1"))
	debugger := svc.Debugger()
	debugger.AddBreakpoint("n1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Template().SendBody(context.Background(), "direct:start", "x")
	}()
	require.Eventually(t, func() bool {
		return cmp.Equal([]string{"n1"}, debugger.SuspendedBreakpointNodeIDs())
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StatusStopped, svc.Status())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("exchange still suspended after stop")
	}
	assert.Empty(t, debugger.SuspendedBreakpointNodeIDs())
	assert.False(t, debugger.IsEnabled())

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, debugger.IsEnabled())
	assert.Empty(t, debugger.Breakpoints())
}

func TestManagedContextOperations(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out"))
	name := svc.Naming().Context()

	id, err := svc.Registry().Invoke(context.Background(), name, "sendBody", "direct:start", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	attrs, err := svc.Registry().Attributes(name)
	require.NoError(t, err)
	assert.Equal(t, "Started", attrs["State"])
	assert.Equal(t, 1, attrs["TotalRoutes"])
	assert.Equal(t, []string{"main"}, attrs["RouteIds"])
	assert.EqualValues(t, 1, attrs["ExchangesCompleted"])

	_, err = svc.Registry().Invoke(context.Background(), name, "stopRoute", "main")
	require.NoError(t, err)
	state, err := svc.Registry().Attribute(svc.Naming().Route("main"), "State")
	require.NoError(t, err)
	assert.Equal(t, "Stopped", state)

	_, err = svc.Template().SendBody(context.Background(), "direct:start", "hi")
	assert.ErrorIs(t, err, errspkg.ErrNoConsumers)

	_, err = svc.Registry().Invoke(context.Background(), name, "explode")
	assert.ErrorIs(t, err, errspkg.ErrUnknownOperation)
}

func TestManagedEndpointBrowse(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out"))
	for _, body := range []string{"one", "two", "three"} {
		_, err := svc.Template().SendBody(context.Background(), "direct:start", body)
		require.NoError(t, err)
	}
	name := svc.Naming().Endpoint("mock://out")

	body, err := svc.Registry().Invoke(context.Background(), name, "browseMessageBody", 1)
	require.NoError(t, err)
	assert.Equal(t, "two", body)

	missing, err := svc.Registry().Invoke(context.Background(), name, "browseExchange", 10)
	require.NoError(t, err)
	assert.Nil(t, missing)

	xml, err := svc.Registry().Invoke(context.Background(), name, "browseRangeMessagesAsXml", 1, 99, true)
	require.NoError(t, err)
	assert.Contains(t, xml, "two")
	assert.Contains(t, xml, "three")
	assert.NotContains(t, xml, "one")

	_, err = svc.Registry().Invoke(context.Background(), name, "browseRangeMessagesAsXml", 2, 1)
	require.ErrorIs(t, err, errspkg.ErrInvalidRange)
	assert.Contains(t, err.Error(), "From index cannot be larger than to index, was: 2 > 1")

	_, err = svc.Registry().Invoke(context.Background(), svc.Naming().Endpoint("direct://start"), "browseExchange", 0)
	assert.ErrorIs(t, err, errspkg.ErrNotBrowsable)

	_, err = svc.Registry().Invoke(context.Background(), name, "purge")
	require.NoError(t, err)
	size, err := svc.Registry().Invoke(context.Background(), name, "queueSize")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

type lifecycleService struct {
	started, stopped bool
	startErr         error
}

func (l *lifecycleService) Start(context.Context) error {
	l.started = true
	return l.startErr
}

func (l *lifecycleService) Stop(context.Context) error {
	l.stopped = true
	return nil
}

func TestAddServiceLifecycle(t *testing.T) {
	rec := &recordingNotifier{}
	svc := newTestService(t, nil, rec)
	good := &lifecycleService{}
	bad := &lifecycleService{startErr: errors.New("no")}
	require.NoError(t, svc.AddService(context.Background(), "good", good))
	require.NoError(t, svc.AddService(context.Background(), "bad", bad))
	assert.ErrorIs(t, svc.AddService(context.Background(), "good", good), errspkg.ErrNameConflict)

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, good.started)
	assert.Equal(t, 2, countNames(t, svc, naming.TypeServices))
	assert.Contains(t, rec.kinds(events.CategoryService), events.ServiceStartupFailure)

	state, err := svc.Registry().Attribute(svc.Naming().Service("good"), "State")
	require.NoError(t, err)
	assert.Equal(t, "Started", state)

	require.NoError(t, svc.Stop(context.Background()))
	assert.True(t, good.stopped)
}

func TestStartIsIdempotent(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").To("mock:out"))
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StatusStarted, svc.Status())

	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StatusStopped, svc.Status())
}

func TestNoAutoStartupRoute(t *testing.T) {
	svc := newTestService(t, nil)
	startService(t, svc, From("direct:start").RouteID("lazy").NoAutoStartup().To("mock:out"))

	_, err := svc.Template().SendBody(context.Background(), "direct:start", "x")
	assert.ErrorIs(t, err, errspkg.ErrNoConsumers)

	require.NoError(t, svc.StartRoute(context.Background(), "lazy"))
	_, err = svc.Template().SendBody(context.Background(), "direct:start", "x")
	assert.NoError(t, err)
}

func TestEventsExportedAsCloudEvents(t *testing.T) {
	svc := newTestService(t, func(c *configpkg.Config) { c.EventsTopic = "flowscope.events" })
	startService(t, svc, From("direct:start").RouteID("main").To("mock:out"))

	tr, err := svc.brokerTransport(context.Background())
	require.NoError(t, err)
	messages, err := tr.Subscriber.Subscribe(context.Background(), "flowscope.events")
	require.NoError(t, err)

	_, err = svc.Template().SendBody(context.Background(), "direct:start", "x")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-messages:
			msg.Ack()
			if msg.Metadata.Get("ce_type") == "flowscope.exchange.completed" {
				assert.Equal(t, "/flowscope/test", msg.Metadata.Get("ce_source"))
				return
			}
		case <-deadline:
			t.Fatal("no exchange completed event exported")
		}
	}
}
