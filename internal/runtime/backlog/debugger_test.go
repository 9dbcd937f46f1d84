package backlog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowscope/internal/runtime/events"
	"github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newDebugger() *Debugger {
	d := NewDebugger(nil, loggingpkg.Discard())
	d.Enable()
	return d
}

// runNodes plays ex through nodes the way the pipeline does and reports
// completion to the debugger notifier.
func runNodes(d *Debugger, ex *exchange.Exchange, visited *[]string, mu *sync.Mutex, nodes ...string) {
	for _, node := range nodes {
		d.BeforeProcess(context.Background(), ex, "route1", node)
		if visited != nil {
			mu.Lock()
			*visited = append(*visited, node)
			mu.Unlock()
		}
	}
	_ = d.Notifier().Notify(context.Background(), events.ForExchange(events.ExchangeCompleted, ex))
}

func TestSuspendAndResume(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())

	done := make(chan struct{})
	go func() {
		runNodes(d, exchange.New("Hello World"), nil, nil, "foo")
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(d.SuspendedBreakpointNodeIDs()) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"foo"}, d.SuspendedBreakpointNodeIDs())
	assert.Equal(t, int64(1), d.DebugCounter())

	d.ResumeBreakpoint("foo")
	<-done
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())
	assert.Equal(t, []string{"foo"}, d.Breakpoints())

	d.ResumeBreakpoint("foo")
}

func TestOnlyOneExchangeSuspendedPerNode(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("bar")

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.BeforeProcess(context.Background(), exchange.New("msg"), "route1", "bar")
			passed.Add(1)
		}()
	}

	require.Eventually(t, func() bool { return passed.Load() == 2 }, waitFor, tick)
	assert.Len(t, d.SuspendedBreakpointNodeIDs(), 1)

	d.ResumeBreakpoint("bar")
	wg.Wait()
	assert.Equal(t, int32(3), passed.Load())
}

func TestConditionalBreakpoint(t *testing.T) {
	d := newDebugger()
	require.NoError(t, d.AddConditionalBreakpoint("foo", "simple", "${body} contains 'Camel'"))

	d.BeforeProcess(context.Background(), exchange.New("Hello World"), "route1", "foo")
	d.BeforeProcess(context.Background(), exchange.New(42), "route1", "foo")
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())

	done := make(chan struct{})
	go func() {
		d.BeforeProcess(context.Background(), exchange.New("Hello Camel"), "route1", "foo")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 1 }, waitFor, tick)
	d.ResumeAll()
	<-done

	err := d.AddConditionalBreakpoint("bar", "simple", "${body contains 'Camel'")
	require.Error(t, err)
	assert.Equal(t, []string{"foo"}, d.Breakpoints())
}

func TestValidateConditionalBreakpoint(t *testing.T) {
	d := newDebugger()
	assert.Equal(t, "No language could be found for: unknown", d.ValidateConditionalBreakpoint("unknown", "${body}"))
	assert.Contains(t, d.ValidateConditionalBreakpoint("simple", "${body contains 'Camel'"), "Invalid syntax ${body contains 'Camel'")
	assert.Equal(t, "", d.ValidateConditionalBreakpoint("simple", "${body} contains 'Camel'"))
	assert.Empty(t, d.Breakpoints())
}

func TestMutateSuspendedExchange(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")
	d.AddBreakpoint("bar")

	ex := exchange.New("Hello World")
	done := make(chan struct{})
	go func() {
		runNodes(d, ex, nil, nil, "foo", "bar")
		close(done)
	}()

	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 1 }, waitFor, tick)
	require.NoError(t, d.SetMessageBodyOnBreakpoint("foo", "Changed body", ""))
	require.NoError(t, d.SetMessageHeaderOnBreakpoint("foo", "beer", "Carlsberg", ""))
	require.NoError(t, d.SetMessageHeaderOnBreakpoint("foo", "wine", "123", "java.lang.Integer"))

	xml, ok := d.DumpTracedMessagesAsXML("foo")
	require.True(t, ok)
	assert.Contains(t, xml, "Changed body")
	assert.Contains(t, xml, `<header key="wine" type="java.lang.Integer">123</header>`)

	d.ResumeBreakpoint("foo")
	require.Eventually(t, func() bool {
		ids := d.SuspendedBreakpointNodeIDs()
		return len(ids) == 1 && ids[0] == "bar"
	}, waitFor, tick)

	xml, ok = d.DumpTracedMessagesAsXML("bar")
	require.True(t, ok)
	assert.Contains(t, xml, "<toNode>bar</toNode>")
	assert.Contains(t, xml, "Changed body")
	assert.Contains(t, xml, `<header key="beer" type="java.lang.String">Carlsberg</header>`)

	d.RemoveMessageBodyOnBreakpoint("bar")
	d.RemoveMessageHeaderOnBreakpoint("bar", "wine")
	xml, _ = d.DumpTracedMessagesAsXML("bar")
	assert.Contains(t, xml, "<body>[Body is null]</body>")
	assert.NotContains(t, xml, "wine")

	d.ResumeBreakpoint("bar")
	<-done
	assert.Nil(t, ex.In.Body)

	_, ok = d.DumpTracedMessagesAsXML("missing")
	assert.False(t, ok)
}

func TestMutationRejectsUnknownType(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")
	done := make(chan struct{})
	go func() {
		d.BeforeProcess(context.Background(), exchange.New("x"), "route1", "foo")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 1 }, waitFor, tick)

	assert.Error(t, d.SetMessageBodyOnBreakpoint("foo", "x", "com.acme.Unknown"))
	assert.NoError(t, d.SetMessageBodyOnBreakpoint("nowhere", "x", ""))
	d.RemoveBreakpoint("foo")
	<-done
	assert.Empty(t, d.Breakpoints())
}

func TestSingleStepVisitsEveryNode(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")
	assert.False(t, d.IsSingleStepMode())

	var mu sync.Mutex
	var visited []string
	done := make(chan struct{})
	go func() {
		runNodes(d, exchange.New("Hello World"), &visited, &mu, "foo", "bar", "transform", "cheese", "result")
		close(done)
	}()

	suspendedAt := func(node string) func() bool {
		return func() bool {
			ids := d.SuspendedBreakpointNodeIDs()
			return len(ids) == 1 && ids[0] == node
		}
	}
	require.Eventually(t, suspendedAt("foo"), waitFor, tick)

	d.StepBreakpoint("foo")
	assert.True(t, d.IsSingleStepMode())
	require.Eventually(t, suspendedAt("bar"), waitFor, tick)

	for _, next := range []string{"transform", "cheese", "result"} {
		d.Step()
		require.Eventually(t, suspendedAt(next), waitFor, tick)
	}
	d.Step()
	<-done

	assert.Eventually(t, func() bool { return !d.IsSingleStepMode() }, waitFor, tick)
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())
	mu.Lock()
	assert.Equal(t, []string{"foo", "bar", "transform", "cheese", "result"}, visited)
	mu.Unlock()
}

func TestStepDoesNotCatchOtherExchanges(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")

	first := exchange.New("first")
	done := make(chan struct{})
	go func() {
		runNodes(d, first, nil, nil, "foo", "bar")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 1 }, waitFor, tick)
	d.StepBreakpoint("foo")
	require.Eventually(t, func() bool {
		ids := d.SuspendedBreakpointNodeIDs()
		return len(ids) == 1 && ids[0] == "bar"
	}, waitFor, tick)

	d.BeforeProcess(context.Background(), exchange.New("other"), "route1", "bar")

	d.ResumeBreakpoint("bar")
	<-done
	assert.False(t, d.IsSingleStepMode())
}

func TestDisableReleasesEverything(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("a")
	d.AddBreakpoint("b")

	var wg sync.WaitGroup
	for _, node := range []string{"a", "b"} {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			d.BeforeProcess(context.Background(), exchange.New(node), "route1", node)
		}(node)
	}
	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 2 }, waitFor, tick)

	d.Disable()
	wg.Wait()
	assert.False(t, d.IsEnabled())
	assert.Empty(t, d.Breakpoints())
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())

	d.BeforeProcess(context.Background(), exchange.New("x"), "route1", "a")
}

func TestFallbackTimeoutAndCancellation(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("foo")
	d.SetFallbackTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, d.FallbackTimeout())

	start := time.Now()
	d.BeforeProcess(context.Background(), exchange.New("x"), "route1", "foo")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())

	d.SetFallbackTimeout(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.BeforeProcess(ctx, exchange.New("y"), "route1", "foo")
		close(done)
	}()
	require.Eventually(t, func() bool { return len(d.SuspendedBreakpointNodeIDs()) == 1 }, waitFor, tick)
	cancel()
	<-done
	assert.Empty(t, d.SuspendedBreakpointNodeIDs())
}

func TestRemoveAllBreakpoints(t *testing.T) {
	d := newDebugger()
	d.AddBreakpoint("a")
	require.NoError(t, d.AddConditionalBreakpoint("b", "simple", "${body} == 'x'"))
	d.RemoveAllBreakpoints()
	assert.Empty(t, d.Breakpoints())

	d.ResetDebugCounter()
	assert.Zero(t, d.DebugCounter())
}
