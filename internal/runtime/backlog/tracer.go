// Package backlog holds the backlog tracer and the breakpoint debugger
// together with the XML and JSON renderings of traced messages.
package backlog

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/language"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

// DefaultBacklogSize is the per-node capacity of the tracer.
const DefaultBacklogSize = 1000

// Tracer captures snapshots of exchanges as they reach nodes. Capture never
// waits on anything but the tracer mutex.
type Tracer struct {
	resolver *language.Resolver
	logger   loggingpkg.ServiceLogger

	enabled atomic.Bool
	uid     atomic.Int64
	traced  atomic.Int64

	mu           sync.Mutex
	backlogSize  int
	removeOnDump bool
	bodyMaxChars int
	routes       routeMatcher
	filter       language.Predicate
	rings        map[string]*ring
}

func NewTracer(resolver *language.Resolver, logger loggingpkg.ServiceLogger) *Tracer {
	if resolver == nil {
		resolver = language.NewResolver()
	}
	return &Tracer{
		resolver:     resolver,
		logger:       loggingpkg.OrDiscard(logger),
		backlogSize:  DefaultBacklogSize,
		removeOnDump: true,
		bodyMaxChars: DefaultBodyMaxChars,
		rings:        make(map[string]*ring),
	}
}

func (t *Tracer) IsEnabled() bool { return t.enabled.Load() }

func (t *Tracer) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Tracer) BacklogSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backlogSize
}

// SetBacklogSize changes the per-node capacity, keeping the newest entries.
func (t *Tracer) SetBacklogSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: backlog size must be positive, was %d", errspkg.ErrInvalidArgument, size)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backlogSize = size
	for _, r := range t.rings {
		r.resize(size)
	}
	return nil
}

func (t *Tracer) TracePattern() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routes.raw
}

// SetTracePattern restricts capture to routes whose id matches pattern.
func (t *Tracer) SetTracePattern(pattern string) {
	m := compileRouteMatcher(pattern)
	t.mu.Lock()
	t.routes = m
	t.mu.Unlock()
}

// TraceFilter returns the language and expression of the active filter.
func (t *Tracer) TraceFilter() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filter == nil {
		return "", ""
	}
	return t.filter.Language(), t.filter.Expression()
}

// SetTraceFilter installs a predicate every captured exchange must satisfy.
// An empty expression removes the filter.
func (t *Tracer) SetTraceFilter(lang, expression string) error {
	var p language.Predicate
	if expression != "" {
		compiled, err := t.resolver.Compile(lang, expression)
		if err != nil {
			return err
		}
		p = compiled
	}
	t.mu.Lock()
	t.filter = p
	t.mu.Unlock()
	return nil
}

func (t *Tracer) RemoveOnDump() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeOnDump
}

func (t *Tracer) SetRemoveOnDump(v bool) {
	t.mu.Lock()
	t.removeOnDump = v
	t.mu.Unlock()
}

func (t *Tracer) BodyMaxChars() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bodyMaxChars
}

func (t *Tracer) SetBodyMaxChars(n int) {
	t.mu.Lock()
	t.bodyMaxChars = n
	t.mu.Unlock()
}

// ShouldTrace reports whether routeID is selected by the trace pattern.
func (t *Tracer) ShouldTrace(routeID string) bool {
	if !t.enabled.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routes.matches(routeID)
}

// Capture records a snapshot of ex at nodeID. It reports whether a message
// was stored.
func (t *Tracer) Capture(ex *exchange.Exchange, routeID, nodeID string) bool {
	if !t.enabled.Load() {
		return false
	}
	t.mu.Lock()
	selected := t.routes.matches(routeID)
	filter := t.filter
	maxChars := t.bodyMaxChars
	t.mu.Unlock()
	if !selected {
		return false
	}
	if filter != nil {
		ok, err := filter.Matches(ex)
		if err != nil {
			t.logger.Debug("Trace filter failed", loggingpkg.LogFields{
				loggingpkg.FieldNodeID:     nodeID,
				loggingpkg.FieldExchangeID: ex.ID,
				"error":                    err.Error(),
			})
			return false
		}
		if !ok {
			return false
		}
	}
	msg := NewTracedMessage(t.uid.Add(1), time.Now(), routeID, nodeID, ex, maxChars)

	t.mu.Lock()
	r, ok := t.rings[nodeID]
	if !ok {
		r = newRing(t.backlogSize)
		t.rings[nodeID] = r
	}
	r.push(msg)
	t.mu.Unlock()
	t.traced.Add(1)
	return true
}

// DumpTracedMessages returns the messages captured at nodeID, oldest first.
func (t *Tracer) DumpTracedMessages(nodeID string) []*TracedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rings[nodeID]
	if !ok {
		return []*TracedMessage{}
	}
	out := r.items()
	if t.removeOnDump {
		delete(t.rings, nodeID)
	}
	return out
}

func (t *Tracer) DumpTracedMessagesAsXML(nodeID string) string {
	return MessagesToXML(t.DumpTracedMessages(nodeID))
}

// DumpAllTracedMessages returns every captured message in capture order.
func (t *Tracer) DumpAllTracedMessages() []*TracedMessage {
	t.mu.Lock()
	var out []*TracedMessage
	for _, r := range t.rings {
		out = append(out, r.items()...)
	}
	if t.removeOnDump {
		t.rings = make(map[string]*ring)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func (t *Tracer) DumpAllTracedMessagesAsXML() string {
	return MessagesToXML(t.DumpAllTracedMessages())
}

// QueueSize is the number of messages currently held.
func (t *Tracer) QueueSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.rings {
		n += r.len()
	}
	return n
}

func (t *Tracer) Clear() {
	t.mu.Lock()
	t.rings = make(map[string]*ring)
	t.mu.Unlock()
}

// TraceCounter counts captured messages since the last reset.
func (t *Tracer) TraceCounter() int64 { return t.traced.Load() }

func (t *Tracer) ResetTraceCounter() { t.traced.Store(0) }
