// Package stats aggregates per-entity exchange statistics for the context,
// its routes and their processors.
package stats

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/flowscope/internal/runtime/events"
)

// Sample is an open measurement returned by Begin.
type Sample struct {
	counter *Counter
	start   time.Time
}

// Aggregator owns every counter of a context. Recording holds the read side
// of mu and Reset holds the write side, so a reset never splits a sample.
type Aggregator struct {
	level atomic.Int32

	mu       sync.RWMutex
	regMu    sync.Mutex
	counters map[Key]*Counter

	now func() time.Time
}

func NewAggregator(level Level) *Aggregator {
	a := &Aggregator{counters: make(map[Key]*Counter), now: time.Now}
	a.level.Store(int32(level))
	return a
}

func (a *Aggregator) Level() Level {
	return Level(a.level.Load())
}

func (a *Aggregator) SetLevel(l Level) {
	a.level.Store(int32(l))
}

// Register returns the counter for key, creating it under parent.
func (a *Aggregator) Register(key Key, parent *Counter) *Counter {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	if c, ok := a.counters[key]; ok {
		return c
	}
	c := newCounter(key, parent)
	a.counters[key] = c
	return c
}

func (a *Aggregator) Counter(key Key) (*Counter, bool) {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	c, ok := a.counters[key]
	return c, ok
}

// Begin opens a sample on the counter for scope/id. Unknown counters and
// scopes excluded by the level produce an inert sample.
func (a *Aggregator) Begin(scope Scope, id string) Sample {
	if !a.Level().collects(scope) {
		return Sample{}
	}
	c, ok := a.Counter(Key{Scope: scope, ID: id})
	if !ok || !c.Enabled() {
		return Sample{}
	}
	a.mu.RLock()
	c.inflight.Add(1)
	a.mu.RUnlock()
	return Sample{counter: c, start: a.now()}
}

// Done closes s. The in-flight count is always released; the outcome is
// recorded only while the counter and the level still allow it.
func (a *Aggregator) Done(s Sample, exchangeID string, failed bool) {
	c := s.counter
	if c == nil {
		return
	}
	at := a.now()
	a.mu.RLock()
	defer a.mu.RUnlock()
	c.inflight.Add(-1)
	if !c.Enabled() || !a.Level().collects(c.key.Scope) {
		return
	}
	c.record(at.Sub(s.start), exchangeID, failed, at)
}

// Snapshot returns the record of scope/id.
func (a *Aggregator) Snapshot(scope Scope, id string) (Record, bool) {
	c, ok := a.Counter(Key{Scope: scope, ID: id})
	if !ok {
		return Record{}, false
	}
	return c.snapshot(), true
}

// Entry pairs a key with its record.
type Entry struct {
	Key    Key
	Record Record
}

// Snapshots returns every record ordered by scope then id.
func (a *Aggregator) Snapshots() []Entry {
	a.regMu.Lock()
	counters := make([]*Counter, 0, len(a.counters))
	for _, c := range a.counters {
		counters = append(counters, c)
	}
	a.regMu.Unlock()
	out := make([]Entry, 0, len(counters))
	for _, c := range counters {
		out = append(out, Entry{Key: c.key, Record: c.snapshot()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Scope != out[j].Key.Scope {
			return out[i].Key.Scope < out[j].Key.Scope
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out
}

// Reset zeroes scope/id. With recursive set, a context reset also clears
// every route and processor and a route reset clears its processors.
func (a *Aggregator) Reset(scope Scope, id string, recursive bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	target, ok := a.Counter(Key{Scope: scope, ID: id})
	if !ok {
		return false
	}
	at := a.now()
	target.reset(at)
	if !recursive {
		return true
	}
	for _, c := range a.all() {
		if descendsFrom(c, target) {
			c.reset(at)
		}
	}
	return true
}

// ResetAll zeroes every counter.
func (a *Aggregator) ResetAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	at := a.now()
	for _, c := range a.all() {
		c.reset(at)
	}
}

func (a *Aggregator) SetEnabled(scope Scope, id string, enabled bool) bool {
	c, ok := a.Counter(Key{Scope: scope, ID: id})
	if !ok {
		return false
	}
	c.SetEnabled(enabled)
	return true
}

// SetAllEnabled toggles every counter at once.
func (a *Aggregator) SetAllEnabled(enabled bool) {
	for _, c := range a.all() {
		c.SetEnabled(enabled)
	}
}

// Remove drops a route counter and the counters of its processors.
func (a *Aggregator) Remove(routeID string) {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	route, ok := a.counters[Key{Scope: ScopeRoute, ID: routeID}]
	if !ok {
		return
	}
	for key, c := range a.counters {
		if c.parent == route {
			delete(a.counters, key)
		}
	}
	delete(a.counters, route.key)
}

// OnExchangeEvent counts redeliveries and handled failures against the
// exchange's route and the context.
func (a *Aggregator) OnExchangeEvent(evt events.Event) {
	if a.Level() == LevelOff {
		return
	}
	var apply func(*Counter)
	switch evt.Kind() {
	case events.ExchangeRedelivery:
		apply = (*Counter).addRedelivery
	case events.ExchangeFailureHandled:
		apply = (*Counter).addFailureHandled
	default:
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	route, ok := a.Counter(Key{Scope: ScopeRoute, ID: evt.RouteID()})
	if !ok {
		return
	}
	for c := route; c != nil; c = c.parent {
		if c.Enabled() {
			apply(c)
		}
	}
}

func (a *Aggregator) Notify(_ context.Context, evt events.Event) error {
	a.OnExchangeEvent(evt)
	return nil
}

func (a *Aggregator) IsEnabled(evt events.Event) bool {
	k := evt.Kind()
	return k == events.ExchangeRedelivery || k == events.ExchangeFailureHandled
}

func (a *Aggregator) all() []*Counter {
	a.regMu.Lock()
	defer a.regMu.Unlock()
	out := make([]*Counter, 0, len(a.counters))
	for _, c := range a.counters {
		out = append(out, c)
	}
	return out
}

func descendsFrom(c, ancestor *Counter) bool {
	for p := c.parent; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
