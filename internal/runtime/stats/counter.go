package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Record is a point-in-time copy of a counter.
type Record struct {
	ExchangesTotal     int64
	ExchangesCompleted int64
	ExchangesFailed    int64
	ExchangesInflight  int64
	FailuresHandled    int64
	Redeliveries       int64

	MinProcessingTime   time.Duration
	MaxProcessingTime   time.Duration
	MeanProcessingTime  time.Duration
	TotalProcessingTime time.Duration
	LastProcessingTime  time.Duration
	DeltaProcessingTime time.Duration

	FirstExchangeCompletedTimestamp  time.Time
	FirstExchangeCompletedExchangeID string
	LastExchangeCompletedTimestamp   time.Time
	LastExchangeCompletedExchangeID  string
	FirstExchangeFailureTimestamp    time.Time
	FirstExchangeFailureExchangeID   string
	LastExchangeFailureTimestamp     time.Time
	LastExchangeFailureExchangeID    string

	ResetTimestamp    time.Time
	StatisticsEnabled bool
}

// Attributes renders the record the way the admin surface reports it:
// durations in milliseconds and zero timestamps omitted.
func (r Record) Attributes() map[string]any {
	attrs := map[string]any{
		"ExchangesTotal":      r.ExchangesTotal,
		"ExchangesCompleted":  r.ExchangesCompleted,
		"ExchangesFailed":     r.ExchangesFailed,
		"ExchangesInflight":   r.ExchangesInflight,
		"FailuresHandled":     r.FailuresHandled,
		"Redeliveries":        r.Redeliveries,
		"MinProcessingTime":   r.MinProcessingTime.Milliseconds(),
		"MaxProcessingTime":   r.MaxProcessingTime.Milliseconds(),
		"MeanProcessingTime":  r.MeanProcessingTime.Milliseconds(),
		"TotalProcessingTime": r.TotalProcessingTime.Milliseconds(),
		"LastProcessingTime":  r.LastProcessingTime.Milliseconds(),
		"DeltaProcessingTime": r.DeltaProcessingTime.Milliseconds(),
		"StatisticsEnabled":   r.StatisticsEnabled,
		"ResetTimestamp":      r.ResetTimestamp,
	}
	putTime := func(key string, ts time.Time, id string) {
		if ts.IsZero() {
			return
		}
		attrs[key+"Timestamp"] = ts
		attrs[key+"ExchangeId"] = id
	}
	putTime("FirstExchangeCompleted", r.FirstExchangeCompletedTimestamp, r.FirstExchangeCompletedExchangeID)
	putTime("LastExchangeCompleted", r.LastExchangeCompletedTimestamp, r.LastExchangeCompletedExchangeID)
	putTime("FirstExchangeFailure", r.FirstExchangeFailureTimestamp, r.FirstExchangeFailureExchangeID)
	putTime("LastExchangeFailure", r.LastExchangeFailureTimestamp, r.LastExchangeFailureExchangeID)
	return attrs
}

// Counter accumulates samples for one entity. In-flight tracking is kept
// outside the record so that resets never orphan running samples.
type Counter struct {
	key     Key
	parent  *Counter
	enabled atomic.Bool

	inflight atomic.Int64

	mu  sync.Mutex
	rec Record
}

func newCounter(key Key, parent *Counter) *Counter {
	c := &Counter{key: key, parent: parent}
	c.enabled.Store(true)
	c.rec.ResetTimestamp = time.Now()
	return c
}

func (c *Counter) Key() Key          { return c.key }
func (c *Counter) Parent() *Counter  { return c.parent }
func (c *Counter) Enabled() bool     { return c.enabled.Load() }
func (c *Counter) SetEnabled(v bool) { c.enabled.Store(v) }

func (c *Counter) snapshot() Record {
	c.mu.Lock()
	r := c.rec
	c.mu.Unlock()
	r.ExchangesInflight = c.inflight.Load()
	r.StatisticsEnabled = c.enabled.Load()
	return r
}

func (c *Counter) record(elapsed time.Duration, exchangeID string, failed bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &c.rec
	if failed {
		r.ExchangesFailed++
		if r.FirstExchangeFailureTimestamp.IsZero() {
			r.FirstExchangeFailureTimestamp = at
			r.FirstExchangeFailureExchangeID = exchangeID
		}
		r.LastExchangeFailureTimestamp = at
		r.LastExchangeFailureExchangeID = exchangeID
	} else {
		r.ExchangesCompleted++
		if r.FirstExchangeCompletedTimestamp.IsZero() {
			r.FirstExchangeCompletedTimestamp = at
			r.FirstExchangeCompletedExchangeID = exchangeID
		}
		r.LastExchangeCompletedTimestamp = at
		r.LastExchangeCompletedExchangeID = exchangeID
	}
	r.ExchangesTotal = r.ExchangesCompleted + r.ExchangesFailed

	if r.ExchangesTotal == 1 {
		r.MinProcessingTime = elapsed
		r.MaxProcessingTime = elapsed
		r.DeltaProcessingTime = 0
	} else {
		r.MinProcessingTime = min(r.MinProcessingTime, elapsed)
		r.MaxProcessingTime = max(r.MaxProcessingTime, elapsed)
		r.DeltaProcessingTime = elapsed - r.LastProcessingTime
	}
	r.LastProcessingTime = elapsed
	r.TotalProcessingTime += elapsed
	r.MeanProcessingTime = r.TotalProcessingTime / time.Duration(r.ExchangesTotal)
}

func (c *Counter) addRedelivery() {
	c.mu.Lock()
	c.rec.Redeliveries++
	c.mu.Unlock()
}

func (c *Counter) addFailureHandled() {
	c.mu.Lock()
	c.rec.FailuresHandled++
	c.mu.Unlock()
}

func (c *Counter) reset(at time.Time) {
	c.mu.Lock()
	c.rec = Record{ResetTimestamp: at}
	c.mu.Unlock()
}
