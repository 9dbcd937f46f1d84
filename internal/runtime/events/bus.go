// Package events is the notification bus of a flowscope context. Events are
// delivered synchronously, in subscription order, with every notifier
// isolated from the failures of the others.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

// Handle identifies one subscription.
type Handle struct {
	id       uint64
	notifier Notifier
	filter   Filter

	// inflight counts running deliveries. No delivery starts once removed
	// is set and Unsubscribe waits for inflight to drain. No lock is held
	// while the notifier runs, so it may publish again.
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	removed  bool

	lifeMu  sync.Mutex
	started bool
}

func (h *Handle) Notifier() Notifier { return h.notifier }
func (h *Handle) Filter() Filter     { return h.filter }

// Stats are cumulative bus counters.
type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
}

type Bus struct {
	contextName string
	logger      loggingpkg.ServiceLogger

	mu      sync.RWMutex
	handles []*Handle
	nextID  uint64
	started atomic.Bool
	mask    atomic.Uint64

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewBus(contextName string, logger loggingpkg.ServiceLogger) *Bus {
	return &Bus{contextName: contextName, logger: loggingpkg.OrDiscard(logger)}
}

// Subscribe appends n to the delivery order. When the bus is already started
// the notifier is started before its first delivery.
func (b *Bus) Subscribe(n Notifier, filter Filter) *Handle {
	b.mu.Lock()
	b.nextID++
	h := &Handle{id: b.nextID, notifier: n, filter: filter}
	h.idle = sync.NewCond(&h.mu)
	b.handles = append(b.handles, h)
	b.recomputeMaskLocked()
	b.mu.Unlock()
	return h
}

// Unsubscribe removes h and stops its notifier. It waits for an in-flight
// delivery to h to finish, so it must not be called from h's own Notify.
func (b *Bus) Unsubscribe(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.removed {
		h.mu.Unlock()
		return
	}
	h.removed = true
	h.mu.Unlock()

	b.mu.Lock()
	for i, cur := range b.handles {
		if cur == h {
			b.handles = append(b.handles[:i:i], b.handles[i+1:]...)
			break
		}
	}
	b.recomputeMaskLocked()
	b.mu.Unlock()

	h.mu.Lock()
	for h.inflight > 0 {
		h.idle.Wait()
	}
	h.mu.Unlock()
	b.stopHandle(ctx, h)
}

// Handles returns the current subscriptions in delivery order.
func (b *Bus) Handles() []*Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Handle, len(b.handles))
	copy(out, b.handles)
	return out
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

// Enabled reports whether any subscription would accept kind. Publishers use
// it to skip building events nobody receives.
func (b *Bus) Enabled(kind Kind) bool {
	return b.mask.Load()&(1<<kind) != 0
}

func (b *Bus) Start(ctx context.Context) error {
	b.started.Store(true)
	var errs []error
	for _, h := range b.Handles() {
		if err := b.startHandle(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("start notifiers: %w", errors.Join(errs...))
	}
	return nil
}

// Stop stops every started notifier. Subscriptions are kept and restarted
// by the next Start.
func (b *Bus) Stop(ctx context.Context) {
	b.started.Store(false)
	for _, h := range b.Handles() {
		b.stopHandle(ctx, h)
	}
}

func (b *Bus) IsStarted() bool {
	return b.started.Load()
}

// Publish delivers evt to every subscription whose filter and notifier
// accept it. Failures are logged and counted, never returned.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.contextName == "" {
		evt.contextName = b.contextName
	}
	b.published.Add(1)
	if !b.Enabled(evt.kind) {
		return
	}
	for _, h := range b.Handles() {
		if !h.filter.Allows(evt.kind) {
			continue
		}
		b.deliver(ctx, h, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, h *Handle, evt Event) {
	if !h.enter() {
		return
	}
	defer h.leave()
	if b.started.Load() {
		if err := b.startHandle(ctx, h); err != nil {
			return
		}
	}
	err := b.safeNotify(ctx, h, evt)
	if err != nil {
		b.failed.Add(1)
		b.logger.Error("Event notifier failed", err, loggingpkg.LogFields{
			loggingpkg.FieldEventKind:  evt.kind.String(),
			loggingpkg.FieldExchangeID: evt.exchangeID,
			"notifier":                 fmt.Sprintf("%T", h.notifier),
		})
	}
}

func (h *Handle) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removed {
		return false
	}
	h.inflight++
	return true
}

func (h *Handle) leave() {
	h.mu.Lock()
	h.inflight--
	if h.inflight == 0 {
		h.idle.Broadcast()
	}
	h.mu.Unlock()
}

func (b *Bus) safeNotify(ctx context.Context, h *Handle, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	if !h.notifier.IsEnabled(evt) {
		return nil
	}
	if err := h.notifier.Notify(ctx, evt); err != nil {
		return err
	}
	b.delivered.Add(1)
	return nil
}

func (b *Bus) startHandle(ctx context.Context, h *Handle) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.started {
		return nil
	}
	if s, ok := h.notifier.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			b.logger.Error("Event notifier failed to start", err, loggingpkg.LogFields{"notifier": fmt.Sprintf("%T", h.notifier)})
			return err
		}
	}
	h.started = true
	return nil
}

func (b *Bus) stopHandle(ctx context.Context, h *Handle) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if !h.started {
		return
	}
	h.started = false
	if s, ok := h.notifier.(Stopper); ok {
		if err := s.Stop(ctx); err != nil {
			b.logger.Error("Event notifier failed to stop", err, loggingpkg.LogFields{"notifier": fmt.Sprintf("%T", h.notifier)})
		}
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

func (b *Bus) recomputeMaskLocked() {
	var m uint64
	for _, h := range b.handles {
		m |= h.filter.mask()
	}
	b.mask.Store(m)
}
