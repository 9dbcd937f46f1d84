package backlog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/flowscope/internal/runtime/events"
	"github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/language"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
)

type breakpoint struct {
	nodeID    string
	condition language.Predicate
}

// suspension parks one exchange at one node until release is closed.
type suspension struct {
	ex      *exchange.Exchange
	routeID string
	nodeID  string
	message *TracedMessage
	release chan struct{}
}

// Debugger suspends exchanges at breakpointed nodes. At most one exchange
// is suspended per node; another exchange arriving at a node that already
// holds one passes through. Single-step mode follows one exchange and
// suspends it at every node it visits until it completes.
type Debugger struct {
	resolver *language.Resolver
	logger   loggingpkg.ServiceLogger

	enabled atomic.Bool
	counter atomic.Int64

	mu              sync.Mutex
	breakpoints     map[string]*breakpoint
	suspended       map[string]*suspension
	lastMessages    map[string]*TracedMessage
	singleStepID    string
	fallbackTimeout time.Duration
	bodyMaxChars    int
}

func NewDebugger(resolver *language.Resolver, logger loggingpkg.ServiceLogger) *Debugger {
	if resolver == nil {
		resolver = language.NewResolver()
	}
	return &Debugger{
		resolver:     resolver,
		logger:       loggingpkg.OrDiscard(logger),
		breakpoints:  make(map[string]*breakpoint),
		suspended:    make(map[string]*suspension),
		lastMessages: make(map[string]*TracedMessage),
		bodyMaxChars: DefaultBodyMaxChars,
	}
}

func (d *Debugger) IsEnabled() bool { return d.enabled.Load() }

func (d *Debugger) Enable() {
	if !d.enabled.Swap(true) {
		d.logger.Info("Enabling debugger", nil)
	}
}

// Disable turns the debugger off, drops every breakpoint and releases every
// suspended exchange.
func (d *Debugger) Disable() {
	d.enabled.Store(false)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("Disabling debugger", nil)
	d.breakpoints = make(map[string]*breakpoint)
	d.singleStepID = ""
	for node := range d.suspended {
		d.releaseLocked(node)
	}
	clear(d.lastMessages)
}

// FallbackTimeout bounds how long an exchange stays suspended. Zero waits
// until released.
func (d *Debugger) FallbackTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fallbackTimeout
}

func (d *Debugger) SetFallbackTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.fallbackTimeout = timeout
	d.mu.Unlock()
}

func (d *Debugger) BodyMaxChars() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bodyMaxChars
}

func (d *Debugger) SetBodyMaxChars(n int) {
	d.mu.Lock()
	d.bodyMaxChars = n
	d.mu.Unlock()
}

func (d *Debugger) AddBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bp, ok := d.breakpoints[nodeID]; ok {
		bp.condition = nil
		return
	}
	d.logger.Info("Adding breakpoint", loggingpkg.LogFields{loggingpkg.FieldNodeID: nodeID})
	d.breakpoints[nodeID] = &breakpoint{nodeID: nodeID}
}

// AddConditionalBreakpoint adds or updates a breakpoint guarded by a
// predicate. Nothing changes when the predicate does not compile.
func (d *Debugger) AddConditionalBreakpoint(nodeID, lang, predicate string) error {
	condition, err := d.resolver.Compile(lang, predicate)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("Adding conditional breakpoint", loggingpkg.LogFields{loggingpkg.FieldNodeID: nodeID, "predicate": predicate})
	if bp, ok := d.breakpoints[nodeID]; ok {
		bp.condition = condition
		return nil
	}
	d.breakpoints[nodeID] = &breakpoint{nodeID: nodeID, condition: condition}
	return nil
}

// ValidateConditionalBreakpoint returns "" when the predicate compiles and
// the failure text otherwise. It has no side effects.
func (d *Debugger) ValidateConditionalBreakpoint(lang, predicate string) string {
	if err := d.resolver.Validate(lang, predicate); err != nil {
		return err.Error()
	}
	return ""
}

// RemoveBreakpoint drops the breakpoint at nodeID and releases any exchange
// suspended there.
func (d *Debugger) RemoveBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("Removing breakpoint", loggingpkg.LogFields{loggingpkg.FieldNodeID: nodeID})
	delete(d.breakpoints, nodeID)
	delete(d.lastMessages, nodeID)
	d.releaseLocked(nodeID)
}

func (d *Debugger) RemoveAllBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.singleStepID = ""
	for node := range d.breakpoints {
		delete(d.breakpoints, node)
	}
	for node := range d.suspended {
		d.releaseLocked(node)
	}
	clear(d.lastMessages)
}

// Breakpoints returns the breakpointed node ids, sorted.
func (d *Debugger) Breakpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.breakpoints)
}

// ResumeBreakpoint leaves single-step mode and releases the exchange held at
// nodeID. The breakpoint stays active.
func (d *Debugger) ResumeBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.singleStepID = ""
	d.releaseLocked(nodeID)
}

func (d *Debugger) ResumeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.singleStepID = ""
	for node := range d.suspended {
		d.releaseLocked(node)
	}
}

// StepBreakpoint enters single-step mode for the exchange suspended at
// nodeID and lets it advance to its next node. In single-step mode it
// behaves like Step.
func (d *Debugger) StepBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.singleStepID != "" {
		d.stepLocked()
		return
	}
	s, ok := d.suspended[nodeID]
	if !ok {
		return
	}
	if _, ok := d.breakpoints[nodeID]; !ok {
		return
	}
	d.singleStepID = s.ex.ID
	d.logger.Info("Entering single step mode", loggingpkg.LogFields{
		loggingpkg.FieldNodeID:     nodeID,
		loggingpkg.FieldExchangeID: s.ex.ID,
	})
	d.releaseLocked(nodeID)
}

// Step releases every suspended exchange. In single-step mode the stepped
// exchange suspends again at its next node.
func (d *Debugger) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepLocked()
}

func (d *Debugger) stepLocked() {
	for node := range d.suspended {
		d.releaseLocked(node)
	}
}

func (d *Debugger) IsSingleStepMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.singleStepID != ""
}

// SuspendedBreakpointNodeIDs returns the nodes currently holding an
// exchange, sorted.
func (d *Debugger) SuspendedBreakpointNodeIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.suspended)
}

// SuspendedExchange returns the exchange held at nodeID.
func (d *Debugger) SuspendedExchange(nodeID string) (*exchange.Exchange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.suspended[nodeID]
	if !ok {
		return nil, false
	}
	return s.ex, true
}

// SetMessageBodyOnBreakpoint replaces the body of the exchange suspended at
// nodeID. Without a type hint the value is converted to the type of the
// current body when there is one. A nil value removes the body.
func (d *Debugger) SetMessageBodyOnBreakpoint(nodeID string, value any, typeHint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.suspended[nodeID]
	if !ok {
		return nil
	}
	if value == nil {
		s.ex.In.Body = nil
		d.refreshLocked(s)
		return nil
	}
	converted, err := convertWithHint(value, typeHint, s.ex.In.Body)
	if err != nil {
		return err
	}
	d.logger.Info("Updating message body on breakpoint", loggingpkg.LogFields{
		loggingpkg.FieldNodeID:     nodeID,
		loggingpkg.FieldExchangeID: s.ex.ID,
	})
	s.ex.In.Body = converted
	d.refreshLocked(s)
	return nil
}

func (d *Debugger) RemoveMessageBodyOnBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.suspended[nodeID]; ok {
		s.ex.In.Body = nil
		d.refreshLocked(s)
	}
}

// SetMessageHeaderOnBreakpoint sets a header on the exchange suspended at
// nodeID, converting like SetMessageBodyOnBreakpoint against the existing
// header value.
func (d *Debugger) SetMessageHeaderOnBreakpoint(nodeID, key string, value any, typeHint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.suspended[nodeID]
	if !ok {
		return nil
	}
	current, _ := s.ex.In.Headers.Get(key)
	converted, err := convertWithHint(value, typeHint, current)
	if err != nil {
		return err
	}
	d.logger.Info("Updating message header on breakpoint", loggingpkg.LogFields{
		loggingpkg.FieldNodeID:     nodeID,
		loggingpkg.FieldExchangeID: s.ex.ID,
		"header":                   key,
	})
	s.ex.In.Headers.Set(key, converted)
	d.refreshLocked(s)
	return nil
}

func (d *Debugger) RemoveMessageHeaderOnBreakpoint(nodeID, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.suspended[nodeID]; ok {
		s.ex.In.Headers.Remove(key)
		d.refreshLocked(s)
	}
}

// DumpTracedMessagesAsXML renders the message suspended at nodeID, or the
// last one suspended there. It reports false when there is none.
func (d *Debugger) DumpTracedMessagesAsXML(nodeID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.suspended[nodeID]; ok {
		return s.message.ToXML(), true
	}
	if m, ok := d.lastMessages[nodeID]; ok {
		return m.ToXML(), true
	}
	return "", false
}

// DebugCounter counts suspensions since the last reset.
func (d *Debugger) DebugCounter() int64 { return d.counter.Load() }

func (d *Debugger) ResetDebugCounter() { d.counter.Store(0) }

// BeforeProcess is called by the pipeline before nodeID processes ex. It
// blocks while the exchange is suspended and returns when it is released,
// the fallback timeout elapses or ctx is done.
func (d *Debugger) BeforeProcess(ctx context.Context, ex *exchange.Exchange, routeID, nodeID string) {
	if !d.enabled.Load() {
		return
	}
	d.mu.Lock()
	stepping := d.singleStepID != "" && d.singleStepID == ex.ID
	bp := d.breakpoints[nodeID]
	d.mu.Unlock()

	if !stepping {
		if bp == nil {
			return
		}
		if bp.condition != nil && !d.conditionMatches(bp.condition, ex, nodeID) {
			return
		}
	}

	s := &suspension{ex: ex, routeID: routeID, nodeID: nodeID, release: make(chan struct{})}
	d.mu.Lock()
	if !d.enabled.Load() {
		d.mu.Unlock()
		return
	}
	if !stepping {
		if _, stillSet := d.breakpoints[nodeID]; !stillSet {
			d.mu.Unlock()
			return
		}
		if _, busy := d.suspended[nodeID]; busy {
			d.mu.Unlock()
			return
		}
	} else if prev, busy := d.suspended[nodeID]; busy {
		d.releaseLocked(prev.nodeID)
	}
	s.message = NewTracedMessage(d.counter.Add(1), time.Now(), routeID, nodeID, ex, d.bodyMaxChars)
	d.suspended[nodeID] = s
	d.lastMessages[nodeID] = s.message
	timeout := d.fallbackTimeout
	d.mu.Unlock()

	d.logger.Info("Exchange suspended at breakpoint", loggingpkg.LogFields{
		loggingpkg.FieldRouteID:    routeID,
		loggingpkg.FieldNodeID:     nodeID,
		loggingpkg.FieldExchangeID: ex.ID,
		"single_step":              stepping,
	})
	d.wait(ctx, s, timeout)
}

func (d *Debugger) wait(ctx context.Context, s *suspension, timeout time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	reason := "resumed"
	select {
	case <-s.release:
	case <-expired:
		reason = "timed out"
		d.abandon(s)
	case <-ctx.Done():
		reason = "cancelled"
		d.abandon(s)
	}
	d.logger.Info("Exchange continued from breakpoint", loggingpkg.LogFields{
		loggingpkg.FieldNodeID:     s.nodeID,
		loggingpkg.FieldExchangeID: s.ex.ID,
		"reason":                   reason,
	})
}

// abandon removes s only if it is still the suspension held at its node.
func (d *Debugger) abandon(s *suspension) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.suspended[s.nodeID]; ok && cur == s {
		delete(d.suspended, s.nodeID)
	}
}

// releaseLocked removes the suspension at nodeID and wakes its goroutine.
func (d *Debugger) releaseLocked(nodeID string) {
	s, ok := d.suspended[nodeID]
	if !ok {
		return
	}
	delete(d.suspended, nodeID)
	close(s.release)
}

func (d *Debugger) refreshLocked(s *suspension) {
	refreshed := NewTracedMessage(s.message.UID, s.message.Timestamp, s.routeID, s.nodeID, s.ex, d.bodyMaxChars)
	s.message = refreshed
	d.lastMessages[s.nodeID] = refreshed
}

func (d *Debugger) conditionMatches(p language.Predicate, ex *exchange.Exchange, nodeID string) bool {
	ok, err := p.Matches(ex)
	if err != nil {
		d.logger.Debug("Breakpoint condition failed", loggingpkg.LogFields{
			loggingpkg.FieldNodeID:     nodeID,
			loggingpkg.FieldExchangeID: ex.ID,
			"error":                    err.Error(),
		})
		return false
	}
	return ok
}

// Notifier returns the event notifier that ends single-step mode when the
// stepped exchange completes or fails. Subscribe it to the context bus.
func (d *Debugger) Notifier() events.Notifier {
	return stepNotifier{d: d}
}

type stepNotifier struct {
	d *Debugger
}

func (n stepNotifier) Notify(_ context.Context, evt events.Event) error {
	n.d.exchangeFinished(evt.ExchangeID())
	return nil
}

func (n stepNotifier) IsEnabled(evt events.Event) bool {
	return evt.Kind().IsTerminal()
}

func (d *Debugger) exchangeFinished(exchangeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.singleStepID != "" && d.singleStepID == exchangeID {
		d.singleStepID = ""
		d.logger.Info("Exchange completed, leaving single step mode", loggingpkg.LogFields{
			loggingpkg.FieldExchangeID: exchangeID,
		})
	}
}

func convertWithHint(value any, hint string, current any) (any, error) {
	if hint != "" {
		return ConvertTo(value, hint)
	}
	if current == nil {
		return value, nil
	}
	name := TypeName(current)
	if _, known := typeAliases[name]; !known {
		return value, nil
	}
	return ConvertTo(value, name)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
