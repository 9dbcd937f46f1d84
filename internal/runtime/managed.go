package runtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/drblury/flowscope/internal/runtime/backlog"
	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/registry"
	"github.com/drblury/flowscope/internal/runtime/stats"
)

// Compile-time checks for the managed capabilities.
var (
	_ registry.HasManagedAttributes = (*ManagedContext)(nil)
	_ registry.HasManagedOperations = (*ManagedContext)(nil)
	_ registry.AttributeSetter      = (*ManagedContext)(nil)
	_ registry.HasManagedOperations = (*ManagedRoute)(nil)
	_ registry.AttributeSetter      = (*ManagedProcessor)(nil)
	_ registry.HasManagedOperations = (*ManagedEndpoint)(nil)
	_ registry.HasManagedAttributes = (*ManagedConsumer)(nil)
	_ registry.HasManagedAttributes = (*ManagedProducer)(nil)
	_ registry.HasManagedAttributes = (*ManagedThreadPool)(nil)
	_ registry.AttributeSetter      = (*ManagedErrorHandler)(nil)
	_ registry.HasManagedOperations = (*ManagedService)(nil)
	_ registry.AttributeSetter      = (*ManagedTracer)(nil)
	_ registry.HasManagedOperations = (*ManagedTracer)(nil)
	_ registry.AttributeSetter      = (*ManagedDebugger)(nil)
	_ registry.HasManagedOperations = (*ManagedDebugger)(nil)
	_ registry.Described            = (*ManagedDataFormat)(nil)
)

func mergeStats(attrs map[string]any, agg *stats.Aggregator, scope stats.Scope, id string) map[string]any {
	if rec, ok := agg.Snapshot(scope, id); ok {
		for k, v := range rec.Attributes() {
			attrs[k] = v
		}
	}
	return attrs
}

// resetStats implements the reset and resetStatistics operations shared by
// context, routes and processors.
func resetStats(agg *stats.Aggregator, scope stats.Scope, id, op string, args []any) (any, error) {
	recursive := false
	if op == "reset" && len(args) > 0 {
		var err error
		if recursive, err = registry.BoolArg(op, args, 0); err != nil {
			return nil, err
		}
	}
	if op == "resetStatistics" {
		recursive = true
	}
	agg.Reset(scope, id, recursive)
	return nil, nil
}

// ManagedContext exposes the routing context.
type ManagedContext struct {
	svc *Service
}

func (m *ManagedContext) ManagedDescription() string {
	return "Routing context " + m.svc.name
}

func (m *ManagedContext) ManagedAttributes() map[string]any {
	s := m.svc
	routes := s.routeSnapshot()
	started := 0
	ids := make([]string, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.id)
		if r.State() == routeStarted {
			started++
		}
	}
	usage := s.resources.Snapshot()
	attrs := map[string]any{
		"ContextName":      s.name,
		"ManagementDomain": s.strategy.Domain(),
		"State":            string(s.Status()),
		"Uptime":           s.uptime().String(),
		"UptimeMillis":     s.uptime().Milliseconds(),
		"TotalRoutes":      len(routes),
		"StartedRoutes":    started,
		"RouteIds":         ids,
		"StatisticsLevel":  s.stats.Level().String(),
		"TracingEnabled":   s.tracer.IsEnabled(),
		"MemoryBytes":      usage.MemoryBytes,
		"Goroutines":       usage.Goroutines,
		"CPUPercent":       usage.CPUPercent,
	}
	return mergeStats(attrs, s.stats, stats.ScopeContext, s.name)
}

func (m *ManagedContext) SetManagedAttribute(name string, value any) error {
	switch name {
	case "StatisticsEnabled":
		v, err := registry.ToBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
		}
		m.svc.stats.SetAllEnabled(v)
		return nil
	case "TracingEnabled":
		v, err := registry.ToBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
		}
		m.svc.tracer.SetEnabled(v)
		return nil
	}
	return registry.UnknownAttribute(name)
}

func (m *ManagedContext) InvokeManagedOperation(ctx context.Context, op string, args []any) (any, error) {
	s := m.svc
	switch op {
	case "start":
		return nil, s.Start(ctx)
	case "stop":
		return nil, s.Stop(ctx)
	case "startRoute", "stopRoute", "removeRoute":
		id, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		switch op {
		case "startRoute":
			return nil, s.StartRoute(ctx, id)
		case "stopRoute":
			return nil, s.StopRoute(ctx, id)
		}
		return nil, s.RemoveRoute(ctx, id)
	case "reset", "resetStatistics":
		return resetStats(s.stats, stats.ScopeContext, s.name, op, args)
	case "sendBody":
		uri, err := registry.StringArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: sendBody expects a body", errspkg.ErrInvalidArgument)
		}
		ex, err := s.template.SendBody(ctx, uri, args[1])
		if err != nil {
			return nil, err
		}
		return ex.ID, nil
	}
	return nil, registry.UnknownOperation(op)
}

// ManagedRoute exposes one route and its statistics.
type ManagedRoute struct {
	svc   *Service
	route *route
}

func (m *ManagedRoute) ManagedDescription() string { return m.route.description }

func (m *ManagedRoute) ManagedAttributes() map[string]any {
	r := m.route
	attrs := map[string]any{
		"RouteId":      r.id,
		"EndpointUri":  r.from.URI(),
		"State":        string(r.State()),
		"AutoStartup":  r.autoStart,
		"Uptime":       r.uptime().String(),
		"UptimeMillis": r.uptime().Milliseconds(),
		"Processors":   len(r.nodes),
		"ErrorHandler": r.errHandler.kind,
	}
	return mergeStats(attrs, m.svc.stats, stats.ScopeRoute, r.id)
}

func (m *ManagedRoute) SetManagedAttribute(name string, value any) error {
	if name != "StatisticsEnabled" {
		return registry.UnknownAttribute(name)
	}
	v, err := registry.ToBool(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
	}
	m.svc.stats.SetEnabled(stats.ScopeRoute, m.route.id, v)
	return nil
}

func (m *ManagedRoute) InvokeManagedOperation(ctx context.Context, op string, args []any) (any, error) {
	switch op {
	case "start":
		return nil, m.svc.StartRoute(ctx, m.route.id)
	case "stop":
		return nil, m.svc.StopRoute(ctx, m.route.id)
	case "remove":
		return nil, m.svc.RemoveRoute(ctx, m.route.id)
	case "reset", "resetStatistics":
		return resetStats(m.svc.stats, stats.ScopeRoute, m.route.id, op, args)
	}
	return nil, registry.UnknownOperation(op)
}

// ManagedProcessor exposes one node.
type ManagedProcessor struct {
	svc   *Service
	node  *node
	index int
}

func (m *ManagedProcessor) ManagedDescription() string { return m.node.label }

func (m *ManagedProcessor) ManagedAttributes() map[string]any {
	n := m.node
	attrs := map[string]any{
		"ProcessorId": n.id,
		"RouteId":     n.route.id,
		"Kind":        n.kind,
		"Index":       m.index,
		"CustomId":    n.customID,
		"State":       string(n.route.State()),
	}
	if n.producer != nil {
		attrs["Destination"] = n.producer.endpoint.URI()
	}
	return mergeStats(attrs, m.svc.stats, stats.ScopeProcessor, n.id)
}

func (m *ManagedProcessor) SetManagedAttribute(name string, value any) error {
	if name != "StatisticsEnabled" {
		return registry.UnknownAttribute(name)
	}
	v, err := registry.ToBool(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
	}
	m.svc.stats.SetEnabled(stats.ScopeProcessor, m.node.id, v)
	return nil
}

func (m *ManagedProcessor) InvokeManagedOperation(_ context.Context, op string, args []any) (any, error) {
	switch op {
	case "reset", "resetStatistics":
		return resetStats(m.svc.stats, stats.ScopeProcessor, m.node.id, op, args)
	}
	return nil, registry.UnknownOperation(op)
}

// ManagedEndpoint exposes an endpoint. Browse operations need a
// BrowsableEndpoint.
type ManagedEndpoint struct {
	svc      *Service
	endpoint Endpoint
}

func (m *ManagedEndpoint) ManagedAttributes() map[string]any {
	_, browsable := m.endpoint.(BrowsableEndpoint)
	attrs := map[string]any{
		"EndpointUri": m.endpoint.URI(),
		"Scheme":      m.endpoint.Scheme(),
		"Browsable":   browsable,
	}
	if b, ok := m.endpoint.(BrowsableEndpoint); ok {
		attrs["QueueSize"] = len(b.Exchanges())
	}
	return attrs
}

func (m *ManagedEndpoint) browsable() (BrowsableEndpoint, error) {
	b, ok := m.endpoint.(BrowsableEndpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrNotBrowsable, m.endpoint.URI())
	}
	return b, nil
}

func (m *ManagedEndpoint) InvokeManagedOperation(_ context.Context, op string, args []any) (any, error) {
	switch op {
	case "explainEndpointJson":
		includeAll := false
		if len(args) > 0 {
			var err error
			if includeAll, err = registry.BoolArg(op, args, 0); err != nil {
				return nil, err
			}
		}
		return ExplainEndpointJSON(m.endpoint, includeAll)
	case "queueSize":
		b, err := m.browsable()
		if err != nil {
			return nil, err
		}
		return len(b.Exchanges()), nil
	case "purge":
		mock, ok := m.endpoint.(*MockEndpoint)
		if !ok {
			return nil, registry.UnknownOperation(op)
		}
		mock.Reset()
		return nil, nil
	case "browseExchange":
		return m.browseAt(op, args, func(ex *exchangepkg.Exchange) any { return ex.String() })
	case "browseMessageBody":
		return m.browseAt(op, args, func(ex *exchangepkg.Exchange) any { return ex.In.BodyString() })
	case "browseMessageAsXml":
		includeBody, err := optionalBool(op, args, 1, true)
		if err != nil {
			return nil, err
		}
		return m.browseAt(op, args, func(ex *exchangepkg.Exchange) any {
			return backlog.DumpMessageAsXML(ex, includeBody, m.svc.tracer.BodyMaxChars())
		})
	case "browseAllMessagesAsXml":
		b, err := m.browsable()
		if err != nil {
			return nil, err
		}
		includeBody, err := optionalBool(op, args, 0, true)
		if err != nil {
			return nil, err
		}
		return backlog.DumpMessagesAsXML(b.Exchanges(), includeBody, m.svc.tracer.BodyMaxChars()), nil
	case "browseRangeMessagesAsXml":
		return m.browseRange(op, args)
	}
	return nil, registry.UnknownOperation(op)
}

func (m *ManagedEndpoint) browseAt(op string, args []any, render func(*exchangepkg.Exchange) any) (any, error) {
	b, err := m.browsable()
	if err != nil {
		return nil, err
	}
	i, err := registry.IntArg(op, args, 0)
	if err != nil {
		return nil, err
	}
	exchanges := b.Exchanges()
	if i < 0 || i >= len(exchanges) {
		return nil, nil
	}
	return render(exchanges[i]), nil
}

// browseRange dumps exchanges from..to inclusive. to is clamped to the queue.
func (m *ManagedEndpoint) browseRange(op string, args []any) (any, error) {
	b, err := m.browsable()
	if err != nil {
		return nil, err
	}
	from, err := registry.IntArg(op, args, 0)
	if err != nil {
		return nil, err
	}
	to, err := registry.IntArg(op, args, 1)
	if err != nil {
		return nil, err
	}
	includeBody, err := optionalBool(op, args, 2, true)
	if err != nil {
		return nil, err
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: From index cannot be negative, was: %d", errspkg.ErrInvalidRange, from)
	}
	if from > to {
		return nil, fmt.Errorf("%w: From index cannot be larger than to index, was: %d > %d", errspkg.ErrInvalidRange, from, to)
	}
	exchanges := b.Exchanges()
	if from >= len(exchanges) {
		return backlog.DumpMessagesAsXML(nil, includeBody, m.svc.tracer.BodyMaxChars()), nil
	}
	if to >= len(exchanges) {
		to = len(exchanges) - 1
	}
	return backlog.DumpMessagesAsXML(exchanges[from:to+1], includeBody, m.svc.tracer.BodyMaxChars()), nil
}

func optionalBool(op string, args []any, i int, def bool) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	return registry.BoolArg(op, args, i)
}

// ManagedConsumer exposes the consumer of a route.
type ManagedConsumer struct {
	svc   *Service
	route *route
}

func (m *ManagedConsumer) ManagedAttributes() map[string]any {
	c := m.route.consumer
	state := string(routeStopped)
	if c.IsStarted() {
		state = string(routeStarted)
	}
	attrs := map[string]any{
		"EndpointUri": c.Endpoint().URI(),
		"RouteId":     m.route.id,
		"State":       state,
	}
	if sc, ok := c.(*sedaConsumer); ok {
		attrs["ConcurrentConsumers"] = sc.pool.size
		attrs["InflightExchanges"] = sc.pool.active.Load()
	}
	return attrs
}

// ManagedProducer exposes a static to() endpoint of a route.
type ManagedProducer struct {
	svc      *Service
	producer *producer
}

func (m *ManagedProducer) ManagedAttributes() map[string]any {
	n := m.producer.node
	return map[string]any{
		"EndpointUri": m.producer.endpoint.URI(),
		"RouteId":     n.route.id,
		"ProcessorId": n.id,
		"State":       string(n.route.State()),
	}
}

// ManagedThreadPool exposes the worker pool of a seda consumer. The pool is
// fixed size, so core and maximum sizes are equal and read-only.
type ManagedThreadPool struct {
	svc   *Service
	pool  *workerPool
	route *route
}

func (m *ManagedThreadPool) ManagedAttributes() map[string]any {
	p := m.pool
	return map[string]any{
		"Id":                 p.id,
		"SourceId":           p.source,
		"RouteId":            m.route.id,
		"CorePoolSize":       p.size,
		"MaximumPoolSize":    p.size,
		"KeepAliveTime":      int64(0),
		"PoolSize":           p.active.Load(),
		"ActiveCount":        p.active.Load(),
		"LargestPoolSize":    p.largest.Load(),
		"TaskCount":          p.tasks.Load(),
		"CompletedTaskCount": p.completed.Load(),
		"TaskQueueSize":      p.queued.Load(),
	}
}

func (m *ManagedThreadPool) SetManagedAttribute(name string, _ any) error {
	if _, ok := m.ManagedAttributes()[name]; ok {
		return fmt.Errorf("%w: %s", errspkg.ErrReadOnlyAttribute, name)
	}
	return registry.UnknownAttribute(name)
}

// ManagedErrorHandler exposes a route's redelivery policy. Policy changes
// apply to the next failure.
type ManagedErrorHandler struct {
	svc     *Service
	handler *errorHandler
}

func (m *ManagedErrorHandler) ManagedAttributes() map[string]any {
	h := m.handler
	p := h.Policy()
	return map[string]any{
		"Kind":                         h.kind,
		"RouteId":                      h.route.id,
		"DeadLetterChannel":            h.kind == KindDeadLetterChannel,
		"DeadLetterChannelEndpointUri": h.deadLetterURI(),
		"MaximumRedeliveries":          p.MaximumRedeliveries,
		"RedeliveryDelay":              p.RedeliveryDelay.Milliseconds(),
		"BackOffMultiplier":            p.BackOffMultiplier,
		"MaximumRedeliveryDelay":       p.MaximumRedeliveryDelay.Milliseconds(),
		"UseExponentialBackOff":        p.UseExponentialBackOff,
		"Redeliveries":                 h.redeliveries.Load(),
		"FailuresHandled":              h.handled.Load(),
	}
}

func (m *ManagedErrorHandler) SetManagedAttribute(name string, value any) error {
	p := m.handler.Policy()
	var err error
	switch name {
	case "MaximumRedeliveries":
		var n int
		if n, err = registry.ToInt(value); err == nil {
			if n < RedeliverForever {
				return fmt.Errorf("%w: %s must be %d or more", errspkg.ErrInvalidArgument, name, RedeliverForever)
			}
			p.MaximumRedeliveries = n
		}
	case "RedeliveryDelay":
		p.RedeliveryDelay, err = registry.ToDuration(value)
	case "MaximumRedeliveryDelay":
		p.MaximumRedeliveryDelay, err = registry.ToDuration(value)
	case "BackOffMultiplier":
		p.BackOffMultiplier, err = toFloat(value)
	case "UseExponentialBackOff":
		p.UseExponentialBackOff, err = registry.ToBool(value)
	default:
		if _, ok := m.ManagedAttributes()[name]; ok {
			return fmt.Errorf("%w: %s", errspkg.ErrReadOnlyAttribute, name)
		}
		return registry.UnknownAttribute(name)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errspkg.ErrInvalidArgument, name, err)
	}
	m.handler.SetPolicy(p)
	return nil
}

func toFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case string:
		return strconv.ParseFloat(f, 64)
	default:
		n, err := registry.ToInt(v)
		return float64(n), err
	}
}

// ManagedService exposes an application service added with AddService.
type ManagedService struct {
	svc   *Service
	name  string
	value any

	mu    sync.Mutex
	state Status
}

func (m *ManagedService) ManagedAttributes() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"ServiceName": m.name,
		"ServiceType": fmt.Sprintf("%T", m.value),
		"State":       string(m.state),
	}
}

func (m *ManagedService) InvokeManagedOperation(ctx context.Context, op string, _ []any) (any, error) {
	switch op {
	case "start":
		return nil, m.start(ctx)
	case "stop":
		return nil, m.stop(ctx)
	}
	return nil, registry.UnknownOperation(op)
}

func (m *ManagedService) start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatusStarted {
		return nil
	}
	if starter, ok := m.value.(events.Starter); ok {
		if err := starter.Start(ctx); err != nil {
			m.svc.publish(ctx, events.New(events.ServiceStartupFailure).WithService(m.name).WithError(err))
			m.svc.Logger.Error("Service failed to start", err, loggingpkg.LogFields{"service": m.name})
			return err
		}
	}
	m.state = StatusStarted
	return nil
}

func (m *ManagedService) stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatusStarted {
		return nil
	}
	m.state = StatusStopped
	if stopper, ok := m.value.(events.Stopper); ok {
		if err := stopper.Stop(ctx); err != nil {
			m.svc.publish(ctx, events.New(events.ServiceStopFailure).WithService(m.name).WithError(err))
			m.svc.Logger.Error("Service failed to stop", err, loggingpkg.LogFields{"service": m.name})
			return err
		}
	}
	return nil
}

// ManagedDataFormat exposes a data format used by marshal or unmarshal steps.
type ManagedDataFormat struct {
	format DataFormat
}

func (m *ManagedDataFormat) ManagedDescription() string {
	return m.format.Name() + " data format"
}

func (m *ManagedDataFormat) ManagedAttributes() map[string]any {
	return map[string]any{
		"DataFormatName": m.format.Name(),
		"ContentType":    m.format.ContentType(),
		"Type":           fmt.Sprintf("%T", m.format),
	}
}
