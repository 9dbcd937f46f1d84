package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/flowscope/internal/runtime/backlog"
	configpkg "github.com/drblury/flowscope/internal/runtime/config"
	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/events"
	"github.com/drblury/flowscope/internal/runtime/language"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
	"github.com/drblury/flowscope/internal/runtime/registry"
	"github.com/drblury/flowscope/internal/runtime/stats"
	"github.com/drblury/flowscope/transport"
	"github.com/drblury/flowscope/transport/channel"
	_ "github.com/drblury/flowscope/transport/transports"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	// Transports resolves the broker transport. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// ManagementServer backs the managed entity registry. Defaults to an
	// in-memory server.
	ManagementServer registry.Server
	// MetricsRegisterer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// Resolver compiles trace filters and breakpoint conditions.
	Resolver *language.Resolver
	// Notifiers are subscribed to the event bus before start.
	Notifiers []events.Notifier
	// ErrorHandler is the default for routes that declare none.
	ErrorHandler *ErrorHandlerBuilder
	// TracerProvider creates the spans around processors. Defaults to the
	// global otel provider.
	TracerProvider trace.TracerProvider
}

// Status is the lifecycle state of a Service.
type Status string

const (
	StatusStopped  Status = "Stopped"
	StatusStarting Status = "Starting"
	StatusStarted  Status = "Started"
	StatusStopping Status = "Stopping"
)

// Service is a routing context: it owns routes, endpoints, the event bus,
// statistics, the backlog tracer and debugger, and the managed entity
// registry that exposes all of them.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	name      string
	strategy  naming.Strategy
	wmLogger  watermill.LoggerAdapter
	createdAt time.Time

	registry    *registry.Registry
	bus         *events.Bus
	stats       *stats.Aggregator
	tracer      *backlog.Tracer
	debugger    *backlog.Debugger
	resolver    *language.Resolver
	template    *ProducerTemplate
	resources   *resourceTracker
	deadLetters *DeadLetterMetrics
	otelTracer  trace.Tracer
	registerer  prometheus.Registerer
	transports  *transport.Registry

	defaultErrorHandler *ErrorHandlerBuilder
	contextCounter      *stats.Counter
	collectors          []prometheus.Collector

	middlewares   []message.HandlerMiddleware
	middlewaresMu sync.RWMutex

	// lifecycleMu serialises Start, Stop and route changes.
	lifecycleMu sync.Mutex

	mu          sync.RWMutex
	status      Status
	startedAt   time.Time
	components  map[string]*component
	endpoints   map[string]Endpoint
	endpointsMB map[string]*ManagedEndpoint
	routes      []*route
	nodes       map[string]*node
	idCounters  map[string]int
	services    []*ManagedService
	dataFormats map[string]*ManagedDataFormat

	sedaMu   sync.Mutex
	seda     *transport.Transport
	brokerMu sync.Mutex
	broker   *transport.Transport

	eventsHandle *events.Handle

	httpServers   map[int]*http.ServeMux
	servers       []*http.Server
	httpServersMu sync.Mutex
	adminOnce     sync.Once
}

// NewService constructs a Service for the supplied configuration. Add routes
// on the returned Service before or after calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if conf == nil {
		conf = configpkg.Default()
	}
	log = loggingpkg.OrDiscard(log)
	if err := configpkg.ValidateConfig(conf); err != nil {
		panic(err)
	}
	defaults := configpkg.Default()
	if conf.ContextName == "" {
		conf.ContextName = defaults.ContextName
	}
	if conf.ManagementDomain == "" {
		conf.ManagementDomain = defaults.ManagementDomain
	}

	log = log.With(loggingpkg.LogFields{loggingpkg.FieldContext: conf.ContextName})
	log.Info("Creating routing context", loggingpkg.LogFields{
		"broker": conf.Broker,
		"config": conf.String(),
	})

	s := &Service{
		Conf:        conf,
		Logger:      log,
		name:        conf.ContextName,
		strategy:    naming.NewStrategy(conf.ManagementDomain, conf.ContextName),
		wmLogger:    loggingpkg.NewWatermillAdapter(log),
		createdAt:   time.Now(),
		status:      StatusStopped,
		components:  builtinComponents(),
		endpoints:   make(map[string]Endpoint),
		endpointsMB: make(map[string]*ManagedEndpoint),
		nodes:       make(map[string]*node),
		idCounters:  make(map[string]int),
		dataFormats: make(map[string]*ManagedDataFormat),
		resources:   newResourceTracker(),
	}

	s.resolver = deps.Resolver
	if s.resolver == nil {
		s.resolver = language.NewResolver()
	}
	server := deps.ManagementServer
	if server == nil {
		server = registry.NewInMemoryServer()
	}
	s.registry = registry.New(server, log)
	s.bus = events.NewBus(conf.ContextName, log)
	s.stats = stats.NewAggregator(conf.Level())
	s.contextCounter = s.stats.Register(stats.Key{Scope: stats.ScopeContext, ID: s.name}, nil)
	s.template = &ProducerTemplate{svc: s}

	s.transports = deps.Transports
	if s.transports == nil {
		s.transports = transport.DefaultRegistry
	}
	s.registerer = deps.MetricsRegisterer
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	s.deadLetters = NewDeadLetterMetrics(s.registerer)

	provider := deps.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	s.otelTracer = provider.Tracer("github.com/drblury/flowscope")

	s.defaultErrorHandler = deps.ErrorHandler
	if s.defaultErrorHandler == nil {
		s.defaultErrorHandler = DefaultErrorHandler()
	}

	s.configureBacklog()

	s.bus.Subscribe(s.stats, events.ExchangeOnly())
	s.bus.Subscribe(s.debugger.Notifier(), events.ExchangeOnly())
	for _, n := range deps.Notifiers {
		s.bus.Subscribe(n, events.Filter{})
	}

	s.registerConfiguredMiddlewares(deps)

	return s
}

func (s *Service) configureBacklog() {
	conf := s.Conf
	s.tracer = backlog.NewTracer(s.resolver, s.Logger)
	s.tracer.SetEnabled(conf.BacklogTracing)
	if conf.BacklogSize > 0 {
		if err := s.tracer.SetBacklogSize(conf.BacklogSize); err != nil {
			s.Logger.Error("Ignoring backlog size", err, nil)
		}
	}
	s.tracer.SetTracePattern(conf.TracePattern)
	if conf.TraceFilter != "" {
		if err := s.tracer.SetTraceFilter("simple", conf.TraceFilter); err != nil {
			s.Logger.Error("Ignoring trace filter", err, loggingpkg.LogFields{"filter": conf.TraceFilter})
		}
	}
	s.tracer.SetRemoveOnDump(conf.TraceRemoveOnDump)
	if conf.BodyMaxChars > 0 {
		s.tracer.SetBodyMaxChars(conf.BodyMaxChars)
	}

	s.debugger = backlog.NewDebugger(s.resolver, s.Logger)
	s.debugger.SetFallbackTimeout(conf.DebuggerFallbackTimeout)
	if conf.BodyMaxChars > 0 {
		s.debugger.SetBodyMaxChars(conf.BodyMaxChars)
	}
	if conf.DebuggerEnabled {
		s.debugger.Enable()
	}
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) Name() string { return s.name }

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	if st == StatusStarted {
		s.startedAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *Service) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusStarted {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Service) Template() *ProducerTemplate           { return s.template }
func (s *Service) Registry() *registry.Registry          { return s.registry }
func (s *Service) Events() *events.Bus                   { return s.bus }
func (s *Service) Statistics() *stats.Aggregator         { return s.stats }
func (s *Service) Tracer() *backlog.Tracer               { return s.tracer }
func (s *Service) Debugger() *backlog.Debugger           { return s.debugger }
func (s *Service) Naming() naming.Strategy               { return s.strategy }
func (s *Service) DeadLetterMetrics() *DeadLetterMetrics { return s.deadLetters }

// Start registers the managed entities, starts services and routes and then
// publishes ContextStarted. Starting a started context is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.Status() != StatusStopped {
		return nil
	}
	s.setStatus(StatusStarting)
	if err := s.bus.Start(ctx); err != nil {
		s.Logger.Error("Event notifiers failed to start", err, nil)
	}
	s.publish(ctx, events.New(events.ContextStarting))

	if err := s.startupSteps(ctx); err != nil {
		s.publish(ctx, events.New(events.ContextStartupFailure).WithError(err))
		s.Logger.Error("Routing context failed to start", err, nil)
		s.shutdown(ctx, false)
		return err
	}

	s.setStatus(StatusStarted)
	s.startHTTPServers()
	s.publish(ctx, events.New(events.ContextStarted))
	s.Logger.Info("Routing context started", loggingpkg.LogFields{"routes": len(s.routeSnapshot())})
	return nil
}

func (s *Service) startupSteps(ctx context.Context) error {
	if err := s.registerMetrics(); err != nil {
		return err
	}
	if err := s.exportEvents(ctx); err != nil {
		return err
	}
	s.registerAll()
	s.startServices(ctx)
	if s.Conf.DebuggerEnabled {
		s.debugger.Enable()
	}

	routes := s.routeSnapshot()
	for _, r := range routes {
		s.publish(ctx, events.ForRoute(events.RouteAdded, r.id))
	}
	for _, r := range routes {
		if !r.autoStart {
			continue
		}
		if err := s.startRoute(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Stop disables the debugger, releasing suspended exchanges, stops routes in
// reverse order, stops services, unregisters every managed entity and
// publishes ContextStopped. Route definitions are kept so the context can be
// started again.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.Status() != StatusStarted {
		return nil
	}
	s.setStatus(StatusStopping)
	s.publish(ctx, events.New(events.ContextStopping))
	err := s.shutdown(ctx, true)
	s.Logger.Info("Routing context stopped", nil)
	return err
}

func (s *Service) shutdown(ctx context.Context, publishRoutes bool) error {
	var errs []error
	// suspended exchanges would hold their routes open
	s.debugger.Disable()
	routes := s.routeSnapshot()
	for i := len(routes) - 1; i >= 0; i-- {
		r := routes[i]
		if err := s.stopRoute(ctx, r); err != nil {
			errs = append(errs, err)
		}
		if publishRoutes {
			s.publish(ctx, events.ForRoute(events.RouteRemoved, r.id))
		}
	}
	s.stopServices(ctx)
	s.registry.UnregisterAll()
	for _, r := range routes {
		r.mu.Lock()
		r.registered = nil
		r.mu.Unlock()
	}
	s.unregisterMetrics()
	if err := s.stopHTTPServers(ctx); err != nil {
		errs = append(errs, err)
	}
	if publishRoutes {
		s.publish(ctx, events.New(events.ContextStopped))
	}
	if s.eventsHandle != nil {
		s.bus.Unsubscribe(ctx, s.eventsHandle)
		s.eventsHandle = nil
	}
	s.bus.Stop(ctx)
	if err := s.closeTransports(); err != nil {
		errs = append(errs, err)
	}
	s.setStatus(StatusStopped)
	return errors.Join(errs...)
}

// Run starts the context and stops it once ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// AddRoutes builds and adds routes. On a started context each route is
// registered per the management settings and started unless it opted out.
func (s *Service) AddRoutes(ctx context.Context, builders ...*RouteBuilder) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	var errs []error
	for _, b := range builders {
		if err := s.addRoute(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) addRoute(ctx context.Context, b *RouteBuilder) error {
	if b != nil && b.id != "" {
		if _, ok := s.lookupRoute(b.id); ok {
			return fmt.Errorf("%w: %s", errspkg.ErrDuplicateRoute, b.id)
		}
	}
	r, err := s.buildRoute(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.routes = append(s.routes, r)
	s.mu.Unlock()

	routeCounter := s.stats.Register(stats.Key{Scope: stats.ScopeRoute, ID: r.id}, s.contextCounter)
	for _, n := range r.nodes {
		s.stats.Register(stats.Key{Scope: stats.ScopeProcessor, ID: n.id}, routeCounter)
	}

	if s.Status() != StatusStarted {
		return nil
	}
	s.publish(ctx, events.ForRoute(events.RouteAdded, r.id))
	if s.registerLate(true) {
		s.registerRoute(r)
	}
	if r.autoStart {
		return s.startRoute(ctx, r)
	}
	return nil
}

func (s *Service) lookupRoute(id string) (*route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		if r.id == id {
			return r, true
		}
	}
	return nil, false
}

func (s *Service) routeSnapshot() []*route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.routes)
}

// RouteIDs lists the route ids in the order they were added.
func (s *Service) RouteIDs() []string {
	routes := s.routeSnapshot()
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.id
	}
	return out
}

func (s *Service) StartRoute(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	r, ok := s.lookupRoute(id)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrRouteNotFound, id)
	}
	return s.startRoute(ctx, r)
}

func (s *Service) StopRoute(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	r, ok := s.lookupRoute(id)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrRouteNotFound, id)
	}
	return s.stopRoute(ctx, r)
}

// RemoveRoute stops the route if needed, unregisters its managed entities
// and drops its statistics.
func (s *Service) RemoveRoute(ctx context.Context, id string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	r, ok := s.lookupRoute(id)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrRouteNotFound, id)
	}
	stopErr := s.stopRoute(ctx, r)
	closeErr := r.consumer.Close()
	s.unregisterRoute(r)
	s.stats.Remove(r.id)
	s.releaseNodeIDs(r.nodes)
	s.mu.Lock()
	s.routes = slices.DeleteFunc(s.routes, func(cur *route) bool { return cur == r })
	s.mu.Unlock()
	s.publish(ctx, events.ForRoute(events.RouteRemoved, r.id))
	s.Logger.Info("Route removed", loggingpkg.LogFields{loggingpkg.FieldRouteID: r.id})
	return errors.Join(stopErr, closeErr)
}

func (s *Service) startRoute(ctx context.Context, r *route) error {
	if r.State() == routeStarted {
		return nil
	}
	if err := r.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start route %s: %w", r.id, err)
	}
	r.mu.Lock()
	r.state = routeStarted
	r.startedAt = time.Now()
	r.mu.Unlock()
	s.publish(ctx, events.ForRoute(events.RouteStarted, r.id))
	s.Logger.Info("Route started", loggingpkg.LogFields{
		loggingpkg.FieldRouteID:  r.id,
		loggingpkg.FieldEndpoint: r.from.URI(),
	})
	return nil
}

func (s *Service) stopRoute(ctx context.Context, r *route) error {
	if r.State() != routeStarted {
		return nil
	}
	err := r.consumer.Stop(ctx)
	r.mu.Lock()
	r.state = routeStopped
	r.mu.Unlock()
	s.publish(ctx, events.ForRoute(events.RouteStopped, r.id))
	if err != nil {
		return fmt.Errorf("stop route %s: %w", r.id, err)
	}
	return nil
}

// Endpoint returns the endpoint for uri, creating it on first use.
func (s *Service) Endpoint(uri string) (Endpoint, error) {
	return s.endpoint(uri, false)
}

// MockEndpoint returns the mock endpoint for uri.
func (s *Service) MockEndpoint(uri string) (*MockEndpoint, error) {
	ep, err := s.endpoint(uri, false)
	if err != nil {
		return nil, err
	}
	m, ok := ep.(*MockEndpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a mock endpoint", errspkg.ErrInvalidArgument, uri)
	}
	return m, nil
}

// endpoint resolves uri. forRoute marks lookups made while building a route;
// other endpoints created after start are registered only with
// RegisterAlways.
func (s *Service) endpoint(raw string, forRoute bool) (Endpoint, error) {
	u, err := parseEndpointURI(raw)
	if err != nil {
		return nil, err
	}
	key := u.String()
	s.mu.RLock()
	ep, ok := s.endpoints[key]
	s.mu.RUnlock()
	if ok {
		return ep, nil
	}

	s.mu.Lock()
	if ep, ok := s.endpoints[key]; ok {
		s.mu.Unlock()
		return ep, nil
	}
	comp, ok := s.components[u.Scheme]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownComponent, u.Scheme)
	}
	if err := comp.validate(u); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ep, err = comp.create(s, u)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create endpoint %s: %w", key, err)
	}
	if b, ok := ep.(hasEndpointBase); ok {
		*b.base() = endpointBase{uri: u, component: comp}
	}
	s.endpoints[key] = ep
	mb := &ManagedEndpoint{svc: s, endpoint: ep}
	s.endpointsMB[key] = mb
	s.mu.Unlock()

	if !forRoute && s.registerLate(false) {
		s.register(mb, s.strategy.Endpoint(key))
	}
	return ep, nil
}

// Endpoints lists every endpoint created so far.
func (s *Service) Endpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	slices.SortFunc(out, func(a, b Endpoint) int {
		switch {
		case a.URI() < b.URI():
			return -1
		case a.URI() > b.URI():
			return 1
		}
		return 0
	})
	return out
}

// nextID returns "<kind><n>" with the lowest n not yet used for kind.
func (s *Service) nextID(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.idCounters[kind]++
		id := fmt.Sprintf("%s%d", kind, s.idCounters[kind])
		if _, taken := s.nodes[id]; taken {
			continue
		}
		if slices.ContainsFunc(s.routes, func(r *route) bool { return r.id == id }) {
			continue
		}
		return id
	}
}

func (s *Service) reserveNodeID(n *node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.nodes[n.id]; taken {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateNodeID, n.id)
	}
	s.nodes[n.id] = n
	return nil
}

func (s *Service) releaseNodeIDs(nodes []*node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if s.nodes[n.id] == n {
			delete(s.nodes, n.id)
		}
	}
}

// AddService attaches an application service to the context lifecycle.
// Services implementing Start or Stop with a context are started and stopped
// with the context.
func (s *Service) AddService(ctx context.Context, name string, svc any) error {
	if name == "" || svc == nil {
		return fmt.Errorf("%w: service name and value are required", errspkg.ErrInvalidArgument)
	}
	ms := &ManagedService{svc: s, name: name, value: svc, state: StatusStopped}
	s.mu.Lock()
	for _, cur := range s.services {
		if cur.name == name {
			s.mu.Unlock()
			return fmt.Errorf("%w: service %s", errspkg.ErrNameConflict, name)
		}
	}
	s.services = append(s.services, ms)
	s.mu.Unlock()

	if s.Status() != StatusStarted {
		return nil
	}
	if s.registerLate(false) {
		s.register(ms, s.strategy.Service(name))
	}
	return ms.start(ctx)
}

func (s *Service) startServices(ctx context.Context) {
	s.mu.RLock()
	services := slices.Clone(s.services)
	s.mu.RUnlock()
	for _, ms := range services {
		_ = ms.start(ctx)
	}
}

func (s *Service) stopServices(ctx context.Context) {
	s.mu.RLock()
	services := slices.Clone(s.services)
	s.mu.RUnlock()
	for i := len(services) - 1; i >= 0; i-- {
		_ = services[i].stop(ctx)
	}
}

// addDataFormat returns the data format registered under df's name, adding
// df when the name is new.
func (s *Service) addDataFormat(df DataFormat) DataFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.dataFormats[df.Name()]; ok {
		return mb.format
	}
	s.dataFormats[df.Name()] = &ManagedDataFormat{format: df}
	return df
}

func (s *Service) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, s.wmLogger)
	if err != nil {
		return nil, err
	}
	s.middlewaresMu.RLock()
	mws := slices.Clone(s.middlewares)
	s.middlewaresMu.RUnlock()
	router.AddMiddleware(mws...)
	return router, nil
}

// sedaTransport returns the in-memory pub/sub shared by every seda endpoint.
func (s *Service) sedaTransport(ctx context.Context) (transport.Transport, error) {
	s.sedaMu.Lock()
	defer s.sedaMu.Unlock()
	if s.seda != nil {
		return *s.seda, nil
	}
	tr, err := channel.Build(ctx, transport.Options{Broker: channel.TransportName}, s.wmLogger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("build seda transport: %w", err)
	}
	s.seda = &tr
	return tr, nil
}

// brokerTransport returns the configured broker transport, building it on
// first use.
func (s *Service) brokerTransport(ctx context.Context) (transport.Transport, error) {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()
	if s.broker != nil {
		return *s.broker, nil
	}
	tr, err := s.transports.Build(ctx, s.Conf.TransportOptions(), s.wmLogger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("build %s transport: %w", s.Conf.Broker, err)
	}
	s.broker = &tr
	return tr, nil
}

func (s *Service) closeTransports() error {
	var errs []error
	s.sedaMu.Lock()
	if s.seda != nil {
		errs = append(errs, s.seda.Close())
		s.seda = nil
	}
	s.sedaMu.Unlock()
	s.brokerMu.Lock()
	if s.broker != nil {
		errs = append(errs, s.broker.Close())
		s.broker = nil
	}
	s.brokerMu.Unlock()
	return errors.Join(errs...)
}

// exportEvents subscribes the CloudEvents exporter when an events topic is
// configured.
func (s *Service) exportEvents(ctx context.Context) error {
	if s.Conf.EventsTopic == "" || s.eventsHandle != nil {
		return nil
	}
	tr, err := s.brokerTransport(ctx)
	if err != nil {
		return err
	}
	n := NewCloudEventsNotifier(tr.Publisher, s.Conf.EventsTopic, "/flowscope/"+s.name)
	s.eventsHandle = s.bus.Subscribe(n, events.Filter{})
	return nil
}

func (s *Service) registerMetrics() error {
	if !s.Conf.MetricsEnabled {
		return nil
	}
	if err := s.deadLetters.Register(); err != nil {
		return err
	}
	c := stats.NewCollector(s.stats, s.name)
	if err := s.registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	s.collectors = append(s.collectors, c)
	return nil
}

func (s *Service) unregisterMetrics() {
	for _, c := range s.collectors {
		s.registerer.Unregister(c)
	}
	s.collectors = nil
	s.deadLetters.Unregister()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.StartAdminServer()

	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) stopHTTPServers(ctx context.Context) error {
	s.httpServersMu.Lock()
	servers := s.servers
	s.servers = nil
	s.httpServersMu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
