package runtime

import (
	"errors"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
)

const (
	tracerEntityName   = "BacklogTracer"
	debuggerEntityName = "BacklogDebugger"
)

// register adds entity to the managed registry. Failures are logged, never
// returned: management must not stop routing.
func (s *Service) register(entity any, name naming.ObjectName) (naming.ObjectName, bool) {
	if s.Conf.ManagementDisabled {
		return naming.ObjectName{}, false
	}
	canonical, err := s.registry.Register(entity, name)
	if err != nil {
		if errors.Is(err, errspkg.ErrNameConflict) {
			s.Logger.Debug("Managed name already taken", loggingpkg.LogFields{loggingpkg.FieldObjectName: name.String()})
		} else {
			s.Logger.Error("Failed to register managed entity", err, loggingpkg.LogFields{loggingpkg.FieldObjectName: name.String()})
		}
		return naming.ObjectName{}, false
	}
	return canonical, true
}

// registerLate reports whether entities created after start are registered.
// Routes follow RegisterNewRoutes, everything else needs RegisterAlways.
func (s *Service) registerLate(isRoute bool) bool {
	if s.Conf.ManagementDisabled || s.Status() != StatusStarted {
		return false
	}
	if s.Conf.RegisterAlways {
		return true
	}
	return isRoute && s.Conf.RegisterNewRoutes
}

// registerAll registers every entity known to the context. It runs while
// the context starts.
func (s *Service) registerAll() {
	if s.Conf.ManagementDisabled {
		return
	}
	s.register(&ManagedContext{svc: s}, s.strategy.Context())
	s.register(&ManagedTracer{svc: s, tracer: s.tracer}, s.strategy.Tracer(tracerEntityName))
	s.register(&ManagedDebugger{svc: s, debugger: s.debugger}, s.strategy.Tracer(debuggerEntityName))

	s.mu.RLock()
	services := append([]*ManagedService(nil), s.services...)
	formats := make([]*ManagedDataFormat, 0, len(s.dataFormats))
	for _, mb := range s.dataFormats {
		formats = append(formats, mb)
	}
	endpoints := make(map[string]*ManagedEndpoint, len(s.endpointsMB))
	for k, mb := range s.endpointsMB {
		endpoints[k] = mb
	}
	s.mu.RUnlock()

	for _, ms := range services {
		s.register(ms, s.strategy.Service(ms.name))
	}
	for _, mb := range formats {
		s.register(mb, s.strategy.DataFormat(mb.format.Name()))
	}
	for uri, mb := range endpoints {
		s.register(mb, s.strategy.Endpoint(uri))
	}
	for _, r := range s.routeSnapshot() {
		s.registerRoute(r)
	}
}

// registerRoute registers r with its processors, consumer, producers, error
// handler and thread pool. Names owned by the route are remembered so that
// removal unregisters exactly those. Endpoints are shared and stay.
func (s *Service) registerRoute(r *route) {
	if s.Conf.ManagementDisabled {
		return
	}
	var owned []naming.ObjectName
	own := func(entity any, name naming.ObjectName) {
		if canonical, ok := s.register(entity, name); ok {
			owned = append(owned, canonical)
		}
	}

	own(&ManagedRoute{svc: s, route: r}, s.strategy.Route(r.id))
	for i, n := range r.nodes {
		if s.Conf.OnlyRegisterProcessorsWithCustomID && !n.customID {
			continue
		}
		own(&ManagedProcessor{svc: s, node: n, index: i}, s.strategy.Processor(n.id))
	}
	own(&ManagedConsumer{svc: s, route: r}, s.strategy.Consumer(r.from.Scheme(), r.id))
	for _, p := range r.producers() {
		own(&ManagedProducer{svc: s, producer: p}, s.strategy.Producer(p.endpoint.Scheme(), p.node.id))
	}
	own(&ManagedErrorHandler{svc: s, handler: r.errHandler}, s.strategy.ErrorHandler(r.errHandler.kind, r.id))
	if sc, ok := r.consumer.(*sedaConsumer); ok {
		own(&ManagedThreadPool{svc: s, pool: sc.pool, route: r}, s.strategy.ThreadPool(sc.pool.id, sc.pool.source))
	}

	for _, ep := range s.routeEndpoints(r) {
		if mb := s.managedEndpoint(ep); mb != nil {
			s.register(mb, s.strategy.Endpoint(ep.URI()))
		}
	}
	for _, n := range r.nodes {
		if n.dataFormat == nil {
			continue
		}
		s.mu.RLock()
		mb := s.dataFormats[n.dataFormat.Name()]
		s.mu.RUnlock()
		if mb != nil {
			s.register(mb, s.strategy.DataFormat(mb.format.Name()))
		}
	}

	r.mu.Lock()
	r.registered = append(r.registered, owned...)
	r.mu.Unlock()
}

func (s *Service) unregisterRoute(r *route) {
	r.mu.Lock()
	names := r.registered
	r.registered = nil
	r.mu.Unlock()
	for _, name := range names {
		if err := s.registry.Unregister(name); err != nil {
			s.Logger.Error("Failed to unregister managed entity", err, loggingpkg.LogFields{loggingpkg.FieldObjectName: name.String()})
		}
	}
}

// routeEndpoints lists the static endpoints a route uses.
func (s *Service) routeEndpoints(r *route) []Endpoint {
	out := []Endpoint{r.from}
	for _, p := range r.producers() {
		out = append(out, p.endpoint)
	}
	if r.errHandler != nil && r.errHandler.deadLetter != nil {
		out = append(out, r.errHandler.deadLetter)
	}
	return out
}

func (s *Service) managedEndpoint(ep Endpoint) *ManagedEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointsMB[ep.URI()]
}
