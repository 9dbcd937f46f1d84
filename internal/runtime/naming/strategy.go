package naming

import "fmt"

// Strategy derives object names for every entity kind within one context.
type Strategy struct {
	domain  string
	context string
}

func NewStrategy(domain, contextName string) Strategy {
	return Strategy{domain: domain, context: contextName}
}

func (s Strategy) Domain() string      { return s.domain }
func (s Strategy) ContextName() string { return s.context }

func (s Strategy) name(entityType, name string) ObjectName {
	return ObjectName{Domain: s.domain, Context: s.context, Type: entityType, Name: name}
}

func (s Strategy) Context() ObjectName {
	return s.name(TypeContext, s.context)
}

func (s Strategy) Route(routeID string) ObjectName {
	return s.name(TypeRoutes, routeID)
}

func (s Strategy) Processor(nodeID string) ObjectName {
	return s.name(TypeProcessors, nodeID)
}

// Endpoint names are the normalized endpoint URI.
func (s Strategy) Endpoint(uri string) ObjectName {
	return s.name(TypeEndpoints, uri)
}

func (s Strategy) Consumer(scheme, routeID string) ObjectName {
	return s.name(TypeConsumers, fmt.Sprintf("%s-consumer(%s)", scheme, routeID))
}

func (s Strategy) Producer(scheme, nodeID string) ObjectName {
	return s.name(TypeProducers, fmt.Sprintf("%s-producer(%s)", scheme, nodeID))
}

func (s Strategy) ThreadPool(id, source string) ObjectName {
	return s.name(TypeThreadPools, fmt.Sprintf("%s(%s)", id, source))
}

func (s Strategy) ErrorHandler(kind, owner string) ObjectName {
	return s.name(TypeErrorHandlers, fmt.Sprintf("%s(%s)", kind, owner))
}

func (s Strategy) Service(name string) ObjectName {
	return s.name(TypeServices, name)
}

func (s Strategy) Tracer(name string) ObjectName {
	return s.name(TypeTracer, name)
}

func (s Strategy) DataFormat(name string) ObjectName {
	return s.name(TypeDataFormats, name)
}
