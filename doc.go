// Package flowscope is a message routing context with a management layer.
// Routes move exchanges from a consumer endpoint through a pipeline of
// processors, and every part of the running context is observable and
// controllable at runtime.
//
// A Service owns the routes. On Start it registers one managed entity per
// context, route, processor, endpoint, consumer, producer, thread pool, error
// handler, service and data format in the management Registry, under object
// names such as
//
//	flowscope:context=orders,type=routes,name="billing"
//
// Attributes and operations of those entities can be read, written and
// invoked through the Registry directly or over the admin HTTP API.
//
// # Events and statistics
//
// Lifecycle and exchange events are delivered synchronously to subscribed
// notifiers. A statistics aggregator subscribes to the exchange events and
// keeps counters at context, route and processor level. Events can also be
// exported as CloudEvents on any configured broker transport (Kafka,
// RabbitMQ, AWS SNS/SQS, NATS, Redis streams, HTTP, I/O or Go channels).
//
// # Backlog tracing and debugging
//
// The backlog tracer keeps a bounded history of the messages seen at each
// node, filtered by route pattern and predicate. The breakpoint debugger
// suspends exchanges before a node runs, lets callers inspect and change
// the message, and resumes or single steps them.
//
// # Middleware
//
// Seda and broker consumers run on watermill routers. The default chain adds
// correlation ids, message logging, OpenTelemetry spans, Prometheus metrics
// and panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares.
package flowscope
