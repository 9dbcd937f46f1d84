/*
Package runtime provides the routing context and its management layer for
flowscope.

# Architecture Overview

A Service is a routing context. Routes consume exchanges from an endpoint
and run them through a pipeline of processors. Around that pipeline the
runtime maintains:

  - a managed entity registry with one entry per context, route, processor,
    endpoint, consumer, producer, thread pool, error handler, service,
    data format and backlog tracer or debugger
  - an event bus notifying subscribers of lifecycle and exchange events
  - a statistics aggregator at context, route and processor granularity
  - a backlog tracer that keeps a bounded history of traced messages
  - a breakpoint debugger that suspends exchanges before a node runs

# Package Structure

## Service (service.go, management.go)

The Service owns the lifecycle. Start registers the managed entities,
starts services and routes, and finally the HTTP servers. Stop reverses
these steps and unregisters every entity.

## Routes and Pipeline (route.go, pipeline.go, errorhandler.go)

RouteBuilder describes a route with From and the step methods. The
pipeline emits the exchange events, records statistics and consults the
debugger and tracer around every node. Error handlers implement
redelivery and dead letter channels.

## Components (component_*.go, endpoint.go, threadpool.go)

Endpoints are resolved from URIs by scheme: direct, seda, log, mock and
broker. Seda and broker consumers run on watermill routers with the
middleware chain from middleware.go.

## Management (managed.go, managed_backlog.go, explain.go, admin.go)

Managed wrappers expose attributes and operations through the registry.
The admin server serves the registry over HTTP.

## Monitoring (dlq_metrics.go, resources.go, cloudevents_notifier.go)

Prometheus collectors for statistics and dead letters, process resource
sampling, and export of management events as CloudEvents.

# Sub-packages

  - backlog/: tracer and debugger
  - cloudevents/: CloudEvents envelope and extensions
  - config/: configuration with validation
  - errors/: sentinel errors
  - events/: event kinds and the notification bus
  - exchange/: exchange and message types
  - language/: predicate and expression languages
  - naming/: object names and patterns
  - registry/: managed entity registry
  - stats/: statistics counters and aggregation
  - ids/, jsoncodec/, logging/, metadata/: shared helpers

# Usage Example

	svc := flowscope.NewService(cfg, logger, ctx, flowscope.ServiceDependencies{})

	_ = svc.AddRoutes(ctx,
		flowscope.From("direct:orders").RouteID("orders").
			Process(validate).ID("validate").
			To("seda:billing"),
	)

	_ = svc.Start(ctx)
*/
package runtime
