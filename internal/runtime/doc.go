/*
Package runtime provides the request/reply and event substrate shared by the
CRM services.

# Architecture Overview

Every service process owns one broker connection and runs three components
over it, built on top of Watermill:

  - an RPC client that calls patterns on other destinations and waits for
    the correlated reply on a private reply topic
  - an RPC server that answers the patterns of the service's own destination
  - an event bus that broadcasts domain events to every named subscriber

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - the transport selected by configuration
  - the message router and its middleware chain
  - the client, the server and the event bus
  - the optional PostgreSQL outbox and Redis dedupe stores
  - HTTP servers for metrics and the admin API

## RPC (rpc_client.go, rpc_server.go, rpc_handlers.go, pending.go)

Calls are validated against the pattern registry before anything is sent.
Each call is tracked in a pending table keyed by correlation id and is
resolved exactly once: by its reply, its timeout, cancellation of its
context, or a transport failure. Replies arriving after resolution are
dropped and counted.

## Events (eventbus.go)

Emit never waits for the broker. Events go through a bounded queue; when it
is full, or when publishing fails, they are parked in the outbox and relayed
later. Subscribers are independent: a failing subscriber has its copy
redelivered without affecting the others.

## Middleware (middleware.go)

  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus metrics collection
  - PoisonQueue: Parks undecodable events
  - Recoverer: Panic recovery

## Stats & Monitoring (stats.go, hooks.go, metrics.go, admin.go)

Per-handler latency percentiles, throughput and error breakdowns, lifecycle
hooks, Prometheus collectors and an HTTP API listing handlers and patterns.

# Sub-packages

  - config/: Service configuration loaded with cleanenv
  - dedupe/: Processed event ids (memory, Redis)
  - envelope/: Wire format of requests, replies and events
  - errors/: Sentinel errors and the RPC error taxonomy
  - handlers/: Message context types and typed handler adapters
  - ids/: ULID and UUID generation
  - jsoncodec/: JSON encoding
  - logging/: Logger interface and adapters
  - metadata/: Message metadata keys
  - outbox/: Parked events (memory, PostgreSQL) and the relay
  - patterns/: Destination and pattern catalog
  - transport/: Transport factory

# Usage Example

	svc, err := runtime.New(ctx, cfg, logger, runtime.ServiceDependencies{
		Destination: patterns.Identity,
	})
	if err != nil {
		return err
	}

	err = runtime.RegisterJSONHandler(svc.Server(), runtime.JSONHandlerRegistration[GetUser, User]{
		Pattern: patterns.IdentityUserGet,
		Handler: getUser,
	})

	return svc.Start(ctx)
*/
package runtime
