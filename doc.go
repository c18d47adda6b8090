// Package crmbus is the messaging substrate of the CRM services: patterned
// request/reply RPC between services, broadcast domain events with
// independent subscribers, and an HTTP gateway translating REST calls into
// RPC calls.
//
// Each service process creates one Service from Config. The Service owns a
// broker connection (RabbitMQ, Kafka, NATS, AWS SNS/SQS, HTTP or in-memory Go
// channels), answers the patterns of its destination through Server, calls
// other destinations through Client, and emits and consumes events through
// the EventBus. A minimal service therefore fills Config, creates a Service,
// registers its handlers and subscribers, and calls Start.
//
// # Patterns
//
// Every destination and pattern is declared in a registry. Calls to an
// undeclared pair fail before anything is sent, and handlers can only be
// registered for patterns of their own destination.
//
// # Errors
//
// Failures of a call are reported as *RPCError values whose Kind is one of
// VALIDATION, NOT_FOUND, TIMEOUT, TRANSPORT, HANDLER or UNAUTHORIZED. The
// kind and message survive the trip from the remote handler to the caller.
//
// # Events
//
// Emit never waits for the broker. Events that cannot be queued or published
// are parked in an outbox (PostgreSQL or memory) and relayed later.
// Subscribers can opt into dedupe by event id, backed by Redis or memory.
package crmbus
