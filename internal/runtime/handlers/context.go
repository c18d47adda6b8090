// Package handlers adapts typed request and event handlers to the raw
// function shapes dispatched by the RPC server and the event bus.
package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/northwind-crm/crmbus/internal/runtime/envelope"
	loggingpkg "github.com/northwind-crm/crmbus/internal/runtime/logging"
	metadatapkg "github.com/northwind-crm/crmbus/internal/runtime/metadata"
)

// ErrUnprocessable marks an event whose payload can never be handled. The
// event bus routes such events to the poison queue instead of nacking them.
var ErrUnprocessable = errors.New("crmbus: unprocessable event")

// MessageContextBase provides common functionality for all handler contexts.
// It holds the metadata and logger shared by RPC and event handlers.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can
// safely derive headers without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.KeyCorrelationID]
}

// Request is an incoming RPC request.
type Request struct {
	MessageContextBase
	Pattern string
	Data    json.RawMessage
}

// Func serves one request pattern. The returned bytes are sent back verbatim
// as the reply result.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

// Event is an incoming domain event.
type Event struct {
	MessageContextBase
	envelope.Event
}

// CorrelationID returns the correlation ID stamped on the envelope, falling
// back to the message metadata for events emitted without one.
func (e Event) CorrelationID() string {
	if e.Event.CorrelationID != "" {
		return e.Event.CorrelationID
	}
	return e.MessageContextBase.CorrelationID()
}

// EventFunc consumes one domain event. A returned error nacks the message.
type EventFunc func(ctx context.Context, event Event) error
