// Package outbox holds domain events that could not be handed to the broker
// right away and relays them once there is room again.
package outbox

import (
	"context"
	"time"
)

// Record is one parked event, already encoded for the wire.
type Record struct {
	ID        string
	Topic     string
	Payload   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// Store persists parked events until the relay publishes them.
type Store interface {
	// Save parks a record. Saving an id twice keeps the first record.
	Save(ctx context.Context, rec Record) error
	// Pending returns up to limit unpublished records, oldest first.
	Pending(ctx context.Context, limit int) ([]Record, error)
	// MarkPublished removes the given ids from the pending set.
	MarkPublished(ctx context.Context, ids []string) error
}
