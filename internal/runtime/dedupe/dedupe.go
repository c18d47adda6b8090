// Package dedupe remembers which events a subscriber already processed so a
// redelivered event can be acknowledged without running the handler again.
package dedupe

import (
	"context"
	"time"
)

// DefaultTTL is how long a processed event id is remembered.
const DefaultTTL = 24 * time.Hour

// Store records processed event ids per subscriber.
type Store interface {
	// Seen reports whether subscriber already processed eventID.
	Seen(ctx context.Context, subscriber, eventID string) (bool, error)
	// Mark records eventID as processed by subscriber.
	Mark(ctx context.Context, subscriber, eventID string) error
}

func key(subscriber, eventID string) string {
	return "crmbus:dedupe:" + subscriber + ":" + eventID
}
