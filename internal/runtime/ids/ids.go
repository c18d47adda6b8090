// Package ids generates the identifiers used on the wire: ULIDs for event and
// instance ids, random UUIDs for call correlation.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationID returns a random version 4 UUID. Correlation ids carry no
// ordering, so a stale reply can never be mistaken for a newer call.
func NewCorrelationID() string {
	return uuid.NewString()
}

// IsCorrelationID reports whether s parses as a UUID.
func IsCorrelationID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
