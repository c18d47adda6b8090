package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps processed ids in process memory until they expire.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns a store that forgets ids after ttl. A non-positive
// ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Seen(_ context.Context, subscriber, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.entries[key(subscriber, eventID)]
	if !ok {
		return false, nil
	}
	if s.now().After(expires) {
		delete(s.entries, key(subscriber, eventID))
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, subscriber, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, expires := range s.entries {
		if now.After(expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key(subscriber, eventID)] = now.Add(s.ttl)
	return nil
}
