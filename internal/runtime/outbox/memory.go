package outbox

import (
	"context"
	"sync"
)

// MemoryStore keeps parked records in process memory. Records are lost on
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	index   map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]struct{})}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.ID]; ok {
		return nil
	}
	s.index[rec.ID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Pending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, limit)
	copy(out, s.records[:limit])
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
		delete(s.index, id)
	}
	kept := s.records[:0]
	for _, rec := range s.records {
		if _, ok := done[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

// Len returns the number of pending records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
