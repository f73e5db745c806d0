package usagestore

import (
	"context"
	"sync"

	"github.com/yanqian/truthcard/internal/domain/usage"
)

// MemoryStore keeps usage records in process memory for tests/dev.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]usage.Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]usage.Record)}
}

// Load implements usage.Store.
func (s *MemoryStore) Load(_ context.Context, key string) (usage.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	return record, ok, nil
}

// Save implements usage.Store.
func (s *MemoryStore) Save(_ context.Context, key string, record usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

// Update holds the store lock for the whole read-modify-write.
func (s *MemoryStore) Update(_ context.Context, key string, fn usage.UpdateFunc) (usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key]
	next, err := fn(current, ok)
	if err != nil {
		return usage.Record{}, err
	}
	s.records[key] = next
	return next, nil
}

var _ usage.Store = (*MemoryStore)(nil)
