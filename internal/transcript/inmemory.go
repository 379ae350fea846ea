package transcript

import (
	"context"
	"sync"
)

// InMemoryStore keeps records in process. Used for local runs and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	seen    map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[string]struct{})}
}

func (s *InMemoryStore) Append(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		key := recordKey(r)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.records = append(s.records, r)
	}
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.records, limit), nil
}

func (s *InMemoryStore) Close() error { return nil }

func tail(records []Record, limit int) []Record {
	if len(records) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	return append([]Record(nil), records[len(records)-limit:]...)
}
