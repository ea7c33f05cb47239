package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store bounded by maxEntries: a ring
// buffer evicting the oldest entry first. Meant for development and
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
}

// NewMemoryStore creates a bounded in-memory store. A non-positive
// limit defaults to 10000 entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{maxEntries: maxEntries}
}

func (s *MemoryStore) Save(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	s.entries = append(s.entries, &entryCopy)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.entries {
		if filter.Matches(e) {
			entryCopy := *e
			matched = append(matched, &entryCopy)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if filter.Matches(e) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Delete(ctx context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	deleted := 0
	for _, e := range s.entries {
		if filter.Matches(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
