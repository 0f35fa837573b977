// Package memory is an in-process store backend for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unfurld/unfurld/internal/preview"
)

type item struct {
	entry     preview.Entry
	expiresAt time.Time
}

// Store keeps entries in a map guarded by a mutex. Expired entries are
// dropped lazily on read.
type Store struct {
	clock preview.Clock

	mu    sync.Mutex
	items map[string]item
}

// New builds a Store around the given clock.
func New(clock preview.Clock) *Store {
	return &Store{
		clock: clock,
		items: make(map[string]item),
	}
}

// Get returns the entry for key if present and unexpired.
func (s *Store) Get(_ context.Context, key string) (preview.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return preview.Entry{}, false, nil
	}
	if !s.clock.Now().Before(it.expiresAt) {
		delete(s.items, key)
		return preview.Entry{}, false, nil
	}
	return it.entry, true, nil
}

// Put stores entry under key for ttl. A non-positive ttl stores nothing.
func (s *Store) Put(_ context.Context, key string, entry preview.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item{entry: entry, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

// Len reports the number of live entries; used by tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
