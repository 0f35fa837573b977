// Package nop is the disabled-cache backend: every read misses and every
// write is discarded, so each request resolves against the origin.
package nop

import (
	"context"
	"time"

	"github.com/unfurld/unfurld/internal/preview"
)

// Store implements preview.Store with no storage at all.
type Store struct{}

// New returns the no-op store.
func New() *Store {
	return &Store{}
}

// Get always misses.
func (Store) Get(context.Context, string) (preview.Entry, bool, error) {
	return preview.Entry{}, false, nil
}

// Put discards the entry.
func (Store) Put(context.Context, string, preview.Entry, time.Duration) error {
	return nil
}
