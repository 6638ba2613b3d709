package guardstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	markers map[string]struct{}
}

// NewMemoryStore creates an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string]struct{})}
}

// Has reports whether the marker exists.
func (s *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	trimmed, err := validateKey("guardstore/memory-has", key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("memory guard has context: %w", err)
	}
	s.mu.RLock()
	_, ok := s.markers[trimmed]
	s.mu.RUnlock()
	return ok, nil
}

// Mark records the marker.
func (s *MemoryStore) Mark(ctx context.Context, key string) error {
	trimmed, err := validateKey("guardstore/memory-mark", key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory guard mark context: %w", err)
	}
	s.mu.Lock()
	s.markers[trimmed] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
