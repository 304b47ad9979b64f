package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and ephemeral
// indexers. It keeps only the most recent checkpoint.
type MemoryStore struct {
	mu sync.RWMutex
	cp *Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored checkpoint, or ErrNoCheckpoint if Save was never
// called.
func (m *MemoryStore) Load(_ context.Context) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cp == nil {
		return nil, ErrNoCheckpoint
	}
	return m.cp.Clone(), nil
}

// Save replaces the stored checkpoint.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cp = cp.Clone()
	return nil
}
