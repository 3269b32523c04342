package state

import (
	"context"
	"sync"
)

// Backend persists a full state snapshot. Save must be all-or-nothing:
// a failed or interrupted save leaves the previously committed
// snapshot readable. Load returns (nil, nil) when nothing has been
// saved yet.
type Backend interface {
	Load(ctx context.Context) (*PersistedState, error)
	Save(ctx context.Context, st *PersistedState) error
	Close() error
}

// MemoryBackend keeps the last saved snapshot in memory. Useful for
// tests and dry runs.
type MemoryBackend struct {
	mu    sync.Mutex
	saved *PersistedState
	// FailSaves makes every Save return an error, for failure-path tests.
	FailSaves error
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Load(ctx context.Context) (*PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil, nil
	}
	return m.saved.clone(), nil
}

func (m *MemoryBackend) Save(ctx context.Context, st *PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.saved = st.clone()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
