package session

import (
	"context"
	"sync"
)

// MemoryStore keeps states in process memory. It is meant for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[key]
	return state, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Len reports how many keys are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
