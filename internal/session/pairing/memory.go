// SPDX-License-Identifier: MIT

package pairing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore holds pairing entries in process memory. Expired entries are
// garbage-collected lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, nil
	}
	if e.Expired(time.Now()) {
		delete(m.entries, sessionID)
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (m *MemoryStore) Put(ctx context.Context, sessionID string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[sessionID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}
