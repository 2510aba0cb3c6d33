// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory Backend for tests and dev setups.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[cacheKey]string
	offline bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[cacheKey]string)}
}

// SetOffline toggles the reachable flag, for failure-path tests.
func (m *MemoryBackend) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *MemoryBackend) Get(ctx context.Context, sessionID, fileName string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[cacheKey{sessionID, fileName}], nil
}

func (m *MemoryBackend) Set(ctx context.Context, sessionID, fileName, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[cacheKey{sessionID, fileName}] = sealed
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, sessionID, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, cacheKey{sessionID, fileName})
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, sessionID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for key, sealed := range m.records {
		if key.sessionID == sessionID {
			out[key.fileName] = sealed
		}
	}
	return out, nil
}

func (m *MemoryBackend) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.records {
		if key.sessionID == sessionID {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *MemoryBackend) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.offline
}

func (m *MemoryBackend) Close() error { return nil }
