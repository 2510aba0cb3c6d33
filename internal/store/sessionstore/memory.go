// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
)

// MemoryStore is an in-memory Store used for tests and single-process dev
// setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (m *MemoryStore) Save(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := s.Clone()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	m.sessions[rec.SessionID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID].Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		rec = &model.Session{SessionID: sessionID}
		m.sessions[sessionID] = rec
	}
	touch(patch, time.Now()).Apply(rec)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *MemoryStore) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.PhoneNumber == phone {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListResumable(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, s := range m.sessions {
		if resumable(s) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListHandoverCandidates(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Session
	for _, s := range m.sessions {
		if handoverCandidate(s) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimForWorker(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.Detected {
		return false, nil
	}
	rec.Detected = true
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) Connected() bool { return true }

func (m *MemoryStore) Close(ctx context.Context) error { return nil }
