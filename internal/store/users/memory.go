// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
)

// MemoryStore is an in-memory account store for tests and dev setups.
type MemoryStore struct {
	mu      sync.Mutex
	byPhone map[string]*Account
	byID    map[int64]*Account
	nextID  int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPhone: make(map[string]*Account),
		byID:    make(map[int64]*Account),
		nextID:  model.WebTierThreshold,
	}
}

func (m *MemoryStore) Register(ctx context.Context, phone, password string) (*Account, error) {
	phone = model.NormalizePhone(phone)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPhone[phone]; ok {
		return nil, ErrPhoneTaken
	}
	acct := &Account{
		UserID:       m.nextID,
		Phone:        phone,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	m.nextID++
	m.byPhone[phone] = acct
	m.byID[acct.UserID] = acct
	out := *acct
	return &out, nil
}

func (m *MemoryStore) Authenticate(ctx context.Context, phone, password string) (*Account, error) {
	acct, err := m.GetByPhone(ctx, model.NormalizePhone(phone))
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := checkPassword(acct.PasswordHash, password); err != nil {
		return nil, err
	}
	return acct, nil
}

func (m *MemoryStore) GetByPhone(ctx context.Context, phone string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byPhone[model.NormalizePhone(phone)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *acct
	return &out, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, userID int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *acct
	return &out, nil
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }
