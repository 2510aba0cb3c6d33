// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllocatesWebTierIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Register(ctx, "+49 151 1234 5678", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, model.WebTierThreshold, first.UserID)
	assert.True(t, model.IsWebTierUser(first.UserID))
	assert.Equal(t, "+4915112345678", first.Phone, "phone is normalized on registration")
	assert.Equal(t, "session_9000000000", first.SessionID())

	second, err := s.Register(ctx, "+4915100000001", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, first.UserID+1, second.UserID)
}

func TestRegisterRejectsDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Register(ctx, "+4915112345678", "hunter22")
	require.NoError(t, err)

	// Formatting differences still collide after normalization.
	_, err = s.Register(ctx, "+49 151 1234-5678", "other")
	assert.ErrorIs(t, err, ErrPhoneTaken)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Register(ctx, "+4915112345678", "hunter22")
	require.NoError(t, err)

	acct, err := s.Authenticate(ctx, "+4915112345678", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.UserID, acct.UserID)

	_, err = s.Authenticate(ctx, "+4915112345678", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Unknown phone and wrong password are indistinguishable.
	_, err = s.Authenticate(ctx, "+10000000000", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetByIDAndPhone(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Register(ctx, "+4915112345678", "hunter22")
	require.NoError(t, err)

	byID, err := s.GetByID(ctx, created.UserID)
	require.NoError(t, err)
	assert.Equal(t, created.Phone, byID.Phone)

	_, err = s.GetByID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	byPhone, err := s.GetByPhone(ctx, "+4915112345678")
	require.NoError(t, err)
	assert.Equal(t, created.UserID, byPhone.UserID)
}

func TestRegisterConcurrentIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := s.Register(ctx, fmt.Sprintf("+49151%08d", i), "hunter22")
			assert.NoError(t, err)
			ids <- acct.UserID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "user ID allocated twice")
		seen[id] = true
		assert.GreaterOrEqual(t, id, model.WebTierThreshold)
	}
}
