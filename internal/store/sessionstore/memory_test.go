// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id string, userID int64) *model.Session {
	return &model.Session{
		SessionID:        id,
		UserID:           userID,
		ConnectionStatus: model.StatusConnecting,
		Source:           model.SourceNative,
		UpdatedAt:        time.Now(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Save(ctx, newSession("session_42", 42)))

	got, err := m.Get(ctx, "session_42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.UserID)

	missing, err := m.Get(ctx, "session_999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreUpdateCreatesRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	err := m.Update(ctx, "session_7", model.Patch{
		model.FieldIsConnected:      true,
		model.FieldConnectionStatus: string(model.StatusConnected),
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, "session_7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsConnected)
	assert.Equal(t, model.StatusConnected, got.ConnectionStatus)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Save(ctx, newSession("session_1", 1)))

	first, err := m.Get(ctx, "session_1")
	require.NoError(t, err)
	first.IsConnected = true

	second, err := m.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.False(t, second.IsConnected, "mutating a returned record must not leak into the store")
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	connected := newSession("session_1", 1)
	connected.IsConnected = true
	connected.ConnectionStatus = model.StatusConnected
	require.NoError(t, m.Save(ctx, connected))

	dormant := newSession("session_2", 2)
	dormant.ConnectionStatus = model.StatusDisconnected
	require.NoError(t, m.Save(ctx, dormant))

	webPending := newSession("session_9000000001", 9_000_000_001)
	webPending.Source = model.SourceWeb
	webPending.IsConnected = true
	webPending.ConnectionStatus = model.StatusConnected
	require.NoError(t, m.Save(ctx, webPending))

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	resumable, err := m.ListResumable(ctx)
	require.NoError(t, err)
	assert.Len(t, resumable, 2)

	candidates, err := m.ListHandoverCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "session_9000000001", candidates[0].SessionID)
}

func TestMemoryStoreClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec := newSession("session_5", 5)
	rec.Source = model.SourceWeb
	rec.IsConnected = true
	require.NoError(t, m.Save(ctx, rec))

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.ClaimForWorker(ctx, "session_5")
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	// The losing side must see detected=true afterwards.
	got, err := m.Get(ctx, "session_5")
	require.NoError(t, err)
	assert.True(t, got.Detected)
}

func TestMemoryStoreGetByPhone(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec := newSession("session_3", 3)
	rec.PhoneNumber = "+4915112345678"
	require.NoError(t, m.Save(ctx, rec))

	got, err := m.GetByPhone(ctx, "+4915112345678")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "session_3", got.SessionID)

	none, err := m.GetByPhone(ctx, "+10000000000")
	require.NoError(t, err)
	assert.Nil(t, none)
}
