// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSqliteStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSqliteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSqliteStore(t)

	rec := newSession("session_42", 42)
	rec.PhoneNumber = "+4915112345678"
	rec.IsConnected = true
	rec.ConnectionStatus = model.StatusConnected
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "session_42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "+4915112345678", got.PhoneNumber)
	assert.True(t, got.IsConnected)
	assert.Equal(t, model.StatusConnected, got.ConnectionStatus)
	assert.WithinDuration(t, rec.UpdatedAt, got.UpdatedAt, time.Millisecond)

	missing, err := s.Get(ctx, "session_999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSqliteStoreSaveUpserts(t *testing.T) {
	ctx := context.Background()
	s := newSqliteStore(t)

	rec := newSession("session_1", 1)
	require.NoError(t, s.Save(ctx, rec))
	rec.IsConnected = true
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.True(t, got.IsConnected)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSqliteStoreUpdateCreatesRecord(t *testing.T) {
	ctx := context.Background()
	s := newSqliteStore(t)

	err := s.Update(ctx, "session_7", model.Patch{
		model.FieldConnectionStatus: string(model.StatusConnecting),
		model.FieldSource:           string(model.SourceNative),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "session_7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusConnecting, got.ConnectionStatus)
}

func TestSqliteStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := newSqliteStore(t)

	active := newSession("session_1", 1)
	active.IsConnected = true
	active.ConnectionStatus = model.StatusConnected
	require.NoError(t, s.Save(ctx, active))

	dead := newSession("session_2", 2)
	dead.ConnectionStatus = model.StatusDisconnected
	require.NoError(t, s.Save(ctx, dead))

	web := newSession("session_9000000001", 9_000_000_001)
	web.Source = model.SourceWeb
	web.IsConnected = true
	web.ConnectionStatus = model.StatusConnected
	require.NoError(t, s.Save(ctx, web))

	resumable, err := s.ListResumable(ctx)
	require.NoError(t, err)
	assert.Len(t, resumable, 2)

	candidates, err := s.ListHandoverCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "session_9000000001", candidates[0].SessionID)
}

func TestSqliteStoreClaimForWorker(t *testing.T) {
	ctx := context.Background()
	s := newSqliteStore(t)

	rec := newSession("session_5", 5)
	rec.Source = model.SourceWeb
	rec.IsConnected = true
	require.NoError(t, s.Save(ctx, rec))

	won, err := s.ClaimForWorker(ctx, "session_5")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.ClaimForWorker(ctx, "session_5")
	require.NoError(t, err)
	assert.False(t, won)

	won, err = s.ClaimForWorker(ctx, "session_999")
	require.NoError(t, err)
	assert.False(t, won)
}
