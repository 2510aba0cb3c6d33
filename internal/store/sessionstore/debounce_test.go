// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncedCoalescesUpdates(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, 50*time.Millisecond)

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))

	// Later patches win per key within the window.
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{
		model.FieldConnectionStatus: string(model.StatusConnecting),
		model.FieldIsConnected:      false,
	}))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{
		model.FieldConnectionStatus: string(model.StatusConnected),
		model.FieldIsConnected:      true,
	}))

	// Before the window elapses the inner store is untouched.
	raw, err := inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnecting, raw.ConnectionStatus)

	assert.Eventually(t, func() bool {
		rec, err := inner.Get(ctx, "session_1")
		return err == nil && rec.ConnectionStatus == model.StatusConnected && rec.IsConnected
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Close(ctx))
}

func TestDebouncedGetSeesPendingPatch(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, time.Minute)
	defer func() { _ = d.Close(ctx) }()

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{model.FieldIsConnected: true}))

	got, err := d.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.True(t, got.IsConnected, "reads must reflect buffered patches")
}

func TestDebouncedSaveSupersedesPending(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, time.Minute)
	defer func() { _ = d.Close(ctx) }()

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{
		model.FieldIsConnected:      false,
		model.FieldConnectionStatus: string(model.StatusDisconnected),
	}))

	// The fresh record is newer than the buffered patch and must win.
	rec := newSession("session_1", 1)
	rec.ConnectionStatus = model.StatusConnecting
	require.NoError(t, d.Save(ctx, rec))

	got, err := inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnecting, got.ConnectionStatus,
		"an older buffered patch must not overwrite a newer save")

	// And the dropped patch never flushes later.
	require.NoError(t, d.FlushSession(ctx, "session_1"))
	got, err = inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnecting, got.ConnectionStatus)
}

func TestDebouncedDeleteDropsPending(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, time.Minute)
	defer func() { _ = d.Close(ctx) }()

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{model.FieldIsConnected: true}))
	require.NoError(t, d.Delete(ctx, "session_1"))

	got, err := inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, got, "delete must not resurrect via a late flush")
}

func TestDebouncedCloseFlushesPending(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, time.Hour)

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{model.FieldIsConnected: true}))

	require.NoError(t, d.Close(ctx))

	got, err := inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.True(t, got.IsConnected, "close must flush buffered patches")
}

func TestDebouncedFlushSession(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	d := NewDebounced(inner, time.Hour)
	defer func() { _ = d.Close(ctx) }()

	require.NoError(t, inner.Save(ctx, newSession("session_1", 1)))
	require.NoError(t, d.Update(ctx, "session_1", model.Patch{model.FieldIsConnected: true}))
	require.NoError(t, d.FlushSession(ctx, "session_1"))

	got, err := inner.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.True(t, got.IsConnected)

	// A second flush is a no-op.
	require.NoError(t, d.FlushSession(ctx, "session_1"))
}
