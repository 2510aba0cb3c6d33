// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, parts ...string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(parts...))
	require.NoError(t, err)
	return data
}

func newBadgerBackend(t *testing.T) *BadgerBackend {
	t.Helper()
	b, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBadgerBackend(t)

	require.NoError(t, b.Set(ctx, "session_1", RootFileName, "sealed-root"))

	got, err := b.Get(ctx, "session_1", RootFileName)
	require.NoError(t, err)
	assert.Equal(t, "sealed-root", got)

	missing, err := b.Get(ctx, "session_1", "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBadgerBackendListAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	b := newBadgerBackend(t)

	require.NoError(t, b.Set(ctx, "session_1", RootFileName, "root"))
	require.NoError(t, b.Set(ctx, "session_1", "sender-key-a", "sk"))
	require.NoError(t, b.Set(ctx, "session_2", RootFileName, "other"))

	records, err := b.List(ctx, "session_1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "root", records[RootFileName])

	require.NoError(t, b.DeleteSession(ctx, "session_1"))

	records, err = b.List(ctx, "session_1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The other session is untouched.
	got, err := b.Get(ctx, "session_2", RootFileName)
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestBadgerBackendDeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	b := newBadgerBackend(t)
	assert.NoError(t, b.Delete(ctx, "session_1", "nope"))
}

func TestDualBackendFallsBack(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryBackend()
	fallback := NewMemoryBackend()
	d := NewDualBackend(primary, fallback)

	require.NoError(t, d.Set(ctx, "session_1", RootFileName, "sealed"))

	// Writes mirror to the fallback.
	got, err := fallback.Get(ctx, "session_1", RootFileName)
	require.NoError(t, err)
	assert.Equal(t, "sealed", got)

	// Reads survive a primary outage.
	primary.SetOffline(true)
	got, err = d.Get(ctx, "session_1", RootFileName)
	require.NoError(t, err)
	assert.Equal(t, "sealed", got)

	// Writes land on the fallback while the primary is down.
	require.NoError(t, d.Set(ctx, "session_1", "key", "v"))
	got, err = fallback.Get(ctx, "session_1", "key")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	// Durable while either leg is up, not when both are down.
	assert.True(t, d.Connected())
	fallback.SetOffline(true)
	assert.False(t, d.Connected())
}

func TestStoreExportSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s := m.Session("session_1")

	require.NoError(t, s.Set(ctx, RootFileName, []byte(`{"id":"root"}`)))
	require.NoError(t, s.SaveRoot(ctx))
	require.NoError(t, s.SetBatch(ctx, map[string]map[string][]byte{
		"sender-key": {"a": []byte("sk-a")},
	}))

	dir := t.TempDir()
	require.NoError(t, s.ExportSession(ctx, dir))

	root := readFile(t, dir, "session_1", RootFileName)
	assert.Equal(t, `{"id":"root"}`, string(root))
	sk := readFile(t, dir, "session_1", "sender-key-a")
	assert.Equal(t, "sk-a", string(sk))
}
