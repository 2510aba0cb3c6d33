// SPDX-License-Identifier: MIT

package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	entry := &Entry{
		Code:      "ABCD-1234",
		ExpiresAt: time.Now().Add(EntryTTL),
		Active:    true,
	}
	require.NoError(t, store.Put(ctx, "session_1", entry))

	got, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ABCD-1234", got.Code)
	assert.True(t, got.Active)

	missing, err := store.Get(ctx, "session_2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisStoreKeyTTLMirrorsExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Put(ctx, "session_1", &Entry{
		Code:      "ABCD-1234",
		ExpiresAt: time.Now().Add(EntryTTL),
		Active:    true,
	}))

	ttl := mr.TTL(redisKeyPrefix + "session_1")
	assert.Greater(t, ttl, EntryTTL-time.Minute)
	assert.LessOrEqual(t, ttl, EntryTTL)

	// Redis evicts the key at expiry.
	mr.FastForward(EntryTTL + time.Second)
	got, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStorePutExpiredDeletes(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	require.NoError(t, store.Put(ctx, "session_1", &Entry{
		Code:      "ABCD-1234",
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	got, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	require.NoError(t, store.Put(ctx, "session_1", &Entry{
		Code:      "ABCD-1234",
		ExpiresAt: time.Now().Add(EntryTTL),
		Active:    true,
	}))
	require.NoError(t, store.Delete(ctx, "session_1"))

	got, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
