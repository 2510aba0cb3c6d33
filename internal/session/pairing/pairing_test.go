// SPDX-License-Identifier: MIT

package pairing

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/upstream/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(store StateStore) *Coordinator {
	c := NewCoordinator(store)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestFormatCode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ABCD1234", "ABCD-1234"},
		{"abcd1234", "ABCD-1234"},
		{"ABCD-1234", "ABCD-1234"},
		{"ABCDEF", "ABCD-EF"},
		{"ABC", "ABC"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatCode(tc.in), "FormatCode(%q)", tc.in)
	}
}

func TestStartIssuesAndHoldsCode(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(NewMemoryStore())
	sock := fake.NewSocket()
	sock.SetPairingCode("WXYZ9876", nil)

	var delivered string
	err := c.Start(ctx, sock, "session_1", "+49 151 1234 5678", func(code string) {
		delivered = code
	})
	require.NoError(t, err)
	assert.Equal(t, "WXYZ-9876", delivered)
	assert.True(t, c.Active(ctx, "session_1"))
	assert.Equal(t, "WXYZ-9876", c.Code(ctx, "session_1"))
}

func TestStartReusesActiveEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(NewMemoryStore())
	sock := fake.NewSocket()
	sock.SetPairingCode("AAAA0000", nil)

	require.NoError(t, c.Start(ctx, sock, "session_1", "+4915112345678", func(string) {}))

	// A second Start must re-emit the held code, not request a fresh one.
	sock.SetPairingCode("BBBB1111", nil)
	var delivered string
	require.NoError(t, c.Start(ctx, sock, "session_1", "+4915112345678", func(code string) {
		delivered = code
	}))
	assert.Equal(t, "AAAA-0000", delivered)
}

func TestStartRejectsDigitlessPhone(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(NewMemoryStore())

	err := c.Start(ctx, fake.NewSocket(), "session_1", "no digits here", func(string) {})
	assert.ErrorIs(t, err, ErrNoPhoneDigits)
}

func TestStartTimesOut(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(NewMemoryStore())
	sock := fake.NewSocket()
	release := sock.HoldPairing()
	defer release()

	// Shrink the request deadline through the outer context so the test
	// does not sit out the full request timeout.
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	err := c.Start(shortCtx, sock, "session_1", "+4915112345678", func(string) {})
	assert.ErrorIs(t, err, ErrCodeGenerationTimeout)
	assert.False(t, c.Active(ctx, "session_1"))
}

func TestEntryExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	expiry := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, store.Put(ctx, "session_1", &Entry{
		Code:      "ABCD-1234",
		ExpiresAt: expiry,
		Active:    true,
	}))

	// Just before expiry the entry is served.
	e, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	require.NotNil(t, e)

	// At/after expiry it is gone.
	time.Sleep(time.Until(expiry) + 5*time.Millisecond)
	e, err = store.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestMarkRestartHandledKeepsCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCoordinator(store)
	sock := fake.NewSocket()
	sock.SetPairingCode("AAAA0000", nil)

	require.NoError(t, c.Start(ctx, sock, "session_1", "+4915112345678", func(string) {}))
	c.MarkRestartHandled(ctx, "session_1")

	assert.False(t, c.Active(ctx, "session_1"))

	// The entry still exists with its code; only the active flag dropped.
	e, err := store.Get(ctx, "session_1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "AAAA-0000", e.Code)

	// An inactive entry does not suppress a fresh request.
	sock.SetPairingCode("BBBB1111", nil)
	var delivered string
	require.NoError(t, c.Start(ctx, sock, "session_1", "+4915112345678", func(code string) {
		delivered = code
	}))
	assert.Equal(t, "BBBB-1111", delivered)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(NewMemoryStore())
	sock := fake.NewSocket()

	require.NoError(t, c.Start(ctx, sock, "session_1", "+4915112345678", func(string) {}))
	require.True(t, c.Active(ctx, "session_1"))

	c.Clear(ctx, "session_1")
	assert.False(t, c.Active(ctx, "session_1"))
	assert.Empty(t, c.Code(ctx, "session_1"))
}
