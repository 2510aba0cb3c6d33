// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDialerWithoutClient(t *testing.T) {
	_, err := DefaultDialer().Dial(context.Background(), "session_1", nil, DefaultSocketConfig())
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestRegisterDialerWins(t *testing.T) {
	t.Cleanup(func() { RegisterDialer(nil) })

	var dialed string
	RegisterDialer(DialerFunc(func(ctx context.Context, sessionID string, creds CredentialView, cfg SocketConfig) (Socket, error) {
		dialed = sessionID
		return nil, context.Canceled
	}))

	_, err := DefaultDialer().Dial(context.Background(), "session_7", nil, DefaultSocketConfig())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "session_7", dialed)
}
