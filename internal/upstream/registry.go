// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"errors"
	"sync"
)

// ErrNoClient is returned by the default dialer when no protocol client has
// been registered.
var ErrNoClient = errors.New("upstream: no protocol client registered")

var registry struct {
	mu     sync.RWMutex
	dialer Dialer
}

// RegisterDialer installs the process-wide protocol client binding. The
// concrete client library lives outside this module; the embedding build
// registers it at init time.
func RegisterDialer(d Dialer) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.dialer = d
}

// DefaultDialer returns the registered client binding, or a dialer that
// fails every Dial with ErrNoClient.
func DefaultDialer() Dialer {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if registry.dialer != nil {
		return registry.dialer
	}
	return DialerFunc(func(ctx context.Context, sessionID string, creds CredentialView, cfg SocketConfig) (Socket, error) {
		return nil, ErrNoClient
	})
}
