// SPDX-License-Identifier: MIT

// Package upstream models the chat-protocol client as narrow interfaces.
// The real client library is an external collaborator; the controller only
// depends on the surface defined here.
package upstream

import (
	"context"
	"time"
)

// State is the connection state reported by the socket.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClose      State = "close"
)

// EventKind tags the variants of the socket event stream.
type EventKind int

const (
	// EventConnectionUpdate carries a ConnectionUpdate payload.
	EventConnectionUpdate EventKind = iota
	// EventCredsUpdate signals that the credential view must be persisted.
	EventCredsUpdate
)

// ConnectionUpdate is the payload of a connection state change.
type ConnectionUpdate struct {
	State State
	// StatusCode is the upstream disconnect code, 0 when absent.
	// Only meaningful for StateClose.
	StatusCode StatusCode
	// QR is a login QR payload when the upstream offers one. The controller
	// never renders it, only propagates.
	QR string
}

// Event is the tagged union delivered on the socket's event stream.
type Event struct {
	Kind   EventKind
	Update ConnectionUpdate
}

// Socket is one live upstream connection. Events are delivered in arrival
// order on a single channel; the channel closes when the socket dies.
type Socket interface {
	Events() <-chan Event

	// RequestPairingCode asks the upstream for an 8-character pairing code
	// for the given digits-only phone number.
	RequestPairingCode(ctx context.Context, digits string) (string, error)

	// UserID returns the authenticated upstream identity
	// ("<phone>:<device>@<domain>"), empty until the connection is open.
	UserID() string

	Close(code StatusCode, reason string) error
}

// CredentialView is the per-session credential surface a socket is bound to.
// Implemented by credstore.Store.
type CredentialView interface {
	Get(ctx context.Context, fileName string) ([]byte, error)
	Set(ctx context.Context, fileName string, data []byte) error
	SaveRoot(ctx context.Context) error
}

// SocketConfig carries the fixed client configuration. The factory sets
// these once; nothing in the controller varies them per session.
type SocketConfig struct {
	Version [3]int    // pinned upstream protocol version
	Browser [3]string // identity header: platform, browser, release

	QueryTimeout      time.Duration
	KeepAliveInterval time.Duration

	MarkOnlineOnConnect bool
	SyncFullHistory     bool
	PrintQRInTerminal   bool

	// PatchMessage is applied to every outgoing message before transmission.
	// Opaque to the controller.
	PatchMessage func(msg []byte) []byte
}

// DefaultSocketConfig returns the pinned production configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Version:             [3]int{2, 3000, 1015901307},
		Browser:             [3]string{"Ubuntu", "Chrome", "120.0.0"},
		QueryTimeout:        25 * time.Second,
		KeepAliveInterval:   25 * time.Second,
		MarkOnlineOnConnect: false,
		SyncFullHistory:     false,
		PrintQRInTerminal:   false,
		PatchMessage:        func(msg []byte) []byte { return msg },
	}
}

// Dialer builds a configured socket bound to a credential view.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, creds CredentialView, cfg SocketConfig) (Socket, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, sessionID string, creds CredentialView, cfg SocketConfig) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, sessionID string, creds CredentialView, cfg SocketConfig) (Socket, error) {
	return f(ctx, sessionID, creds, cfg)
}
