// SPDX-License-Identifier: MIT

// Package fake provides a scripted upstream socket for tests.
package fake

import (
	"context"
	"sync"

	"github.com/ManuGH/flockd/internal/upstream"
)

// Socket is a controllable in-memory upstream.Socket.
type Socket struct {
	mu     sync.Mutex
	events chan upstream.Event
	closed bool

	userID      string
	pairingCode string
	pairingErr  error
	pairingHold chan struct{} // when set, RequestPairingCode blocks until closed

	CloseCalls []CloseCall
}

// CloseCall records one Close invocation.
type CloseCall struct {
	Code   upstream.StatusCode
	Reason string
}

// NewSocket returns a fake socket with a buffered event stream.
func NewSocket() *Socket {
	return &Socket{
		events:      make(chan upstream.Event, 32),
		pairingCode: "ABCD1234",
	}
}

func (s *Socket) Events() <-chan upstream.Event { return s.events }

// Emit queues an event on the stream.
func (s *Socket) Emit(ev upstream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// EmitConnection is shorthand for a connection.update event.
func (s *Socket) EmitConnection(state upstream.State, code upstream.StatusCode) {
	s.Emit(upstream.Event{
		Kind:   upstream.EventConnectionUpdate,
		Update: upstream.ConnectionUpdate{State: state, StatusCode: code},
	})
}

// EmitCredsUpdate queues a creds.update event.
func (s *Socket) EmitCredsUpdate() {
	s.Emit(upstream.Event{Kind: upstream.EventCredsUpdate})
}

// SetUserID sets the identity reported once the connection is open.
func (s *Socket) SetUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

func (s *Socket) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetPairingCode scripts the next RequestPairingCode response.
func (s *Socket) SetPairingCode(code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairingCode = code
	s.pairingErr = err
}

// HoldPairing makes RequestPairingCode block until the returned func is
// called, to exercise the request timeout path.
func (s *Socket) HoldPairing() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.pairingHold = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *Socket) RequestPairingCode(ctx context.Context, digits string) (string, error) {
	s.mu.Lock()
	hold := s.pairingHold
	code, err := s.pairingCode, s.pairingErr
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Socket) Close(code upstream.StatusCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls = append(s.CloseCalls, CloseCall{Code: code, Reason: reason})
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dialer hands out scripted sockets in order and records dial calls.
type Dialer struct {
	mu      sync.Mutex
	sockets []*Socket
	dials   int

	// OnDial, when set, is invoked for every Dial with the created socket.
	OnDial func(sessionID string, sock *Socket)
}

// NewDialer returns a Dialer; with no queued sockets it creates fresh ones.
func NewDialer(sockets ...*Socket) *Dialer {
	return &Dialer{sockets: sockets}
}

func (d *Dialer) Dial(ctx context.Context, sessionID string, creds upstream.CredentialView, cfg upstream.SocketConfig) (upstream.Socket, error) {
	d.mu.Lock()
	var sock *Socket
	if d.dials < len(d.sockets) {
		sock = d.sockets[d.dials]
	} else {
		sock = NewSocket()
	}
	d.dials++
	onDial := d.OnDial
	d.mu.Unlock()

	if onDial != nil {
		onDial(sessionID, sock)
	}
	return sock, nil
}

// Dials returns how many times Dial was invoked.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
