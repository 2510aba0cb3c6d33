// SPDX-License-Identifier: MIT

// Package controller runs the per-session state machine. A controller owns
// one socket and one session record for its lifetime; it consumes the
// socket's events, keeps the store current and decides reconnect versus
// terminate from the disconnect classification.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/session/pairing"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/upstream"
	"github.com/rs/zerolog"
)

// State is the controller's lifecycle position.
type State string

const (
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

// FleetHandle is the narrow fleet surface the controller calls back into.
// It breaks the controller-fleet dependency cycle.
type FleetHandle interface {
	RemoveFromFleet(sessionID string)
	NotifyStatus(sessionID string, status model.ConnectionStatus)
}

// Credentials is the credential surface the controller needs beyond what the
// socket itself uses. Implemented by credstore.Store.
type Credentials interface {
	upstream.CredentialView
	IsDurable() bool
	ResetSubkeys(ctx context.Context) error
	CleanupSession(ctx context.Context) error
}

// Callbacks deliver user-visible session events. All fields are optional.
type Callbacks struct {
	OnPairingCode func(sessionID, code string)
	OnQR          func(sessionID, qr string)
	OnConnected   func(sessionID string)
	OnTerminated  func(sessionID, reason string)
}

// Config assembles a controller's collaborators.
type Config struct {
	SessionID string
	UserID    int64
	Phone     string
	Source    model.Source

	// IsReconnect suppresses the pairing launch on adoption of an already
	// registered session.
	IsReconnect bool

	// WebTier marks open sessions as handover candidates.
	WebTier bool

	Dialer       upstream.Dialer
	SocketConfig upstream.SocketConfig
	Sessions     sessionstore.Store
	Creds        Credentials
	Pairing      *pairing.Coordinator
	Fleet        FleetHandle
	Callbacks    Callbacks
}

// Controller is the per-session state machine.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          State
	sock           upstream.Socket
	registered     bool
	voluntary      bool
	reconnectHeld  bool // reconnection lock
	attempts       int
	remediations   int
	detached       bool
	connectedGauge bool
	reconnectTimer *time.Timer

	// Tunables, fixed in production and shortened in tests.
	restartDelay time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration
	durablePoll  time.Duration
	durableWait  time.Duration
	storeTimeout time.Duration
}

// Start probes registration, dials the socket and begins consuming events.
// The controller's lifetime is detached from ctx; Disconnect or a terminal
// classification ends it.
func Start(ctx context.Context, cfg Config) (*Controller, error) {
	cctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		logger: log.WithComponent("controller").With().Str(log.FieldSessionID, cfg.SessionID).Logger(),
		ctx:    cctx,
		cancel: cancel,
		state:  StateInitializing,

		restartDelay: 2 * time.Second,
		backoffBase:  5 * time.Second,
		backoffCap:   30 * time.Second,
		durablePoll:  250 * time.Millisecond,
		durableWait:  30 * time.Second,
		storeTimeout: 5 * time.Second,
	}

	// A present root record means this identity has paired before.
	root, err := cfg.Creds.Get(ctx, credstore.RootFileName)
	c.registered = err == nil && len(root) > 0

	sock, err := cfg.Dialer.Dial(ctx, cfg.SessionID, cfg.Creds, cfg.SocketConfig)
	if err != nil {
		cancel()
		return nil, err
	}
	c.sock = sock

	saveCtx, cancelSave := context.WithTimeout(ctx, c.storeTimeout)
	if cfg.IsReconnect {
		// Adopting an existing record: patch it, never overwrite, so the
		// source and claim markers survive.
		if err := cfg.Sessions.Update(saveCtx, cfg.SessionID, model.Patch{
			model.FieldConnectionStatus: string(model.StatusConnecting),
		}); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update session record")
		}
	} else {
		rec := &model.Session{
			SessionID:        cfg.SessionID,
			UserID:           cfg.UserID,
			PhoneNumber:      model.NormalizePhone(cfg.Phone),
			ConnectionStatus: model.StatusConnecting,
			Source:           cfg.Source,
		}
		if err := cfg.Sessions.Save(saveCtx, rec); err != nil {
			// Store outages degrade visibility, not the connection itself.
			c.logger.Warn().Err(err).Msg("failed to save session record")
		}
	}
	cancelSave()

	c.setState(StateConnecting)

	c.wg.Add(1)
	go c.consume(sock)

	if cfg.Phone != "" && !c.registered && !cfg.IsReconnect {
		c.setState(StatePairing)
		c.wg.Add(1)
		go c.launchPairing(sock)
	}

	return c, nil
}

// SessionID returns the bound session.
func (c *Controller) SessionID() string { return c.cfg.SessionID }

// State returns the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the session is currently open.
func (c *Controller) IsConnected() bool {
	return c.State() == StateConnected
}

// Socket returns the live socket, or nil after termination.
func (c *Controller) Socket() upstream.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

func (c *Controller) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		metrics.RecordTransition(string(prev), string(next))
	}
}

// consume drains one socket's event stream. A reconnect dials a fresh socket
// and starts a fresh consume goroutine; this one ends when its socket dies.
func (c *Controller) consume(sock upstream.Socket) {
	defer c.wg.Done()
	events := sock.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// The socket died without a close event. Feed a generic
				// close through the normal path so the voluntary flag and
				// reconnect bounds still apply; if a real close event was
				// already handled, the guards make this a no-op.
				c.mu.Lock()
				current := c.sock == sock
				c.mu.Unlock()
				if current {
					c.onClose(upstream.CodeConnectionClosed)
				}
				return
			}
			switch ev.Kind {
			case upstream.EventCredsUpdate:
				saveCtx, cancel := context.WithTimeout(c.ctx, c.storeTimeout)
				if err := c.cfg.Creds.SaveRoot(saveCtx); err != nil {
					c.logger.Warn().Err(err).Msg("failed to persist root credentials")
				}
				cancel()
			case upstream.EventConnectionUpdate:
				c.handleConnectionUpdate(sock, ev.Update)
			}
		}
	}
}

func (c *Controller) handleConnectionUpdate(sock upstream.Socket, u upstream.ConnectionUpdate) {
	if u.QR != "" && c.cfg.Callbacks.OnQR != nil {
		c.cfg.Callbacks.OnQR(c.cfg.SessionID, u.QR)
	}

	switch u.State {
	case upstream.StateConnecting:
		c.mu.Lock()
		terminated := c.state == StateTerminated
		c.mu.Unlock()
		if terminated {
			return
		}
		c.updateSession(model.Patch{
			model.FieldConnectionStatus: string(model.StatusConnecting),
		})
		c.cfg.Fleet.NotifyStatus(c.cfg.SessionID, model.StatusConnecting)
	case upstream.StateOpen:
		c.onOpen(sock)
	case upstream.StateClose:
		c.onClose(u.StatusCode)
	}
}

// onOpen commits the connected transition. The commit is gated on credential
// durability: a session whose identity cannot be persisted must not appear
// connected, or a crash would strand the remote pairing.
func (c *Controller) onOpen(sock upstream.Socket) {
	if !c.waitDurable() {
		c.logger.Error().Msg("credential backing not durable, withholding connected transition")
		return
	}

	phone := model.PhoneFromUpstreamID(sock.UserID())

	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.remediations = 0
	c.voluntary = false
	c.registered = true
	wasConnected := c.connectedGauge
	c.connectedGauge = true
	c.mu.Unlock()
	c.setState(StateConnected)

	patch := model.Patch{
		model.FieldIsConnected:       true,
		model.FieldConnectionStatus:  string(model.StatusConnected),
		model.FieldReconnectAttempts: 0,
	}
	if phone != "" {
		patch[model.FieldPhoneNumber] = "+" + phone
	}
	if c.cfg.WebTier {
		patch[model.FieldSource] = string(model.SourceWeb)
		patch[model.FieldDetected] = false
	}
	c.updateSession(patch)

	if !wasConnected {
		metrics.IncSessionsConnected()
	}

	// The code was consumed by the successful open.
	clearCtx, cancel := context.WithTimeout(c.ctx, c.storeTimeout)
	c.cfg.Pairing.Clear(clearCtx, c.cfg.SessionID)
	cancel()

	c.logger.Info().Str(log.FieldPhone, phone).Msg("session connected")
	c.cfg.Fleet.NotifyStatus(c.cfg.SessionID, model.StatusConnected)
	if c.cfg.Callbacks.OnConnected != nil {
		c.cfg.Callbacks.OnConnected(c.cfg.SessionID)
	}
}

func (c *Controller) onClose(code upstream.StatusCode) {
	cls := upstream.Classify(code)

	c.mu.Lock()
	if c.state == StateTerminated || c.detached {
		c.mu.Unlock()
		return
	}
	if c.reconnectHeld {
		// A reconnect is already in flight; late close events are noise.
		c.mu.Unlock()
		return
	}
	if cls.ShortDelay {
		// Restart codes complete the pairing flow. A terminate that raced
		// with the restart does not make this disconnect voluntary.
		c.voluntary = false
	}
	voluntary := c.voluntary
	attempts := c.attempts
	remediations := c.remediations
	wasConnected := c.connectedGauge
	c.connectedGauge = false
	c.mu.Unlock()

	if wasConnected {
		metrics.DecSessionsConnected()
	}

	out := decide(cls, voluntary, attempts, remediations)
	metrics.RecordDisconnect(out.String())
	c.logger.Info().
		Int(log.FieldStatusCode, int(code)).
		Int(log.FieldAttempt, attempts).
		Str("outcome", out.String()).
		Msg("session closed")

	if cls.ShortDelay {
		// The held pairing code is still valid; mark the restart handled
		// instead of clearing it.
		markCtx, cancel := context.WithTimeout(c.ctx, c.storeTimeout)
		c.cfg.Pairing.MarkRestartHandled(markCtx, c.cfg.SessionID)
		cancel()
	}

	switch out {
	case outcomeStop:
		c.terminate("voluntary disconnect", false)
	case outcomeTerminate:
		c.terminate(cls.UserMessage, true)
	case outcomeExhausted:
		c.terminate("connection attempts exhausted", false)
	case outcomeRemediate:
		c.mu.Lock()
		c.remediations++
		c.mu.Unlock()
		c.scheduleReconnect(cls, true)
	case outcomeReconnect:
		c.scheduleReconnect(cls, false)
	}
}

// scheduleReconnect takes the reconnection lock and arms the backoff timer.
func (c *Controller) scheduleReconnect(cls upstream.Classification, remediate bool) {
	c.mu.Lock()
	if c.state == StateTerminated || c.reconnectHeld {
		c.mu.Unlock()
		return
	}
	c.reconnectHeld = true
	attemptsBefore := c.attempts
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()
	c.setState(StateReconnecting)

	delay := c.backoffDelay(cls, attemptsBefore)
	c.updateSession(model.Patch{
		model.FieldIsConnected:       false,
		model.FieldConnectionStatus:  string(model.StatusReconnecting),
		model.FieldReconnectAttempts: attempts,
	})
	c.cfg.Fleet.NotifyStatus(c.cfg.SessionID, model.StatusReconnecting)
	metrics.RecordReconnect(cls.Code.String())

	c.mu.Lock()
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(remediate) })
	c.mu.Unlock()
}

// backoffDelay computes the reconnect delay from the attempt count.
func (c *Controller) backoffDelay(cls upstream.Classification, attemptsBefore int) time.Duration {
	if cls.ShortDelay || cls.Action == upstream.ActionRemediate {
		return c.restartDelay
	}
	delay := c.backoffBase << uint(attemptsBefore)
	if delay <= 0 || delay > c.backoffCap {
		return c.backoffCap
	}
	return delay
}

// reconnect dials a replacement socket. Dial failures feed back through the
// close path as an unknown transient code, which keeps them bounded.
func (c *Controller) reconnect(remediate bool) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	if remediate {
		resetCtx, cancel := context.WithTimeout(c.ctx, c.storeTimeout)
		err := c.cfg.Creds.ResetSubkeys(resetCtx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Msg("subkey reset failed, reconnecting anyway")
		} else {
			c.logger.Info().Msg("subkey storage reset")
		}
	}

	sock, err := c.cfg.Dialer.Dial(c.ctx, c.cfg.SessionID, c.cfg.Creds, c.cfg.SocketConfig)

	c.mu.Lock()
	c.reconnectHeld = false
	terminated := c.state == StateTerminated
	c.mu.Unlock()
	if terminated {
		if err == nil {
			_ = sock.Close(upstream.CodeConnectionClosed, "controller terminated")
		}
		return
	}

	if err != nil {
		c.logger.Warn().Err(err).Msg("reconnect dial failed")
		c.onClose(0)
		return
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	c.setState(StateConnecting)
	c.updateSession(model.Patch{
		model.FieldConnectionStatus: string(model.StatusConnecting),
	})

	c.wg.Add(1)
	go c.consume(sock)
}

// Disconnect ends the session. With force, the session record and its
// credentials are purged; without, the voluntary flag is set and the socket
// closed, and the resulting close event exits without rescheduling. The
// event carries the last word: a restart code clears the flag and the
// reconnect proceeds.
func (c *Controller) Disconnect(ctx context.Context, force bool) {
	c.mu.Lock()
	c.voluntary = true
	sock := c.sock
	terminated := c.state == StateTerminated
	c.mu.Unlock()

	if force {
		c.terminate("logged out", true)
		return
	}
	if terminated || sock == nil {
		c.terminate("voluntary disconnect", false)
		return
	}
	if err := sock.Close(upstream.CodeConnectionClosed, "voluntary disconnect"); err != nil {
		c.logger.Warn().Err(err).Msg("socket close failed")
		c.terminate("voluntary disconnect", false)
	}
}

// Detach stops event consumption without closing the socket or touching
// credentials. Handover: the worker tier will adopt the live upstream
// connection through the shared stores.
func (c *Controller) Detach() {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.detached = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	c.cfg.Fleet.RemoveFromFleet(c.cfg.SessionID)
	c.logger.Info().Msg("controller detached for handover")
}

// terminate is the single exit path. purge removes the session record and
// credentials; otherwise the record is marked disconnected and kept.
func (c *Controller) terminate(reason string, purge bool) {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	sock := c.sock
	c.sock = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	wasConnected := c.connectedGauge
	c.connectedGauge = false
	c.mu.Unlock()
	c.setState(StateTerminated)

	c.cancel()
	if sock != nil {
		_ = sock.Close(upstream.CodeConnectionClosed, reason)
	}
	if wasConnected {
		metrics.DecSessionsConnected()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()

	if purge {
		if err := c.cfg.Sessions.Delete(ctx, c.cfg.SessionID); err != nil {
			c.logger.Warn().Err(err).Msg("failed to delete session record")
		}
		if err := c.cfg.Creds.CleanupSession(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("failed to purge credentials")
		}
	} else {
		c.updateSession(model.Patch{
			model.FieldIsConnected:      false,
			model.FieldConnectionStatus: string(model.StatusDisconnected),
		})
	}

	c.cfg.Pairing.Clear(ctx, c.cfg.SessionID)
	c.cfg.Fleet.RemoveFromFleet(c.cfg.SessionID)
	c.cfg.Fleet.NotifyStatus(c.cfg.SessionID, model.StatusDisconnected)

	c.logger.Info().Str("reason", reason).Bool("purge", purge).Msg("session terminated")
	if c.cfg.Callbacks.OnTerminated != nil {
		c.cfg.Callbacks.OnTerminated(c.cfg.SessionID, reason)
	}
}

// launchPairing runs the pairing handshake for an unregistered session.
func (c *Controller) launchPairing(sock upstream.Socket) {
	defer c.wg.Done()
	onCode := func(code string) {
		if c.cfg.Callbacks.OnPairingCode != nil {
			c.cfg.Callbacks.OnPairingCode(c.cfg.SessionID, code)
		}
	}
	if err := c.cfg.Pairing.Start(c.ctx, sock, c.cfg.SessionID, c.cfg.Phone, onCode); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Error().Err(err).Msg("pairing failed")
	}
}

// waitDurable polls the credential backing until it accepts writes, the wait
// budget runs out, or the controller dies.
func (c *Controller) waitDurable() bool {
	if c.cfg.Creds.IsDurable() {
		return true
	}
	c.logger.Warn().Msg("credential backing down, waiting for durability")
	deadline := time.Now().Add(c.durableWait)
	ticker := time.NewTicker(c.durablePoll)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case <-ticker.C:
			if c.cfg.Creds.IsDurable() {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}

func (c *Controller) updateSession(patch model.Patch) {
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()
	if err := c.cfg.Sessions.Update(ctx, c.cfg.SessionID, patch); err != nil {
		c.logger.Warn().Err(err).Msg("failed to update session record")
	}
}
