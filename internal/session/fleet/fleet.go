// SPDX-License-Identifier: MIT

// Package fleet owns the set of session controllers running in this process.
// It enforces the capacity ceiling, deduplicates concurrent creates and
// re-adopts resumable sessions at startup.
package fleet

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/controller"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/session/pairing"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/upstream"
	"github.com/rs/zerolog"
)

var (
	// ErrFleetFull is returned when the capacity ceiling rejects a create.
	ErrFleetFull = errors.New("fleet: session limit reached")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("fleet: session not found")

	// ErrSessionInitializing is returned when a create races an in-flight
	// create for the same session.
	ErrSessionInitializing = errors.New("fleet: session is initializing")
)

// Config assembles the fleet's collaborators.
type Config struct {
	Sessions     sessionstore.Store
	Creds        *credstore.Manager
	Pairing      *pairing.Coordinator
	Dialer       upstream.Dialer
	SocketConfig upstream.SocketConfig

	MaxSessions int

	// WebTier marks created sessions as handover candidates.
	WebTier bool

	// Callbacks are passed through to every controller.
	Callbacks controller.Callbacks

	// OnStatus, when set, receives every controller status change.
	OnStatus func(sessionID string, status model.ConnectionStatus)
}

// Manager is the process-wide controller registry. It satisfies
// controller.FleetHandle.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	active       map[string]*controller.Controller
	initializing map[string]struct{}
	// removedEarly marks sessions whose controller terminated before the
	// creating goroutine could register it.
	removedEarly map[string]struct{}
}

// NewManager builds an empty fleet.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       log.WithComponent("fleet"),
		active:       make(map[string]*controller.Controller),
		initializing: make(map[string]struct{}),
		removedEarly: make(map[string]struct{}),
	}
}

// CreateOptions parameterize one session create.
type CreateOptions struct {
	SessionID string
	UserID    int64
	Phone     string

	// IsReconnect suppresses the pairing launch; set for bootstrap adoption
	// and handover claims.
	IsReconnect bool
}

// Create starts a controller for the session, or returns the running one.
// The capacity ceiling counts initializing sessions, so a burst of creates
// cannot overshoot it.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*controller.Controller, error) {
	m.mu.Lock()
	if c, ok := m.active[opts.SessionID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	if _, ok := m.initializing[opts.SessionID]; ok {
		m.mu.Unlock()
		return nil, ErrSessionInitializing
	}
	if len(m.active)+len(m.initializing) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		metrics.RecordFleetRejection()
		return nil, ErrFleetFull
	}
	m.initializing[opts.SessionID] = struct{}{}
	m.mu.Unlock()

	source := model.SourceNative
	if m.cfg.WebTier {
		source = model.SourceWeb
	}

	ctrl, err := controller.Start(ctx, controller.Config{
		SessionID:    opts.SessionID,
		UserID:       opts.UserID,
		Phone:        opts.Phone,
		Source:       source,
		IsReconnect:  opts.IsReconnect,
		WebTier:      m.cfg.WebTier,
		Dialer:       m.cfg.Dialer,
		SocketConfig: m.cfg.SocketConfig,
		Sessions:     m.cfg.Sessions,
		Creds:        m.cfg.Creds.Session(opts.SessionID),
		Pairing:      m.cfg.Pairing,
		Fleet:        m,
		Callbacks:    m.cfg.Callbacks,
	})

	m.mu.Lock()
	delete(m.initializing, opts.SessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if _, gone := m.removedEarly[opts.SessionID]; gone {
		// The controller already terminated. Hand it back without
		// registering; its cleanup ran through RemoveFromFleet.
		delete(m.removedEarly, opts.SessionID)
		m.mu.Unlock()
		return ctrl, nil
	}
	m.active[opts.SessionID] = ctrl
	m.mu.Unlock()
	metrics.IncSessionsActive()

	m.logger.Info().
		Str(log.FieldSessionID, opts.SessionID).
		Bool("reconnect", opts.IsReconnect).
		Msg("session controller started")
	return ctrl, nil
}

// Get returns the running controller for the session.
func (m *Manager) Get(sessionID string) (*controller.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[sessionID]
	return c, ok
}

// IsConnected reports whether the session is owned here and currently open.
func (m *Manager) IsConnected(sessionID string) bool {
	c, ok := m.Get(sessionID)
	return ok && c.IsConnected()
}

// Count returns the number of owned sessions, initializing included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) + len(m.initializing)
}

// Stats is a point-in-time fleet summary.
type Stats struct {
	Active    int `json:"active"`
	Connected int `json:"connected"`
	Limit     int `json:"limit"`
}

// Stats summarizes the fleet.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Active: len(m.active), Limit: m.cfg.MaxSessions}
	for _, c := range m.active {
		if c.IsConnected() {
			s.Connected++
		}
	}
	return s
}

// Disconnect ends a session. When the session is not owned by this process, a
// forced disconnect still purges the shared records, and a plain one marks
// the record disconnected; either way the other tier observes the result
// through the store.
func (m *Manager) Disconnect(ctx context.Context, sessionID string, force bool) error {
	m.mu.Lock()
	ctrl := m.active[sessionID]
	m.mu.Unlock()
	if ctrl != nil {
		ctrl.Disconnect(ctx, force)
		return nil
	}

	rec, err := m.cfg.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrSessionNotFound
	}
	if force {
		if err := m.cfg.Sessions.Delete(ctx, sessionID); err != nil {
			return err
		}
		return m.cfg.Creds.Session(sessionID).CleanupSession(ctx)
	}
	return m.cfg.Sessions.Update(ctx, sessionID, model.Patch{
		model.FieldIsConnected:      false,
		model.FieldConnectionStatus: string(model.StatusDisconnected),
	})
}

// RemoveFromFleet drops the session from the registry. Called by controllers
// on termination and detach.
func (m *Manager) RemoveFromFleet(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[sessionID]; ok {
		delete(m.active, sessionID)
		metrics.DecSessionsActive()
		return
	}
	if _, ok := m.initializing[sessionID]; ok {
		m.removedEarly[sessionID] = struct{}{}
	}
}

// NotifyStatus fans a controller status change out to the configured
// listener.
func (m *Manager) NotifyStatus(sessionID string, status model.ConnectionStatus) {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(sessionID, status)
	}
}

// Shutdown detaches every controller without closing sockets or records, so
// the sessions stay resumable for the next process.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ctrls := make([]*controller.Controller, 0, len(m.active))
	for _, c := range m.active {
		ctrls = append(ctrls, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range ctrls {
		wg.Add(1)
		go func(c *controller.Controller) {
			defer wg.Done()
			c.Detach()
		}(c)
	}
	wg.Wait()
	m.logger.Info().Int("sessions", len(ctrls)).Msg("fleet shut down")
}
