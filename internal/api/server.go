// SPDX-License-Identifier: MIT

// Package api is the web tier's REST surface: account registration and
// login, session connect/disconnect and status reads. It is a thin wrapper
// over the fleet; all session semantics live below it.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/auth"
	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/store/users"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	// loginRateLimit bounds credential guessing per client IP.
	loginRateLimit  = 10
	loginRateWindow = time.Minute

	// TokenCookie carries the bearer token for browser clients.
	TokenCookie = "flockd_token"
)

// Config assembles the server's collaborators.
type Config struct {
	Fleet    *fleet.Manager
	Sessions sessionstore.Store
	Users    users.Store
	Tokens   *auth.Service
}

// Server holds the handler state.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	// connectWait bounds how long a connect call waits for a pairing code or
	// an open connection; pollInterval is the connected-state poll cadence.
	// Shortened in tests.
	connectWait  time.Duration
	pollInterval time.Duration

	mu          sync.Mutex
	codeWaiters map[string]chan string
}

// NewServer builds the REST server.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:          cfg,
		logger:       log.WithComponent("api"),
		connectWait:  60 * time.Second,
		pollInterval: 250 * time.Millisecond,
		codeWaiters:  make(map[string]chan string),
	}
}

// OnPairingCode delivers a pairing code to a waiting connect call. Wire it
// into the fleet's callbacks.
func (s *Server) OnPairingCode(sessionID, code string) {
	s.mu.Lock()
	ch := s.codeWaiters[sessionID]
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- code:
		default:
		}
	}
}

// registerCodeWaiter installs a one-shot pairing code channel for a session.
func (s *Server) registerCodeWaiter(sessionID string) chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.codeWaiters[sessionID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) dropCodeWaiter(sessionID string) {
	s.mu.Lock()
	delete(s.codeWaiters, sessionID)
	s.mu.Unlock()
}

// Router assembles the route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.With(httprate.Limit(
			loginRateLimit,
			loginRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		)).Post("/login", s.handleLogin)

		r.Get("/connection-status/{sessionID}", s.handleConnectionStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Get("/status", s.handleStatus)
		})
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Sessions.Connected() {
		writeServiceUnavailable(w, "session store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"fleet":  s.cfg.Fleet.Stats(),
	})
}
