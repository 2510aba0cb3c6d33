// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusRouter serves the unauthenticated observability surface: health,
// metrics and per-session connection status. The worker tier runs only
// this; the full API needs NewServer.
func StatusRouter(f *fleet.Manager, sessions sessionstore.Store) *chi.Mux {
	s := NewServer(Config{Fleet: f, Sessions: sessions})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/connection-status/{sessionID}", s.handleConnectionStatus)
	return r
}
