// SPDX-License-Identifier: MIT

// Command daemon runs the worker tier: the full session fleet, bootstrap
// re-adoption and the web-session detection loop, plus the unauthenticated
// status surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/flockd/internal/api"
	"github.com/ManuGH/flockd/internal/config"
	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/session/handover"
	"github.com/ManuGH/flockd/internal/session/pairing"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/upstream"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	cfg.Tier = config.TierWorker

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "flockd",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := sessionstore.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	creds, err := credstore.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open credential store")
	}

	fleetMgr := fleet.NewManager(fleet.Config{
		Sessions:     sessions,
		Creds:        creds,
		Pairing:      pairing.NewCoordinator(pairing.NewMemoryStore()),
		Dialer:       upstream.DefaultDialer(),
		SocketConfig: upstream.DefaultSocketConfig(),
		MaxSessions:  cfg.MaxSessions,
	})

	adopted, err := fleetMgr.Bootstrap(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap failed, continuing with partial fleet")
	}
	logger.Info().Int("adopted", adopted).Msg("worker fleet bootstrapped")

	detector := handover.NewDetector(fleetMgr, sessions, cfg.DetectionInterval)
	go detector.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.StatusRouter(fleetMgr, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("status server shutdown failed")
	}
	fleetMgr.Shutdown(shutdownCtx)
	if err := creds.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("credential store close failed")
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session store close failed")
	}
	logger.Info().Msg("bye")
}
