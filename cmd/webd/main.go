// SPDX-License-Identifier: MIT

// Command webd runs the web tier: self-service registration and login, the
// authenticated session API, and the web side of the session handover. Its
// fleet marks every session as a handover candidate; a worker daemon adopts
// them after the configured delay.
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
	"github.com/ManuGH/flockd/internal/auth"
	"github.com/ManuGH/flockd/internal/config"
	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/session/controller"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/session/handover"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/session/pairing"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/store/users"
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
	cfg.Tier = config.TierWeb

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "flockd-web",
		Version: version,
	})
	logger := log.WithComponent("webd")

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
	accounts, err := users.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open user store")
	}
	tokens, err := auth.NewService(auth.Config{Secret: cfg.JWTSecret})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token service")
	}

	// Pairing state is shared across web replicas when redis is configured.
	var pairingStore pairing.StateStore = pairing.NewMemoryStore()
	if cfg.PairingRedisAddr != "" {
		pairingStore, err = pairing.NewRedisStore(ctx, cfg.PairingRedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect pairing redis")
		}
	}

	// The server, fleet and handover scheduler reference each other through
	// callbacks; the fleet is built first around late-bound pointers.
	var srv *api.Server
	var scheduler *handover.Scheduler

	fleetMgr := fleet.NewManager(fleet.Config{
		Sessions:     sessions,
		Creds:        creds,
		Pairing:      pairing.NewCoordinator(pairingStore),
		Dialer:       upstream.DefaultDialer(),
		SocketConfig: upstream.DefaultSocketConfig(),
		MaxSessions:  cfg.MaxSessions,
		WebTier:      true,
		Callbacks: controller.Callbacks{
			OnPairingCode: func(sessionID, code string) { srv.OnPairingCode(sessionID, code) },
			OnConnected:   func(sessionID string) { scheduler.Arm(sessionID) },
		},
		OnStatus: func(sessionID string, status model.ConnectionStatus) {
			if status != model.StatusConnected {
				scheduler.Cancel(sessionID)
			}
		},
	})
	scheduler = handover.NewScheduler(fleetMgr, cfg.HandoverDelay)

	srv = api.NewServer(api.Config{
		Fleet:    fleetMgr,
		Sessions: sessions,
		Users:    accounts,
		Tokens:   tokens,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("web API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("web API failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("web API shutdown failed")
	}
	scheduler.Stop()
	fleetMgr.Shutdown(shutdownCtx)
	if err := accounts.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("user store close failed")
	}
	if err := creds.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("credential store close failed")
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session store close failed")
	}
	logger.Info().Msg("bye")
}
