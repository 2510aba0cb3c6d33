// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"path/filepath"

	"github.com/ManuGH/flockd/internal/config"
	"github.com/ManuGH/flockd/internal/log"
)

const mongoDatabase = "flockd"

// Open builds the session store stack from the configuration.
//
// With both Mongo and Postgres configured the store is dual-backed with Mongo
// preferred for reads. With only one remote backing configured, a local
// SQLite file under SESSION_DIR takes the second slot so the dual semantics
// (write fan-out, buffered saves) still hold. The result is always wrapped in
// the debouncing layer.
func Open(ctx context.Context, cfg config.Config) (*Debounced, error) {
	logger := log.WithComponent("sessionstore")

	openLocal := func() (Store, error) {
		return NewSqliteStore(filepath.Join(cfg.SessionDir, "sessions.db"))
	}

	var mongo, pg Store
	var err error

	if cfg.MongoURI != "" {
		mongo, err = OpenMongo(ctx, cfg.MongoURI, mongoDatabase)
		if err != nil {
			return nil, err
		}
	}
	if cfg.PostgresDSN != "" {
		pg, err = OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			closeQuiet(ctx, mongo)
			return nil, err
		}
	}

	var a, b Store
	var backend string
	switch {
	case mongo != nil && pg != nil:
		a, b, backend = mongo, pg, "mongo+postgres"
	case mongo != nil:
		b, err = openLocal()
		if err != nil {
			closeQuiet(ctx, mongo)
			return nil, err
		}
		a, backend = mongo, "mongo+sqlite"
	case pg != nil:
		b, err = openLocal()
		if err != nil {
			closeQuiet(ctx, pg)
			return nil, err
		}
		a, backend = pg, "postgres+sqlite"
	default:
		// Validate() rejects this configuration; keep a dev escape hatch.
		a, err = openLocal()
		if err != nil {
			return nil, err
		}
		b, backend = NewMemoryStore(), "sqlite+memory"
		logger.Warn().Msg("no remote backing configured, running on local stores only")
	}

	logger.Info().Str(log.FieldBackend, backend).Msg("session store opened")
	return NewDebounced(NewDual(a, b), DefaultDebounceWindow), nil
}

func closeQuiet(ctx context.Context, s Store) {
	if s != nil {
		_ = s.Close(ctx)
	}
}
