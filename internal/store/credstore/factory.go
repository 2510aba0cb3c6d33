// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"path/filepath"

	"github.com/ManuGH/flockd/internal/config"
	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/sealbox"
)

const mongoDatabase = "flockd"

// Open builds the credential store stack from the configuration. The badger
// fallback under SESSION_DIR always opens; with Mongo configured it becomes
// the second leg of a dual backend, otherwise it carries everything.
func Open(ctx context.Context, cfg config.Config) (*Manager, error) {
	box, err := sealbox.New([]byte(cfg.SessionEncryptionKey))
	if err != nil {
		return nil, err
	}

	local, err := OpenBadger(filepath.Join(cfg.SessionDir, "credentials"))
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("credstore")
	var backend Backend = local
	if cfg.MongoURI != "" {
		remote, err := OpenMongo(ctx, cfg.MongoURI, mongoDatabase)
		if err != nil {
			_ = local.Close()
			return nil, err
		}
		backend = NewDualBackend(remote, local)
		logger.Info().Str(log.FieldBackend, "mongo+badger").Msg("credential store opened")
	} else {
		logger.Info().Str(log.FieldBackend, "badger").Msg("credential store opened")
	}

	return NewManager(backend, box), nil
}
