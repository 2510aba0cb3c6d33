// SPDX-License-Identifier: MIT

package users

import (
	"context"
	"time"

	"github.com/ManuGH/flockd/internal/config"
	"github.com/ManuGH/flockd/internal/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	mongoDatabase       = "flockd"
	mongoConnectTimeout = 10 * time.Second
)

// ownedMongoStore closes its private client on Close. NewMongoStore itself
// never owns the client.
type ownedMongoStore struct {
	*MongoStore
	client *mongo.Client
}

func (s *ownedMongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Open builds the account store from the configuration, preferring Mongo
// over Postgres. With neither configured accounts live in memory only; that
// is a dev setup, registration does not survive a restart.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	logger := log.WithComponent("users")

	switch {
	case cfg.MongoURI != "":
		connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, err
		}
		s, err := NewMongoStore(ctx, client, mongoDatabase)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		logger.Info().Str(log.FieldBackend, "mongo").Msg("user store opened")
		return &ownedMongoStore{MongoStore: s, client: client}, nil

	case cfg.PostgresDSN != "":
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
			Logger: gormlogger.Discard,
		})
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Info().Str(log.FieldBackend, "postgres").Msg("user store opened")
		return s, nil

	default:
		logger.Warn().Msg("no remote backing configured, accounts are in-memory only")
		return NewMemoryStore(), nil
	}
}
