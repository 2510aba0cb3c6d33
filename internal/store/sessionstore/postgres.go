// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const pgProbeInterval = 10 * time.Second

// PostgresStore implements Store on Postgres via gorm.
type PostgresStore struct {
	db        *gorm.DB
	connected atomic.Bool
	stop      chan struct{}
	logger    zerolog.Logger
}

// OpenPostgres connects to dsn and migrates the sessions table. Like the
// mongo backing, an unreachable server leaves the store disconnected
// instead of failing the open.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{
		db:     db,
		stop:   make(chan struct{}),
		logger: log.WithComponent("sessionstore.postgres"),
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetConnMaxLifetime(time.Hour)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(pingCtx); err == nil {
			s.connected.Store(true)
			if err := db.WithContext(ctx).AutoMigrate(&model.Session{}); err != nil {
				s.logger.Warn().Err(err).Msg("session table migration failed")
			}
		} else {
			s.logger.Warn().Err(err).Msg("postgres unreachable at startup, starting disconnected")
		}
	}

	go s.probeLoop()
	return s, nil
}

func (s *PostgresStore) probeLoop() {
	ticker := time.NewTicker(pgProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			sqlDB, err := s.db.DB()
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
			was := s.connected.Swap(err == nil)
			if err == nil && !was {
				s.logger.Info().Msg("postgres backing reconnected")
				if merr := s.db.AutoMigrate(&model.Session{}); merr != nil {
					s.logger.Warn().Err(merr).Msg("session table migration failed")
				}
			}
			if err != nil && was {
				s.logger.Warn().Err(err).Msg("postgres backing lost")
			}
		}
	}
}

// pgColumns maps patch keys to column names.
var pgColumns = map[string]string{
	model.FieldPhoneNumber:       "phone_number",
	model.FieldIsConnected:       "is_connected",
	model.FieldConnectionStatus:  "connection_status",
	model.FieldReconnectAttempts: "reconnect_attempts",
	model.FieldSource:            "source",
	model.FieldDetected:          "detected",
	model.FieldUpdatedAt:         "updated_at",
}

func (s *PostgresStore) Save(ctx context.Context, rec *model.Session) error {
	doc := rec.Clone()
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Save(doc).Error
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var rec model.Session
	err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	cols := make(map[string]any, len(patch)+1)
	for k, v := range touch(patch, time.Now()) {
		if col, ok := pgColumns[k]; ok {
			cols[col] = v
		}
	}
	res := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("session_id = ?", sessionID).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Upsert semantics: create the record when absent.
		rec := &model.Session{SessionID: sessionID}
		patch.Apply(rec)
		rec.UpdatedAt = time.Now()
		return s.db.WithContext(ctx).Save(rec).Error
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Delete(&model.Session{}, "session_id = ?", sessionID).Error
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

func (s *PostgresStore) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	var rec model.Session
	err := s.db.WithContext(ctx).First(&rec, "phone_number = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ListResumable(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	err := s.db.WithContext(ctx).
		Where("is_connected = ? OR connection_status IN ?", true,
			[]string{string(model.StatusConnected), string(model.StatusConnecting)}).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) ListHandoverCandidates(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	err := s.db.WithContext(ctx).
		Where("source = ? AND detected = ? AND is_connected = ?", string(model.SourceWeb), false, true).
		Find(&out).Error
	return out, err
}

func (s *PostgresStore) ClaimForWorker(ctx context.Context, sessionID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("session_id = ? AND detected = ?", sessionID, false).
		Updates(map[string]any{"detected": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) Connected() bool { return s.connected.Load() }

func (s *PostgresStore) Close(ctx context.Context) error {
	close(s.stop)
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
