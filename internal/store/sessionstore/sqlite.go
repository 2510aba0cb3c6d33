// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/flockd/internal/persistence/sqlite"
	"github.com/ManuGH/flockd/internal/session/model"
)

const sqliteSchemaVersion = 1

// SqliteStore implements Store on a local SQLite file. Intended for
// single-node and dev deployments where neither Mongo nor Postgres runs.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens (and migrates) a session store at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		phone_number TEXT,
		is_connected INTEGER NOT NULL DEFAULT 0,
		connection_status TEXT NOT NULL,
		reconnect_attempts INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		detected INTEGER NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_source_connected ON sessions(source, is_connected);
	CREATE INDEX IF NOT EXISTS idx_sessions_phone ON sessions(phone_number);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_ms DESC);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Save(ctx context.Context, rec *model.Session) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, phone_number, is_connected, connection_status, reconnect_attempts, source, detected, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			phone_number = excluded.phone_number,
			is_connected = excluded.is_connected,
			connection_status = excluded.connection_status,
			reconnect_attempts = excluded.reconnect_attempts,
			source = excluded.source,
			detected = excluded.detected,
			updated_at_ms = excluded.updated_at_ms`,
		rec.SessionID, rec.UserID, rec.PhoneNumber, rec.IsConnected, string(rec.ConnectionStatus),
		rec.ReconnectAttempts, string(rec.Source), rec.Detected, updated.UnixMilli())
	return err
}

func (s *SqliteStore) scanRow(row interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		rec       model.Session
		status    string
		source    string
		phone     sql.NullString
		updatedMs int64
	)
	err := row.Scan(&rec.SessionID, &rec.UserID, &phone, &rec.IsConnected, &status,
		&rec.ReconnectAttempts, &source, &rec.Detected, &updatedMs)
	if err != nil {
		return nil, err
	}
	rec.PhoneNumber = phone.String
	rec.ConnectionStatus = model.ConnectionStatus(status)
	rec.Source = model.Source(source)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
	return &rec, nil
}

const sqliteSelectCols = `session_id, user_id, phone_number, is_connected, connection_status, reconnect_attempts, source, detected, updated_at_ms`

func (s *SqliteStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SqliteStore) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	// Read-modify-write keeps the patch semantics identical across
	// backends; WAL mode plus busy_timeout covers concurrent writers.
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &model.Session{SessionID: sessionID}
	}
	touch(patch, time.Now()).Apply(rec)
	return s.Save(ctx, rec)
}

func (s *SqliteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func (s *SqliteStore) queryList(ctx context.Context, query string, args ...any) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Session
	for rows.Next() {
		rec, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) List(ctx context.Context) ([]*model.Session, error) {
	return s.queryList(ctx, `SELECT `+sqliteSelectCols+` FROM sessions`)
}

func (s *SqliteStore) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectCols+` FROM sessions WHERE phone_number = ? LIMIT 1`, phone)
	rec, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SqliteStore) ListResumable(ctx context.Context) ([]*model.Session, error) {
	return s.queryList(ctx, `SELECT `+sqliteSelectCols+` FROM sessions
		WHERE is_connected = 1 OR connection_status IN ('connected', 'connecting')
		ORDER BY updated_at_ms DESC`)
}

func (s *SqliteStore) ListHandoverCandidates(ctx context.Context) ([]*model.Session, error) {
	return s.queryList(ctx, `SELECT `+sqliteSelectCols+` FROM sessions
		WHERE source = 'web' AND detected = 0 AND is_connected = 1`)
}

func (s *SqliteStore) ClaimForWorker(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET detected = 1, updated_at_ms = ? WHERE session_id = ? AND detected = 0`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SqliteStore) Connected() bool { return s.db.Ping() == nil }

func (s *SqliteStore) Close(ctx context.Context) error { return s.db.Close() }
