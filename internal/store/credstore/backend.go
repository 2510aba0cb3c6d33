// SPDX-License-Identifier: MIT

// Package credstore persists per-session auth key material as many small
// records. Reads go through a short-TTL cache, writes are debounced, and the
// backing is encrypted at rest. The in-memory cache is the source of truth
// between flushes; a backing outage degrades durability, never correctness.
package credstore

import (
	"context"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/rs/zerolog"
)

// Backend stores sealed credential records keyed by (sessionID, fileName).
// Values are sealbox ciphertext strings; backends never see plaintext.
type Backend interface {
	// Get returns the sealed record, or "" when it does not exist.
	Get(ctx context.Context, sessionID, fileName string) (string, error)
	Set(ctx context.Context, sessionID, fileName, sealed string) error
	Delete(ctx context.Context, sessionID, fileName string) error

	// List returns every record of a session, fileName to sealed value.
	List(ctx context.Context, sessionID string) (map[string]string, error)

	// DeleteSession removes every record of a session.
	DeleteSession(ctx context.Context, sessionID string) error

	Connected() bool
	Close() error
}

// DualBackend prefers a primary backend and falls back to a secondary when
// the primary is down or erroring. Writes that reach only the fallback are
// replayed to the primary lazily by the next write to the same key.
type DualBackend struct {
	primary, fallback Backend
	logger            zerolog.Logger
}

// NewDualBackend wraps primary (preferred) and fallback.
func NewDualBackend(primary, fallback Backend) *DualBackend {
	return &DualBackend{
		primary:  primary,
		fallback: fallback,
		logger:   log.WithComponent("credstore.dual"),
	}
}

func (d *DualBackend) Get(ctx context.Context, sessionID, fileName string) (string, error) {
	if d.primary.Connected() {
		sealed, err := d.primary.Get(ctx, sessionID, fileName)
		if err == nil && sealed != "" {
			return sealed, nil
		}
		if err != nil {
			d.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("primary credential read failed, trying fallback")
		}
	}
	return d.fallback.Get(ctx, sessionID, fileName)
}

func (d *DualBackend) Set(ctx context.Context, sessionID, fileName, sealed string) error {
	var primaryErr error
	if d.primary.Connected() {
		primaryErr = d.primary.Set(ctx, sessionID, fileName, sealed)
		if primaryErr == nil {
			// Mirror to the fallback so an outage of the primary still
			// finds current records locally. Best effort.
			if err := d.fallback.Set(ctx, sessionID, fileName, sealed); err != nil {
				d.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("fallback credential mirror failed")
			}
			return nil
		}
		d.logger.Warn().Err(primaryErr).Str(log.FieldSessionID, sessionID).Msg("primary credential write failed, using fallback")
	}
	return d.fallback.Set(ctx, sessionID, fileName, sealed)
}

func (d *DualBackend) Delete(ctx context.Context, sessionID, fileName string) error {
	var firstErr error
	if d.primary.Connected() {
		firstErr = d.primary.Delete(ctx, sessionID, fileName)
	}
	if err := d.fallback.Delete(ctx, sessionID, fileName); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *DualBackend) List(ctx context.Context, sessionID string) (map[string]string, error) {
	if d.primary.Connected() {
		records, err := d.primary.List(ctx, sessionID)
		if err == nil {
			return records, nil
		}
		d.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("primary credential list failed, trying fallback")
	}
	return d.fallback.List(ctx, sessionID)
}

func (d *DualBackend) DeleteSession(ctx context.Context, sessionID string) error {
	var firstErr error
	if d.primary.Connected() {
		firstErr = d.primary.DeleteSession(ctx, sessionID)
	}
	if err := d.fallback.DeleteSession(ctx, sessionID); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *DualBackend) Connected() bool {
	return d.primary.Connected() || d.fallback.Connected()
}

func (d *DualBackend) Close() error {
	errP := d.primary.Close()
	errF := d.fallback.Close()
	if errP != nil {
		return errP
	}
	return errF
}
