// SPDX-License-Identifier: MIT

// Package sessionstore persists session metadata across interchangeable
// backing stores. The business logic never names a specific backing; the
// Dual adapter provides write-to-all, read-preferred semantics on top of any
// two of them.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/flockd/internal/session/model"
)

var (
	// ErrUnavailable is returned when every reachable backing rejected a write.
	ErrUnavailable = errors.New("sessionstore: no backing store available")
)

// Store is the session metadata contract shared by every backing.
//
// Get returns (nil, nil) when the record does not exist; callers treat that
// as "new session".
type Store interface {
	Save(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Update(ctx context.Context, sessionID string, patch model.Patch) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*model.Session, error)
	GetByPhone(ctx context.Context, phone string) (*model.Session, error)

	// ListResumable returns sessions eligible for bootstrap adoption:
	// isConnected or connectionStatus in {connected, connecting}.
	ListResumable(ctx context.Context) ([]*model.Session, error)

	// ListHandoverCandidates returns sessions with source=web,
	// detected=false, isConnected=true.
	ListHandoverCandidates(ctx context.Context) ([]*model.Session, error)

	// ClaimForWorker atomically flips detected from false to true and
	// reports whether this caller won the claim.
	ClaimForWorker(ctx context.Context, sessionID string) (bool, error)

	// Connected reports whether the backing is currently reachable.
	Connected() bool

	Close(ctx context.Context) error
}

// touch stamps a patch with the update time unless the caller set one.
func touch(patch model.Patch, now time.Time) model.Patch {
	if _, ok := patch[model.FieldUpdatedAt]; !ok {
		patch = patch.Clone()
		patch[model.FieldUpdatedAt] = now
	}
	return patch
}

// resumable reports bootstrap eligibility for a record.
func resumable(s *model.Session) bool {
	return s.IsConnected ||
		s.ConnectionStatus == model.StatusConnected ||
		s.ConnectionStatus == model.StatusConnecting
}

// handoverCandidate reports web-tier sessions awaiting worker adoption.
func handoverCandidate(s *model.Session) bool {
	return s.Source == model.SourceWeb && !s.Detected && s.IsConnected
}
