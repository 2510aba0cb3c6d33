// SPDX-License-Identifier: MIT

// Package pairing drives the pairing-code handshake: request a short code
// from the upstream, hold it until consumed, expire it.
package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/upstream"
	"github.com/rs/zerolog"
)

var (
	// ErrCodeGenerationTimeout is returned when the upstream does not hand
	// out a code within the request timeout.
	ErrCodeGenerationTimeout = errors.New("pairing: code generation timed out")

	// ErrNoPhoneDigits is returned when the phone number contains no digits.
	ErrNoPhoneDigits = errors.New("pairing: phone number has no digits")
)

const (
	// EntryTTL is how long an issued code stays valid.
	EntryTTL = 5 * time.Minute

	// settleDelay gives the socket time to reach the internal state the
	// upstream requires before a code request.
	settleDelay = 2 * time.Second

	// requestTimeout bounds the upstream code request.
	requestTimeout = 45 * time.Second

	codeGroupLen = 4
)

// Entry is the held pairing state of one session.
type Entry struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
}

// Expired reports whether the entry's code is past its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// StateStore holds pairing entries. Implementations garbage-collect expired
// entries lazily; Get never returns an expired entry.
type StateStore interface {
	Get(ctx context.Context, sessionID string) (*Entry, error)
	Put(ctx context.Context, sessionID string, e *Entry) error
	Delete(ctx context.Context, sessionID string) error
}

// Coordinator runs the handshake. One coordinator serves the whole fleet;
// per-session state lives in the StateStore.
type Coordinator struct {
	store  StateStore
	logger zerolog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator builds a coordinator over the given state store.
func NewCoordinator(store StateStore) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: log.WithComponent("pairing"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start requests a pairing code for the session and delivers it via onCode.
// A still-active unexpired entry is re-emitted without a new upstream
// request, so repeated connect calls cannot burn codes.
func (c *Coordinator) Start(ctx context.Context, sock upstream.Socket, sessionID, phone string, onCode func(code string)) error {
	if existing, err := c.store.Get(ctx, sessionID); err == nil && existing != nil && existing.Active {
		c.logger.Debug().Str(log.FieldSessionID, sessionID).Msg("re-emitting held pairing code")
		onCode(existing.Code)
		return nil
	}

	digits := model.PhoneDigits(phone)
	if digits == "" {
		return ErrNoPhoneDigits
	}

	if err := c.sleep(ctx, settleDelay); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	raw, err := sock.RequestPairingCode(reqCtx, digits)
	if err != nil {
		metrics.RecordPairing("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCodeGenerationTimeout
		}
		return err
	}

	code := FormatCode(raw)
	entry := &Entry{
		Code:      code,
		ExpiresAt: time.Now().Add(EntryTTL),
		Active:    true,
	}
	if err := c.store.Put(ctx, sessionID, entry); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to hold pairing entry")
	}

	metrics.RecordPairing("issued")
	c.logger.Info().Str(log.FieldSessionID, sessionID).Msg("pairing code issued")
	onCode(code)
	return nil
}

// Active reports whether the session holds an unexpired active entry.
func (c *Coordinator) Active(ctx context.Context, sessionID string) bool {
	e, err := c.store.Get(ctx, sessionID)
	return err == nil && e != nil && e.Active
}

// Code returns the held code, or "" when none is active.
func (c *Coordinator) Code(ctx context.Context, sessionID string) string {
	e, err := c.store.Get(ctx, sessionID)
	if err != nil || e == nil || !e.Active {
		return ""
	}
	return e.Code
}

// MarkRestartHandled flips the entry inactive without clearing the code.
// The pairing-phase restart close must not re-trigger a code request while
// the user is still typing the held code.
func (c *Coordinator) MarkRestartHandled(ctx context.Context, sessionID string) {
	e, err := c.store.Get(ctx, sessionID)
	if err != nil || e == nil {
		return
	}
	e.Active = false
	if err := c.store.Put(ctx, sessionID, e); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to mark pairing restart handled")
	}
}

// Clear drops the session's pairing state.
func (c *Coordinator) Clear(ctx context.Context, sessionID string) {
	if err := c.store.Delete(ctx, sessionID); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to clear pairing state")
	}
}

// FormatCode renders an upstream code as four-char groups joined with "-".
func FormatCode(raw string) string {
	raw = strings.ToUpper(strings.ReplaceAll(raw, "-", ""))
	if len(raw) <= codeGroupLen {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i += codeGroupLen {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + codeGroupLen
		if end > len(raw) {
			end = len(raw)
		}
		b.WriteString(raw[i:end])
	}
	return b.String()
}
