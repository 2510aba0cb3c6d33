// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/rs/zerolog"
)

// DefaultDebounceWindow is the coalescing window for Update calls.
const DefaultDebounceWindow = 200 * time.Millisecond

// Debounced wraps a Store and coalesces Update calls per session within a
// window: consecutive patches merge with last-write-wins per key and flush
// as a single write. Every other operation passes through, with Save, Delete
// and Get made consistent with any pending patch.
type Debounced struct {
	Store

	window time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingUpdate
	closed  bool
	wg      sync.WaitGroup
}

type pendingUpdate struct {
	patch model.Patch
	timer *time.Timer
}

// NewDebounced wraps inner with the given window; window <= 0 selects the
// default.
func NewDebounced(inner Store, window time.Duration) *Debounced {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debounced{
		Store:   inner,
		window:  window,
		logger:  log.WithComponent("sessionstore.debounce"),
		pending: make(map[string]*pendingUpdate),
	}
}

func (d *Debounced) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.Store.Update(ctx, sessionID, patch)
	}
	if p, ok := d.pending[sessionID]; ok {
		p.patch = p.patch.Merge(patch)
		d.mu.Unlock()
		return nil
	}
	p := &pendingUpdate{patch: patch.Clone()}
	d.pending[sessionID] = p
	d.wg.Add(1)
	p.timer = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.flush(sessionID)
	})
	d.mu.Unlock()
	return nil
}

// flush writes the merged patch for one session.
func (d *Debounced) flush(sessionID string) {
	d.mu.Lock()
	p, ok := d.pending[sessionID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, sessionID)
	patch := p.patch
	d.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Store.Update(ctx, sessionID, patch); err != nil {
		metrics.RecordStoreError("session", "debounce", "update")
		d.logger.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("debounced flush failed")
		return
	}
	metrics.ObserveFlush("session", "debounce", time.Since(start).Seconds())
}

// takePending removes and returns a session's buffered patch, stopping its
// timer.
func (d *Debounced) takePending(sessionID string) model.Patch {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[sessionID]
	if !ok {
		return nil
	}
	delete(d.pending, sessionID)
	if p.timer.Stop() {
		d.wg.Done()
	}
	return p.patch
}

func (d *Debounced) Save(ctx context.Context, s *model.Session) error {
	// A full save carries the complete record and is newer than any buffered
	// patch; the patch is dropped, never folded in.
	d.takePending(s.SessionID)
	return d.Store.Save(ctx, s)
}

func (d *Debounced) Delete(ctx context.Context, sessionID string) error {
	d.takePending(sessionID)
	return d.Store.Delete(ctx, sessionID)
}

func (d *Debounced) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	s, err := d.Store.Get(ctx, sessionID)
	if err != nil || s == nil {
		return s, err
	}
	d.mu.Lock()
	if p, ok := d.pending[sessionID]; ok {
		p.patch.Apply(s)
	}
	d.mu.Unlock()
	return s, nil
}

// FlushSession forces an immediate flush of a session's buffered patch.
func (d *Debounced) FlushSession(ctx context.Context, sessionID string) error {
	patch := d.takePending(sessionID)
	if patch == nil {
		return nil
	}
	return d.Store.Update(ctx, sessionID, patch)
}

// Close flushes every buffered patch before closing the inner store.
func (d *Debounced) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if patch := d.takePending(id); patch != nil {
			if err := d.Store.Update(ctx, id, patch); err != nil {
				d.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("flush on close failed")
			}
		}
	}
	d.wg.Wait()
	return d.Store.Close(ctx)
}
