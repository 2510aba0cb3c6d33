// SPDX-License-Identifier: MIT

package sessionstore

import (
	"context"
	"sync"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/rs/zerolog"
)

// Dual fans writes out to two independent backings and reads from the
// preferred one. A write succeeds when at least one backing accepts it; when
// both are down, saves are buffered in memory and replayed on the next
// successful write path.
type Dual struct {
	a, b Store

	mu      sync.Mutex
	pending map[string]*model.Session

	logger zerolog.Logger
}

// NewDual wraps backing a (preferred for reads) and backing b.
func NewDual(a, b Store) *Dual {
	return &Dual{
		a:       a,
		b:       b,
		pending: make(map[string]*model.Session),
		logger:  log.WithComponent("sessionstore.dual"),
	}
}

// writeBoth runs op against both backings concurrently and reports whether
// at least one succeeded.
func (d *Dual) writeBoth(ctx context.Context, name string, op func(Store) error) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []Store{d.a, d.b} {
		if !s.Connected() {
			errs[i] = ErrUnavailable
			continue
		}
		wg.Add(1)
		go func(i int, s Store) {
			defer wg.Done()
			errs[i] = op(s)
		}(i, s)
	}
	wg.Wait()

	if errs[0] == nil || errs[1] == nil {
		for i, err := range errs {
			if err != nil && err != ErrUnavailable {
				metrics.RecordStoreError("session", backendName(i), name)
				d.logger.Warn().Err(err).Str("op", name).Int("backing", i).Msg("one backing rejected write")
			}
		}
		return nil
	}
	return ErrUnavailable
}

func backendName(i int) string {
	if i == 0 {
		return "a"
	}
	return "b"
}

// reader returns the preferred reachable backing, or nil when both are down.
func (d *Dual) reader() Store {
	if d.a.Connected() {
		return d.a
	}
	if d.b.Connected() {
		return d.b
	}
	return nil
}

// replayPending retries buffered saves. Best effort; failures keep the
// record buffered.
func (d *Dual) replayPending(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	buffered := make([]*model.Session, 0, len(d.pending))
	for _, s := range d.pending {
		buffered = append(buffered, s)
	}
	d.mu.Unlock()

	for _, s := range buffered {
		if err := d.writeBoth(ctx, "save", func(st Store) error { return st.Save(ctx, s) }); err == nil {
			d.mu.Lock()
			// A newer buffered save may have replaced this record.
			if cur, ok := d.pending[s.SessionID]; ok && cur == s {
				delete(d.pending, s.SessionID)
			}
			d.mu.Unlock()
		}
	}
}

func (d *Dual) Save(ctx context.Context, s *model.Session) error {
	d.replayPending(ctx)
	err := d.writeBoth(ctx, "save", func(st Store) error { return st.Save(ctx, s) })
	if err != nil {
		// Both down. Buffer and report success; durability is eventual.
		d.mu.Lock()
		d.pending[s.SessionID] = s.Clone()
		d.mu.Unlock()
		d.logger.Warn().Str(log.FieldSessionID, s.SessionID).Msg("both backings down, buffering save")
		return nil
	}
	return nil
}

func (d *Dual) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	d.mu.Lock()
	if s, ok := d.pending[sessionID]; ok {
		d.mu.Unlock()
		return s.Clone(), nil
	}
	d.mu.Unlock()

	r := d.reader()
	if r == nil {
		return nil, nil
	}
	return r.Get(ctx, sessionID)
}

func (d *Dual) Update(ctx context.Context, sessionID string, patch model.Patch) error {
	d.replayPending(ctx)

	d.mu.Lock()
	if s, ok := d.pending[sessionID]; ok {
		patch.Apply(s)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	return d.writeBoth(ctx, "update", func(st Store) error { return st.Update(ctx, sessionID, patch) })
}

func (d *Dual) Delete(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	delete(d.pending, sessionID)
	d.mu.Unlock()
	return d.writeBoth(ctx, "delete", func(st Store) error { return st.Delete(ctx, sessionID) })
}

func (d *Dual) List(ctx context.Context) ([]*model.Session, error) {
	r := d.reader()
	if r == nil {
		return nil, nil
	}
	return r.List(ctx)
}

func (d *Dual) GetByPhone(ctx context.Context, phone string) (*model.Session, error) {
	r := d.reader()
	if r == nil {
		return nil, nil
	}
	return r.GetByPhone(ctx, phone)
}

func (d *Dual) ListResumable(ctx context.Context) ([]*model.Session, error) {
	r := d.reader()
	if r == nil {
		return nil, nil
	}
	return r.ListResumable(ctx)
}

func (d *Dual) ListHandoverCandidates(ctx context.Context) ([]*model.Session, error) {
	r := d.reader()
	if r == nil {
		return nil, nil
	}
	return r.ListHandoverCandidates(ctx)
}

func (d *Dual) ClaimForWorker(ctx context.Context, sessionID string) (bool, error) {
	// The claim must be atomic; it runs only on the preferred reachable
	// backing rather than fanning out.
	r := d.reader()
	if r == nil {
		return false, ErrUnavailable
	}
	won, err := r.ClaimForWorker(ctx, sessionID)
	if err != nil || !won {
		return won, err
	}
	// Mirror the flag to the other backing, best effort.
	other := d.b
	if r == d.b {
		other = d.a
	}
	if other.Connected() {
		if uerr := other.Update(ctx, sessionID, model.Patch{model.FieldDetected: true}); uerr != nil {
			d.logger.Warn().Err(uerr).Str(log.FieldSessionID, sessionID).Msg("failed to mirror claim")
		}
	}
	return true, nil
}

func (d *Dual) Connected() bool {
	return d.a.Connected() || d.b.Connected()
}

func (d *Dual) Close(ctx context.Context) error {
	d.replayPending(ctx)
	errA := d.a.Close(ctx)
	errB := d.b.Close(ctx)
	if errA != nil {
		return errA
	}
	return errB
}
