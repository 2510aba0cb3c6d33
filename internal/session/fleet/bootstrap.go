// SPDX-License-Identifier: MIT

package fleet

import (
	"context"
	"sort"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"golang.org/x/time/rate"
)

const (
	// bootstrapBatch and bootstrapInterval pace adoption so a restart with a
	// full fleet does not stampede the upstream.
	bootstrapBatch    = 5
	bootstrapInterval = 500 * time.Millisecond
)

// Bootstrap re-adopts resumable sessions from the store, newest first, up to
// the capacity ceiling. Records without a root credential are stale leftovers
// and are purged instead of adopted. Returns the number of adopted sessions.
func (m *Manager) Bootstrap(ctx context.Context) (int, error) {
	records, err := m.cfg.Sessions.ListResumable(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})

	limiter := rate.NewLimiter(rate.Every(bootstrapInterval/bootstrapBatch), bootstrapBatch)
	adopted := 0
	for _, rec := range records {
		m.mu.Lock()
		free := m.cfg.MaxSessions - len(m.active) - len(m.initializing)
		m.mu.Unlock()
		if free <= 0 {
			m.logger.Warn().
				Int("skipped", len(records)-adopted).
				Msg("fleet full, remaining resumable sessions not adopted")
			break
		}

		root, err := m.cfg.Creds.Session(rec.SessionID).Get(ctx, credstore.RootFileName)
		if err == nil && len(root) == 0 {
			// An empty read while the backing is down does not prove the
			// credentials are gone; keep the record and skip this round.
			if !m.cfg.Creds.IsDurable() {
				m.logger.Warn().
					Str(log.FieldSessionID, rec.SessionID).
					Msg("credential backing unreachable, skipping unverified record")
				continue
			}
			m.logger.Info().
				Str(log.FieldSessionID, rec.SessionID).
				Msg("purging resumable record without credentials")
			if err := m.cfg.Sessions.Delete(ctx, rec.SessionID); err != nil {
				m.logger.Warn().Err(err).
					Str(log.FieldSessionID, rec.SessionID).
					Msg("failed to purge stale session record")
			}
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return adopted, err
		}
		if _, err := m.Create(ctx, CreateOptions{
			SessionID:   rec.SessionID,
			UserID:      rec.UserID,
			Phone:       rec.PhoneNumber,
			IsReconnect: true,
		}); err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldSessionID, rec.SessionID).
				Msg("bootstrap adoption failed")
			continue
		}
		adopted++
	}

	m.logger.Info().
		Int("resumable", len(records)).
		Int("adopted", adopted).
		Msg("bootstrap complete")
	return adopted, nil
}
