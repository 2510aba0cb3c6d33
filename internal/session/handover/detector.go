// SPDX-License-Identifier: MIT

package handover

import (
	"context"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/rs/zerolog"
)

// Detector is the worker side. It polls the store for connected web sessions
// that no worker has adopted yet and claims them. The claim flips the
// detected flag atomically, so concurrent workers cannot adopt the same
// session twice.
type Detector struct {
	fleet    *fleet.Manager
	sessions sessionstore.Store
	interval time.Duration
	logger   zerolog.Logger
}

// NewDetector builds a detector polling at the given interval.
func NewDetector(f *fleet.Manager, sessions sessionstore.Store, interval time.Duration) *Detector {
	return &Detector{
		fleet:    f,
		sessions: sessions,
		interval: interval,
		logger:   log.WithComponent("handover"),
	}
}

// Run polls until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

// scan claims and adopts every undetected web session it can.
func (d *Detector) scan(ctx context.Context) {
	candidates, err := d.sessions.ListHandoverCandidates(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("handover scan failed")
		return
	}

	for _, rec := range candidates {
		if _, owned := d.fleet.Get(rec.SessionID); owned {
			continue
		}
		won, err := d.sessions.ClaimForWorker(ctx, rec.SessionID)
		if err != nil {
			d.logger.Warn().Err(err).
				Str(log.FieldSessionID, rec.SessionID).
				Msg("handover claim failed")
			continue
		}
		if !won {
			continue
		}

		if _, err := d.fleet.Create(ctx, fleet.CreateOptions{
			SessionID:   rec.SessionID,
			UserID:      rec.UserID,
			Phone:       rec.PhoneNumber,
			IsReconnect: true,
		}); err != nil {
			// Release the claim so another worker can take it.
			metrics.RecordHandover("lost")
			d.logger.Warn().Err(err).
				Str(log.FieldSessionID, rec.SessionID).
				Msg("handover adoption failed, releasing claim")
			if uerr := d.sessions.Update(ctx, rec.SessionID, model.Patch{
				model.FieldDetected: false,
			}); uerr != nil {
				d.logger.Error().Err(uerr).
					Str(log.FieldSessionID, rec.SessionID).
					Msg("failed to release handover claim")
			}
			continue
		}
		metrics.RecordHandover("claimed")
		d.logger.Info().Str(log.FieldSessionID, rec.SessionID).Msg("web session adopted")
	}
}
