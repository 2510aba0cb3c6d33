// SPDX-License-Identifier: MIT

// Package handover moves live sessions from the web tier to the worker tier.
// The web side detaches its controller after a grace period, leaving the
// upstream connection alive in the shared stores; the worker side polls for
// undetected web sessions and claims them atomically, so exactly one worker
// adopts each.
package handover

import (
	"sync"
	"time"

	"github.com/ManuGH/flockd/internal/log"
	"github.com/ManuGH/flockd/internal/metrics"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/rs/zerolog"
)

// Scheduler is the web side. Arm is called when a web session connects; once
// the delay elapses the controller is detached and the worker tier takes
// over through the store.
type Scheduler struct {
	fleet  *fleet.Manager
	delay  time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler builds a scheduler handing sessions off after delay.
func NewScheduler(f *fleet.Manager, delay time.Duration) *Scheduler {
	return &Scheduler{
		fleet:  f,
		delay:  delay,
		logger: log.WithComponent("handover"),
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the handoff. Re-arming an armed session restarts the delay.
func (s *Scheduler) Arm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Reset(s.delay)
		return
	}
	s.timers[sessionID] = time.AfterFunc(s.delay, func() { s.handoff(sessionID) })
}

// Cancel drops a scheduled handoff, keeping the session on the web tier.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Stop cancels every scheduled handoff.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) handoff(sessionID string) {
	s.mu.Lock()
	delete(s.timers, sessionID)
	s.mu.Unlock()

	ctrl, ok := s.fleet.Get(sessionID)
	if !ok || !ctrl.IsConnected() {
		// The session dropped during the grace period; nothing to hand over.
		return
	}
	ctrl.Detach()
	metrics.RecordHandover("detached")
	s.logger.Info().Str(log.FieldSessionID, sessionID).Msg("session detached for worker adoption")
}
