// SPDX-License-Identifier: MIT

// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flockd",
		Name:      "sessions_active",
		Help:      "Number of sessions currently owned by this fleet",
	})

	sessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flockd",
		Name:      "sessions_connected",
		Help:      "Number of sessions in connected state",
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "session_state_transitions_total",
		Help:      "Session state machine transitions",
	}, []string{"from", "to"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "session_reconnects_total",
		Help:      "Reconnect attempts by upstream status code",
	}, []string{"status_code"})

	disconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "session_disconnects_total",
		Help:      "Upstream disconnects by classification action",
	}, []string{"action"})

	pairingCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "pairing_codes_total",
		Help:      "Pairing code requests by outcome",
	}, []string{"outcome"})

	handovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "handovers_total",
		Help:      "Web to worker session handovers by outcome",
	}, []string{"outcome"})

	storeFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flockd",
		Name:      "store_flush_duration_seconds",
		Help:      "Duration of debounced store flushes",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store", "backend"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "store_errors_total",
		Help:      "Backing store operation failures",
	}, []string{"store", "backend", "op"})

	fleetRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flockd",
		Name:      "fleet_rejections_total",
		Help:      "Create requests rejected because the fleet was full",
	})
)

func IncSessionsActive()          { sessionsActive.Inc() }
func DecSessionsActive()          { sessionsActive.Dec() }
func SetSessionsActive(n float64) { sessionsActive.Set(n) }

func IncSessionsConnected() { sessionsConnected.Inc() }
func DecSessionsConnected() { sessionsConnected.Dec() }

// RecordTransition counts a state machine transition.
func RecordTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordReconnect counts a reconnect attempt for the given upstream status code.
func RecordReconnect(statusCode string) {
	reconnects.WithLabelValues(statusCode).Inc()
}

// RecordDisconnect counts a classified disconnect.
func RecordDisconnect(action string) {
	disconnects.WithLabelValues(action).Inc()
}

// RecordPairing counts a pairing code request outcome ("issued", "reused",
// "timeout", "error").
func RecordPairing(outcome string) {
	pairingCodes.WithLabelValues(outcome).Inc()
}

// RecordHandover counts a handover outcome ("detached", "claimed", "lost").
func RecordHandover(outcome string) {
	handovers.WithLabelValues(outcome).Inc()
}

// ObserveFlush records the duration of a debounced store flush.
func ObserveFlush(store, backend string, seconds float64) {
	storeFlushDuration.WithLabelValues(store, backend).Observe(seconds)
}

// RecordStoreError counts a backing store failure.
func RecordStoreError(store, backend, op string) {
	storeErrors.WithLabelValues(store, backend, op).Inc()
}

// RecordFleetRejection counts a capacity rejection.
func RecordFleetRejection() {
	fleetRejections.Inc()
}
