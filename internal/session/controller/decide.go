// SPDX-License-Identifier: MIT

package controller

import "github.com/ManuGH/flockd/internal/upstream"

// outcome is the resolved close-handling policy for one disconnect.
type outcome int

const (
	// outcomeStop exits without rescheduling; the disconnect was voluntary.
	outcomeStop outcome = iota
	// outcomeReconnect schedules a bounded reconnect.
	outcomeReconnect
	// outcomeRemediate resets subkey storage, then reconnects.
	outcomeRemediate
	// outcomeTerminate tears the session down with full cleanup.
	outcomeTerminate
	// outcomeExhausted promotes a bounded path to terminal.
	outcomeExhausted
)

func (o outcome) String() string {
	switch o {
	case outcomeStop:
		return "stop"
	case outcomeReconnect:
		return "reconnect"
	case outcomeRemediate:
		return "remediate"
	case outcomeTerminate:
		return "terminate"
	case outcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// decide resolves what a close event does, given the classification and the
// session's counters. Callers apply the voluntary-flag ordering rule for
// restart codes before calling; by the time decide runs, voluntary is
// authoritative.
func decide(cls upstream.Classification, voluntary bool, attempts, remediations int) outcome {
	if voluntary {
		return outcomeStop
	}
	switch cls.Action {
	case upstream.ActionTerminate:
		return outcomeTerminate
	case upstream.ActionRemediate:
		// Two consecutive failed remediations mean the root identity itself
		// is suspect. A successful open resets the counter.
		if remediations >= 2 {
			return outcomeExhausted
		}
		return outcomeRemediate
	default:
		if attempts >= cls.MaxAttempts {
			return outcomeExhausted
		}
		return outcomeReconnect
	}
}
