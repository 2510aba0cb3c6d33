// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldUserID        = "user_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldPhone         = "phone"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTier      = "tier"

	// State fields
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"
	FieldStatusCode = "status_code"
	FieldAttempt    = "attempt"

	// Store fields
	FieldBackend  = "backend"
	FieldFileName = "file_name"
)
