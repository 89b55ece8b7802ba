// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTenantID  = "tenant_id"
	FieldUserID    = "user_id"
	FieldCommand   = "command"

	// Process fields
	FieldComponent = "component"
	FieldNodeID    = "node_id"
	FieldTrack     = "track"
	FieldSeq       = "seq"

	// Retry fields
	FieldAttempt = "attempt"
	FieldDelay   = "delay"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
