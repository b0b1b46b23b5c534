// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldMigrationID = "migration_id"
	FieldSyncRunID   = "sync_run_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Storage fields
	FieldBackend = "backend"
	FieldMode    = "mode"
	FieldKey     = "key"
	FieldKind    = "kind"
	FieldPath    = "path"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldFromVer  = "from_version"
	FieldToVer    = "to_version"

	// Sync fields
	FieldEntity   = "entity"
	FieldEntityID = "entity_id"
	FieldAttempt  = "attempt"
	FieldDelay    = "delay"
)
