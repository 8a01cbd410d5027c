// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Playback fields
	FieldTrackIndex = "track_index"
	FieldPosition   = "position_seconds"
	FieldDuration   = "total_duration_seconds"
	FieldSource     = "source_name"
	FieldMode       = "mode"
	FieldActor      = "actor"

	// Recovery fields
	FieldAction   = "action"
	FieldOrigin   = "origin"
	FieldArchive  = "archive"
	FieldFallback = "fallback"

	// Path fields
	FieldPath       = "path"
	FieldBackupDir  = "backup_dir"
	FieldDataDir    = "data_dir"
	FieldQuarantine = "quarantine_path"
)
