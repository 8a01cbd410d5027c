// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import "errors"

var (
	// ErrSnapshotFailure classifies I/O or compression failures while taking a snapshot.
	ErrSnapshotFailure = errors.New("snapshot failure")
	// ErrSnapshotInProgress is returned when a snapshot is requested while one runs.
	ErrSnapshotInProgress = errors.New("snapshot already in progress")
	// ErrEntryNotFound is returned when no archive holds a usable copy of a file.
	ErrEntryNotFound = errors.New("entry not found in backups")
	// ErrInvalidConfig classifies unusable scheduler configuration.
	ErrInvalidConfig = errors.New("invalid backup configuration")
)
