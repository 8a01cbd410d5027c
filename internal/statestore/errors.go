// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statestore

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptState classifies state files that cannot be parsed or fail validation.
	ErrCorruptState = errors.New("corrupt playback state")

	// ErrUnsupportedSchema classifies state files written by a newer, incompatible schema.
	// Errors carrying it also match ErrCorruptState.
	ErrUnsupportedSchema = errors.New("unsupported state schema version")

	// ErrWriteFailure classifies I/O failures while committing a state file.
	ErrWriteFailure = errors.New("state write failure")

	// ErrLockTimeout is returned when the per-file lock could not be acquired in time.
	ErrLockTimeout = errors.New("state file lock timeout")
)

// CorruptError describes an existing state file that could not be used.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is makes every CorruptError match ErrCorruptState.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorruptState
}
