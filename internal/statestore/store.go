// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package statestore persists a single playback record with crash-safe atomic replacement.
package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/playstate/internal/clock"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/metrics"
	"github.com/ManuGH/playstate/internal/state"
)

// LoadStatus is the outcome kind of Load. Callers must branch on every value.
type LoadStatus int

const (
	StatusOK LoadStatus = iota
	StatusNotFound
	StatusCorrupt
)

func (s LoadStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult is returned by Load. Cause is a *CorruptError when Status is StatusCorrupt.
type LoadResult struct {
	Status LoadStatus
	State  state.PlaybackState
	Cause  error
}

// Options configures a Store.
type Options struct {
	PlaylistLength int
	IOTimeout      time.Duration // bounds lock wait plus all write attempts, and all read attempts
	MaxRetries     uint          // attempts per Save and per Load
	Perm           os.FileMode
	Clock          clock.Clock
	Logger         *zerolog.Logger
}

// Store reads and atomically replaces one state file.
type Store struct {
	path   string
	opts   Options
	entry  *fileEntry
	clock  clock.Clock
	logger zerolog.Logger
	hooks  hooks
}

// hooks lets tests interrupt a Save at its crash-relevant points.
type hooks struct {
	afterWrite   func(f *os.File) error
	beforeRename func(tmpPath string) error
	readFile     func(path string) ([]byte, error)
}

// New creates a Store for path. Stores created for the same path share one lock.
func New(path string, opts Options) *Store {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Perm == 0 {
		opts.Perm = 0o600
	}
	logger := xglog.WithComponent("statestore")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Store{
		path:   path,
		opts:   opts,
		entry:  entryFor(path),
		clock:  clock.OrReal(opts.Clock),
		logger: logger.With().Str(xglog.FieldPath, path).Logger(),
	}
}

// Path returns the target file path.
func (s *Store) Path() string { return s.path }

// Save clamps, validates and commits st, returning the committed record with
// LastSavedAt set. The visible file is only ever replaced by a rename of a fully
// written, fsynced and re-parsed temporary file in the same directory.
func (s *Store) Save(ctx context.Context, st state.PlaybackState) (state.PlaybackState, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()

	if err := s.entry.acquire(ctx); err != nil {
		metrics.IncStateSave("lock_timeout")
		return state.PlaybackState{}, fmt.Errorf("save %s: %w", s.path, err)
	}
	defer s.entry.release()

	st = st.Clamp()
	if err := st.Validate(s.opts.PlaylistLength); err != nil {
		metrics.IncStateSave("invalid")
		return state.PlaybackState{}, fmt.Errorf("save %s: %w", s.path, err)
	}

	now := s.clock.Now().UTC()
	if now.Before(s.entry.lastSaved) {
		now = s.entry.lastSaved
	}
	st.LastSavedAt = now

	data, err := Encode(st)
	if err != nil {
		metrics.IncStateSave("invalid")
		return state.PlaybackState{}, err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		metrics.IncStateSave("write_failure")
		return state.PlaybackState{}, fmt.Errorf("%w: create state dir for %s: %w", ErrWriteFailure, s.path, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		werr := s.writeOnce(data)
		if werr == nil {
			return struct{}{}, nil
		}
		if errors.Is(werr, ErrCorruptState) {
			return struct{}{}, backoff.Permanent(werr)
		}
		s.logger.Warn().
			Err(werr).
			Int("attempt", attempt).
			Str(xglog.FieldEvent, "state.write_retry").
			Msg("state write attempt failed")
		return struct{}{}, werr
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.MaxRetries))
	metrics.ObserveStateSave(time.Since(started))
	if err != nil {
		if errors.Is(err, ErrCorruptState) {
			metrics.IncStateSave("invalid")
			return state.PlaybackState{}, fmt.Errorf("save %s: %w", s.path, err)
		}
		metrics.IncStateSave("write_failure")
		return state.PlaybackState{}, fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.path, err)
	}

	s.entry.lastSaved = now
	metrics.IncStateSave("success")
	s.logger.Debug().
		Int(xglog.FieldTrackIndex, st.TrackIndex).
		Float64(xglog.FieldPosition, st.PositionSeconds).
		Str(xglog.FieldEvent, "state.saved").
		Msg("playback state committed")
	return st, nil
}

// writeOnce performs one complete temp-write / verify / rename cycle.
func (s *Store) writeOnce(data []byte) error {
	// renameio handles: temp file creation, fsync, atomic rename, cleanup on error
	pendingFile, err := renameio.NewPendingFile(s.path,
		renameio.WithTempDir(filepath.Dir(s.path)),
		renameio.WithPermissions(s.opts.Perm),
	)
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer func() {
		// Cleanup on error - renameio removes temp file if not committed
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending state file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write state data: %w", err)
	}
	if s.hooks.afterWrite != nil {
		if err := s.hooks.afterWrite(pendingFile.File); err != nil {
			return err
		}
	}
	if err := pendingFile.Sync(); err != nil {
		return fmt.Errorf("sync pending state file: %w", err)
	}

	tmpPath := pendingFile.Name()
	written, err := os.ReadFile(tmpPath) // #nosec G304 -- temp path created by renameio next to the target
	if err != nil {
		return fmt.Errorf("re-read pending state file: %w", err)
	}
	if !bytes.Equal(written, data) {
		return fmt.Errorf("%w: pending file %s differs from encoded record", ErrCorruptState, tmpPath)
	}
	reparsed, err := Decode(written)
	if err != nil {
		return fmt.Errorf("verify pending file %s: %w", tmpPath, err)
	}
	if err := reparsed.CheckBounds(s.opts.PlaylistLength); err != nil {
		return fmt.Errorf("%w: verify pending file %s: %w", ErrCorruptState, tmpPath, err)
	}

	if s.hooks.beforeRename != nil {
		if err := s.hooks.beforeRename(tmpPath); err != nil {
			return err
		}
	}

	// CloseAtomicallyReplace: fsync + rename (durable + atomic)
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace state file: %w", err)
	}
	return nil
}

// Load reads the state file. A missing file is StatusNotFound, an unreadable,
// unparsable or structurally invalid file is StatusCorrupt. Read errors are retried
// with backoff within IOTimeout before the file is declared unreadable. The error
// return is reserved for context cancellation.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}
	readCtx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	attempt := 0
	data, err := backoff.Retry(readCtx, func() ([]byte, error) {
		attempt++
		data, rerr := s.read()
		if rerr == nil {
			return data, nil
		}
		if errors.Is(rerr, fs.ErrNotExist) {
			return nil, backoff.Permanent(rerr)
		}
		s.logger.Warn().
			Err(rerr).
			Int("attempt", attempt).
			Str(xglog.FieldEvent, "state.read_retry").
			Msg("state read attempt failed")
		return nil, rerr
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.MaxRetries))
	if cerr := ctx.Err(); cerr != nil {
		return LoadResult{}, cerr
	}
	if errors.Is(err, fs.ErrNotExist) {
		metrics.IncStateLoad(StatusNotFound.String())
		return LoadResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		metrics.IncStateLoad(StatusCorrupt.String())
		return LoadResult{Status: StatusCorrupt, Cause: &CorruptError{Path: s.path, Err: fmt.Errorf("read: %w", err)}}, nil
	}

	st, err := Decode(data)
	if err != nil {
		metrics.IncStateLoad(StatusCorrupt.String())
		return LoadResult{Status: StatusCorrupt, Cause: &CorruptError{Path: s.path, Err: err}}, nil
	}

	metrics.IncStateLoad(StatusOK.String())
	return LoadResult{Status: StatusOK, State: st}, nil
}

func (s *Store) read() ([]byte, error) {
	if s.hooks.readFile != nil {
		return s.hooks.readFile(s.path)
	}
	return os.ReadFile(s.path)
}

// Quarantine moves the current state file aside as <name>.corrupt-<UTC time> so it
// survives being replaced by a fallback record. A missing file is not an error and
// yields an empty path.
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()
	if err := s.entry.acquire(ctx); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	defer s.entry.release()

	dest := s.path + ".corrupt-" + s.clock.Now().UTC().Format("20060102T150405Z")
	if err := os.Rename(s.path, dest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	s.logger.Warn().
		Str(xglog.FieldQuarantine, dest).
		Str(xglog.FieldEvent, "state.quarantined").
		Msg("moved unusable state file aside")
	return dest, nil
}
