// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recovery reconciles persisted playback state with the current playlist
// at process start and decides where playback resumes.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/metrics"
	"github.com/ManuGH/playstate/internal/state"
	"github.com/ManuGH/playstate/internal/statestore"
	"github.com/ManuGH/playstate/internal/tracker"
)

var (
	// ErrOutOfBounds marks a well-formed record whose track no longer exists in the playlist.
	ErrOutOfBounds = errors.New("stored track outside playlist")
	// ErrNoUsableBackup marks a corrupt state file for which no archive held a usable record.
	ErrNoUsableBackup = errors.New("no usable backup")
)

// Action tells the playback controller what to do.
type Action string

const (
	ActionResume  Action = "resume"  // continue stored track at stored position
	ActionAdvance Action = "advance" // stored track had finished; start the next one at 0
	ActionDefault Action = "default" // start from the configured defaults
)

// Origin names where the decision's record came from.
type Origin string

const (
	OriginStateFile Origin = "state_file"
	OriginBackup    Origin = "backup"
	OriginDefaults  Origin = "defaults"
)

// ResumeDecision is the single output of startup recovery.
type ResumeDecision struct {
	Action          Action
	Origin          Origin
	TrackIndex      int
	PositionSeconds float64
	// State is the full record the playback manager should be seeded with.
	State state.PlaybackState
	// Archive is the backup the record came from when Origin is OriginBackup.
	Archive string
	// Quarantined is where an unusable state file was moved, if any.
	Quarantined string
	// Cause explains why the stored state was not used as-is. Nil for a clean
	// resume and for a first run.
	Cause error
}

// Fallback reports whether the stored state file could not be used as-is.
func (d ResumeDecision) Fallback() bool { return d.Cause != nil }

// Recovered reports whether the record was restored from a backup archive.
func (d ResumeDecision) Recovered() bool { return d.Origin == OriginBackup }

// Loader reads and quarantines the state file. statestore.Store implements it.
type Loader interface {
	Load(ctx context.Context) (statestore.LoadResult, error)
	Quarantine(ctx context.Context) (string, error)
}

// BackupSource finds a file inside backup archives, newest first, stopping at the
// first archive whose entry accept returns nil for. backup.Catalog implements it.
type BackupSource interface {
	FindFile(ctx context.Context, name string, accept func(archive string, data []byte) error) (string, error)
}

// Config holds recovery options.
type Config struct {
	PlaylistLength   int
	CompletionWindow time.Duration
	Defaults         state.Defaults
	// StateEntry is the state file's slash-separated path inside a backup archive.
	StateEntry   string
	NewSessionID func() string
	Logger       *zerolog.Logger
}

// Manager runs the startup recovery state machine.
type Manager struct {
	cfg     Config
	loader  Loader
	backups BackupSource
	logger  zerolog.Logger
}

// New creates a recovery Manager. backups may be nil when backups are disabled.
func New(cfg Config, loader Loader, backups BackupSource) *Manager {
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = func() string { return uuid.New().String() }
	}
	logger := xglog.WithComponent("recovery")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Manager{cfg: cfg, loader: loader, backups: backups, logger: logger}
}

// Recover loads the persisted state and returns the resume decision. It only
// returns an error when ctx is done; every storage problem degrades to a
// decision whose Cause is set.
func (m *Manager) Recover(ctx context.Context) (ResumeDecision, error) {
	res, err := m.loader.Load(ctx)
	if err != nil {
		return ResumeDecision{}, fmt.Errorf("load state: %w", err)
	}

	var d ResumeDecision
	switch res.Status {
	case statestore.StatusNotFound:
		d = m.defaults(nil)
	case statestore.StatusOK:
		d = m.decide(res.State, OriginStateFile, "", nil)
	case statestore.StatusCorrupt:
		d = m.recoverCorrupt(ctx, res.Cause)
	default:
		d = m.defaults(fmt.Errorf("unexpected load status %v", res.Status))
	}

	m.report(d, res.Status)
	return d, nil
}

func (m *Manager) recoverCorrupt(ctx context.Context, cause error) ResumeDecision {
	m.logger.Error().
		Err(cause).
		Str(xglog.FieldEvent, "recovery.state_corrupt").
		Msg("state file is corrupt, trying backups")

	quarantined, qerr := m.loader.Quarantine(ctx)
	if qerr != nil {
		m.logger.Warn().Err(qerr).Msg("could not quarantine corrupt state file")
	}

	if m.backups == nil {
		d := m.defaults(fmt.Errorf("%w: backups disabled: %w", ErrNoUsableBackup, cause))
		d.Quarantined = quarantined
		return d
	}

	var recovered state.PlaybackState
	archive, err := m.backups.FindFile(ctx, m.cfg.StateEntry, func(archive string, data []byte) error {
		st, derr := statestore.Decode(data)
		if derr != nil {
			m.logger.Warn().
				Err(derr).
				Str(xglog.FieldArchive, archive).
				Msg("backup holds no usable state, trying older archive")
			return derr
		}
		if berr := st.CheckBounds(m.cfg.PlaylistLength); berr != nil {
			m.logger.Warn().
				Err(berr).
				Str(xglog.FieldArchive, archive).
				Msg("backup state outside playlist, trying older archive")
			return berr
		}
		recovered = st
		return nil
	})

	var d ResumeDecision
	if err != nil {
		d = m.defaults(fmt.Errorf("%w: %w", ErrNoUsableBackup, errors.Join(cause, err)))
	} else {
		d = m.decide(recovered, OriginBackup, archive, cause)
	}
	d.Quarantined = quarantined
	return d
}

// decide validates st exactly like a fresh load and applies the completed-track rule.
func (m *Manager) decide(st state.PlaybackState, origin Origin, archive string, cause error) ResumeDecision {
	if err := st.CheckBounds(m.cfg.PlaylistLength); err != nil {
		return m.defaults(errors.Join(cause, fmt.Errorf("%w: %w", ErrOutOfBounds, err)))
	}

	st = st.Clamp()
	st.SessionID = m.cfg.NewSessionID()

	action := ActionResume
	if tracker.Completed(st.PositionSeconds, st.TotalDurationSeconds, m.cfg.CompletionWindow) {
		action = ActionAdvance
		next := st.TrackIndex + 1
		if next > m.cfg.PlaylistLength {
			next = 1
		}
		st.TrackIndex = next
		st.PositionSeconds = 0
		st.TotalDurationSeconds = nil
	}

	return ResumeDecision{
		Action:          action,
		Origin:          origin,
		TrackIndex:      st.TrackIndex,
		PositionSeconds: st.PositionSeconds,
		State:           st,
		Archive:         archive,
		Cause:           cause,
	}
}

func (m *Manager) defaults(cause error) ResumeDecision {
	d := m.cfg.Defaults
	if d.TrackIndex < 1 || d.TrackIndex > m.cfg.PlaylistLength {
		d.TrackIndex = 1
	}
	st := state.Default(d, m.cfg.NewSessionID())
	return ResumeDecision{
		Action:     ActionDefault,
		Origin:     OriginDefaults,
		TrackIndex: st.TrackIndex,
		State:      st,
		Cause:      cause,
	}
}

func (m *Manager) report(d ResumeDecision, status statestore.LoadStatus) {
	metrics.IncRecovery(string(d.Origin), string(d.Action))

	var evt *zerolog.Event
	var name string
	switch {
	case d.Origin == OriginBackup:
		evt, name = m.logger.Warn(), "recovery.restored_from_backup"
	case d.Fallback():
		evt, name = m.logger.Error(), "recovery.fallback_defaults"
	case status == statestore.StatusNotFound:
		evt, name = m.logger.Info(), "recovery.first_run"
	default:
		evt, name = m.logger.Info(), "recovery.resumed"
	}
	if d.Cause != nil {
		evt = evt.Err(d.Cause)
	}
	evt.
		Str(xglog.FieldAction, string(d.Action)).
		Str(xglog.FieldOrigin, string(d.Origin)).
		Bool(xglog.FieldFallback, d.Fallback()).
		Int(xglog.FieldTrackIndex, d.TrackIndex).
		Float64(xglog.FieldPosition, d.PositionSeconds).
		Str(xglog.FieldArchive, d.Archive).
		Str(xglog.FieldQuarantine, d.Quarantined).
		Str(xglog.FieldSessionID, d.State.SessionID).
		Str(xglog.FieldEvent, name).
		Msg("resume decision")
}
