// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback owns the in-memory playback record and decides when it is persisted.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playstate/internal/clock"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/metrics"
	"github.com/ManuGH/playstate/internal/state"
)

var (
	// ErrTrackOutOfRange is returned by AdvanceTrack for an index outside the playlist.
	ErrTrackOutOfRange = errors.New("track index out of range")
	// ErrUnknownMode is returned by SetMode for an unknown flag.
	ErrUnknownMode = errors.New("unknown mode flag")
)

// Saver commits a record and returns it as written.
type Saver interface {
	Save(ctx context.Context, st state.PlaybackState) (state.PlaybackState, error)
}

// Sampler supplies elapsed-time samples on every cadence tick.
// tracker.Tracker implements it.
type Sampler interface {
	Running() bool
	Sample() float64
	Duration() float64
}

// Config holds the manager's options.
type Config struct {
	PlaylistLength int
	ReportInterval time.Duration
	Sampler        Sampler
	Logger         *zerolog.Logger
}

// Manager serializes progress reports, track changes and mode toggles into one
// PlaybackState. The in-memory record is authoritative for the running process;
// persistence failures are logged and retried on the next tick.
type Manager struct {
	cfg    Config
	store  Saver
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	st       state.PlaybackState
	gen      uint64 // bumped on every mutation
	savedGen uint64

	// persistMu orders Save calls so a slower, older snapshot never lands after a newer one.
	persistMu sync.Mutex
}

// New creates a Manager seeded with initial, typically the record chosen by recovery.
func New(cfg Config, store Saver, clk clock.Clock, initial state.PlaybackState) *Manager {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 15 * time.Second
	}
	logger := xglog.WithComponent("playback")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		clock:  clock.OrReal(clk),
		logger: logger,
		st:     initial.Clamp(),
		gen:    1, // the seed itself has not been written by this session
	}
	metrics.SetPlayback(m.st.TrackIndex, m.st.PositionSeconds)
	return m
}

// Snapshot returns a copy of the current in-memory record.
func (m *Manager) Snapshot() state.PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

// Pending reports whether the in-memory record has changes not yet committed.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != m.savedGen
}

// ReportProgress records the elapsed position and, when positive, the total
// duration of the current track. It never touches the disk; the cadence loop
// in Run persists the latest value.
func (m *Manager) ReportProgress(position, totalDuration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if totalDuration > 0 {
		m.st.TotalDurationSeconds = state.Seconds(totalDuration)
	}
	m.st.PositionSeconds = position
	m.st = m.st.Clamp()
	m.gen++
	metrics.SetPlayback(m.st.TrackIndex, m.st.PositionSeconds)
	metrics.SetPendingPersist(true)
}

// AdvanceTrack moves to newIndex and persists immediately. An index past the end
// wraps to 1 when loop is enabled; any other out-of-range index is rejected and
// leaves the state untouched. Whether to stop or wrap otherwise is the caller's call.
func (m *Manager) AdvanceTrack(ctx context.Context, newIndex int, resetPosition bool) error {
	m.mu.Lock()
	idx := newIndex
	if idx > m.cfg.PlaylistLength && m.st.Loop.Enabled {
		idx = 1
	}
	if idx < 1 || idx > m.cfg.PlaylistLength {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d not in 1..%d", ErrTrackOutOfRange, newIndex, m.cfg.PlaylistLength)
	}
	prev := m.st.TrackIndex
	m.st.TrackIndex = idx
	// Durations are per track.
	if resetPosition || idx != prev {
		m.st.TotalDurationSeconds = nil
	}
	if resetPosition {
		m.st.PositionSeconds = 0
	}
	m.st = m.st.Clamp()
	m.gen++
	metrics.SetPlayback(m.st.TrackIndex, m.st.PositionSeconds)
	m.mu.Unlock()

	m.logger.Info().
		Int("previous_track_index", prev).
		Int(xglog.FieldTrackIndex, idx).
		Bool("reset_position", resetPosition).
		Str(xglog.FieldEvent, "playback.track_advanced").
		Msg("track changed")
	m.persistLogged(ctx, "advance", true)
	return nil
}

// SetMode toggles a mode flag, records who changed it, and persists immediately.
func (m *Manager) SetMode(ctx context.Context, flag state.ModeFlag, enabled bool, actor string) error {
	if !flag.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, flag)
	}
	m.mu.Lock()
	m.st = m.st.WithMode(flag, state.ModeSetting{
		Enabled:   enabled,
		ChangedBy: actor,
		ChangedAt: m.clock.Now().UTC(),
	})
	m.gen++
	m.mu.Unlock()

	m.logger.Info().
		Str(xglog.FieldMode, string(flag)).
		Bool("enabled", enabled).
		Str(xglog.FieldActor, actor).
		Str(xglog.FieldEvent, "playback.mode_changed").
		Msg("mode changed")
	m.persistLogged(ctx, "mode", true)
	return nil
}

// SetSource switches the active content variant and persists immediately.
func (m *Manager) SetSource(ctx context.Context, name string) error {
	m.mu.Lock()
	m.st.SourceName = name
	m.gen++
	m.mu.Unlock()

	m.logger.Info().
		Str(xglog.FieldSource, name).
		Str(xglog.FieldEvent, "playback.source_changed").
		Msg("source changed")
	m.persistLogged(ctx, "source", true)
	return nil
}

// Flush persists the current record if it has uncommitted changes.
func (m *Manager) Flush(ctx context.Context) error {
	return m.persist(ctx, false)
}

// Shutdown performs the final unconditional persist. Call it after Run has returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.persist(ctx, true); err != nil {
		m.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "playback.final_persist_failed").
			Msg("final state persist failed")
		return err
	}
	st := m.Snapshot()
	m.logger.Info().
		Int(xglog.FieldTrackIndex, st.TrackIndex).
		Float64(xglog.FieldPosition, st.PositionSeconds).
		Str(xglog.FieldEvent, "playback.final_persist").
		Msg("state persisted on shutdown")
	return nil
}

// Run drives the position-report cadence until ctx is cancelled. Each tick samples
// the attached Sampler (if running) and persists the record when it changed.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info().Dur("interval", m.cfg.ReportInterval).Msg("progress cadence started")

	timer := m.clock.NewTimer(m.cfg.ReportInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("progress cadence stopping")
			return
		case <-timer.C():
			if s := m.cfg.Sampler; s != nil && s.Running() {
				m.ReportProgress(s.Sample(), s.Duration())
			}
			m.persistLogged(ctx, "tick", false)
			timer.Reset(m.cfg.ReportInterval)
		}
	}
}

func (m *Manager) persistLogged(ctx context.Context, reason string, force bool) {
	if err := m.persist(ctx, force); err != nil {
		m.logger.Warn().
			Err(err).
			Str("reason", reason).
			Str(xglog.FieldEvent, "playback.persist_failed").
			Msg("state persist failed, will retry on next tick")
	}
}

func (m *Manager) persist(ctx context.Context, force bool) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snap := m.st.Clone()
	gen := m.gen
	dirty := gen != m.savedGen
	m.mu.Unlock()

	if !dirty && !force {
		return nil
	}

	committed, err := m.store.Save(ctx, snap)
	if err != nil {
		metrics.SetPendingPersist(true)
		return err
	}

	m.mu.Lock()
	if gen > m.savedGen {
		m.savedGen = gen
	}
	m.st.LastSavedAt = committed.LastSavedAt
	pending := m.gen != m.savedGen
	m.mu.Unlock()
	metrics.SetPendingPersist(pending)
	return nil
}
