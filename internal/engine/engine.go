// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine wires persistence, recovery, position tracking and backups into
// the single surface an audio controller talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/playstate/internal/backup"
	"github.com/ManuGH/playstate/internal/clock"
	"github.com/ManuGH/playstate/internal/config"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/playback"
	"github.com/ManuGH/playstate/internal/recovery"
	"github.com/ManuGH/playstate/internal/state"
	"github.com/ManuGH/playstate/internal/statestore"
	"github.com/ManuGH/playstate/internal/tracker"
)

var (
	// ErrNotRecovered is returned by playback operations called before Recover.
	ErrNotRecovered = errors.New("engine not recovered yet")
	// ErrBackupsDisabled is returned by backup operations when backups are off.
	ErrBackupsDisabled = errors.New("backups disabled")
)

// Engine is safe for concurrent use.
type Engine struct {
	cfg     config.AppConfig
	clock   clock.Clock
	logger  zerolog.Logger
	store   *statestore.Store
	tracker *tracker.Tracker
	backups *backup.Scheduler // nil when disabled
	rec     *recovery.Manager

	mu       sync.RWMutex
	manager  *playback.Manager
	decision recovery.ResumeDecision
}

// New builds an Engine from a validated configuration. clk may be nil.
func New(cfg config.AppConfig, clk clock.Clock) (*Engine, error) {
	clk = clock.OrReal(clk)
	e := &Engine{
		cfg:     cfg,
		clock:   clk,
		logger:  xglog.WithComponent("engine"),
		tracker: tracker.New(clk),
	}
	e.store = statestore.New(cfg.StatePath(), statestore.Options{
		PlaylistLength: cfg.Playback.PlaylistLength,
		IOTimeout:      cfg.Playback.IOTimeout,
		Clock:          clk,
	})

	var source recovery.BackupSource
	if cfg.Backup.Enabled {
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		sched, err := backup.NewScheduler(backup.Config{
			DataDir:   cfg.DataDir,
			BackupDir: cfg.BackupDir(),
			Retention: cfg.Backup.Retention,
			Location:  loc,
		}, clk)
		if err != nil {
			return nil, fmt.Errorf("backup scheduler: %w", err)
		}
		e.backups = sched
		source = sched.Catalog()
	}

	e.rec = recovery.New(recovery.Config{
		PlaylistLength:   cfg.Playback.PlaylistLength,
		CompletionWindow: cfg.Playback.CompletionWindow,
		Defaults:         cfg.StateDefaults(),
		StateEntry:       filepath.ToSlash(filepath.Clean(cfg.Playback.StateFile)),
	}, e.store, source)
	return e, nil
}

// Recover runs startup recovery once, seeds the playback manager with the decision
// and commits the seeded record. Later calls return the first decision.
func (e *Engine) Recover(ctx context.Context) (recovery.ResumeDecision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manager != nil {
		return e.decision, nil
	}

	d, err := e.rec.Recover(ctx)
	if err != nil {
		return recovery.ResumeDecision{}, err
	}

	m := playback.New(playback.Config{
		PlaylistLength: e.cfg.Playback.PlaylistLength,
		ReportInterval: e.cfg.Playback.ReportInterval,
		Sampler:        e.tracker,
	}, e.store, e.clock, d.State)

	// A fallback or advance must reach disk before playback starts so a crash now
	// does not replay the stale record.
	if err := m.Flush(ctx); err != nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "engine.seed_persist_failed").Msg("could not persist resume decision yet")
	}

	e.manager = m
	e.decision = d
	return d, nil
}

// Decision returns the decision taken by Recover.
func (e *Engine) Decision() (recovery.ResumeDecision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.manager == nil {
		return recovery.ResumeDecision{}, ErrNotRecovered
	}
	return e.decision, nil
}

func (e *Engine) active() (*playback.Manager, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.manager == nil {
		return nil, ErrNotRecovered
	}
	return e.manager, nil
}

// State returns the current in-memory record.
func (e *Engine) State() (state.PlaybackState, error) {
	m, err := e.active()
	if err != nil {
		return state.PlaybackState{}, err
	}
	return m.Snapshot(), nil
}

// Pending reports whether the record has uncommitted changes.
func (e *Engine) Pending() bool {
	m, err := e.active()
	return err == nil && m.Pending()
}

// StartTrack marks the beginning of playback of the current track at offset
// seconds. The cadence loop then samples elapsed time on its own.
func (e *Engine) StartTrack(offset, durationHint float64) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	e.tracker.StartAt(offset, durationHint)
	m.ReportProgress(offset, durationHint)
	return nil
}

// SetDuration records a track duration learned after playback started.
func (e *Engine) SetDuration(d float64) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	e.tracker.SetDuration(d)
	m.ReportProgress(e.tracker.Sample(), d)
	return nil
}

// Pause freezes elapsed-time sampling.
func (e *Engine) Pause() { e.tracker.Pause() }

// Resume continues elapsed-time sampling after Pause.
func (e *Engine) Resume() { e.tracker.Resume() }

// ReportProgress records an explicit position report and resynchronizes the tracker to it.
func (e *Engine) ReportProgress(position, totalDuration float64) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	m.ReportProgress(position, totalDuration)
	e.resync(m.Snapshot())
	return nil
}

// resync restarts a running tracker from st so cadence samples continue from it.
func (e *Engine) resync(st state.PlaybackState) {
	if !e.tracker.Running() {
		return
	}
	dur := 0.0
	if st.TotalDurationSeconds != nil {
		dur = *st.TotalDurationSeconds
	}
	e.tracker.StartAt(st.PositionSeconds, dur)
}

// AdvanceTrack switches tracks and persists immediately.
func (e *Engine) AdvanceTrack(ctx context.Context, newIndex int, resetPosition bool) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	if err := m.AdvanceTrack(ctx, newIndex, resetPosition); err != nil {
		return err
	}
	e.resync(m.Snapshot())
	return nil
}

// SetMode toggles loop or shuffle and persists immediately.
func (e *Engine) SetMode(ctx context.Context, flag state.ModeFlag, enabled bool, actor string) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	return m.SetMode(ctx, flag, enabled, actor)
}

// SetSource switches the content variant and persists immediately.
func (e *Engine) SetSource(ctx context.Context, name string) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	return m.SetSource(ctx, name)
}

// Flush persists uncommitted changes now.
func (e *Engine) Flush(ctx context.Context) error {
	m, err := e.active()
	if err != nil {
		return err
	}
	return m.Flush(ctx)
}

// BackupsEnabled reports whether a backup scheduler is configured.
func (e *Engine) BackupsEnabled() bool { return e.backups != nil }

// Snapshot takes a backup now.
func (e *Engine) Snapshot(ctx context.Context) (string, error) {
	if e.backups == nil {
		return "", ErrBackupsDisabled
	}
	return e.backups.RunSnapshot(ctx)
}

// Backups lists archives, newest first.
func (e *Engine) Backups() ([]backup.Archive, error) {
	if e.backups == nil {
		return nil, ErrBackupsDisabled
	}
	return e.backups.Catalog().List()
}

// NextBackup returns when the next scheduled snapshot runs.
func (e *Engine) NextBackup() (time.Time, error) {
	if e.backups == nil {
		return time.Time{}, ErrBackupsDisabled
	}
	return e.backups.ComputeNextRun(e.clock.Now()), nil
}

// ApplyConfig applies the options that can change at runtime.
func (e *Engine) ApplyConfig(cfg config.AppConfig) {
	if e.backups != nil {
		e.backups.SetRetention(cfg.Backup.Retention)
	}
}

// Run drives the progress cadence and the backup schedule until ctx is cancelled,
// then performs the final unconditional persist.
func (e *Engine) Run(ctx context.Context) error {
	m, err := e.active()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.Run(gctx)
		return nil
	})
	if e.backups != nil {
		g.Go(func() error {
			e.backups.Run(gctx)
			return nil
		})
	}
	runErr := g.Wait()

	if e.tracker.Running() {
		m.ReportProgress(e.tracker.Sample(), e.tracker.Duration())
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Playback.IOTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("final persist: %w", err))
	}
	return runErr
}
