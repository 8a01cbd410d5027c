// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package backup snapshots the data directory into hourly, human-named zip archives.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playstate/internal/clock"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/metrics"
)

// Config holds scheduler options.
type Config struct {
	DataDir   string
	BackupDir string
	Retention int
	Location  *time.Location
	Logger    *zerolog.Logger
}

// Scheduler takes a snapshot at every top of the hour in its location.
// Snapshots never overlap: a boundary reached while one still runs is skipped.
type Scheduler struct {
	dataDir      string
	backupDir    string
	backupDirAbs string
	loc          *time.Location
	retention    atomic.Int64
	catalog      *Catalog
	clock        clock.Clock
	logger       zerolog.Logger

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup

	// beforeSnapshot runs at the start of every snapshot; tests use it to hold one open.
	beforeSnapshot func()
}

// NewScheduler validates cfg and returns a Scheduler.
func NewScheduler(cfg Config, clk clock.Clock) (*Scheduler, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("%w: backup dir is required", ErrInvalidConfig)
	}
	if cfg.Retention < 1 {
		return nil, fmt.Errorf("%w: retention must be at least 1, got %d", ErrInvalidConfig, cfg.Retention)
	}
	dataAbs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: data dir: %w", ErrInvalidConfig, err)
	}
	backupAbs, err := filepath.Abs(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("%w: backup dir: %w", ErrInvalidConfig, err)
	}
	if dataAbs == backupAbs {
		return nil, fmt.Errorf("%w: backup dir must differ from data dir", ErrInvalidConfig)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := xglog.WithComponent("backup")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Scheduler{
		dataDir:      dataAbs,
		backupDir:    cfg.BackupDir,
		backupDirAbs: backupAbs,
		loc:          loc,
		catalog:      NewCatalog(cfg.BackupDir),
		clock:        clock.OrReal(clk),
		logger:       logger.With().Str(xglog.FieldBackupDir, cfg.BackupDir).Logger(),
	}
	s.retention.Store(int64(cfg.Retention))
	return s, nil
}

// Catalog returns the catalog of this scheduler's backup directory.
func (s *Scheduler) Catalog() *Catalog { return s.catalog }

// Location returns the timezone hour boundaries are computed in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Retention returns the number of archives kept.
func (s *Scheduler) Retention() int { return int(s.retention.Load()) }

// SetRetention changes the number of archives kept from the next snapshot on.
func (s *Scheduler) SetRetention(n int) {
	if n < 1 {
		return
	}
	if old := s.retention.Swap(int64(n)); old != int64(n) {
		s.logger.Info().Int64("old", old).Int("new", n).Msg("backup retention changed")
	}
}

// ComputeNextRun returns the next top-of-hour instant strictly after now.
func (s *Scheduler) ComputeNextRun(now time.Time) time.Time {
	return NextTopOfHour(now, s.loc)
}

// RunSnapshot archives the data directory now and prunes old archives. It returns
// ErrSnapshotInProgress if another snapshot is running.
func (s *Scheduler) RunSnapshot(ctx context.Context) (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.IncSnapshot("skipped")
		return "", ErrSnapshotInProgress
	}
	defer s.running.Store(false)
	return s.snapshot(ctx)
}

// snapshot requires the running flag to be held by the caller.
func (s *Scheduler) snapshot(ctx context.Context) (string, error) {
	at := s.clock.Now()
	if s.beforeSnapshot != nil {
		s.beforeSnapshot()
	}
	started := time.Now()
	dest := filepath.Join(s.backupDir, ArchiveName(at, s.loc))

	fail := func(err error) (string, error) {
		metrics.IncSnapshot("failure")
		return "", fmt.Errorf("%w: %s: %w", ErrSnapshotFailure, dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fail(err)
	}
	entries, err := s.writeArchive(ctx, dest)
	if err != nil {
		return fail(err)
	}
	// The snapshot's own clock orders archives for retention, not the write time.
	if err := os.Chtimes(dest, at, at); err != nil {
		return fail(err)
	}

	deleted, remaining, err := s.catalog.prune(s.Retention())
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "backup.prune_failed").Msg("could not prune all old archives")
	}
	metrics.AddArchivesPruned(deleted)
	metrics.SetArchivesRetained(remaining)
	metrics.IncSnapshot("success")
	metrics.ObserveSnapshot(time.Since(started))

	s.logger.Info().
		Str(xglog.FieldArchive, dest).
		Int("entries", entries).
		Int("pruned", deleted).
		Int("retained", remaining).
		Dur("duration", time.Since(started)).
		Str(xglog.FieldEvent, "backup.snapshot_created").
		Msg("backup snapshot created")
	return dest, nil
}

// Run waits for each hour boundary and starts a snapshot in the background.
// It returns after ctx is cancelled and any running snapshot has finished.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.clock.Now()
	next := s.ComputeNextRun(now)
	s.logger.Info().
		Time("next_run", next).
		Str("timezone", s.loc.String()).
		Int("retention", s.Retention()).
		Msg("backup scheduler started")

	timer := s.clock.NewTimer(next.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("backup scheduler stopping")
			s.wg.Wait()
			return
		case <-timer.C():
			s.trigger(ctx)
			now = s.clock.Now()
			next = s.ComputeNextRun(now)
			timer.Reset(next.Sub(now))
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.IncSnapshot("skipped")
		s.logger.Warn().
			Str(xglog.FieldEvent, "backup.snapshot_skipped").
			Msg("previous snapshot still running, skipping this hour")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.snapshot(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info().Msg("snapshot interrupted by shutdown")
				return
			}
			s.logger.Error().
				Err(err).
				Str(xglog.FieldDataDir, s.dataDir).
				Str(xglog.FieldEvent, "backup.snapshot_failed").
				Msg("backup snapshot failed, waiting for next hour")
		}
	}()
}
