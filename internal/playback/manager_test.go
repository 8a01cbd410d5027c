// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/playstate/internal/clock"
	"github.com/ManuGH/playstate/internal/state"
	"github.com/ManuGH/playstate/internal/statestore"
	"github.com/ManuGH/playstate/internal/tracker"
)

const playlistLength = 114

// memStore records every committed record.
type memStore struct {
	mu      sync.Mutex
	saves   []state.PlaybackState
	failFor int // fail this many upcoming saves
}

func (s *memStore) Save(_ context.Context, st state.PlaybackState) (state.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor > 0 {
		s.failFor--
		return state.PlaybackState{}, errors.New("disk full")
	}
	st.LastSavedAt = time.Now().UTC()
	s.saves = append(s.saves, st)
	return st, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStore) last() state.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

func seed() state.PlaybackState {
	return state.Default(state.Defaults{TrackIndex: 1}, "session-test")
}

func newManager(store Saver, fc *clock.Fake, cfg Config) *Manager {
	cfg.PlaylistLength = playlistLength
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = 15 * time.Second
	}
	return New(cfg, store, fc, seed())
}

// runLoop starts Run and waits until its timer is armed.
func runLoop(t *testing.T, m *Manager, fc *clock.Fake) (cancel func()) {
	t.Helper()
	before := fc.ActiveTimers()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	require.Eventually(t, func() bool { return fc.ActiveTimers() > before }, time.Second, time.Millisecond)
	return func() {
		cancelCtx()
		<-done
	}
}

func TestReportProgress_PersistsOnCadenceOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := clock.NewFake(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	store := &memStore{}
	m := newManager(store, fc, Config{})
	stop := runLoop(t, m, fc)
	defer stop()

	for i := 1; i <= 10; i++ {
		m.ReportProgress(float64(i), 300)
	}
	assert.Equal(t, 0, store.count(), "progress reports must not write inline")

	fc.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 10.0, store.last().PositionSeconds)
	assert.False(t, m.Pending())

	// Unchanged state is not rewritten on the next tick.
	require.Eventually(t, func() bool { return fc.ActiveTimers() == 1 }, time.Second, time.Millisecond)
	fc.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return fc.ActiveTimers() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.count())
}

func TestReportProgress_ClampsToDuration(t *testing.T) {
	m := newManager(&memStore{}, clock.NewFake(time.Now()), Config{})
	m.ReportProgress(999, 300)
	st := m.Snapshot()
	assert.Equal(t, 300.0, st.PositionSeconds)
	require.NotNil(t, st.TotalDurationSeconds)
	assert.Equal(t, 300.0, *st.TotalDurationSeconds)

	m.ReportProgress(-5, 0)
	assert.Equal(t, 0.0, m.Snapshot().PositionSeconds)
}

func TestAdvanceTrack_PersistsImmediately(t *testing.T) {
	store := &memStore{}
	m := newManager(store, clock.NewFake(time.Now()), Config{})
	m.ReportProgress(120, 300)

	require.NoError(t, m.AdvanceTrack(context.Background(), 2, true))
	require.Equal(t, 1, store.count())
	got := store.last()
	assert.Equal(t, 2, got.TrackIndex)
	assert.Zero(t, got.PositionSeconds)
	assert.Nil(t, got.TotalDurationSeconds)
	assert.False(t, m.Pending())
}

func TestAdvanceTrack_Bounds(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects out of range without loop", func(t *testing.T) {
		store := &memStore{}
		m := newManager(store, clock.NewFake(time.Now()), Config{})
		for _, idx := range []int{0, -1, playlistLength + 1} {
			err := m.AdvanceTrack(ctx, idx, true)
			assert.ErrorIs(t, err, ErrTrackOutOfRange)
		}
		assert.Equal(t, 1, m.Snapshot().TrackIndex)
		assert.Equal(t, 0, store.count())
	})

	t.Run("wraps past the end with loop", func(t *testing.T) {
		store := &memStore{}
		m := newManager(store, clock.NewFake(time.Now()), Config{})
		require.NoError(t, m.SetMode(ctx, state.FlagLoop, true, "alice"))
		require.NoError(t, m.AdvanceTrack(ctx, playlistLength+1, true))
		assert.Equal(t, 1, m.Snapshot().TrackIndex)
		assert.Equal(t, 1, store.last().TrackIndex)
	})

	t.Run("keeps position when asked", func(t *testing.T) {
		m := newManager(&memStore{}, clock.NewFake(time.Now()), Config{})
		m.ReportProgress(42, 0)
		require.NoError(t, m.AdvanceTrack(ctx, 7, false))
		assert.Equal(t, 42.0, m.Snapshot().PositionSeconds)
	})

	t.Run("drops previous track duration when keeping position", func(t *testing.T) {
		store := &memStore{}
		m := newManager(store, clock.NewFake(time.Now()), Config{})
		m.ReportProgress(30, 60)
		require.NoError(t, m.AdvanceTrack(ctx, 2, false))
		assert.Nil(t, store.last().TotalDurationSeconds)

		m.ReportProgress(120, 0)
		got := m.Snapshot()
		assert.Equal(t, 2, got.TrackIndex)
		assert.Equal(t, 120.0, got.PositionSeconds, "not clamped to the previous track's 60s")
		assert.Nil(t, got.TotalDurationSeconds)
	})

	t.Run("same track keeps its duration", func(t *testing.T) {
		m := newManager(&memStore{}, clock.NewFake(time.Now()), Config{})
		m.ReportProgress(30, 60)
		require.NoError(t, m.AdvanceTrack(ctx, 1, false))
		got := m.Snapshot()
		require.NotNil(t, got.TotalDurationSeconds)
		assert.Equal(t, 60.0, *got.TotalDurationSeconds)
		assert.Equal(t, 30.0, got.PositionSeconds)
	})
}

func TestSetMode_RecordsAttribution(t *testing.T) {
	now := time.Date(2026, 10, 18, 20, 15, 0, 0, time.UTC)
	store := &memStore{}
	m := newManager(store, clock.NewFake(now), Config{})

	require.NoError(t, m.SetMode(context.Background(), state.FlagShuffle, true, "bob"))
	require.Equal(t, 1, store.count())
	got := store.last().Shuffle
	assert.True(t, got.Enabled)
	assert.Equal(t, "bob", got.ChangedBy)
	assert.True(t, got.ChangedAt.Equal(now))

	err := m.SetMode(context.Background(), state.ModeFlag("repeat-one"), true, "bob")
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, 1, store.count())
}

func TestSetSource_Persists(t *testing.T) {
	store := &memStore{}
	m := newManager(store, clock.NewFake(time.Now()), Config{})
	require.NoError(t, m.SetSource(context.Background(), "narrator-b"))
	assert.Equal(t, "narrator-b", store.last().SourceName)
}

func TestPersistFailure_RetriedOnNextTick(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := clock.NewFake(time.Now())
	store := &memStore{failFor: 1}
	m := newManager(store, fc, Config{})

	// The immediate write fails; the call itself still succeeds.
	require.NoError(t, m.AdvanceTrack(context.Background(), 5, true))
	assert.Equal(t, 5, m.Snapshot().TrackIndex, "in-memory state stays authoritative")
	assert.True(t, m.Pending())
	assert.Equal(t, 0, store.count())

	stop := runLoop(t, m, fc)
	defer stop()
	fc.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 5, store.last().TrackIndex)
	require.Eventually(t, func() bool { return !m.Pending() }, time.Second, time.Millisecond)
}

func TestShutdown_PersistsUnconditionally(t *testing.T) {
	store := &memStore{}
	m := newManager(store, clock.NewFake(time.Now()), Config{})
	require.NoError(t, m.Flush(context.Background()))
	require.Equal(t, 1, store.count(), "the seed record is written by the first flush")

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 1, store.count())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 2, store.count())
}

func TestRun_SamplesTracker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fc := clock.NewFake(time.Now())
	tr := tracker.New(fc)
	store := &memStore{}
	m := newManager(store, fc, Config{Sampler: tr})

	tr.Start(20)
	stop := runLoop(t, m, fc)
	defer stop()

	fc.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 15.0, store.last().PositionSeconds)

	require.Eventually(t, func() bool { return fc.ActiveTimers() >= 1 }, time.Second, time.Millisecond)
	fc.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 20.0, store.last().PositionSeconds, "sample clamps to the track duration")
}

func TestConcurrentAdvanceAndTick_DiskMatchesAWholeRecord(t *testing.T) {
	fc := clock.NewFake(time.Now())
	path := filepath.Join(t.TempDir(), "playback_state.yaml")
	store := statestore.New(path, statestore.Options{PlaylistLength: playlistLength, Clock: fc})
	m := newManager(store, fc, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 2; i <= 40; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.AdvanceTrack(ctx, i, false))
		}(i)
		go func(i int) {
			defer wg.Done()
			m.ReportProgress(float64(i), 0)
			assert.NoError(t, m.Flush(ctx))
		}(i)
	}
	wg.Wait()
	require.NoError(t, m.Flush(ctx))

	res, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, statestore.StatusOK, res.Status)
	mem := m.Snapshot()
	assert.Equal(t, mem.TrackIndex, res.State.TrackIndex)
	assert.Equal(t, mem.PositionSeconds, res.State.PositionSeconds)
	assert.Equal(t, mem.SessionID, res.State.SessionID)
}
