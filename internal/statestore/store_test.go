// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/playstate/internal/clock"
	"github.com/ManuGH/playstate/internal/state"
)

const testPlaylistLength = 114

var errSimulatedCrash = errors.New("simulated crash")

func newTestStore(t *testing.T, fc *clock.Fake) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playback_state.yaml")
	return New(path, Options{
		PlaylistLength: testPlaylistLength,
		IOTimeout:      2 * time.Second,
		MaxRetries:     1,
		Clock:          fc,
	})
}

func sampleState() state.PlaybackState {
	changed := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	return state.PlaybackState{
		TrackIndex:           12,
		PositionSeconds:      83.25,
		TotalDurationSeconds: state.Seconds(300),
		SourceName:           "narrator-a",
		Loop:                 state.ModeSetting{Enabled: true, ChangedBy: "alice", ChangedAt: changed},
		Shuffle:              state.ModeSetting{Enabled: false, ChangedBy: "default"},
		SessionID:            "0b5d3f7e-6a57-4f5e-9d8f-3c1d2c9e8a11",
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC))
	store := newTestStore(t, fc)
	ctx := context.Background()

	cases := []state.PlaybackState{
		sampleState(),
		{TrackIndex: 1, SessionID: "s"},
		{TrackIndex: testPlaylistLength, PositionSeconds: 1234.5, SourceName: "narrator-b"},
		{TrackIndex: 7, PositionSeconds: 0, TotalDurationSeconds: state.Seconds(0)},
	}

	for i, in := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			committed, err := store.Save(ctx, in)
			require.NoError(t, err)
			assert.False(t, committed.LastSavedAt.IsZero())

			res, err := store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, StatusOK, res.Status, "cause: %v", res.Cause)

			if diff := cmp.Diff(in, res.State, cmpopts.IgnoreFields(state.PlaybackState{}, "LastSavedAt")); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			assert.True(t, committed.LastSavedAt.Equal(res.State.LastSavedAt))
		})
	}
}

func TestSave_ClampsBeforeWrite(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	in := sampleState()
	in.PositionSeconds = 999

	committed, err := store.Save(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 300.0, committed.PositionSeconds)

	res, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, res.State.PositionSeconds)
}

func TestSave_RejectsOutOfBoundsIndex(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	for _, idx := range []int{0, testPlaylistLength + 1} {
		in := sampleState()
		in.TrackIndex = idx
		_, err := store.Save(context.Background(), in)
		require.Error(t, err)
		assert.ErrorIs(t, err, state.ErrTrackOutOfBounds)
	}
	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoad_NotFound(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	res, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.Cause)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
		schema  bool
	}{
		{"garbage", "\x00\x01not yaml at all: [", false},
		{"empty", "", false},
		{"truncated", "schema_version: 1\nstate:\n  track_index: 3\n  position_sec", false},
		{"missing version", "state:\n  track_index: 3\n", false},
		{"unknown field", "schema_version: 1\nstate:\n  track_index: 3\n  volume: 11\n", false},
		{"negative position", "schema_version: 1\nstate:\n  track_index: 3\n  position_seconds: -4\n", false},
		{"newer schema", "schema_version: 2\nstate:\n  track_index: 3\n  lyrics_offset: 4\n", true},
		{"two documents", "schema_version: 1\nstate:\n  track_index: 3\n---\nschema_version: 1\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, clock.NewFake(time.Now()))
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.content), 0o600))

			res, err := store.Load(context.Background())
			require.NoError(t, err)
			require.Equal(t, StatusCorrupt, res.Status)
			assert.ErrorIs(t, res.Cause, ErrCorruptState)

			var ce *CorruptError
			require.ErrorAs(t, res.Cause, &ce)
			assert.Equal(t, store.Path(), ce.Path)
			assert.Equal(t, tt.schema, errors.Is(res.Cause, ErrUnsupportedSchema))
		})
	}
}

func TestLoad_RetriesTransientReadErrors(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "playback_state.yaml")
	store := New(path, Options{
		PlaylistLength: testPlaylistLength,
		IOTimeout:      2 * time.Second,
		MaxRetries:     3,
		Clock:          fc,
	})
	_, err := store.Save(context.Background(), sampleState())
	require.NoError(t, err)

	errIO := errors.New("input/output error")
	calls := 0
	store.hooks.readFile = func(p string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errIO
		}
		return os.ReadFile(p)
	}

	res, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status, "cause: %v", res.Cause)
	assert.Equal(t, 2, calls)

	calls = 0
	store.hooks.readFile = func(string) ([]byte, error) {
		calls++
		return nil, errIO
	}
	res, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCorrupt, res.Status)
	assert.ErrorIs(t, res.Cause, ErrCorruptState)
	assert.ErrorIs(t, res.Cause, errIO)
	assert.Equal(t, 3, calls, "gives up after MaxRetries attempts")
}

func TestLoad_NotFoundIsNotRetried(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	store.opts.MaxRetries = 3
	calls := 0
	store.hooks.readFile = func(p string) ([]byte, error) {
		calls++
		return os.ReadFile(p)
	}

	res, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, 1, calls)
}

func TestLoad_CancelledContext(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSave_CrashBeforeRenameLeavesTargetUnchanged(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx := context.Background()

	_, err := store.Save(ctx, sampleState())
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var tmpSeen string
	store.hooks.beforeRename = func(tmpPath string) error {
		tmpSeen = tmpPath
		// The fully written temp file sits next to the target at this point.
		data, rerr := os.ReadFile(tmpPath)
		require.NoError(t, rerr)
		require.Contains(t, string(data), "track_index: 99")
		return errSimulatedCrash
	}

	next := sampleState()
	next.TrackIndex = 99
	_, err = store.Save(ctx, next)
	require.ErrorIs(t, err, errSimulatedCrash)
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Equal(t, filepath.Dir(store.Path()), filepath.Dir(tmpSeen))

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	res, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, res.State.TrackIndex)
}

func TestSave_StrayTempFileIgnoredByLoad(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx := context.Background()
	_, err := store.Save(ctx, sampleState())
	require.NoError(t, err)

	// A process killed between write and rename leaves only a temp file behind.
	stray := filepath.Join(filepath.Dir(store.Path()), ".playback_state.yaml12345")
	require.NoError(t, os.WriteFile(stray, []byte("schema_version: 1\nstate:\n  track_index: 5"), 0o600))

	res, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 12, res.State.TrackIndex)
}

func TestSave_AfterRenameTargetFullyUpdated(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx := context.Background()
	_, err := store.Save(ctx, sampleState())
	require.NoError(t, err)

	next := sampleState()
	next.TrackIndex = 13
	next.PositionSeconds = 1
	next.SourceName = "narrator-b"
	committed, err := store.Save(ctx, next)
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	st, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(committed, st); diff != "" {
		t.Errorf("on-disk record mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may remain after a commit")
}

func TestSave_VerifyFailureDiscardsTemp(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx := context.Background()
	_, err := store.Save(ctx, sampleState())
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	store.hooks.afterWrite = func(f *os.File) error {
		// Simulate a torn write: the tail of the record never reached the file.
		return f.Truncate(20)
	}

	next := sampleState()
	next.TrackIndex = 50
	_, err = store.Save(ctx, next)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptState)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSave_LastSavedAtMonotonic(t *testing.T) {
	start := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	store := newTestStore(t, fc)
	ctx := context.Background()

	first, err := store.Save(ctx, sampleState())
	require.NoError(t, err)

	fc.Set(start.Add(-time.Hour)) // wall clock stepped back (NTP correction)
	second, err := store.Save(ctx, sampleState())
	require.NoError(t, err)
	assert.False(t, second.LastSavedAt.Before(first.LastSavedAt))

	fc.Set(start.Add(time.Minute))
	third, err := store.Save(ctx, sampleState())
	require.NoError(t, err)
	assert.True(t, third.LastSavedAt.After(second.LastSavedAt))
}

func TestSave_LockTimeout(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	store.opts.IOTimeout = 50 * time.Millisecond

	// A second Store on the same path shares the lock.
	other := New(store.Path(), Options{PlaylistLength: testPlaylistLength})
	require.NoError(t, other.entry.acquire(context.Background()))
	defer other.entry.release()

	_, err := store.Save(context.Background(), sampleState())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestSave_ConcurrentWritersNeverMix(t *testing.T) {
	store := newTestStore(t, clock.NewFake(time.Now()))
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := state.PlaybackState{
				TrackIndex:      i,
				PositionSeconds: float64(i),
				SourceName:      fmt.Sprintf("source-%d", i),
				SessionID:       fmt.Sprintf("session-%d", i),
			}
			_, err := store.Save(ctx, st)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	res, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	got := res.State
	assert.Equal(t, float64(got.TrackIndex), got.PositionSeconds)
	assert.Equal(t, fmt.Sprintf("source-%d", got.TrackIndex), got.SourceName)
	assert.Equal(t, fmt.Sprintf("session-%d", got.TrackIndex), got.SessionID)
}

func TestQuarantine(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 10, 18, 14, 5, 6, 0, time.UTC))
	store := newTestStore(t, fc)
	require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0o600))

	dest, err := store.Quarantine(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dest, ".corrupt-20261018T140506Z"))
	_, err = os.Stat(dest)
	require.NoError(t, err)

	res, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)

	dest, err = store.Quarantine(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dest)
}
