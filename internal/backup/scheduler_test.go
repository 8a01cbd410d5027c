// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/playstate/internal/clock"
)

type fixture struct {
	dataDir   string
	backupDir string
	clock     *clock.Fake
	sched     *Scheduler
}

func newFixture(t *testing.T, start time.Time, retention int) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		dataDir:   filepath.Join(root, "data"),
		backupDir: filepath.Join(root, "backups"),
		clock:     clock.NewFake(start),
	}
	require.NoError(t, os.MkdirAll(f.dataDir, 0o750))
	writeFile(t, filepath.Join(f.dataDir, "playback_state.yaml"), "schema_version: 1\n")

	sched, err := NewScheduler(Config{
		DataDir:   f.dataDir,
		BackupDir: f.backupDir,
		Retention: retention,
		Location:  time.UTC,
	}, f.clock)
	require.NoError(t, err)
	f.sched = sched
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func zipEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = data
	}
	return out
}

func archiveNames(t *testing.T, c *Catalog) []string {
	t.Helper()
	list, err := c.List()
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, a := range list {
		names = append(names, a.Name)
	}
	return names
}

func TestNewScheduler_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing data dir", Config{BackupDir: dir, Retention: 1}},
		{"missing backup dir", Config{DataDir: dir, Retention: 1}},
		{"zero retention", Config{DataDir: dir, BackupDir: filepath.Join(dir, "b"), Retention: 0}},
		{"same dirs", Config{DataDir: dir, BackupDir: dir, Retention: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.cfg, nil)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestComputeNextRun_UsesLocation(t *testing.T) {
	kolkata := mustLoad(t, "Asia/Kolkata")
	sched, err := NewScheduler(Config{
		DataDir:   t.TempDir(),
		BackupDir: t.TempDir(),
		Retention: 24,
		Location:  kolkata,
	}, nil)
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 10, 15, 0, 0, time.UTC)
	next := sched.ComputeNextRun(now)
	assert.True(t, next.Equal(time.Date(2026, 10, 18, 10, 30, 0, 0, time.UTC)))
}

func TestRunSnapshot_ArchiveContents(t *testing.T) {
	start := time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC)
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	backupDir := filepath.Join(dataDir, "backups") // nested on purpose

	writeFile(t, filepath.Join(dataDir, "playback_state.yaml"), "schema_version: 1\ntrack_index: 4\n")
	writeFile(t, filepath.Join(dataDir, "sub", "notes.txt"), "hello")
	writeFile(t, filepath.Join(dataDir, ".playback_state.yaml123"), "pending temp file")
	writeFile(t, filepath.Join(dataDir, ".cache", "blob"), "hidden dir")
	writeFile(t, filepath.Join(dataDir, "cache.sqlite-wal"), "sidecar")
	writeFile(t, filepath.Join(backupDir, "old.txt"), "must not nest")

	dbPath := filepath.Join(dataDir, "library.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE plays (track INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO plays (track) VALUES (1), (2), (3)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	sched, err := NewScheduler(Config{
		DataDir:   dataDir,
		BackupDir: backupDir,
		Retention: 24,
		Location:  time.UTC,
	}, clock.NewFake(start))
	require.NoError(t, err)

	dest, err := sched.RunSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(backupDir, "10", "18 - 01PM.zip"), dest)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(start))

	entries := zipEntries(t, dest)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"library.db", "playback_state.yaml", "sub/notes.txt"}, names)
	assert.Equal(t, "schema_version: 1\ntrack_index: 4\n", string(entries["playback_state.yaml"]))

	// The archived database must open and hold the committed rows.
	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restored, entries["library.db"], 0o600))
	rdb, err := sql.Open("sqlite", restored)
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()
	var n int
	require.NoError(t, rdb.QueryRow(`SELECT COUNT(*) FROM plays`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestRunSnapshot_Retention(t *testing.T) {
	start := time.Date(2026, 10, 31, 22, 0, 0, 0, time.UTC)
	f := newFixture(t, start, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.sched.RunSnapshot(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	assert.Equal(t, []string{
		"11/01 - 02AM.zip",
		"11/01 - 01AM.zip",
		"11/01 - 12AM.zip",
	}, archiveNames(t, f.sched.Catalog()))

	_, err := os.Stat(filepath.Join(f.backupDir, "10"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "emptied month directory should be removed")
}

func TestSetRetention_AppliesOnNextSnapshot(t *testing.T) {
	f := newFixture(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), 5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.sched.RunSnapshot(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}
	require.Len(t, archiveNames(t, f.sched.Catalog()), 4)

	f.sched.SetRetention(0) // ignored
	assert.Equal(t, 5, f.sched.Retention())

	f.sched.SetRetention(2)
	_, err := f.sched.RunSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10/18 - 12PM.zip", "10/18 - 11AM.zip"}, archiveNames(t, f.sched.Catalog()))
}

func TestRunSnapshot_SameHourReplacesArchive(t *testing.T) {
	f := newFixture(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), 24)
	ctx := context.Background()

	_, err := f.sched.RunSnapshot(ctx)
	require.NoError(t, err)
	writeFile(t, filepath.Join(f.dataDir, "playback_state.yaml"), "schema_version: 1\ntrack_index: 9\n")
	f.clock.Advance(10 * time.Minute)
	dest, err := f.sched.RunSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"10/18 - 08AM.zip"}, archiveNames(t, f.sched.Catalog()))
	assert.Contains(t, string(zipEntries(t, dest)["playback_state.yaml"]), "track_index: 9")
}

func TestRunSnapshot_RejectsConcurrentRequest(t *testing.T) {
	f := newFixture(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), 24)
	started := make(chan struct{})
	release := make(chan struct{})
	f.sched.beforeSnapshot = func() {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.sched.RunSnapshot(context.Background())
		done <- err
	}()
	<-started

	_, err := f.sched.RunSnapshot(context.Background())
	require.ErrorIs(t, err, ErrSnapshotInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRun_SnapshotsEachHourAndSkipsOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, time.Date(2026, 10, 18, 10, 59, 0, 0, time.UTC), 24)
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	f.sched.beforeSnapshot = func() {
		started <- struct{}{}
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.sched.Run(ctx)
	}()

	armed := func() bool { return f.clock.ActiveTimers() == 1 }
	require.Eventually(t, armed, time.Second, time.Millisecond)

	f.clock.Advance(time.Minute) // 11:00
	<-started
	require.Eventually(t, armed, time.Second, time.Millisecond)

	f.clock.Advance(time.Hour) // 12:00 while the 11:00 snapshot still runs
	require.Eventually(t, func() bool { return f.sched.skipped.Load() == 1 }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return !f.sched.running.Load() }, time.Second, time.Millisecond)
	require.Eventually(t, armed, time.Second, time.Millisecond)

	f.clock.Advance(time.Hour) // 13:00
	<-started
	require.Eventually(t, func() bool {
		return len(archiveNames(t, f.sched.Catalog())) == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	assert.Equal(t, []string{"10/18 - 01PM.zip", "10/18 - 11AM.zip"}, archiveNames(t, f.sched.Catalog()))
}

func TestCatalog_FindFileFallsBackToOlderArchive(t *testing.T) {
	f := newFixture(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), 24)
	ctx := context.Background()

	writeFile(t, filepath.Join(f.dataDir, "playback_state.yaml"), "good")
	older, err := f.sched.RunSnapshot(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	writeFile(t, filepath.Join(f.dataDir, "playback_state.yaml"), "bad")
	_, err = f.sched.RunSnapshot(ctx)
	require.NoError(t, err)

	var seen []string
	archive, err := f.sched.Catalog().FindFile(ctx, "playback_state.yaml", func(_ string, data []byte) error {
		seen = append(seen, string(data))
		if string(data) != "good" {
			return errors.New("unusable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, older, archive)
	assert.Equal(t, []string{"bad", "good"}, seen)

	_, err = f.sched.Catalog().FindFile(ctx, "missing.yaml", func(string, []byte) error { return nil })
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCatalog_ListMissingDir(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "nope"))
	list, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
