// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/playstate/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("dataDir", cfg.DataDir, false)
	v.OneOf("logLevel", cfg.LogLevel, logLevels)

	p := cfg.Playback
	v.LocalPath("playback.stateFile", p.StateFile)
	v.Positive("playback.playlistLength", p.PlaylistLength)
	v.Range("playback.defaultTrackIndex", p.DefaultTrackIndex, 1, max(p.PlaylistLength, 1))
	v.MinDuration("playback.reportInterval", p.ReportInterval, time.Second)
	v.MinDuration("playback.completionWindow", p.CompletionWindow, 0)
	v.MinDuration("playback.ioTimeout", p.IOTimeout, 100*time.Millisecond)

	if cfg.Backup.Enabled {
		v.Positive("backup.retention", cfg.Backup.Retention)
		v.Timezone("backup.timezone", cfg.Backup.Timezone)
		v.NotEmpty("backup.dir", cfg.Backup.Dir)
		if filepath.Clean(cfg.BackupDir()) == filepath.Clean(cfg.DataDir) {
			v.AddError("backup.dir", "must differ from dataDir", cfg.Backup.Dir)
		}
	}

	if cfg.API.Enabled {
		v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
		v.Positive("api.snapshotsPerMinute", cfg.API.SnapshotsPerMinute)
	}

	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
