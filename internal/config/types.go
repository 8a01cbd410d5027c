// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for playstate.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/playstate/internal/state"
)

// AppConfig is the single configuration value object handed to every component.
type AppConfig struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	Playback PlaybackConfig `yaml:"playback"`
	Backup   BackupConfig   `yaml:"backup"`
	API      APIConfig      `yaml:"api"`
}

// PlaybackConfig configures state persistence and the resume rules.
type PlaybackConfig struct {
	// StateFile is relative to DataDir.
	StateFile         string        `yaml:"stateFile"`
	PlaylistLength    int           `yaml:"playlistLength"`
	DefaultTrackIndex int           `yaml:"defaultTrackIndex"`
	DefaultSource     string        `yaml:"defaultSource"`
	DefaultLoop       bool          `yaml:"defaultLoop"`
	DefaultShuffle    bool          `yaml:"defaultShuffle"`
	ReportInterval    time.Duration `yaml:"reportInterval"`
	CompletionWindow  time.Duration `yaml:"completionWindow"`
	IOTimeout         time.Duration `yaml:"ioTimeout"`
}

// BackupConfig configures hourly data directory snapshots.
type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Dir is resolved against DataDir when relative.
	Dir       string `yaml:"dir"`
	Retention int    `yaml:"retention"`
	Timezone  string `yaml:"timezone"`
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
	// SnapshotsPerMinute limits on-demand snapshot requests.
	SnapshotsPerMinute int `yaml:"snapshotsPerMinute"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		Playback: PlaybackConfig{
			StateFile:         "playback_state.yaml",
			PlaylistLength:    114,
			DefaultTrackIndex: 1,
			ReportInterval:    15 * time.Second,
			CompletionWindow:  10 * time.Second,
			IOTimeout:         5 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:   true,
			Dir:       "backups",
			Retention: 24,
			Timezone:  "UTC",
		},
		API: APIConfig{
			Enabled:            true,
			ListenAddr:         "127.0.0.1:8089",
			SnapshotsPerMinute: 2,
		},
	}
}

// StatePath is the absolute path of the state file.
func (c AppConfig) StatePath() string {
	return filepath.Join(c.DataDir, c.Playback.StateFile)
}

// BackupDir is the absolute backup directory.
func (c AppConfig) BackupDir() string {
	if filepath.IsAbs(c.Backup.Dir) {
		return filepath.Clean(c.Backup.Dir)
	}
	return filepath.Join(c.DataDir, c.Backup.Dir)
}

// Location loads the backup timezone.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Backup.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: backup timezone %q: %w", ErrInvalidConfig, c.Backup.Timezone, err)
	}
	return loc, nil
}

// StateDefaults are the values a fresh record starts from.
func (c AppConfig) StateDefaults() state.Defaults {
	return state.Defaults{
		TrackIndex: c.Playback.DefaultTrackIndex,
		SourceName: c.Playback.DefaultSource,
		Loop:       c.Playback.DefaultLoop,
		Shuffle:    c.Playback.DefaultShuffle,
	}
}
