// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// ConfigPath returns the file this loader reads, empty for ENV-only configuration.
func (l *Loader) ConfigPath() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing: unknown fields,
// multiple documents and trailing content are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies PLAYSTATE_* overrides; the current value is each key's default.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)

	p := &cfg.Playback
	p.StateFile = l.envString(EnvStateFile, p.StateFile)
	p.PlaylistLength = l.envInt(EnvPlaylistLength, p.PlaylistLength)
	p.DefaultTrackIndex = l.envInt(EnvDefaultTrack, p.DefaultTrackIndex)
	p.DefaultSource = l.envString(EnvDefaultSource, p.DefaultSource)
	p.DefaultLoop = l.envBool(EnvDefaultLoop, p.DefaultLoop)
	p.DefaultShuffle = l.envBool(EnvDefaultShuffle, p.DefaultShuffle)
	p.ReportInterval = l.envDuration(EnvReportInterval, p.ReportInterval)
	p.CompletionWindow = l.envDuration(EnvCompletionWindow, p.CompletionWindow)
	p.IOTimeout = l.envDuration(EnvIOTimeout, p.IOTimeout)

	b := &cfg.Backup
	b.Enabled = l.envBool(EnvBackupEnabled, b.Enabled)
	b.Dir = l.envString(EnvBackupDir, b.Dir)
	b.Retention = l.envInt(EnvBackupRetention, b.Retention)
	b.Timezone = l.envString(EnvBackupTimezone, b.Timezone)

	a := &cfg.API
	a.Enabled = l.envBool(EnvAPIEnabled, a.Enabled)
	a.ListenAddr = l.envString(EnvListenAddr, a.ListenAddr)
	a.SnapshotsPerMinute = l.envInt(EnvSnapshotsPerMinute, a.SnapshotsPerMinute)
}

// LoadFileConfig loads a YAML config file over the defaults without env overrides
// or validation.
func LoadFileConfig(path string) (AppConfig, error) {
	cfg := Defaults()
	err := NewLoader(path, "").loadFile(path, &cfg)
	return cfg, err
}
