// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playstate/internal/log"
)

// Environment keys. Each overrides the file value of the same option.
const (
	EnvDataDir            = "PLAYSTATE_DATA_DIR"
	EnvLogLevel           = "PLAYSTATE_LOG_LEVEL"
	EnvStateFile          = "PLAYSTATE_STATE_FILE"
	EnvPlaylistLength     = "PLAYSTATE_PLAYLIST_LENGTH"
	EnvDefaultTrack       = "PLAYSTATE_DEFAULT_TRACK"
	EnvDefaultSource      = "PLAYSTATE_DEFAULT_SOURCE"
	EnvDefaultLoop        = "PLAYSTATE_DEFAULT_LOOP"
	EnvDefaultShuffle     = "PLAYSTATE_DEFAULT_SHUFFLE"
	EnvReportInterval     = "PLAYSTATE_REPORT_INTERVAL"
	EnvCompletionWindow   = "PLAYSTATE_COMPLETION_WINDOW"
	EnvIOTimeout          = "PLAYSTATE_IO_TIMEOUT"
	EnvBackupEnabled      = "PLAYSTATE_BACKUP_ENABLED"
	EnvBackupDir          = "PLAYSTATE_BACKUP_DIR"
	EnvBackupRetention    = "PLAYSTATE_BACKUP_RETENTION"
	EnvBackupTimezone     = "PLAYSTATE_BACKUP_TIMEZONE"
	EnvAPIEnabled         = "PLAYSTATE_API_ENABLED"
	EnvListenAddr         = "PLAYSTATE_LISTEN_ADDR"
	EnvSnapshotsPerMinute = "PLAYSTATE_SNAPSHOTS_PER_MINUTE"
)

// parseEnv reads key and converts it with parse. Unset or empty variables and
// unparsable values yield defaultValue; every outcome is logged at debug level,
// parse failures at warn.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	logEnvValue(logger, key, parsed)
	return parsed
}

func logEnvValue(logger zerolog.Logger, key string, value any) {
	lowerKey := strings.ToLower(key)
	evt := logger.Debug().Str("key", key).Str("source", "environment")
	if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
		evt = evt.Bool("sensitive", true)
	} else {
		evt = evt.Interface("value", value)
	}
	evt.Msg("using environment variable")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseDuration reads a duration in Go duration format (e.g. "15s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}
