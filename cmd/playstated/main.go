// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command playstated keeps playback state across restarts and takes hourly backups.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/playstate/internal/api"
	"github.com/ManuGH/playstate/internal/backup"
	"github.com/ManuGH/playstate/internal/config"
	"github.com/ManuGH/playstate/internal/daemon"
	"github.com/ManuGH/playstate/internal/engine"
	"github.com/ManuGH/playstate/internal/health"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "playstated",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := resolveConfigPath(*configPath)
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "playstated",
		Version: cfg.Version,
	})

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("config_path", path).
		Str(xglog.FieldDataDir, cfg.DataDir).
		Str(xglog.FieldPath, cfg.StatePath()).
		Int("playlist_length", cfg.Playback.PlaylistLength).
		Bool("backups", cfg.Backup.Enabled).
		Msg("starting playstated")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	eng, err := engine.New(cfg, nil)
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "engine.init_failed").Msg("failed to build engine")
	}

	d, err := eng.Recover(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "recovery.failed").Msg("startup recovery failed")
	}
	logger.Info().
		Str(xglog.FieldEvent, "recovery.decided").
		Str(xglog.FieldAction, string(d.Action)).
		Str(xglog.FieldOrigin, string(d.Origin)).
		Int(xglog.FieldTrackIndex, d.TrackIndex).
		Float64(xglog.FieldPosition, d.PositionSeconds).
		Msg("resume decision ready")

	var handler http.Handler
	if cfg.API.Enabled {
		hm := health.NewManager(version.Version, nil)
		hm.RegisterChecker(health.NewRecoveryChecker(eng.Decision))
		hm.RegisterChecker(health.NewFileChecker("state_file", cfg.StatePath()))
		var list func() ([]backup.Archive, error)
		if eng.BackupsEnabled() {
			list = eng.Backups
		}
		hm.RegisterChecker(health.NewBackupChecker(list, nil, 2*time.Hour))

		handler = api.NewRouter(eng, api.Options{
			SnapshotsPerMinute: cfg.API.SnapshotsPerMinute,
			Health:             hm,
		})
	}

	app, err := daemon.NewApp(daemon.Deps{
		Logger:     logger,
		Engine:     eng,
		Config:     config.NewHolder(cfg, loader),
		APIHandler: handler,
		ListenAddr: cfg.API.ListenAddr,
	})
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "app.creation_failed").Msg("failed to create daemon app")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "app.failed").
			Msg("daemon app failed")
	}
	logger.Info().Str(xglog.FieldEvent, "shutdown").Msg("playstated exiting")
}

// resolveConfigPath prefers an explicit path and otherwise picks up
// ${PLAYSTATE_DATA_DIR}/config.yaml when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.Defaults().DataDir))
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}
