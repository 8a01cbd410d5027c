// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the long-running process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/playstate/internal/config"
	xglog "github.com/ManuGH/playstate/internal/log"
)

const shutdownTimeout = 10 * time.Second

// Engine is the part of engine.Engine the daemon drives.
type Engine interface {
	Run(ctx context.Context) error
	ApplyConfig(cfg config.AppConfig)
}

// Deps are the collaborators of an App.
type Deps struct {
	Logger     zerolog.Logger
	Engine     Engine
	Config     *config.Holder // optional; enables hot reload
	APIHandler http.Handler   // optional; nil disables the HTTP server
	ListenAddr string
}

// App runs the engine, the HTTP server and the config reload wiring until its
// context is cancelled.
type App struct {
	deps         Deps
	logger       zerolog.Logger
	reloadSignal os.Signal

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// NewApp validates deps and creates an App.
func NewApp(deps Deps) (*App, error) {
	if deps.Engine == nil {
		return nil, ErrMissingEngine
	}
	if deps.APIHandler != nil && deps.ListenAddr == "" {
		return nil, ErrMissingListenAddr
	}
	return &App{
		deps:         deps,
		logger:       deps.Logger,
		reloadSignal: syscall.SIGHUP,
		ready:        make(chan struct{}),
	}, nil
}

// Ready is closed once the HTTP listener is bound, or immediately when the API is disabled.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound HTTP address, or nil before Ready or without an API.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run starts all owned subsystems and blocks until ctx is cancelled or one of them fails.
// The engine always completes its final persist before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.deps.Config != nil {
		if err := a.deps.Config.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		a.startReloadWiring(ctx, g)
	}

	g.Go(func() error {
		return a.deps.Engine.Run(ctx)
	})

	if a.deps.APIHandler == nil {
		close(a.ready)
	} else {
		ln, err := net.Listen("tcp", a.deps.ListenAddr)
		if err != nil {
			close(a.ready)
			startErr := fmt.Errorf("%w: %w", ErrServerStartFailed, err)
			g.Go(func() error { return startErr })
			return a.wait(g)
		}
		a.mu.Lock()
		a.addr = ln.Addr()
		a.mu.Unlock()
		close(a.ready)

		srv := &http.Server{
			Handler:           a.deps.APIHandler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		a.logger.Info().
			Str(xglog.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP API listening")

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%w: %w", ErrServerStartFailed, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "api.shutdown_failed").Msg("HTTP server shutdown incomplete")
			}
			return nil
		})
	}

	return a.wait(g)
}

func (a *App) wait(g *errgroup.Group) error {
	err := g.Wait()
	if a.deps.Config != nil {
		a.deps.Config.Wait()
	}
	return err
}

// startReloadWiring applies every config swap to the engine and the logger, and
// turns SIGHUP into a manual reload.
func (a *App) startReloadWiring(ctx context.Context, g *errgroup.Group) {
	applyCh := make(chan config.AppConfig, 1)
	a.deps.Config.RegisterListener(applyCh)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-applyCh:
				a.apply(cfg)
			}
		}
	})

	if a.reloadSignal == nil {
		return
	}
	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.logger.Info().
					Str(xglog.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")

				if err := a.deps.Config.Reload(ctx); err != nil {
					a.logger.Warn().
						Err(err).
						Str(xglog.FieldEvent, "config.reload_failed").
						Msg("config reload failed")
				}
			}
		}
	})
}

func (a *App) apply(cfg config.AppConfig) {
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "playstated",
		Version: cfg.Version,
	})
	a.deps.Engine.ApplyConfig(cfg)
	a.logger.Info().Str(xglog.FieldEvent, "config.applied").Msg("applied reloaded configuration")
}
