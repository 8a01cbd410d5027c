// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the engine to an out-of-process controller and to operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/playstate/internal/backup"
	"github.com/ManuGH/playstate/internal/health"
	xglog "github.com/ManuGH/playstate/internal/log"
	"github.com/ManuGH/playstate/internal/recovery"
	"github.com/ManuGH/playstate/internal/state"
	"github.com/ManuGH/playstate/internal/version"
)

const maxBodyBytes = 64 << 10

// Engine is the part of engine.Engine the HTTP surface drives.
type Engine interface {
	Decision() (recovery.ResumeDecision, error)
	State() (state.PlaybackState, error)
	Pending() bool
	ReportProgress(position, totalDuration float64) error
	AdvanceTrack(ctx context.Context, newIndex int, resetPosition bool) error
	SetMode(ctx context.Context, flag state.ModeFlag, enabled bool, actor string) error
	SetSource(ctx context.Context, name string) error
	Snapshot(ctx context.Context) (string, error)
	Backups() ([]backup.Archive, error)
	NextBackup() (time.Time, error)
}

// Options configures the router.
type Options struct {
	SnapshotsPerMinute int
	// Health serves /healthz and /readyz. When nil only the recovery check is registered.
	Health *health.Manager
}

type server struct {
	eng Engine
}

// NewRouter builds the operator HTTP handler.
func NewRouter(eng Engine, opts Options) http.Handler {
	if opts.SnapshotsPerMinute <= 0 {
		opts.SnapshotsPerMinute = 2
	}
	if opts.Health == nil {
		opts.Health = health.NewManager(version.Version, nil)
		opts.Health.RegisterChecker(health.NewRecoveryChecker(eng.Decision))
	}
	s := &server{eng: eng}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(recoverer)

	r.Get("/healthz", opts.Health.ServeHealth)
	r.Get("/readyz", opts.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/progress", s.handleProgress)
		r.Post("/advance", s.handleAdvance)
		r.Post("/mode", s.handleMode)
		r.Post("/source", s.handleSource)
		r.Get("/backups", s.handleListBackups)
		r.With(snapshotRateLimit(opts.SnapshotsPerMinute)).Post("/backups", s.handleSnapshot)
	})
	return r
}

func requestIDOf(r *http.Request) string {
	return xglog.RequestIDFromContext(r.Context())
}

// decodeBody strictly decodes a single JSON object into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing content")
	}
	return nil
}

type decisionView struct {
	Action      recovery.Action `json:"action"`
	Origin      recovery.Origin `json:"origin"`
	Fallback    bool            `json:"fallback"`
	Archive     string          `json:"archive,omitempty"`
	Quarantined string          `json:"quarantined,omitempty"`
	Cause       string          `json:"cause,omitempty"`
}

type stateResponse struct {
	State    state.PlaybackState `json:"state"`
	Pending  bool                `json:"pending"`
	Decision decisionView        `json:"decision"`
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.State()
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.eng.Decision()
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := decisionView{
		Action:      d.Action,
		Origin:      d.Origin,
		Fallback:    d.Fallback(),
		Archive:     d.Archive,
		Quarantined: d.Quarantined,
	}
	if d.Cause != nil {
		view.Cause = d.Cause.Error()
	}
	writeJSON(w, http.StatusOK, stateResponse{State: st, Pending: s.eng.Pending(), Decision: view})
}

func (s *server) writeState(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.State()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type progressRequest struct {
	PositionSeconds      float64 `json:"positionSeconds"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.eng.ReportProgress(req.PositionSeconds, req.TotalDurationSeconds); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type advanceRequest struct {
	TrackIndex    int   `json:"trackIndex"`
	ResetPosition *bool `json:"resetPosition"`
}

func (s *server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	reset := true
	if req.ResetPosition != nil {
		reset = *req.ResetPosition
	}
	if err := s.eng.AdvanceTrack(r.Context(), req.TrackIndex, reset); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r)
}

type modeRequest struct {
	Mode    state.ModeFlag `json:"mode"`
	Enabled bool           `json:"enabled"`
	Actor   string         `json:"actor"`
}

func (s *server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	if err := s.eng.SetMode(r.Context(), req.Mode, req.Enabled, req.Actor); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r)
}

type sourceRequest struct {
	Name string `json:"name"`
}

func (s *server) handleSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.eng.SetSource(r.Context(), req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r)
}

type backupsResponse struct {
	Archives []backup.Archive `json:"archives"`
	NextRun  time.Time        `json:"nextRun"`
}

func (s *server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.Backups()
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := s.eng.NextBackup()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []backup.Archive{}
	}
	writeJSON(w, http.StatusOK, backupsResponse{Archives: list, NextRun: next})
}

type snapshotResponse struct {
	Archive string `json:"archive"`
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	archive, err := s.eng.Snapshot(r.Context())
	if err != nil {
		xglog.FromContext(r.Context()).Warn().Err(err).Str(xglog.FieldEvent, "api.snapshot_failed").Msg("on-demand snapshot failed")
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshotResponse{Archive: archive})
}
