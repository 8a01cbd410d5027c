// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tracker turns a playback start marker plus the wall clock into a
// bounded elapsed position.
package tracker

import (
	"sync"
	"time"

	"github.com/ManuGH/playstate/internal/clock"
)

// Tracker measures elapsed playback time for one track at a time.
// Samples never exceed a known positive duration.
type Tracker struct {
	mu       sync.Mutex
	clock    clock.Clock
	startAt  time.Time
	offset   float64 // seconds already played before startAt
	duration float64 // <= 0 means unknown
	running  bool
	paused   bool
	last     float64
}

// New creates a Tracker that reads time from clk.
func New(clk clock.Clock) *Tracker {
	return &Tracker{clock: clock.OrReal(clk)}
}

// Start begins a tracking epoch at the current time. A durationHint <= 0 means
// the duration is not known yet.
func (t *Tracker) Start(durationHint float64) {
	t.StartAt(0, durationHint)
}

// StartAt begins an epoch for a track resumed at offset seconds.
func (t *Tracker) StartAt(offset, durationHint float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	t.startAt = t.clock.Now()
	t.offset = offset
	t.duration = durationHint
	t.running = true
	t.paused = false
	t.last = t.clampLocked(offset)
}

// SetDuration records a duration that became known after Start. Only samples
// taken from now on are clamped by it.
func (t *Tracker) SetDuration(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
}

// Duration returns the duration hint, or 0 when unknown.
func (t *Tracker) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.duration <= 0 {
		return 0
	}
	return t.duration
}

// Sample returns the current position: elapsed time clamped to the duration when
// it is known and positive, raw elapsed time otherwise.
func (t *Tracker) Sample() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleLocked()
}

// Stop ends the epoch and returns the final sample. Later samples keep returning it.
func (t *Tracker) Stop() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := t.sampleLocked()
	t.running = false
	t.paused = false
	return pos
}

// Pause freezes the position until Resume.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.paused {
		return
	}
	t.last = t.sampleLocked()
	t.paused = true
}

// Resume continues a paused epoch from the frozen position.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || !t.paused {
		return
	}
	t.offset = t.last
	t.startAt = t.clock.Now()
	t.paused = false
}

// Running reports whether an epoch is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// sampleLocked requires t.mu.
func (t *Tracker) sampleLocked() float64 {
	if !t.running || t.paused {
		t.last = t.clampLocked(t.last)
		return t.last
	}
	elapsed := t.offset + t.clock.Now().Sub(t.startAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	t.last = t.clampLocked(elapsed)
	return t.last
}

func (t *Tracker) clampLocked(pos float64) float64 {
	if t.duration > 0 && pos > t.duration {
		return t.duration
	}
	return pos
}

// Completed reports whether position lies within window of a known total duration.
// Such a track counts as finished: resuming it would only replay its last seconds.
func Completed(position float64, total *float64, window time.Duration) bool {
	if total == nil || *total <= 0 {
		return false
	}
	return *total-position <= window.Seconds()
}
