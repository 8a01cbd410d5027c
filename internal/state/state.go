// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package state defines the persisted playback record and its invariants.
package state

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidState classifies records that violate a structural invariant
	// (negative or non-finite numbers, position past a known duration).
	ErrInvalidState = errors.New("invalid playback state")

	// ErrTrackOutOfBounds classifies records whose track index lies outside 1..N.
	// Such a record is well-formed but no longer matches the playlist.
	ErrTrackOutOfBounds = errors.New("track index out of bounds")
)

// ModeFlag names an independent playback mode toggle.
type ModeFlag string

const (
	FlagLoop    ModeFlag = "loop"
	FlagShuffle ModeFlag = "shuffle"
)

// Valid reports whether f is a known mode flag.
func (f ModeFlag) Valid() bool {
	return f == FlagLoop || f == FlagShuffle
}

// ModeSetting is one mode flag plus advisory attribution of its last change.
type ModeSetting struct {
	Enabled   bool      `yaml:"enabled" json:"enabled"`
	ChangedBy string    `yaml:"changed_by" json:"changedBy,omitempty"`
	ChangedAt time.Time `yaml:"changed_at" json:"changedAt,omitempty"`
}

// PlaybackState is the single mutable playback record of a process.
type PlaybackState struct {
	TrackIndex           int         `yaml:"track_index" json:"trackIndex"`
	PositionSeconds      float64     `yaml:"position_seconds" json:"positionSeconds"`
	TotalDurationSeconds *float64    `yaml:"total_duration_seconds,omitempty" json:"totalDurationSeconds,omitempty"`
	SourceName           string      `yaml:"source_name" json:"sourceName"`
	Loop                 ModeSetting `yaml:"loop" json:"loop"`
	Shuffle              ModeSetting `yaml:"shuffle" json:"shuffle"`
	SessionID            string      `yaml:"session_id" json:"sessionId"`
	LastSavedAt          time.Time   `yaml:"last_saved_at" json:"lastSavedAt"`
}

// Defaults are the configured starting values for a fresh record.
type Defaults struct {
	TrackIndex int
	SourceName string
	Loop       bool
	Shuffle    bool
}

// Default builds the record used when no usable prior state exists.
func Default(d Defaults, sessionID string) PlaybackState {
	idx := d.TrackIndex
	if idx < 1 {
		idx = 1
	}
	return PlaybackState{
		TrackIndex: idx,
		SourceName: d.SourceName,
		Loop:       ModeSetting{Enabled: d.Loop, ChangedBy: "default"},
		Shuffle:    ModeSetting{Enabled: d.Shuffle, ChangedBy: "default"},
		SessionID:  sessionID,
	}
}

// Seconds returns a pointer to v, for building known durations.
func Seconds(v float64) *float64 {
	return &v
}

// DurationKnown reports whether the total duration of the current track is known.
func (s PlaybackState) DurationKnown() bool {
	return s.TotalDurationSeconds != nil
}

// Mode returns the setting of flag f.
func (s PlaybackState) Mode(f ModeFlag) ModeSetting {
	if f == FlagShuffle {
		return s.Shuffle
	}
	return s.Loop
}

// WithMode returns a copy of s with flag f replaced by m.
func (s PlaybackState) WithMode(f ModeFlag, m ModeSetting) PlaybackState {
	switch f {
	case FlagLoop:
		s.Loop = m
	case FlagShuffle:
		s.Shuffle = m
	}
	return s
}

// Clone returns a deep copy of s.
func (s PlaybackState) Clone() PlaybackState {
	if s.TotalDurationSeconds != nil {
		s.TotalDurationSeconds = Seconds(*s.TotalDurationSeconds)
	}
	return s
}

// Clamp returns a copy of s that satisfies the position invariants: the position is
// never negative and never exceeds a known duration. Non-finite numbers are treated as
// missing. Clamping never rejects a record.
func (s PlaybackState) Clamp() PlaybackState {
	s = s.Clone()
	if s.TotalDurationSeconds != nil {
		d := *s.TotalDurationSeconds
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			s.TotalDurationSeconds = nil
		}
	}
	if math.IsNaN(s.PositionSeconds) || math.IsInf(s.PositionSeconds, -1) || s.PositionSeconds < 0 {
		s.PositionSeconds = 0
	}
	if s.TotalDurationSeconds != nil && s.PositionSeconds > *s.TotalDurationSeconds {
		s.PositionSeconds = *s.TotalDurationSeconds
	}
	if math.IsInf(s.PositionSeconds, 1) {
		s.PositionSeconds = 0
	}
	return s
}

// CheckStructure validates the invariants that do not depend on the playlist.
func (s PlaybackState) CheckStructure() error {
	if math.IsNaN(s.PositionSeconds) || math.IsInf(s.PositionSeconds, 0) {
		return fmt.Errorf("%w: position is not a finite number", ErrInvalidState)
	}
	if s.PositionSeconds < 0 {
		return fmt.Errorf("%w: negative position %v", ErrInvalidState, s.PositionSeconds)
	}
	if s.TotalDurationSeconds != nil {
		d := *s.TotalDurationSeconds
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return fmt.Errorf("%w: duration %v is not a non-negative finite number", ErrInvalidState, d)
		}
		if s.PositionSeconds > d {
			return fmt.Errorf("%w: position %v exceeds duration %v", ErrInvalidState, s.PositionSeconds, d)
		}
	}
	return nil
}

// CheckBounds validates 1 <= TrackIndex <= playlistLength.
func (s PlaybackState) CheckBounds(playlistLength int) error {
	if s.TrackIndex < 1 || s.TrackIndex > playlistLength {
		return fmt.Errorf("%w: %d not in 1..%d", ErrTrackOutOfBounds, s.TrackIndex, playlistLength)
	}
	return nil
}

// Validate checks every invariant of a committed record.
func (s PlaybackState) Validate(playlistLength int) error {
	if err := s.CheckStructure(); err != nil {
		return err
	}
	return s.CheckBounds(playlistLength)
}
