// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ManuGH/playstate/internal/state"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the state file schema written by this build. Readers reject
// documents with a higher version instead of guessing at their meaning.
const SchemaVersion = 1

type document struct {
	SchemaVersion int                  `yaml:"schema_version"`
	State         *state.PlaybackState `yaml:"state"`
}

type versionProbe struct {
	SchemaVersion int `yaml:"schema_version"`
}

// Encode serializes st as a versioned YAML document.
func Encode(st state.PlaybackState) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{SchemaVersion: SchemaVersion, State: &st}); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a state document with STRICT rules: unknown fields, trailing
// documents and newer schema versions are rejected. Every error matches ErrCorruptState.
// Playlist bounds are not checked here; see state.PlaybackState.CheckBounds.
func Decode(data []byte) (state.PlaybackState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return state.PlaybackState{}, fmt.Errorf("%w: empty document", ErrCorruptState)
	}

	var probe versionProbe
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return state.PlaybackState{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	switch {
	case probe.SchemaVersion > SchemaVersion:
		return state.PlaybackState{}, fmt.Errorf("%w: %w: got %d, support up to %d",
			ErrCorruptState, ErrUnsupportedSchema, probe.SchemaVersion, SchemaVersion)
	case probe.SchemaVersion < 1:
		return state.PlaybackState{}, fmt.Errorf("%w: missing schema_version", ErrCorruptState)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return state.PlaybackState{}, fmt.Errorf("%w: strict parse: %w", ErrCorruptState, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return state.PlaybackState{}, fmt.Errorf("%w: multiple documents or trailing content", ErrCorruptState)
	}
	if doc.State == nil {
		return state.PlaybackState{}, fmt.Errorf("%w: missing state section", ErrCorruptState)
	}
	if err := doc.State.CheckStructure(); err != nil {
		return state.PlaybackState{}, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return *doc.State, nil
}
