// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingEngine is returned when an app is created without an engine.
	ErrMissingEngine = errors.New("engine is required")

	// ErrMissingListenAddr is returned when an API handler is given without an address.
	ErrMissingListenAddr = errors.New("listen address is required when the API is enabled")

	// ErrServerStartFailed is returned when the HTTP server fails to start
	ErrServerStartFailed = errors.New("server failed to start")
)
