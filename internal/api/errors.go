// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/playstate/internal/backup"
	"github.com/ManuGH/playstate/internal/engine"
	"github.com/ManuGH/playstate/internal/playback"
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrTrackOutOfRange), errors.Is(err, playback.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrBackupsDisabled):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrSnapshotInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotRecovered):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status statusFor picks.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Error:     err.Error(),
		RequestID: requestIDOf(r),
	})
}

// writeBadRequest writes a 400 for a malformed request body.
func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), RequestID: requestIDOf(r)})
}
