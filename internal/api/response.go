// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/mapstate"
)

// envelope is the standard response wrapper: {ok, data} on success,
// {ok, error} on failure.
type envelope struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{OK: false, Error: message})
}

// writeEngineError maps engine errors onto HTTP statuses: lookups that
// miss are 404, an engine that has no snapshot yet is 503.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mapstate.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, mapstate.ErrUnknownContract):
		writeError(w, http.StatusNotFound, "unknown contract address")
	default:
		writeError(w, http.StatusServiceUnavailable, "map data is not available yet")
	}
}
