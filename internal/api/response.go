// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/models"
)

// statusForCode maps pipeline error codes to HTTP status codes. Unknown
// codes are treated as internal failures.
func statusForCode(code string) int {
	switch code {
	case "INVALID_SAMPLE", "INSUFFICIENT_DATA", "INVALID_CONTAMINATION", "UNKNOWN_SCENARIO", "BAD_REQUEST":
		return http.StatusBadRequest
	case "OUT_OF_ORDER":
		return http.StatusConflict
	case "NOT_FOUND":
		return http.StatusNotFound
	case "SERVICE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes data as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes the standard error envelope.
func respondError(w http.ResponseWriter, code, message string) {
	respondJSON(w, statusForCode(code), models.ErrorResponse{
		Error: models.APIError{
			Code:    code,
			Message: message,
		},
	})
}
