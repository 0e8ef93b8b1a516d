// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/detection"
	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/models"
	ws "github.com/bondvoyage/sentinel/internal/websocket"
)

// maxBodyBytes caps request bodies. Batch training payloads are the
// largest legitimate request; 16 MiB covers tens of thousands of samples.
const maxBodyBytes = 16 << 20

// Handler implements the HTTP endpoints over the detection engine.
type Handler struct {
	engine *detection.Engine
	hub    *ws.Hub
	cfg    *config.Config
}

// NewHandler creates a Handler. hub may be nil when the live feed is
// disabled.
func NewHandler(engine *detection.Engine, hub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		engine: engine,
		hub:    hub,
		cfg:    cfg,
	}
}

// Health reports service health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Health())
}

// Predict scores one telemetry sample.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var data models.TelemetryData
	if err := decodeBody(r, &data); err != nil {
		respondError(w, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}

	result, err := h.engine.Predict(r.Context(), &data)
	if err != nil {
		respondError(w, detection.ErrorCode(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// BatchPredict scores an array of telemetry samples in input order.
func (h *Handler) BatchPredict(w http.ResponseWriter, r *http.Request) {
	var batch []models.TelemetryData
	if err := decodeBody(r, &batch); err != nil {
		respondError(w, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if len(batch) == 0 {
		respondError(w, "BAD_REQUEST", "batch must contain at least one sample")
		return
	}

	respondJSON(w, http.StatusOK, h.engine.BatchPredict(r.Context(), batch))
}

// TouristHistory returns a tourist's recent verdicts, most recent first.
func (h *Handler) TouristHistory(w http.ResponseWriter, r *http.Request) {
	touristID := chi.URLParam(r, "touristId")
	if touristID == "" {
		respondError(w, "BAD_REQUEST", "tourist ID required")
		return
	}

	history, ok := h.engine.History(touristID)
	if !ok {
		respondError(w, "NOT_FOUND", "no history for tourist "+touristID)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// Statistics returns an aggregate snapshot of engine state.
func (h *Handler) Statistics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Statistics())
}

// Train refits the model from a historical batch.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	var req models.TrainRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Data) == 0 {
		respondError(w, "BAD_REQUEST", "training data must contain at least one record")
		return
	}

	resp, err := h.engine.Train(r.Context(), &req)
	if err != nil {
		respondError(w, detection.ErrorCode(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// SimulateAnomaly injects a synthetic sample for the named scenario and
// runs it through the full pipeline. Used by the dashboard's demo mode.
func (h *Handler) SimulateAnomaly(w http.ResponseWriter, r *http.Request) {
	scenario := r.URL.Query().Get("scenario")
	if scenario == "" {
		respondError(w, "BAD_REQUEST", "scenario query parameter required")
		return
	}

	result, err := h.engine.SimulateScenario(r.Context(), scenario)
	if err != nil {
		if errors.Is(err, detection.ErrUnknownScenario) {
			respondError(w, "UNKNOWN_SCENARIO", err.Error())
			return
		}
		respondError(w, detection.ErrorCode(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// WebSocket upgrades the connection and attaches it to the verdict feed.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, "SERVICE_UNAVAILABLE", "live feed unavailable")
		return
	}

	upgrader := gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// checkWebSocketOrigin validates browser origins against the configured
// CORS list. Non-browser clients without an Origin header are allowed;
// the feed is read-only.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.cfg == nil {
		return true
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// decodeBody strictly decodes a size-capped JSON request body.
func decodeBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
