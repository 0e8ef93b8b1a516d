// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/detection"
	"github.com/bondvoyage/sentinel/internal/ml"
	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/state"
	ws "github.com/bondvoyage/sentinel/internal/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Server.CORSOrigins = []string{"*"}

	provider := ml.NewProvider()
	trainer := ml.NewTrainer(provider, ml.TrainerConfig{
		Trees:      30,
		SampleSize: 64,
		MinRecords: cfg.ML.MinTrainingRecords,
	})
	store := state.NewStore(cfg.Detection.StateShards)

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() { cancel(); <-done })

	engine := detection.NewEngine(cfg.Detection, cfg.ML, store, provider, trainer, detection.Options{
		Broadcaster: hub,
	})

	handler := NewHandler(engine, hub, cfg)
	server := httptest.NewServer(NewRouter(handler, cfg).Setup())
	t.Cleanup(server.Close)

	return server
}

func telemetryJSON(t *testing.T, touristID, ts string, mutate func(*models.TelemetryData)) []byte {
	t.Helper()

	speed := 4.5
	deviation := 40.0
	accel := 1.0
	data := models.TelemetryData{
		TouristID:              touristID,
		TS:                     ts,
		Lat:                    26.9124,
		Lng:                    75.7873,
		Speed:                  &speed,
		DeviationMeters:        &deviation,
		DtS:                    30,
		PointsLast5M:           10,
		LocationRiskScore:      2,
		AccelerometerMagnitude: &accel,
	}
	if mutate != nil {
		mutate(&data)
	}

	body, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal telemetry: %v", err)
	}
	return body
}

func postJSON(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var envelope models.ErrorResponse
	decodeResponse(t, resp, &envelope)
	return envelope.Error.Code
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health models.HealthResponse
	decodeResponse(t, resp, &health)
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded before first training", health.Status)
	}
	if health.ModelLoaded {
		t.Error("model_loaded = true before first training")
	}
}

func TestPredictEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-001", "2026-08-28T10:00:00Z", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result models.AnomalyResponse
	decodeResponse(t, resp, &result)
	if result.IsAnomaly {
		t.Errorf("calm sample flagged as anomaly: %+v", result)
	}
	if result.TouristID != "tourist-001" {
		t.Errorf("touristId = %q, want tourist-001", result.TouristID)
	}
	if _, ok := result.Details["model_not_loaded"]; !ok {
		t.Error("details missing model_not_loaded flag in rules-only mode")
	}
}

func TestPredictPanicButton(t *testing.T) {
	server := newTestServer(t)

	body := telemetryJSON(t, "tourist-002", "2026-08-28T10:00:00Z", func(d *models.TelemetryData) {
		d.PanicButtonPressed = true
	})
	resp := postJSON(t, server.URL+"/predict", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result models.AnomalyResponse
	decodeResponse(t, resp, &result)
	if !result.IsAnomaly {
		t.Fatal("panic sample not flagged")
	}
	if result.AnomalyType != models.AnomalyDistressPattern {
		t.Errorf("anomaly_type = %q, want distress_pattern", result.AnomalyType)
	}
	if result.Severity != models.SeverityCritical {
		t.Errorf("severity = %d, want %d", result.Severity, models.SeverityCritical)
	}
}

func TestPredictMalformedJSON(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/predict", []byte(`{"touristId": `))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPredictInvalidSample(t *testing.T) {
	server := newTestServer(t)

	body := telemetryJSON(t, "", "2026-08-28T10:00:00Z", nil)
	resp := postJSON(t, server.URL+"/predict", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "INVALID_SAMPLE" {
		t.Errorf("error code = %q, want INVALID_SAMPLE", code)
	}
}

func TestPredictOutOfOrderConflict(t *testing.T) {
	server := newTestServer(t)

	first := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-003", "2026-08-28T10:05:00Z", nil))
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first sample status = %d, want 200", first.StatusCode)
	}

	stale := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-003", "2026-08-28T10:00:00Z", nil))
	if stale.StatusCode != http.StatusConflict {
		t.Errorf("stale sample status = %d, want 409", stale.StatusCode)
	}
	if code := errorCode(t, stale); code != "OUT_OF_ORDER" {
		t.Errorf("error code = %q, want OUT_OF_ORDER", code)
	}
}

func TestBatchPredictEndpoint(t *testing.T) {
	server := newTestServer(t)

	var batch []json.RawMessage
	batch = append(batch, telemetryJSON(t, "tourist-010", "2026-08-28T10:00:00Z", nil))
	batch = append(batch, telemetryJSON(t, "", "2026-08-28T10:00:30Z", nil)) // invalid
	batch = append(batch, telemetryJSON(t, "tourist-010", "2026-08-28T10:01:00Z", nil))

	body, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}

	resp := postJSON(t, server.URL+"/batch-predict", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out models.BatchPredictResponse
	decodeResponse(t, resp, &out)
	if out.Processed != 2 {
		t.Errorf("processed = %d, want 2", out.Processed)
	}
	if len(out.Errors) != 1 || out.Errors[0].Index != 1 {
		t.Errorf("errors = %+v, want one error at index 1", out.Errors)
	}
}

func TestBatchPredictEmptyBody(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/batch-predict", []byte(`[]`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTouristHistoryEndpoint(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 3; i++ {
		ts := fmt.Sprintf("2026-08-28T10:0%d:00Z", i)
		resp := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-020", ts, nil))
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/tourist/tourist-020/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var history models.HistoryResponse
	decodeResponse(t, resp, &history)
	if history.Count != 3 {
		t.Errorf("count = %d, want 3", history.Count)
	}
	if len(history.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(history.History))
	}
	if !history.History[0].Timestamp.After(history.History[2].Timestamp) {
		t.Error("history not ordered most recent first")
	}
}

func TestTouristHistoryUnknownTourist(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/tourist/ghost/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("error code = %q, want NOT_FOUND", code)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-030", "2026-08-28T10:00:00Z", nil))
	resp.Body.Close()

	statsResp, err := http.Get(server.URL + "/statistics")
	if err != nil {
		t.Fatalf("GET /statistics: %v", err)
	}
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", statsResp.StatusCode)
	}

	var stats models.StatisticsResponse
	decodeResponse(t, statsResp, &stats)
	if stats.TotalTouristsMonitored != 1 {
		t.Errorf("total_tourists_monitored = %d, want 1", stats.TotalTouristsMonitored)
	}
	if stats.TotalRecordsProcessed != 1 {
		t.Errorf("total_records_processed = %d, want 1", stats.TotalRecordsProcessed)
	}
	if stats.Version != "none" {
		t.Errorf("version = %q, want none before training", stats.Version)
	}
}

func trainingBody(t *testing.T, records int) []byte {
	t.Helper()

	req := models.TrainRequest{Data: make([]models.TelemetryData, 0, records)}
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	for i := 0; i < records; i++ {
		speed := 3.0 + float64(i%7)
		deviation := 20.0 + float64(i%40)
		accel := 0.9 + 0.02*float64(i%10)
		req.Data = append(req.Data, models.TelemetryData{
			TouristID:              fmt.Sprintf("hist-%03d", i%5),
			TS:                     base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Lat:                    26.9,
			Lng:                    75.8,
			Speed:                  &speed,
			DeviationMeters:        &deviation,
			DtS:                    60,
			PointsLast5M:           8,
			LocationRiskScore:      1,
			AccelerometerMagnitude: &accel,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal training request: %v", err)
	}
	return body
}

func TestTrainEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/train", trainingBody(t, 80))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out models.TrainResponse
	decodeResponse(t, resp, &out)
	if out.Status != "success" {
		t.Errorf("status = %q, want success", out.Status)
	}
	if !strings.Contains(out.Message, "80 records") {
		t.Errorf("message = %q, want record count", out.Message)
	}

	// health flips once a model is loaded
	healthResp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health models.HealthResponse
	decodeResponse(t, healthResp, &health)
	if health.Status != "healthy" || !health.ModelLoaded {
		t.Errorf("health after training = %+v, want healthy with model loaded", health)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/train", trainingBody(t, 10))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "INSUFFICIENT_DATA" {
		t.Errorf("error code = %q, want INSUFFICIENT_DATA", code)
	}
}

func TestSimulateAnomalyEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/demo/simulate-anomaly?scenario=panic", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result models.AnomalyResponse
	decodeResponse(t, resp, &result)
	if !result.IsAnomaly || result.AnomalyType != models.AnomalyDistressPattern {
		t.Errorf("result = %+v, want distress_pattern anomaly", result)
	}
}

func TestSimulateAnomalyUnknownScenario(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/demo/simulate-anomaly?scenario=alien_abduction", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "UNKNOWN_SCENARIO" {
		t.Errorf("error code = %q, want UNKNOWN_SCENARIO", code)
	}
}

func TestSimulateAnomalyMissingScenario(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/demo/simulate-anomaly", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketVerdictFeed(t *testing.T) {
	server := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Give the hub's event loop a beat to complete registration before
	// the verdict is broadcast.
	time.Sleep(50 * time.Millisecond)

	resp := postJSON(t, server.URL+"/predict", telemetryJSON(t, "tourist-040", "2026-08-28T10:00:00Z", func(d *models.TelemetryData) {
		d.PanicButtonPressed = true
	}))
	resp.Body.Close()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}

	var msg struct {
		Type string                 `json:"type"`
		Data models.AnomalyResponse `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read verdict frame: %v", err)
	}
	if msg.Type != "verdict" {
		t.Errorf("frame type = %q, want verdict", msg.Type)
	}
	if msg.Data.TouristID != "tourist-040" || !msg.Data.IsAnomaly {
		t.Errorf("frame data = %+v, want tourist-040 anomaly", msg.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
