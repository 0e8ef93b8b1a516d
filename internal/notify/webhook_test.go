// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/models"
)

func testResult() models.AnomalyResponse {
	return models.AnomalyResponse{
		TouristID:    "t1",
		Timestamp:    time.Now().UTC(),
		IsAnomaly:    true,
		AnomalyType:  models.AnomalyDistressPattern,
		Severity:     models.SeverityCritical,
		ActionsTaken: []string{"auto_escalate", "notify_authority"},
	}
}

func notifierConfig(url string) config.NotifierConfig {
	return config.NotifierConfig{
		Enabled:                 true,
		URL:                     url,
		Timeout:                 2 * time.Second,
		RatePerMinute:           600,
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      time.Minute,
	}
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var received atomic.Int32
	var gotPayload webhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(notifierConfig(server.URL))
	n.Notify(context.Background(), testResult())

	if received.Load() != 1 {
		t.Fatalf("deliveries = %d, want 1", received.Load())
	}
	if gotPayload.Event != "anomaly.detected" {
		t.Errorf("payload event = %q, want anomaly.detected", gotPayload.Event)
	}
	if gotPayload.Verdict.TouristID != "t1" {
		t.Errorf("payload tourist = %q, want t1", gotPayload.Verdict.TouristID)
	}
}

func TestWebhookNotifier_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(notifierConfig(server.URL))

	// threshold is 3: further notifications must not reach the receiver
	for i := 0; i < 6; i++ {
		n.Notify(context.Background(), testResult())
	}

	if got := hits.Load(); got != 3 {
		t.Errorf("receiver hits = %d, want 3 (breaker open afterwards)", got)
	}
}

func TestWebhookNotifier_RateLimitDrops(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := notifierConfig(server.URL)
	cfg.RatePerMinute = 1 // burst of 1, refill far slower than the test

	n := NewWebhookNotifier(cfg)
	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), testResult())
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("receiver hits = %d, want 1 (rest rate-limited)", got)
	}
}

func TestWebhookNotifier_NonSuccessStatusIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(notifierConfig(server.URL))
	if err := n.send(context.Background(), testResult()); err == nil {
		t.Error("send() error = nil for 502 response, want error")
	}
}
