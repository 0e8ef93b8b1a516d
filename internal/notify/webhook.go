// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package notify executes the side effects the fusion engine decides on.
// The webhook notifier posts verdicts to the configured authority endpoint,
// guarded by a circuit breaker and a rate limiter so a failing or slow
// receiver can never back-pressure the scoring path.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/metrics"
	"github.com/bondvoyage/sentinel/internal/models"
)

// webhookPayload is the body posted to the authority endpoint.
type webhookPayload struct {
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Verdict   models.AnomalyResponse `json:"verdict"`
}

// WebhookNotifier delivers anomaly verdicts to an external authority
// webhook. Deliveries are best-effort: failures are counted and logged,
// never retried past the breaker, and never surfaced to the caller.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookNotifier creates a notifier from config.
func NewWebhookNotifier(cfg config.NotifierConfig) *WebhookNotifier {
	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}

	failureThreshold := uint32(cfg.BreakerFailureThreshold)
	if failureThreshold == 0 {
		failureThreshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "authority-webhook",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notifier breaker state change")
		},
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		breaker: breaker,
	}
}

// Notify posts the verdict to the authority webhook. Implements the
// engine's Notifier contract; called from a detached goroutine.
func (n *WebhookNotifier) Notify(ctx context.Context, result models.AnomalyResponse) {
	if n.limiter != nil && !n.limiter.Allow() {
		metrics.NotificationsTotal.WithLabelValues("rate_limited").Inc()
		logging.Warn().
			Str("tourist_id", result.TouristID).
			Msg("notification dropped by rate limit")
		return
	}

	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.send(ctx, result)
	})
	switch {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotificationsTotal.WithLabelValues("breaker_open").Inc()
	default:
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logging.Error().
			Err(err).
			Str("tourist_id", result.TouristID).
			Str("anomaly_type", result.AnomalyType).
			Msg("notification delivery failed")
	}
}

func (n *WebhookNotifier) send(ctx context.Context, result models.AnomalyResponse) error {
	payload := webhookPayload{
		Event:     "anomaly.detected",
		Timestamp: time.Now().UTC(),
		Verdict:   result,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
