// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package metrics defines Prometheus collectors for the detection pipeline.
// All collectors are registered with the default registry via promauto and
// exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

var (
	// PredictionsTotal counts scored samples by outcome.
	// result: "normal" | "anomaly" | "rejected"
	// anomaly_type: the verdict type ("none" for normal samples)
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total telemetry samples scored, by result and anomaly type.",
		},
		[]string{"result", "anomaly_type"},
	)

	// PredictionDuration observes end-to-end single-sample scoring latency.
	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Latency of single-sample scoring.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// BatchSize observes the number of samples per batch-predict call.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Samples per batch prediction request.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// TrainingsTotal counts training attempts by outcome.
	// outcome: "success" | "insufficient_data" | "error"
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trainings_total",
			Help:      "Model training attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// TrainingDuration observes model fit latency.
	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Latency of model training.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// TouristsMonitored tracks the number of tourists with live state.
	TouristsMonitored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tourists_monitored",
			Help:      "Tourists currently tracked in the state store.",
		},
	)

	// ModelLoaded is 1 when a fitted model is active, 0 otherwise.
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "Whether a fitted anomaly model is currently loaded.",
		},
	)

	// WebsocketClients tracks connected live-feed clients.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket verdict-feed clients.",
		},
	)

	// NotificationsTotal counts webhook notifier deliveries by outcome.
	// outcome: "sent" | "error" | "rate_limited" | "breaker_open"
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Authority webhook delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)
