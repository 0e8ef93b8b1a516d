// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package models defines the wire types shared between the API layer and the
// detection core. Field names follow the dashboard client contract: the
// tourist identifier and timestamp are camelCase, sensor fields snake_case.
package models

import "time"

// TelemetryData is one raw telemetry reading as posted by a device or the
// dashboard. Optional sensor fields are pointers so absence is
// distinguishable from zero.
type TelemetryData struct {
	TouristID string `json:"touristId" validate:"required"`

	// TS is the sample instant in RFC3339 form.
	TS string `json:"ts" validate:"required"`

	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`

	// Speed in km/h. Absent means unknown, not zero.
	Speed *float64 `json:"speed,omitempty"`

	// DeviationMeters is the distance from the expected route corridor.
	DeviationMeters *float64 `json:"deviationMeters,omitempty"`

	// InAlertZone is 1 when the coordinate falls inside a flagged geofence,
	// 0 otherwise. Computed upstream by the geofence service.
	InAlertZone int `json:"in_alert_zone" validate:"oneof=0 1"`

	// DtS is the elapsed seconds since the previous sample for this tourist.
	DtS float64 `json:"dt_s" validate:"gte=0"`

	// PointsLast5M counts samples received in the trailing 5 minute window.
	PointsLast5M int `json:"points_last_5m" validate:"gte=0"`

	// LocationRiskScore is the externally supplied area risk rating, 0 to 10.
	LocationRiskScore float64 `json:"location_risk_score" validate:"gte=0,lte=10"`

	// AccelerometerMagnitude in g units. Absent defaults to 1.0 (at rest).
	AccelerometerMagnitude *float64 `json:"accelerometer_magnitude,omitempty"`

	// BatteryLevel percentage, 0 to 100.
	BatteryLevel *float64 `json:"battery_level,omitempty"`

	PanicButtonPressed bool `json:"panic_button_pressed"`
}

// Severity levels for anomaly verdicts.
const (
	SeverityLow      = 1
	SeverityMedium   = 2
	SeverityHigh     = 3
	SeverityCritical = 4
)

// SeverityLabel maps a severity level to its display name.
func SeverityLabel(severity int) string {
	switch severity {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Anomaly type labels returned in verdicts.
const (
	AnomalyNone              = "none"
	AnomalyRouteDeviation    = "route_deviation"
	AnomalyInactivity        = "inactivity"
	AnomalyStopped           = "stopped"
	AnomalyErraticMovement   = "erratic_movement"
	AnomalyGeofenceViolation = "geofence_violation"
	AnomalySpeedAnomaly      = "speed_anomaly"
	AnomalyFallDetected      = "fall_detected"
	AnomalyDistressPattern   = "distress_pattern"
)

// AnomalyResponse is the verdict for one telemetry sample. It doubles as the
// stored history entry payload.
type AnomalyResponse struct {
	TouristID string    `json:"touristId"`
	Timestamp time.Time `json:"timestamp"`

	IsAnomaly   bool   `json:"is_anomaly"`
	AnomalyType string `json:"anomaly_type"`

	// Severity is 1 (Low) to 4 (Critical); 0 when IsAnomaly is false.
	Severity int `json:"severity,omitempty"`

	Confidence     float64 `json:"confidence"`
	AnomalyScore   float64 `json:"anomaly_score"`
	RuleBasedScore float64 `json:"rule_based_score"`
	MLBasedScore   float64 `json:"ml_based_score"`

	// Details explains which rules and features triggered.
	Details map[string]interface{} `json:"details"`

	Recommendations []string `json:"recommendations"`
	ActionsTaken    []string `json:"actions_taken"`
}

// BatchError reports a per-item failure inside a batch prediction, keyed to
// the input index. Failures never abort the rest of the batch.
type BatchError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchPredictResponse is the response for a batch prediction call.
type BatchPredictResponse struct {
	Results   []AnomalyResponse `json:"results"`
	Errors    []BatchError      `json:"errors,omitempty"`
	Processed int               `json:"processed"`
}

// HistoryResponse returns a tourist's recent verdicts, most recent first.
type HistoryResponse struct {
	TouristID string            `json:"touristId"`
	History   []AnomalyResponse `json:"history"`
	Count     int               `json:"count"`
}

// StatisticsResponse is a read-only snapshot of aggregate model state.
type StatisticsResponse struct {
	TotalTouristsMonitored int64     `json:"total_tourists_monitored"`
	TotalRecordsProcessed  int64     `json:"total_records_processed"`
	ModelLoaded            bool      `json:"model_loaded"`
	Contamination          float64   `json:"contamination"`
	Version                string    `json:"version"`
	Timestamp              time.Time `json:"timestamp"`
}

// HealthResponse reports service health. Status is "healthy" when a fitted
// model is loaded and "degraded" while running rules-only.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	ModelLoaded bool      `json:"model_loaded"`
	Version     string    `json:"version"`
}

// TrainRequest carries a historical batch for model fitting.
type TrainRequest struct {
	Data []TelemetryData `json:"data" validate:"required,min=1"`

	// Contamination overrides the configured expected anomaly fraction.
	Contamination *float64 `json:"contamination,omitempty"`
}

// TrainResponse reports the outcome of a training run.
type TrainResponse struct {
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Contamination float64   `json:"contamination"`
	Timestamp     time.Time `json:"timestamp"`
}

// APIError is the error payload inside the error envelope.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the envelope for all API errors.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
