// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package ml

import (
	"sync/atomic"
	"time"

	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// NumFeatures is the width of the model's feature vector:
// [speed, deviationMeters, accelMagnitude, locationRiskScore, pointsLast5m].
const NumFeatures = 5

// FeatureNorm holds the global per-feature mean and standard deviation fit
// at train time, used for z-score normalization of incoming samples.
type FeatureNorm struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// BaselineHint carries a tourist's own running feature means. When warm,
// the scorer centers motion features on the tourist's baseline instead of
// the global mean, so a fast hiker is not flagged for being fast every day.
type BaselineHint struct {
	Warm          bool
	SpeedMean     float64
	DeviationMean float64
	AccelMean     float64
}

// Model is one fitted scorer: forest, normalization and the calibration
// threshold derived from the training contamination. A Model is immutable
// after training and safe for concurrent use.
type Model struct {
	Version       string      `json:"version"`
	Contamination float64     `json:"contamination"`
	Threshold     float64     `json:"threshold"`
	Norm          FeatureNorm `json:"norm"`
	Forest        *Forest     `json:"forest"`
	TrainedAt     time.Time   `json:"trained_at"`
}

// featureVector extracts and z-score normalizes the model's features from a
// sample. With a warm baseline, speed, deviation and accelerometer readings
// are centered on the tourist's own means.
func (m *Model) featureVector(s telemetry.Sample, hint BaselineHint) []float64 {
	raw := [NumFeatures]float64{
		s.Speed,
		s.DeviationMeters,
		s.AccelMagnitude,
		s.LocationRiskScore,
		float64(s.PointsLast5M),
	}

	center := [NumFeatures]float64{
		m.Norm.Mean[0], m.Norm.Mean[1], m.Norm.Mean[2], m.Norm.Mean[3], m.Norm.Mean[4],
	}
	if hint.Warm {
		center[0] = hint.SpeedMean
		center[1] = hint.DeviationMean
		center[2] = hint.AccelMean
	}

	out := make([]float64, NumFeatures)
	for i := 0; i < NumFeatures; i++ {
		std := m.Norm.Std[i]
		if std <= 0 {
			std = 1
		}
		out[i] = (raw[i] - center[i]) / std
	}
	return out
}

// Score returns the calibrated anomaly score in [0,1] for one sample.
//
// The mapping is monotonic and anchored at the training contamination
// quantile: a raw score equal to the threshold maps to exactly 0.5, so
// points at or beyond the quantile land in the anomalous half.
func (m *Model) Score(s telemetry.Sample, hint BaselineHint) float64 {
	raw := m.Forest.Score(m.featureVector(s, hint))
	return m.calibrate(raw)
}

func (m *Model) calibrate(raw float64) float64 {
	thr := m.Threshold
	if thr <= 0 || thr >= 1 {
		return clamp01(raw)
	}
	if raw <= thr {
		return clamp01(0.5 * raw / thr)
	}
	return clamp01(0.5 + 0.5*(raw-thr)/(1-thr))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Provider hands out the currently loaded model. Training swaps in a fully
// built replacement with a single atomic pointer store, so in-flight
// predictions never observe a half-updated model.
type Provider struct {
	current atomic.Pointer[Model]
}

// NewProvider returns an empty Provider with no model loaded.
func NewProvider() *Provider {
	return &Provider{}
}

// Current returns the active model, or nil when none is loaded.
func (p *Provider) Current() *Model {
	return p.current.Load()
}

// Swap atomically installs a new model.
func (p *Provider) Swap(m *Model) {
	p.current.Store(m)
}

// Loaded reports whether a fitted model is active.
func (p *Provider) Loaded() bool {
	return p.current.Load() != nil
}
