// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// ErrInsufficientData marks a training batch below the minimum record
// count. The previously loaded model, if any, is left active.
var ErrInsufficientData = errors.New("insufficient training data")

// ErrInvalidContamination marks a contamination outside (0, 0.5).
var ErrInvalidContamination = errors.New("contamination must be in (0, 0.5)")

// TrainerConfig shapes the ensemble and the training gate.
type TrainerConfig struct {
	Trees      int
	SampleSize int
	MinRecords int
}

// Trainer fits models and installs them into a Provider. Training builds
// the replacement completely before the swap; failure or cancellation at
// any point leaves the prior model untouched.
type Trainer struct {
	provider *Provider
	cfg      TrainerConfig
}

// NewTrainer creates a Trainer installing into the given provider.
func NewTrainer(provider *Provider, cfg TrainerConfig) *Trainer {
	if cfg.MinRecords < 1 {
		cfg.MinRecords = 50
	}
	return &Trainer{provider: provider, cfg: cfg}
}

// Train fits normalization and the isolation forest from a historical
// batch, calibrates the decision threshold at the contamination quantile,
// and atomically swaps the new model in. Returns the installed model.
func (t *Trainer) Train(ctx context.Context, samples []telemetry.Sample, contamination float64) (*Model, error) {
	if len(samples) < t.cfg.MinRecords {
		return nil, fmt.Errorf("%w: got %d records, need at least %d",
			ErrInsufficientData, len(samples), t.cfg.MinRecords)
	}
	if contamination <= 0 || contamination >= 0.5 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidContamination, contamination)
	}

	start := time.Now()

	raw := make([][]float64, len(samples))
	for i, s := range samples {
		raw[i] = []float64{
			s.Speed,
			s.DeviationMeters,
			s.AccelMagnitude,
			s.LocationRiskScore,
			float64(s.PointsLast5M),
		}
	}

	norm := fitNorm(raw)
	matrix := make([][]float64, len(raw))
	for i, row := range raw {
		normalized := make([]float64, NumFeatures)
		for j, v := range row {
			std := norm.Std[j]
			if std <= 0 {
				std = 1
			}
			normalized[j] = (v - norm.Mean[j]) / std
		}
		matrix[i] = normalized
	}

	forest := NewForest(t.cfg.Trees, t.cfg.SampleSize)
	if err := forest.Fit(ctx, matrix, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("forest fit aborted: %w", err)
	}

	// Calibration anchor: the (1 - contamination) quantile of raw training
	// scores becomes the 0.5 decision point.
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("calibration aborted: %w", err)
		}
		scores[i] = forest.Score(row)
	}
	threshold := quantile(scores, 1-contamination)

	model := &Model{
		Version:       uuid.NewString(),
		Contamination: contamination,
		Threshold:     threshold,
		Norm:          norm,
		Forest:        forest,
		TrainedAt:     time.Now().UTC(),
	}

	t.provider.Swap(model)

	logging.Info().
		Str("model_version", model.Version).
		Int("records", len(samples)).
		Float64("contamination", contamination).
		Float64("threshold", threshold).
		Dur("duration", time.Since(start)).
		Msg("anomaly model trained")

	return model, nil
}

// fitNorm computes the global per-feature mean and standard deviation.
func fitNorm(raw [][]float64) FeatureNorm {
	mean := make([]float64, NumFeatures)
	std := make([]float64, NumFeatures)
	n := float64(len(raw))

	for _, row := range raw {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range raw {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}

	return FeatureNorm{Mean: mean, Std: std}
}

// quantile returns the q-quantile of values with linear interpolation.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
