// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package state holds the per-tourist rolling memory used by both scorers:
// bounded verdict history, last accepted sample, movement tracking and
// running baseline statistics.
//
// State is owned exclusively by the Store; callers mutate it only inside
// Store.Update closures, which serialize all access per tourist.
package state

import (
	"errors"
	"math"
	"time"

	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// ErrOutOfOrder marks a sample older than the tourist's last accepted one.
// The store is left untouched when this is returned.
var ErrOutOfOrder = errors.New("out-of-order sample")

// Welford tracks a running mean and variance using Welford's online
// algorithm. The zero value is ready to use.
type Welford struct {
	Count int64
	Mean  float64
	m2    float64
}

// Add folds one observation into the running aggregate.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.m2 += delta * (x - w.Mean)
}

// Variance returns the population variance, 0 until two observations exist.
func (w *Welford) Variance() float64 {
	if w.Count < 2 {
		return 0
	}
	return w.m2 / float64(w.Count)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// BaselineStats is a tourist's running profile of their own normal motion.
// It is a lifetime aggregate, independent of history eviction.
type BaselineStats struct {
	Speed     Welford
	Deviation Welford
	Accel     Welford
}

// Warm reports whether the baseline has seen at least minCount samples and
// can meaningfully normalize this tourist's features.
func (b *BaselineStats) Warm(minCount int64) bool {
	return b.Accel.Count >= minCount
}

// HistoryEntry pairs a verdict with the sample that produced it.
type HistoryEntry struct {
	Sample telemetry.Sample
	Result models.AnomalyResponse
}

// TouristState is the rolling memory for one tourist. Created lazily on the
// first sample and kept for the life of the monitored trip.
type TouristState struct {
	TouristID string

	// History holds the last N entries in append order, oldest first.
	History []HistoryEntry

	// LastSample is the most recently accepted reading.
	LastSample *telemetry.Sample

	// LastMovementTimestamp is the last instant speed cleared the moving
	// threshold. Initialized to the first sample's timestamp so a fresh
	// tourist does not start out inactive.
	LastMovementTimestamp time.Time

	// ConsecutiveAnomalyStreak counts back-to-back anomalous verdicts.
	ConsecutiveAnomalyStreak int

	Baseline BaselineStats
}

// CheckOrder rejects samples older than the last accepted one. Equal
// timestamps are allowed and treated as duplicate-tick updates.
func (t *TouristState) CheckOrder(ts time.Time) error {
	if t.LastSample != nil && ts.Before(t.LastSample.Timestamp) {
		return ErrOutOfOrder
	}
	return nil
}

// Append records a scored sample: bounded history push, movement tracking,
// baseline update and streak bookkeeping. Callers must have passed
// CheckOrder for the same sample first.
func (t *TouristState) Append(sample telemetry.Sample, result models.AnomalyResponse, capacity int, movingSpeedKmh float64) {
	entry := HistoryEntry{Sample: sample, Result: result}
	t.History = append(t.History, entry)
	if capacity > 0 && len(t.History) > capacity {
		// FIFO eviction, oldest first
		t.History = t.History[len(t.History)-capacity:]
	}

	if t.LastSample == nil {
		t.LastMovementTimestamp = sample.Timestamp
	} else if sample.SpeedKnown && sample.Speed >= movingSpeedKmh {
		t.LastMovementTimestamp = sample.Timestamp
	}

	s := sample
	t.LastSample = &s

	// Unknown speeds are excluded from the baseline rather than counted
	// as zeros, which would drag the mean down on sensor dropouts.
	if sample.SpeedKnown {
		t.Baseline.Speed.Add(sample.Speed)
	}
	t.Baseline.Deviation.Add(sample.DeviationMeters)
	t.Baseline.Accel.Add(sample.AccelMagnitude)

	if result.IsAnomaly {
		t.ConsecutiveAnomalyStreak++
	} else {
		t.ConsecutiveAnomalyStreak = 0
	}
}

// RecentSamples returns up to n trailing samples, oldest first.
func (t *TouristState) RecentSamples(n int) []telemetry.Sample {
	if n <= 0 || len(t.History) == 0 {
		return nil
	}
	start := len(t.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]telemetry.Sample, 0, len(t.History)-start)
	for _, e := range t.History[start:] {
		out = append(out, e.Sample)
	}
	return out
}
