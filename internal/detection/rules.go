// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package detection contains the hybrid scoring pipeline: the deterministic
// rule scorer, the score fusion and the engine orchestrating both against
// the tourist state store.
package detection

import (
	"math"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/state"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// rulePriority fixes the tie-break order between rules that fired with
// equal sub-scores. Earlier entries win.
var rulePriority = []string{
	models.AnomalyDistressPattern,
	models.AnomalyFallDetected,
	models.AnomalyGeofenceViolation,
	models.AnomalyRouteDeviation,
	models.AnomalySpeedAnomaly,
	models.AnomalyInactivity,
	models.AnomalyStopped,
	models.AnomalyErraticMovement,
}

// RuleVerdict is the rule scorer output: the winning type, the maximum
// fired sub-score and the per-rule diagnostics.
type RuleVerdict struct {
	// Score is the maximum of all fired sub-scores, 0 when nothing fired.
	Score float64

	// Type is the fired rule with the highest sub-score, ties broken by
	// rulePriority. models.AnomalyNone when nothing fired.
	Type string

	// SubScores holds every fired rule's individual sub-score.
	SubScores map[string]float64

	// Details carries feature diagnostics for the verdict payload.
	Details map[string]interface{}
}

// RuleScorer evaluates the deterministic heuristics. It is a pure function
// of (sample, prior tourist state): no hidden state, same inputs always
// produce the same verdict.
type RuleScorer struct {
	cfg config.DetectionConfig

	// baselineWarmCount gates baseline-relative rules until the tourist
	// has enough of their own history.
	baselineWarmCount int64
}

// NewRuleScorer creates a scorer with the given thresholds.
func NewRuleScorer(cfg config.DetectionConfig, baselineWarmCount int) *RuleScorer {
	return &RuleScorer{cfg: cfg, baselineWarmCount: int64(baselineWarmCount)}
}

// Evaluate scores one sample against the tourist's prior state. The state
// must not include the sample being scored.
func (r *RuleScorer) Evaluate(s telemetry.Sample, ts *state.TouristState) RuleVerdict {
	verdict := RuleVerdict{
		Type:      models.AnomalyNone,
		SubScores: make(map[string]float64),
		Details:   make(map[string]interface{}),
	}

	if !s.SpeedKnown {
		verdict.Details["speed_unknown"] = true
	}

	r.panicRule(s, &verdict)
	r.fallRule(s, ts, &verdict)
	r.geofenceRule(s, &verdict)
	r.deviationRule(s, &verdict)
	r.speedRule(s, ts, &verdict)
	r.inactivityRule(s, ts, &verdict)
	r.erraticRule(s, ts, &verdict)

	for _, ruleType := range rulePriority {
		score, fired := verdict.SubScores[ruleType]
		if fired && score > verdict.Score {
			verdict.Score = score
			verdict.Type = ruleType
		}
	}

	return verdict
}

func (r *RuleScorer) fire(v *RuleVerdict, ruleType string, score float64) {
	if score <= 0 {
		return
	}
	v.SubScores[ruleType] = clamp01(score)
}

// panicRule: the panic button is an absolute ceiling.
func (r *RuleScorer) panicRule(s telemetry.Sample, v *RuleVerdict) {
	if !s.PanicButtonPressed {
		return
	}
	v.Details["panic_button"] = true
	r.fire(v, models.AnomalyDistressPattern, 1.0)
}

// fallRule flags accelerometer spikes beyond a multiple of the tourist's
// own baseline magnitude. Before the baseline is warm, gravity at rest
// (1.0 g) stands in for the mean.
func (r *RuleScorer) fallRule(s telemetry.Sample, ts *state.TouristState, v *RuleVerdict) {
	baseMean := 1.0
	if ts != nil && ts.Baseline.Accel.Count >= r.baselineWarmCount {
		baseMean = ts.Baseline.Accel.Mean
	}
	if baseMean <= 0 {
		baseMean = 1.0
	}

	threshold := r.cfg.FallBaselineMultiple * baseMean
	saturation := r.cfg.FallSaturationMultiple * baseMean
	if s.AccelMagnitude < threshold {
		return
	}

	// 0.5 at the spike threshold, saturating to 1.0
	score := 0.5 + 0.5*(s.AccelMagnitude-threshold)/(saturation-threshold)
	v.Details["accelerometer_magnitude"] = s.AccelMagnitude
	v.Details["accelerometer_baseline"] = baseMean
	r.fire(v, models.AnomalyFallDetected, score)
}

// geofenceRule scores flagged-zone presence by the area's risk rating.
func (r *RuleScorer) geofenceRule(s telemetry.Sample, v *RuleVerdict) {
	if !s.InAlertZone {
		return
	}
	v.Details["in_alert_zone"] = true
	v.Details["location_risk_score"] = s.LocationRiskScore
	r.fire(v, models.AnomalyGeofenceViolation, clamp01(s.LocationRiskScore/10))
}

// deviationRule scores distance from the expected route corridor, 0.3 at
// the threshold scaling linearly to 1.0 at the cap distance.
func (r *RuleScorer) deviationRule(s telemetry.Sample, v *RuleVerdict) {
	thr := r.cfg.DeviationThresholdMeters
	capM := r.cfg.DeviationCapMeters
	if s.DeviationMeters <= thr {
		return
	}

	score := 0.3 + 0.7*(s.DeviationMeters-thr)/(capM-thr)
	v.Details["deviation_meters"] = s.DeviationMeters
	r.fire(v, models.AnomalyRouteDeviation, score)
}

// speedRule flags speeds beyond the absolute cap or beyond a multiple of
// the tourist's own baseline once it is warm. The higher of the two
// sub-scores wins.
func (r *RuleScorer) speedRule(s telemetry.Sample, ts *state.TouristState, v *RuleVerdict) {
	if !s.SpeedKnown {
		return
	}

	var score float64

	if limit := r.cfg.SpeedCapKmh; limit > 0 && s.Speed > limit {
		score = 0.3 + 0.7*(s.Speed-limit)/limit
	}

	if ts != nil && ts.Baseline.Speed.Count >= r.baselineWarmCount {
		mean := ts.Baseline.Speed.Mean
		limit := r.cfg.SpeedBaselineMultiple * mean
		if mean > 0.1 && s.Speed > limit {
			baselineScore := 0.3 + 0.7*(s.Speed-limit)/limit
			if baselineScore > score {
				score = baselineScore
			}
		}
	}

	if score > 0 {
		v.Details["speed"] = s.Speed
		r.fire(v, models.AnomalySpeedAnomaly, score)
	}
}

// inactivityRule flags tourists who stopped reporting movement: a literal
// standstill after the shorter stopped window, prolonged absence of
// movement combined with a sparse reporting window after the longer one.
func (r *RuleScorer) inactivityRule(s telemetry.Sample, ts *state.TouristState, v *RuleVerdict) {
	if ts == nil || ts.LastSample == nil {
		return
	}

	elapsed := s.Timestamp.Sub(ts.LastMovementTimestamp)
	if elapsed <= 0 {
		return
	}

	// sparse window: the device stopped checking in regularly
	sparse := s.PointsLast5M <= 2

	if thr := r.cfg.InactivityThreshold; elapsed >= thr && sparse {
		score := 0.5 + 0.5*(elapsed-thr).Seconds()/thr.Seconds()
		v.Details["inactive_seconds"] = elapsed.Seconds()
		r.fire(v, models.AnomalyInactivity, score)
		return
	}

	if thr := r.cfg.StoppedThreshold; elapsed >= thr && s.SpeedKnown && s.Speed < r.cfg.MovingSpeedKmh {
		score := 0.5 + 0.5*(elapsed-thr).Seconds()/thr.Seconds()
		v.Details["stopped_seconds"] = elapsed.Seconds()
		r.fire(v, models.AnomalyStopped, score)
	}
}

// erraticRule flags high-frequency speed swings across the trailing window.
func (r *RuleScorer) erraticRule(s telemetry.Sample, ts *state.TouristState, v *RuleVerdict) {
	if ts == nil {
		return
	}

	window := ts.RecentSamples(r.cfg.ErraticWindow - 1)
	speeds := make([]float64, 0, len(window)+1)
	for _, prev := range window {
		if prev.SpeedKnown {
			speeds = append(speeds, prev.Speed)
		}
	}
	if s.SpeedKnown {
		speeds = append(speeds, s.Speed)
	}
	if len(speeds) < r.cfg.ErraticWindow {
		return
	}

	variance := sampleVariance(speeds)
	thr := r.cfg.ErraticVarianceThreshold
	if variance <= thr {
		return
	}

	v.Details["speed_variance"] = variance
	r.fire(v, models.AnomalyErraticMovement, clamp01(0.5*variance/thr))
}

// sampleVariance returns the population variance of values.
func sampleVariance(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
