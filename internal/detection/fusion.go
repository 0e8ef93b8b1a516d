// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package detection

import (
	"math"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// Side-effecting actions the fusion engine can decide on. Execution is
// delegated to the notifier; the engine only records the decision.
const (
	ActionAutoEscalate    = "auto_escalate"
	ActionNotifyAuthority = "notify_authority"
)

// meaningfulScore is the floor below which a component score is treated as
// "did not fire" for confidence purposes.
const meaningfulScore = 0.1

// fuse combines the rule verdict and the ML score into the final verdict.
// streak is the tourist's consecutive anomaly count before this sample.
func fuse(cfg config.DetectionConfig, s telemetry.Sample, rv RuleVerdict, mlScore float64, streak int) models.AnomalyResponse {
	panicPressed := s.PanicButtonPressed

	var anomalyScore float64
	if panicPressed {
		// panic dominates, never diluted by a calm ML score
		anomalyScore = math.Max(rv.Score, mlScore)
	} else {
		anomalyScore = cfg.FusionRuleWeight*rv.Score + cfg.FusionMLWeight*mlScore
	}

	isAnomaly := anomalyScore >= cfg.AnomalyCutoff || panicPressed

	anomalyType := models.AnomalyNone
	switch {
	case rv.Score > 0:
		anomalyType = rv.Type
	case isAnomaly:
		// ML-only detection has no rule label; fall back to the generic one
		anomalyType = models.AnomalyErraticMovement
	}

	severity := 0
	if isAnomaly {
		severity = deriveSeverity(cfg, anomalyScore, panicPressed, streak)
	}

	result := models.AnomalyResponse{
		TouristID:       s.TouristID,
		Timestamp:       s.Timestamp,
		IsAnomaly:       isAnomaly,
		AnomalyType:     anomalyType,
		Severity:        severity,
		Confidence:      deriveConfidence(rv.Score, mlScore),
		AnomalyScore:    round4(anomalyScore),
		RuleBasedScore:  round4(rv.Score),
		MLBasedScore:    round4(mlScore),
		Details:         rv.Details,
		Recommendations: recommendFor(anomalyType, severity),
		ActionsTaken:    actionsFor(severity, panicPressed),
	}

	return result
}

// deriveSeverity maps the fused score to the 1..4 scale, with the sustained
// anomaly escalation and the panic override.
func deriveSeverity(cfg config.DetectionConfig, score float64, panicPressed bool, streak int) int {
	if panicPressed {
		return models.SeverityCritical
	}

	severity := models.SeverityLow
	switch {
	case score >= 0.85:
		severity = models.SeverityCritical
	case score >= 0.65:
		severity = models.SeverityHigh
	case score >= cfg.AnomalyCutoff:
		severity = models.SeverityMedium
	}

	if cfg.StreakEscalation > 0 && streak >= cfg.StreakEscalation && severity < models.SeverityCritical {
		severity++
	}

	return severity
}

// deriveConfidence measures scorer agreement. When only one scorer fired
// meaningfully, the confidence is floored to avoid false precision.
func deriveConfidence(ruleScore, mlScore float64) float64 {
	confidence := 1 - math.Abs(ruleScore-mlScore)

	ruleFired := ruleScore >= meaningfulScore
	mlFired := mlScore >= meaningfulScore
	if ruleFired != mlFired && confidence < 0.3 {
		confidence = 0.3
	}

	return round4(confidence)
}

// actionsFor decides side effects by severity; panic always escalates.
func actionsFor(severity int, panicPressed bool) []string {
	var actions []string
	switch severity {
	case models.SeverityCritical:
		actions = []string{ActionAutoEscalate, ActionNotifyAuthority}
	case models.SeverityHigh:
		actions = []string{ActionNotifyAuthority}
	default:
		actions = []string{}
	}

	if panicPressed && !contains(actions, ActionAutoEscalate) {
		actions = append([]string{ActionAutoEscalate}, actions...)
	}

	return actions
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// recommendations is the static guidance table keyed by anomaly type, with
// severity-specific overrides layered on top of a base entry.
var recommendations = map[string]struct {
	base     []string
	critical []string
}{
	models.AnomalyDistressPattern: {
		base:     []string{"Contact tourist immediately", "Dispatch nearest response unit"},
		critical: []string{"Dispatch nearest response unit immediately", "Notify emergency contacts", "Keep communication channel open"},
	},
	models.AnomalyFallDetected: {
		base:     []string{"Attempt contact to confirm wellbeing", "Check last known location"},
		critical: []string{"Dispatch immediate medical response", "Notify emergency contacts"},
	},
	models.AnomalyGeofenceViolation: {
		base:     []string{"Send restricted-area warning to tourist", "Monitor movement out of the zone"},
		critical: []string{"Alert zone patrol unit", "Establish direct contact with tourist"},
	},
	models.AnomalyRouteDeviation: {
		base:     []string{"Monitor; no action required", "Verify itinerary change with tourist"},
		critical: []string{"Contact tourist to verify safety", "Flag for patrol follow-up"},
	},
	models.AnomalySpeedAnomaly: {
		base:     []string{"Verify mode of transport", "Monitor for sustained abnormal speed"},
		critical: []string{"Contact tourist to verify safety", "Check for possible vehicle incident"},
	},
	models.AnomalyInactivity: {
		base:     []string{"Send wellness check notification", "Review last reported location"},
		critical: []string{"Initiate wellness call", "Prepare response unit if unreachable"},
	},
	models.AnomalyStopped: {
		base:     []string{"Send wellness check notification", "Monitor for resumed movement"},
		critical: []string{"Initiate wellness call", "Review surrounding area risk"},
	},
	models.AnomalyErraticMovement: {
		base:     []string{"Monitor movement pattern", "Correlate with area risk rating"},
		critical: []string{"Contact tourist to verify safety", "Flag for patrol follow-up"},
	},
}

// recommendFor returns guidance for the verdict. Severity High and Critical
// get the escalated entries.
func recommendFor(anomalyType string, severity int) []string {
	if anomalyType == models.AnomalyNone {
		return []string{}
	}

	entry, ok := recommendations[anomalyType]
	if !ok {
		return []string{"Monitor; no action required"}
	}

	if severity >= models.SeverityHigh && len(entry.critical) > 0 {
		return append([]string(nil), entry.critical...)
	}
	return append([]string(nil), entry.base...)
}

// round4 trims scores to 4 decimal places for stable wire output.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
