// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bondvoyage/sentinel/internal/models"
)

// ErrUnknownScenario marks an unsupported demo scenario name.
var ErrUnknownScenario = fmt.Errorf("unknown demo scenario")

func ptr(v float64) *float64 { return &v }

// demoScenarios maps scenario names to canned telemetry sequences that each
// exercise one rule. The dashboard's demo button drives these. Sequences
// with more than one sample exist for rules that need prior state, such as
// inactivity; the verdict of the last sample is what the demo returns.
var demoScenarios = map[string]func(now time.Time) []models.TelemetryData{
	"route_deviation": func(now time.Time) []models.TelemetryData {
		return []models.TelemetryData{{
			TS:  now.Format(time.RFC3339Nano),
			Lat: 26.9124, Lng: 75.7873,
			Speed:           ptr(4.5),
			DeviationMeters: ptr(1800),
			DtS:             30, PointsLast5M: 9,
			LocationRiskScore: 2,
		}}
	},
	"speed_anomaly": func(now time.Time) []models.TelemetryData {
		return []models.TelemetryData{{
			TS:  now.Format(time.RFC3339Nano),
			Lat: 26.9124, Lng: 75.7873,
			Speed: ptr(310),
			DtS:   30, PointsLast5M: 9,
			LocationRiskScore: 2,
		}}
	},
	"geofence_violation": func(now time.Time) []models.TelemetryData {
		return []models.TelemetryData{{
			TS:  now.Format(time.RFC3339Nano),
			Lat: 26.9050, Lng: 75.8010,
			Speed:       ptr(3.2),
			InAlertZone: 1,
			DtS:         30, PointsLast5M: 9,
			LocationRiskScore: 9,
		}}
	},
	"fall": func(now time.Time) []models.TelemetryData {
		return []models.TelemetryData{{
			TS:  now.Format(time.RFC3339Nano),
			Lat: 26.9124, Lng: 75.7873,
			Speed:                  ptr(0.2),
			AccelerometerMagnitude: ptr(4.8),
			DtS:                    30, PointsLast5M: 9,
			LocationRiskScore: 2,
		}}
	},
	"inactivity": func(now time.Time) []models.TelemetryData {
		// a moving sample an hour ago, then a sparse standstill now
		return []models.TelemetryData{
			{
				TS:  now.Add(-time.Hour).Format(time.RFC3339Nano),
				Lat: 26.9124, Lng: 75.7873,
				Speed: ptr(4.0),
				DtS:   30, PointsLast5M: 9,
				LocationRiskScore: 2,
			},
			{
				TS:  now.Format(time.RFC3339Nano),
				Lat: 26.9124, Lng: 75.7873,
				Speed: ptr(0.1),
				DtS:   3600, PointsLast5M: 1,
				LocationRiskScore: 2,
			},
		}
	},
	"panic": func(now time.Time) []models.TelemetryData {
		return []models.TelemetryData{{
			TS:  now.Format(time.RFC3339Nano),
			Lat: 26.9124, Lng: 75.7873,
			Speed:              ptr(2.0),
			PanicButtonPressed: true,
			DtS:                30, PointsLast5M: 9,
			LocationRiskScore:  3,
		}}
	},
}

// SimulateScenario scores the canned samples for the named scenario under a
// synthetic demo tourist, exercising the full pipeline, and returns the
// verdict of the last sample.
func (e *Engine) SimulateScenario(ctx context.Context, scenario string) (models.AnomalyResponse, error) {
	build, ok := demoScenarios[scenario]
	if !ok {
		return models.AnomalyResponse{}, fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	// Each invocation gets its own synthetic tourist so backdated priming
	// samples never collide with an earlier run's timeline.
	touristID := fmt.Sprintf("demo-%s-%s", scenario, uuid.NewString()[:8])
	sequence := build(time.Now().UTC())

	var result models.AnomalyResponse
	for i := range sequence {
		sequence[i].TouristID = touristID

		r, err := e.Predict(ctx, &sequence[i])
		if err != nil {
			return models.AnomalyResponse{}, err
		}
		result = r
	}
	return result, nil
}

// DemoScenarios lists the supported scenario names.
func DemoScenarios() []string {
	names := make([]string, 0, len(demoScenarios))
	for name := range demoScenarios {
		names = append(names, name)
	}
	return names
}
