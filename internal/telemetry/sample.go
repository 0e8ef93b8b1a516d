// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package telemetry converts raw wire telemetry into validated, normalized
// samples. Parsing is pure: no state is touched, invalid input is rejected
// before it can reach the store.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/validation"
)

// ErrInvalidSample marks malformed telemetry input. Wrapped errors carry the
// specific field failure.
var ErrInvalidSample = errors.New("invalid telemetry sample")

// timestampFormats are accepted wire timestamp layouts, tried in order.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Sample is one validated, normalized telemetry reading. Optional wire
// fields are resolved to documented defaults; the *Known flags record
// whether the value was actually reported.
type Sample struct {
	TouristID string
	Timestamp time.Time
	Lat       float64
	Lng       float64

	// Speed in km/h. 0 with SpeedKnown=false when the device did not
	// report one; the unknown flag propagates into verdict details.
	Speed      float64
	SpeedKnown bool

	DeviationMeters float64
	InAlertZone     bool
	ElapsedSeconds  float64
	PointsLast5M    int

	// LocationRiskScore is the area risk rating, 0 to 10.
	LocationRiskScore float64

	// AccelMagnitude in g units; 1.0 (gravity at rest) when absent.
	AccelMagnitude float64

	BatteryLevel float64
	BatteryKnown bool

	PanicButtonPressed bool
}

// Parse validates a wire TelemetryData and normalizes it into a Sample.
// All failures wrap ErrInvalidSample. Parse has no side effects.
func Parse(data *models.TelemetryData) (Sample, error) {
	if data == nil {
		return Sample{}, fmt.Errorf("%w: nil payload", ErrInvalidSample)
	}

	if verr := validation.ValidateStruct(data); verr != nil {
		return Sample{}, fmt.Errorf("%w: %s", ErrInvalidSample, verr.Error())
	}

	ts, err := parseTimestamp(data.TS)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %s", ErrInvalidSample, err.Error())
	}

	if !isFinite(data.Lat) || !isFinite(data.Lng) {
		return Sample{}, fmt.Errorf("%w: non-finite coordinates", ErrInvalidSample)
	}
	if !isFinite(data.DtS) || !isFinite(data.LocationRiskScore) {
		return Sample{}, fmt.Errorf("%w: non-finite numeric field", ErrInvalidSample)
	}

	s := Sample{
		TouristID:          data.TouristID,
		Timestamp:          ts,
		Lat:                data.Lat,
		Lng:                data.Lng,
		InAlertZone:        data.InAlertZone == 1,
		ElapsedSeconds:     data.DtS,
		PointsLast5M:       data.PointsLast5M,
		LocationRiskScore:  data.LocationRiskScore,
		AccelMagnitude:     1.0,
		PanicButtonPressed: data.PanicButtonPressed,
	}

	if data.Speed != nil {
		v := *data.Speed
		if !isFinite(v) || v < 0 {
			return Sample{}, fmt.Errorf("%w: speed must be a finite non-negative number", ErrInvalidSample)
		}
		s.Speed = v
		s.SpeedKnown = true
	}

	if data.DeviationMeters != nil {
		v := *data.DeviationMeters
		if !isFinite(v) || v < 0 {
			return Sample{}, fmt.Errorf("%w: deviationMeters must be a finite non-negative number", ErrInvalidSample)
		}
		s.DeviationMeters = v
	}

	if data.AccelerometerMagnitude != nil {
		v := *data.AccelerometerMagnitude
		if !isFinite(v) || v < 0 {
			return Sample{}, fmt.Errorf("%w: accelerometer_magnitude must be a finite non-negative number", ErrInvalidSample)
		}
		s.AccelMagnitude = v
	}

	if data.BatteryLevel != nil {
		v := *data.BatteryLevel
		if !isFinite(v) || v < 0 || v > 100 {
			return Sample{}, fmt.Errorf("%w: battery_level must be in [0, 100]", ErrInvalidSample)
		}
		s.BatteryLevel = v
		s.BatteryKnown = true
	}

	return s, nil
}

// parseTimestamp resolves a wire timestamp string to an instant.
func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}

// isFinite reports whether v is neither NaN nor infinite.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
