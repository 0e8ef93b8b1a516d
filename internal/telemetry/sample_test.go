// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bondvoyage/sentinel/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func validData() *models.TelemetryData {
	return &models.TelemetryData{
		TouristID:         "tourist-001",
		TS:                "2026-08-28T10:30:00Z",
		Lat:               26.9124,
		Lng:               75.7873,
		Speed:             floatPtr(4.2),
		DeviationMeters:   floatPtr(12),
		InAlertZone:       0,
		DtS:               30,
		PointsLast5M:      10,
		LocationRiskScore: 2,
	}
}

func TestParse_Valid(t *testing.T) {
	s, err := Parse(validData())
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil", err)
	}

	if s.TouristID != "tourist-001" {
		t.Errorf("TouristID = %q, want %q", s.TouristID, "tourist-001")
	}
	want := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	if !s.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", s.Timestamp, want)
	}
	if !s.SpeedKnown || s.Speed != 4.2 {
		t.Errorf("Speed = %v (known=%v), want 4.2 (known=true)", s.Speed, s.SpeedKnown)
	}
	if s.InAlertZone {
		t.Error("InAlertZone = true, want false")
	}
}

func TestParse_Defaults(t *testing.T) {
	data := validData()
	data.Speed = nil
	data.DeviationMeters = nil
	data.AccelerometerMagnitude = nil
	data.BatteryLevel = nil

	s, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil", err)
	}

	if s.SpeedKnown {
		t.Error("SpeedKnown = true for absent speed, want false")
	}
	if s.Speed != 0 {
		t.Errorf("Speed = %v for absent speed, want 0", s.Speed)
	}
	if s.AccelMagnitude != 1.0 {
		t.Errorf("AccelMagnitude = %v for absent reading, want 1.0", s.AccelMagnitude)
	}
	if s.DeviationMeters != 0 {
		t.Errorf("DeviationMeters = %v for absent reading, want 0", s.DeviationMeters)
	}
	if s.BatteryKnown {
		t.Error("BatteryKnown = true for absent battery, want false")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.TelemetryData)
	}{
		{"empty tourist id", func(d *models.TelemetryData) { d.TouristID = "" }},
		{"unparsable timestamp", func(d *models.TelemetryData) { d.TS = "yesterday" }},
		{"empty timestamp", func(d *models.TelemetryData) { d.TS = "" }},
		{"latitude too large", func(d *models.TelemetryData) { d.Lat = 91 }},
		{"latitude too small", func(d *models.TelemetryData) { d.Lat = -91 }},
		{"longitude out of range", func(d *models.TelemetryData) { d.Lng = 200 }},
		{"nan latitude", func(d *models.TelemetryData) { d.Lat = math.NaN() }},
		{"negative speed", func(d *models.TelemetryData) { d.Speed = floatPtr(-1) }},
		{"infinite speed", func(d *models.TelemetryData) { d.Speed = floatPtr(math.Inf(1)) }},
		{"negative deviation", func(d *models.TelemetryData) { d.DeviationMeters = floatPtr(-5) }},
		{"nan accelerometer", func(d *models.TelemetryData) { d.AccelerometerMagnitude = floatPtr(math.NaN()) }},
		{"battery over 100", func(d *models.TelemetryData) { d.BatteryLevel = floatPtr(101) }},
		{"negative battery", func(d *models.TelemetryData) { d.BatteryLevel = floatPtr(-1) }},
		{"negative elapsed", func(d *models.TelemetryData) { d.DtS = -1 }},
		{"risk score over 10", func(d *models.TelemetryData) { d.LocationRiskScore = 11 }},
		{"alert zone not boolean", func(d *models.TelemetryData) { d.InAlertZone = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validData()
			tt.mutate(data)

			_, err := Parse(data)
			if err == nil {
				t.Fatal("Parse() error = nil, want ErrInvalidSample")
			}
			if !errors.Is(err, ErrInvalidSample) {
				t.Errorf("Parse() error = %v, want ErrInvalidSample", err)
			}
		})
	}
}

func TestParse_NilPayload(t *testing.T) {
	_, err := Parse(nil)
	if !errors.Is(err, ErrInvalidSample) {
		t.Errorf("Parse(nil) error = %v, want ErrInvalidSample", err)
	}
}

func TestParse_TimestampFormats(t *testing.T) {
	tests := []struct {
		name string
		ts   string
	}{
		{"rfc3339", "2026-08-28T10:30:00Z"},
		{"rfc3339 with offset", "2026-08-28T16:00:00+05:30"},
		{"rfc3339 nano", "2026-08-28T10:30:00.123456789Z"},
		{"no zone", "2026-08-28T10:30:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validData()
			data.TS = tt.ts
			if _, err := Parse(data); err != nil {
				t.Errorf("Parse() error = %v for %q, want nil", err, tt.ts)
			}
		})
	}
}
