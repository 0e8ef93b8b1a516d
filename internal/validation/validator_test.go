// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package validation

import (
	"strings"
	"testing"
)

type testSample struct {
	TouristID string  `validate:"required"`
	Lat       float64 `validate:"latitude"`
	Lng       float64 `validate:"longitude"`
	Risk      float64 `validate:"gte=0,lte=10"`
	Flag      int     `validate:"oneof=0 1"`
}

func validSample() testSample {
	return testSample{TouristID: "t1", Lat: 26.9, Lng: 75.8, Risk: 3, Flag: 1}
}

func TestValidateStruct_Valid(t *testing.T) {
	s := validSample()
	if err := ValidateStruct(&s); err != nil {
		t.Errorf("ValidateStruct() = %v, want nil", err)
	}
}

func TestValidateStruct_FieldFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*testSample)
		wantField string
		wantTag   string
	}{
		{"missing id", func(s *testSample) { s.TouristID = "" }, "TouristID", "required"},
		{"latitude out of range", func(s *testSample) { s.Lat = 91 }, "Lat", "latitude"},
		{"longitude out of range", func(s *testSample) { s.Lng = -181 }, "Lng", "longitude"},
		{"risk too high", func(s *testSample) { s.Risk = 11 }, "Risk", "lte"},
		{"flag not binary", func(s *testSample) { s.Flag = 2 }, "Flag", "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSample()
			tt.mutate(&s)

			err := ValidateStruct(&s)
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField {
				t.Errorf("field = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("tag = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	s := validSample()
	s.TouristID = ""

	apiErr := ValidateStruct(&s).ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Details["field"] != "TouristID" {
		t.Errorf("details field = %v, want TouristID", apiErr.Details["field"])
	}
}

func TestToAPIError_MultipleFailures(t *testing.T) {
	s := testSample{Lat: 95, Lng: 200}

	apiErr := ValidateStruct(&s).ToAPIError()
	if !strings.Contains(apiErr.Message, ";") {
		t.Errorf("message = %q, want combined failures", apiErr.Message)
	}
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("details missing fields list")
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator returned distinct instances")
	}
}
