// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package config defines Sentinel's configuration structure and loading.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables. ENV > File > Defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Sentinel service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Detection DetectionConfig `koanf:"detection"`
	ML        MLConfig        `koanf:"ml"`
	Notifier  NotifierConfig  `koanf:"notifier"`
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists allowed dashboard origins. "*" allows all.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs is the per-IP request budget per RateLimitWindow.
	// 0 disables rate limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DetectionConfig holds the rule scorer thresholds and state retention
// settings. All values are tunable; the defaults match the field ranges the
// dashboard sends.
type DetectionConfig struct {
	// HistoryCapacity bounds the per-tourist rolling result history (FIFO).
	HistoryCapacity int `koanf:"history_capacity"`

	// DeviationThresholdMeters is where route deviation starts scoring (0.3).
	DeviationThresholdMeters float64 `koanf:"deviation_threshold_meters"`
	// DeviationCapMeters is where the deviation sub-score saturates at 1.0.
	DeviationCapMeters float64 `koanf:"deviation_cap_meters"`

	// SpeedCapKmh is the absolute speed ceiling in km/h.
	SpeedCapKmh float64 `koanf:"speed_cap_kmh"`
	// SpeedBaselineMultiple flags speeds beyond this multiple of the
	// tourist's own baseline mean once the baseline is warm.
	SpeedBaselineMultiple float64 `koanf:"speed_baseline_multiple"`

	// FallBaselineMultiple is the accelerometer spike threshold as a
	// multiple of the tourist's baseline magnitude mean.
	FallBaselineMultiple float64 `koanf:"fall_baseline_multiple"`
	// FallSaturationMultiple is where the fall sub-score reaches 1.0.
	FallSaturationMultiple float64 `koanf:"fall_saturation_multiple"`

	// InactivityThreshold is how long without movement counts as inactive.
	InactivityThreshold time.Duration `koanf:"inactivity_threshold"`
	// StoppedThreshold is the shorter window for a literal standstill.
	StoppedThreshold time.Duration `koanf:"stopped_threshold"`
	// MovingSpeedKmh is the minimum speed that counts as movement.
	MovingSpeedKmh float64 `koanf:"moving_speed_kmh"`

	// ErraticWindow is the number of trailing samples examined for
	// erratic movement variance.
	ErraticWindow int `koanf:"erratic_window"`
	// ErraticVarianceThreshold is the speed variance (km/h squared) at
	// which erratic movement starts scoring.
	ErraticVarianceThreshold float64 `koanf:"erratic_variance_threshold"`

	// FusionRuleWeight and FusionMLWeight blend the two component scores.
	FusionRuleWeight float64 `koanf:"fusion_rule_weight"`
	FusionMLWeight   float64 `koanf:"fusion_ml_weight"`
	// AnomalyCutoff is the fused score at which a sample becomes anomalous.
	AnomalyCutoff float64 `koanf:"anomaly_cutoff"`

	// StreakEscalation is the consecutive anomaly count that bumps
	// severity by one level.
	StreakEscalation int `koanf:"streak_escalation"`

	// StateShards is the number of lock shards in the tourist state store.
	StateShards int `koanf:"state_shards"`
}

// MLConfig holds isolation forest training settings.
type MLConfig struct {
	// Contamination is the expected anomaly fraction, range (0, 0.5).
	Contamination float64 `koanf:"contamination"`
	// MinTrainingRecords is the minimum batch size accepted by train.
	MinTrainingRecords int `koanf:"min_training_records"`
	// Trees is the ensemble size.
	Trees int `koanf:"trees"`
	// SampleSize is the sub-sample size per tree.
	SampleSize int `koanf:"sample_size"`
	// BaselineWarmCount is how many samples a tourist needs before their
	// own baseline stats participate in feature normalization.
	BaselineWarmCount int `koanf:"baseline_warm_count"`
}

// NotifierConfig holds the authority webhook settings.
type NotifierConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// RatePerMinute caps outbound notifications; 0 means unlimited.
	RatePerMinute int `koanf:"rate_per_minute"`

	// BreakerFailureThreshold trips the circuit breaker after this many
	// consecutive delivery failures.
	BreakerFailureThreshold int           `koanf:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout"`
}

// StorageConfig holds model snapshot persistence settings.
type StorageConfig struct {
	// ModelPath is the badger directory for fitted model snapshots.
	// Empty disables persistence; the model then lives only in memory.
	ModelPath string `koanf:"model_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the server listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks configuration invariants that cannot be expressed as
// defaults. Returns the first violation found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Detection.HistoryCapacity < 1 {
		return fmt.Errorf("detection.history_capacity must be positive, got %d", c.Detection.HistoryCapacity)
	}
	if c.Detection.DeviationCapMeters <= c.Detection.DeviationThresholdMeters {
		return fmt.Errorf("detection.deviation_cap_meters (%v) must exceed deviation_threshold_meters (%v)",
			c.Detection.DeviationCapMeters, c.Detection.DeviationThresholdMeters)
	}
	if c.Detection.FallSaturationMultiple <= c.Detection.FallBaselineMultiple {
		return fmt.Errorf("detection.fall_saturation_multiple (%v) must exceed fall_baseline_multiple (%v)",
			c.Detection.FallSaturationMultiple, c.Detection.FallBaselineMultiple)
	}
	if c.Detection.StoppedThreshold > c.Detection.InactivityThreshold {
		return fmt.Errorf("detection.stopped_threshold (%v) must not exceed inactivity_threshold (%v)",
			c.Detection.StoppedThreshold, c.Detection.InactivityThreshold)
	}
	if w := c.Detection.FusionRuleWeight + c.Detection.FusionMLWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("detection fusion weights must sum to 1.0, got %v", w)
	}
	if c.Detection.AnomalyCutoff <= 0 || c.Detection.AnomalyCutoff >= 1 {
		return fmt.Errorf("detection.anomaly_cutoff must be in (0, 1), got %v", c.Detection.AnomalyCutoff)
	}
	if c.Detection.ErraticWindow < 2 {
		return fmt.Errorf("detection.erratic_window must be at least 2, got %d", c.Detection.ErraticWindow)
	}
	if c.Detection.StateShards < 1 {
		return fmt.Errorf("detection.state_shards must be positive, got %d", c.Detection.StateShards)
	}
	if c.ML.Contamination <= 0 || c.ML.Contamination >= 0.5 {
		return fmt.Errorf("ml.contamination must be in (0, 0.5), got %v", c.ML.Contamination)
	}
	if c.ML.MinTrainingRecords < 1 {
		return fmt.Errorf("ml.min_training_records must be positive, got %d", c.ML.MinTrainingRecords)
	}
	if c.ML.Trees < 1 {
		return fmt.Errorf("ml.trees must be positive, got %d", c.ML.Trees)
	}
	if c.Notifier.Enabled && c.Notifier.URL == "" {
		return fmt.Errorf("notifier.url is required when the notifier is enabled")
	}
	return nil
}
