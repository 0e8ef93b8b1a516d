// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns a Config with all default values applied.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Detection: DetectionConfig{
			HistoryCapacity:          200,
			DeviationThresholdMeters: 500,
			DeviationCapMeters:       2000,
			SpeedCapKmh:              120,
			SpeedBaselineMultiple:    3.0,
			FallBaselineMultiple:     2.5,
			FallSaturationMultiple:   4.0,
			InactivityThreshold:      30 * time.Minute,
			StoppedThreshold:         10 * time.Minute,
			MovingSpeedKmh:           0.5,
			ErraticWindow:            5,
			ErraticVarianceThreshold: 100,
			FusionRuleWeight:         0.6,
			FusionMLWeight:           0.4,
			AnomalyCutoff:            0.5,
			StreakEscalation:         3,
			StateShards:              64,
		},
		ML: MLConfig{
			Contamination:      0.05,
			MinTrainingRecords: 50,
			Trees:              100,
			SampleSize:         256,
			BaselineWarmCount:  10,
		},
		Notifier: NotifierConfig{
			Enabled:                 false,
			URL:                     "",
			Timeout:                 10 * time.Second,
			RatePerMinute:           60,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			ModelPath: "/data/sentinel/model",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in values above
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults. The loaded Config is validated before
// being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file. Returns the first path found,
// or empty string when none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings; the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped (returns "") so unrelated process
// environment never leaks into the config.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DEVIATION_THRESHOLD_METERS -> detection.deviation_threshold_meters
//   - ML_CONTAMINATION -> ml.contamination
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_read_timeout":   "server.read_timeout",
		"http_write_timeout":  "server.write_timeout",
		"shutdown_timeout":    "server.shutdown_timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		// Detection mappings
		"history_capacity":           "detection.history_capacity",
		"deviation_threshold_meters": "detection.deviation_threshold_meters",
		"deviation_cap_meters":       "detection.deviation_cap_meters",
		"speed_cap_kmh":              "detection.speed_cap_kmh",
		"speed_baseline_multiple":    "detection.speed_baseline_multiple",
		"fall_baseline_multiple":     "detection.fall_baseline_multiple",
		"fall_saturation_multiple":   "detection.fall_saturation_multiple",
		"inactivity_threshold":       "detection.inactivity_threshold",
		"stopped_threshold":          "detection.stopped_threshold",
		"moving_speed_kmh":           "detection.moving_speed_kmh",
		"erratic_window":             "detection.erratic_window",
		"erratic_variance_threshold": "detection.erratic_variance_threshold",
		"fusion_rule_weight":         "detection.fusion_rule_weight",
		"fusion_ml_weight":           "detection.fusion_ml_weight",
		"anomaly_cutoff":             "detection.anomaly_cutoff",
		"streak_escalation":          "detection.streak_escalation",
		"state_shards":               "detection.state_shards",

		// ML mappings
		"ml_contamination":        "ml.contamination",
		"ml_min_training_records": "ml.min_training_records",
		"ml_trees":                "ml.trees",
		"ml_sample_size":          "ml.sample_size",
		"ml_baseline_warm_count":  "ml.baseline_warm_count",

		// Notifier mappings
		"notifier_enabled":           "notifier.enabled",
		"notifier_url":               "notifier.url",
		"notifier_timeout":           "notifier.timeout",
		"notifier_rate_per_minute":   "notifier.rate_per_minute",
		"notifier_breaker_failures":  "notifier.breaker_failure_threshold",
		"notifier_breaker_open_time": "notifier.breaker_open_timeout",

		// Storage mappings
		"model_path": "storage.model_path",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Drop everything else
	return ""
}
