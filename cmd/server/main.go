// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package main is the entry point for the Sentinel anomaly detection
// server.
//
// Sentinel scores tourist telemetry with a hybrid pipeline: a rule engine
// covering known distress patterns and an isolation forest trained on
// historical movement data. Verdicts stream to the dashboard over a
// websocket feed and high-severity ones are pushed to the authority
// webhook.
//
// Startup order:
//
//  1. Configuration: koanf v2 layered load (defaults, config.yaml, env)
//  2. Logging: zerolog per the logging config
//  3. Model store: BadgerDB snapshot load, if a model was trained before
//  4. Notifier: authority webhook with breaker and rate limit (optional)
//  5. Engine: sharded state store, rule scorer, ML provider
//  6. Supervisor tree: websocket hub and HTTP server under suture
//
// The server handles SIGINT and SIGTERM with a bounded graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bondvoyage/sentinel/internal/api"
	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/detection"
	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/metrics"
	"github.com/bondvoyage/sentinel/internal/ml"
	"github.com/bondvoyage/sentinel/internal/notify"
	"github.com/bondvoyage/sentinel/internal/state"
	"github.com/bondvoyage/sentinel/internal/storage"
	"github.com/bondvoyage/sentinel/internal/supervisor"
	ws "github.com/bondvoyage/sentinel/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Float64("contamination", cfg.ML.Contamination).
		Bool("notifier_enabled", cfg.Notifier.Enabled).
		Msg("starting sentinel")

	provider := ml.NewProvider()
	trainer := ml.NewTrainer(provider, ml.TrainerConfig{
		Trees:      cfg.ML.Trees,
		SampleSize: cfg.ML.SampleSize,
		MinRecords: cfg.ML.MinTrainingRecords,
	})
	store := state.NewStore(cfg.Detection.StateShards)

	// Reload the last trained model so a restart does not drop back to
	// rules-only mode.
	var snapshots detection.SnapshotStore
	if cfg.Storage.ModelPath != "" {
		modelStore, err := storage.Open(cfg.Storage.ModelPath)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Storage.ModelPath).Msg("failed to open model store")
		}
		defer func() {
			if err := modelStore.Close(); err != nil {
				logging.Error().Err(err).Msg("error closing model store")
			}
		}()

		model, err := modelStore.Load()
		switch {
		case err == nil:
			provider.Swap(model)
			metrics.ModelLoaded.Set(1)
			logging.Info().
				Str("model_version", model.Version).
				Time("trained_at", model.TrainedAt).
				Msg("model snapshot restored")
		case errors.Is(err, storage.ErrNoSnapshot):
			logging.Info().Msg("no model snapshot found, starting in rules-only mode")
		default:
			logging.Fatal().Err(err).Msg("failed to load model snapshot")
		}

		snapshots = modelStore
	} else {
		logging.Info().Msg("model persistence disabled (empty model path)")
	}

	var notifier detection.Notifier
	if cfg.Notifier.Enabled {
		notifier = notify.NewWebhookNotifier(cfg.Notifier)
		logging.Info().Str("url", cfg.Notifier.URL).Msg("authority webhook notifier enabled")
	}

	hub := ws.NewHub()

	engine := detection.NewEngine(cfg.Detection, cfg.ML, store, provider, trainer, detection.Options{
		Notifier:    notifier,
		Broadcaster: hub,
		Snapshots:   snapshots,
	})

	handler := api.NewHandler(engine, hub, cfg)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddFeedService(supervisor.NewFeedHubService(hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context cancelled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	logging.Info().Msg("sentinel stopped")
}
