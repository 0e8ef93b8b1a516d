// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package api provides HTTP routing for the anomaly detection service
// using the Chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bondvoyage/sentinel/internal/config"
)

// Router assembles the HTTP surface of the service.
type Router struct {
	handler *Handler
	cfg     *config.Config
}

// NewRouter creates a Router over the given handler.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	return &Router{
		handler: handler,
		cfg:     cfg,
	}
}

// Setup configures all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	rateLimitReqs := router.cfg.Server.RateLimitReqs
	rateLimitWindow := router.cfg.Server.RateLimitWindow
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}

	// Health stays outside the rate limit budget so monitoring probes
	// never starve prediction traffic.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/health", router.handler.Health)
	})

	r.Group(func(r chi.Router) {
		if rateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(rateLimitReqs, rateLimitWindow))
		}

		r.Post("/predict", router.handler.Predict)
		r.Post("/batch-predict", router.handler.BatchPredict)
		r.Get("/tourist/{touristId}/history", router.handler.TouristHistory)
		r.Get("/statistics", router.handler.Statistics)
		r.Get("/ws", router.handler.WebSocket)
	})

	// Training and demo injection are resource intensive; keep their
	// budget small and separate.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/train", router.handler.Train)
		r.Post("/demo/simulate-anomaly", router.handler.SimulateAnomaly)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
