// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bondvoyage/sentinel/internal/config"
	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/metrics"
	"github.com/bondvoyage/sentinel/internal/ml"
	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/state"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

// Notifier executes the side effects the fusion engine decided on. Called
// asynchronously; implementations handle their own timeouts and retries.
type Notifier interface {
	Notify(ctx context.Context, result models.AnomalyResponse)
}

// Broadcaster pushes verdicts to live feed subscribers.
type Broadcaster interface {
	BroadcastVerdict(result models.AnomalyResponse)
}

// SnapshotStore persists fitted models across restarts.
type SnapshotStore interface {
	Save(model *ml.Model) error
}

// Engine runs the full scoring pipeline: parse, serialize per tourist,
// rule and ML scoring, fusion, state append, then fan-out to the notifier
// and the live feed.
type Engine struct {
	detCfg config.DetectionConfig
	mlCfg  config.MLConfig

	scorer   *RuleScorer
	store    *state.Store
	provider *ml.Provider
	trainer  *ml.Trainer

	notifier    Notifier
	broadcaster Broadcaster
	snapshots   SnapshotStore

	recordsProcessed atomic.Int64
	lastTrainFailed  atomic.Bool
}

// Options carries the optional engine collaborators.
type Options struct {
	Notifier    Notifier
	Broadcaster Broadcaster
	Snapshots   SnapshotStore
}

// NewEngine wires the scoring pipeline.
func NewEngine(detCfg config.DetectionConfig, mlCfg config.MLConfig, store *state.Store, provider *ml.Provider, trainer *ml.Trainer, opts Options) *Engine {
	return &Engine{
		detCfg:      detCfg,
		mlCfg:       mlCfg,
		scorer:      NewRuleScorer(detCfg, mlCfg.BaselineWarmCount),
		store:       store,
		provider:    provider,
		trainer:     trainer,
		notifier:    opts.Notifier,
		broadcaster: opts.Broadcaster,
		snapshots:   opts.Snapshots,
	}
}

// Predict scores one telemetry sample. The read-score-append sequence runs
// under the tourist's state lock, so concurrent samples for the same
// tourist serialize and apply in timestamp order.
func (e *Engine) Predict(ctx context.Context, data *models.TelemetryData) (models.AnomalyResponse, error) {
	start := time.Now()

	sample, err := telemetry.Parse(data)
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("rejected", models.AnomalyNone).Inc()
		return models.AnomalyResponse{}, err
	}

	var result models.AnomalyResponse
	err = e.store.Update(sample.TouristID, func(ts *state.TouristState) error {
		if orderErr := ts.CheckOrder(sample.Timestamp); orderErr != nil {
			return orderErr
		}

		rv := e.scorer.Evaluate(sample, ts)

		mlScore := 0.0
		if model := e.provider.Current(); model != nil {
			mlScore = model.Score(sample, baselineHint(ts, e.mlCfg.BaselineWarmCount))
		} else {
			// rules-only mode must be distinguishable from "no anomaly"
			rv.Details["model_not_loaded"] = true
		}

		result = fuse(e.detCfg, sample, rv, mlScore, ts.ConsecutiveAnomalyStreak)
		ts.Append(sample, result, e.detCfg.HistoryCapacity, e.detCfg.MovingSpeedKmh)
		return nil
	})
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("rejected", models.AnomalyNone).Inc()
		return models.AnomalyResponse{}, err
	}

	e.recordsProcessed.Add(1)
	e.observePrediction(result, start)
	e.fanOut(result)

	return result, nil
}

// baselineHint snapshots the tourist's running feature means for the ML
// scorer. Must be called under the tourist's state lock.
func baselineHint(ts *state.TouristState, warmCount int) ml.BaselineHint {
	return ml.BaselineHint{
		Warm:          ts.Baseline.Warm(int64(warmCount)),
		SpeedMean:     ts.Baseline.Speed.Mean,
		DeviationMean: ts.Baseline.Deviation.Mean,
		AccelMean:     ts.Baseline.Accel.Mean,
	}
}

func (e *Engine) observePrediction(result models.AnomalyResponse, start time.Time) {
	outcome := "normal"
	if result.IsAnomaly {
		outcome = "anomaly"
	}
	metrics.PredictionsTotal.WithLabelValues(outcome, result.AnomalyType).Inc()
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	metrics.TouristsMonitored.Set(float64(e.store.TouristCount()))

	if result.IsAnomaly {
		logging.Info().
			Str("tourist_id", result.TouristID).
			Str("anomaly_type", result.AnomalyType).
			Int("severity", result.Severity).
			Float64("score", result.AnomalyScore).
			Msg("anomaly detected")
	}
}

// fanOut pushes the verdict to the live feed and, when actions were
// decided, to the notifier. Both are fire-and-forget.
func (e *Engine) fanOut(result models.AnomalyResponse) {
	if e.broadcaster != nil {
		e.broadcaster.BroadcastVerdict(result)
	}
	if e.notifier != nil && len(result.ActionsTaken) > 0 {
		go e.notifier.Notify(context.Background(), result)
	}
}

// BatchPredict scores samples in input order. Per-item failures are
// reported keyed to the input index and never abort the rest of the batch.
// Sequential processing preserves per-tourist ordering by construction.
func (e *Engine) BatchPredict(ctx context.Context, batch []models.TelemetryData) models.BatchPredictResponse {
	metrics.BatchSize.Observe(float64(len(batch)))

	resp := models.BatchPredictResponse{
		Results: make([]models.AnomalyResponse, 0, len(batch)),
	}

	for i := range batch {
		if ctx.Err() != nil {
			resp.Errors = append(resp.Errors, models.BatchError{
				Index:   i,
				Code:    "CANCELLED",
				Message: "request cancelled",
			})
			continue
		}

		result, err := e.Predict(ctx, &batch[i])
		if err != nil {
			resp.Errors = append(resp.Errors, models.BatchError{
				Index:   i,
				Code:    ErrorCode(err),
				Message: err.Error(),
			})
			continue
		}
		resp.Results = append(resp.Results, result)
	}

	resp.Processed = len(resp.Results)
	return resp
}

// History returns a tourist's verdicts, most recent first. ok is false for
// an unknown tourist.
func (e *Engine) History(touristID string) (models.HistoryResponse, bool) {
	history, ok := e.store.History(touristID)
	if !ok {
		return models.HistoryResponse{}, false
	}
	return models.HistoryResponse{
		TouristID: touristID,
		History:   history,
		Count:     len(history),
	}, true
}

// Statistics returns a read-only aggregate snapshot. Calling it repeatedly
// with no intervening predictions yields identical counters.
func (e *Engine) Statistics() models.StatisticsResponse {
	contamination := e.mlCfg.Contamination
	version := "none"
	loaded := false
	if model := e.provider.Current(); model != nil {
		contamination = model.Contamination
		version = model.Version
		loaded = true
	}

	return models.StatisticsResponse{
		TotalTouristsMonitored: e.store.TouristCount(),
		TotalRecordsProcessed:  e.recordsProcessed.Load(),
		ModelLoaded:            loaded,
		Contamination:          contamination,
		Version:                version,
		Timestamp:              time.Now().UTC(),
	}
}

// Health reports healthy only when a model is loaded and the last training
// attempt succeeded; otherwise the service runs degraded on rules alone.
func (e *Engine) Health() models.HealthResponse {
	version := "none"
	loaded := false
	if model := e.provider.Current(); model != nil {
		version = model.Version
		loaded = true
	}

	status := "healthy"
	if !loaded || e.lastTrainFailed.Load() {
		status = "degraded"
	}

	return models.HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		ModelLoaded: loaded,
		Version:     version,
	}
}

// Train refits the model from a historical batch. Invalid records are
// skipped; the batch fails only when too few valid records remain. On any
// failure the previously loaded model stays active.
func (e *Engine) Train(ctx context.Context, req *models.TrainRequest) (models.TrainResponse, error) {
	start := time.Now()

	contamination := e.mlCfg.Contamination
	if req.Contamination != nil {
		contamination = *req.Contamination
	}

	samples := make([]telemetry.Sample, 0, len(req.Data))
	skipped := 0
	for i := range req.Data {
		s, err := telemetry.Parse(&req.Data[i])
		if err != nil {
			skipped++
			continue
		}
		samples = append(samples, s)
	}

	model, err := e.trainer.Train(ctx, samples, contamination)
	if err != nil {
		e.lastTrainFailed.Store(true)
		if errors.Is(err, ml.ErrInsufficientData) {
			metrics.TrainingsTotal.WithLabelValues("insufficient_data").Inc()
		} else {
			metrics.TrainingsTotal.WithLabelValues("error").Inc()
		}
		return models.TrainResponse{}, err
	}

	e.lastTrainFailed.Store(false)
	metrics.TrainingsTotal.WithLabelValues("success").Inc()
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	metrics.ModelLoaded.Set(1)

	if e.snapshots != nil {
		if err := e.snapshots.Save(model); err != nil {
			logging.Error().Err(err).Str("model_version", model.Version).Msg("model snapshot save failed")
		}
	}

	msg := fmt.Sprintf("model trained on %d records", len(samples))
	if skipped > 0 {
		msg = fmt.Sprintf("%s (%d invalid records skipped)", msg, skipped)
	}

	return models.TrainResponse{
		Status:        "success",
		Message:       msg,
		Contamination: contamination,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ErrorCode maps pipeline errors to stable wire codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrInvalidSample):
		return "INVALID_SAMPLE"
	case errors.Is(err, state.ErrOutOfOrder):
		return "OUT_OF_ORDER"
	case errors.Is(err, ml.ErrInsufficientData):
		return "INSUFFICIENT_DATA"
	case errors.Is(err, ml.ErrInvalidContamination):
		return "INVALID_CONTAMINATION"
	default:
		return "INTERNAL"
	}
}
