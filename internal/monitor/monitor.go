// Package monitor runs the label-free health loop: every tick it verifies
// the reference baseline, computes proxy metrics over the recent prediction
// window, tests each feature for drift, and appends exactly one audit row.
// Dataset-level drift publishes an alert for the retraining orchestrator.
package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftguard/internal/artifacts"
	"driftguard/internal/drift"
	"driftguard/internal/events"
	"driftguard/internal/featureset"
	"driftguard/internal/metrics"
	"driftguard/internal/refstore"
	"driftguard/internal/stats"
	"driftguard/internal/store"
)

// tickOutcomeError labels ticks that aborted before writing a row.
const tickOutcomeError = "error"

// Config holds the per-tick parameters.
type Config struct {
	// ModelName scopes the prediction window.
	ModelName string

	// Lookback is the width of the prediction window ending at the tick.
	Lookback time.Duration

	// MinSamples is the window size below which the tick records an
	// insufficient_samples row instead of computing metrics.
	MinSamples int
}

// Deps are the engine's collaborators. Bus and Metrics may be nil.
type Deps struct {
	Store     *store.Store
	Baselines *refstore.Store
	Detector  *drift.Detector
	Artifacts *artifacts.Store
	Bus       *events.Bus
	Metrics   *metrics.Set
	Logger    *zap.Logger
}

// Engine executes monitoring ticks. Ticks are serialized: a tick that fires
// while the previous one is still executing records an overlap_skip row and
// returns without doing any work.
type Engine struct {
	cfg       Config
	store     *store.Store
	baselines *refstore.Store
	detector  *drift.Detector
	artifacts *artifacts.Store
	bus       *events.Bus
	metrics   *metrics.Set
	logger    *zap.Logger

	inFlight atomic.Bool
	now      func() time.Time
}

// NewEngine returns an Engine over the given collaborators.
func NewEngine(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		baselines: deps.Baselines,
		detector:  deps.Detector,
		artifacts: deps.Artifacts,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// RunTick executes one monitoring pass and returns the persisted audit row.
// A reference integrity failure aborts the tick before any row is written;
// callers must treat that error as fatal.
func (e *Engine) RunTick(ctx context.Context) (*store.MonitoringRun, error) {
	runAt := e.now().UTC()
	runID := uuid.NewString()

	if !e.inFlight.CompareAndSwap(false, true) {
		row := &store.MonitoringRun{
			RunID:         runID,
			RunAt:         runAt,
			LookbackHours: e.lookbackHours(),
			Reason:        store.RunReasonOverlapSkip,
		}
		if err := e.store.InsertMonitoringRun(ctx, row); err != nil {
			return nil, err
		}
		e.metrics.ObserveTick(store.RunReasonOverlapSkip, 0)
		e.logger.Warn("monitoring tick fired while previous tick still running, skipped",
			zap.String("run_id", runID))
		return row, nil
	}
	defer e.inFlight.Store(false)

	started := time.Now()

	baseline, err := e.baselines.Load()
	if err != nil {
		if errors.Is(err, refstore.ErrIntegrity) {
			e.logger.Error("reference baseline failed verification, monitoring must stop",
				zap.String("run_id", runID), zap.Error(err))
		}
		e.metrics.ObserveTick(tickOutcomeError, 0)
		return nil, err
	}

	since := runAt.Add(-e.cfg.Lookback)
	current, classes, probs, err := e.collectWindow(ctx, since)
	if err != nil {
		e.metrics.ObserveTick(tickOutcomeError, 0)
		return nil, err
	}
	n := len(current)

	if n < e.cfg.MinSamples {
		noDrift := false
		noneDrifted := 0
		row := &store.MonitoringRun{
			RunID:          runID,
			RunAt:          runAt,
			LookbackHours:  e.lookbackHours(),
			NumPredictions: n,
			DatasetDrift:   &noDrift,
			NumDrifted:     &noneDrifted,
			Reason:         store.RunReasonInsufficientSamples,
		}
		if err := e.store.InsertMonitoringRun(ctx, row); err != nil {
			return nil, err
		}
		e.metrics.ObserveTick(store.RunReasonInsufficientSamples, time.Since(started))
		e.logger.Info("monitoring window below minimum, skipping analysis",
			zap.String("run_id", runID),
			zap.Int("num_predictions", n),
			zap.Int("min_samples", e.cfg.MinSamples))
		return row, nil
	}

	positiveRate := stats.PositiveRate(classes)
	probMean := stats.Mean(probs)
	probStd := stats.Std(probs)
	entropy := stats.MeanBinaryEntropy(probs)

	report := e.detector.Evaluate(baseline.Rows, current)

	ref, err := e.artifacts.Put(artifacts.KindDrift, runID, report)
	if err != nil {
		e.metrics.ObserveTick(tickOutcomeError, 0)
		return nil, err
	}

	row := &store.MonitoringRun{
		RunID:             runID,
		RunAt:             runAt,
		LookbackHours:     e.lookbackHours(),
		NumPredictions:    n,
		PositiveRate:      &positiveRate,
		ProbabilityMean:   &probMean,
		ProbabilityStd:    &probStd,
		Entropy:           &entropy,
		DatasetDrift:      &report.DatasetDrift,
		FeatureDriftRatio: &report.FeatureDriftRatio,
		NumDrifted:        &report.NumDrifted,
		NumEvaluated:      &report.NumEvaluated,
		Reason:            store.RunReasonOK,
		DriftArtifactRef:  &ref,
	}
	if err := e.store.InsertMonitoringRun(ctx, row); err != nil {
		return nil, err
	}

	e.metrics.ObserveTick(store.RunReasonOK, time.Since(started))
	e.metrics.ObserveDrift(report.FeatureDriftRatio, report.NumDrifted, report.NumEvaluated)

	if report.DatasetDrift {
		e.logger.Warn("dataset drift detected",
			zap.String("run_id", runID),
			zap.Float64("feature_drift_ratio", report.FeatureDriftRatio),
			zap.Strings("drifted_features", report.DriftedFeatures))
		if e.bus != nil {
			e.bus.PublishDrift(events.DriftAlert{
				RunID:             runID,
				RunAt:             runAt,
				FeatureDriftRatio: report.FeatureDriftRatio,
				DriftedFeatures:   report.DriftedFeatures,
			})
		}
	} else {
		e.logger.Info("monitoring tick complete",
			zap.String("run_id", runID),
			zap.Int("num_predictions", n),
			zap.Float64("feature_drift_ratio", report.FeatureDriftRatio))
	}

	return row, nil
}

// collectWindow streams the prediction window once, keeping feature rows for
// the drift comparison and classes/probabilities for the proxy metrics.
func (e *Engine) collectWindow(ctx context.Context, since time.Time) ([]featureset.Row, []int, []float64, error) {
	rows, err := e.store.LoadPredictionsSince(ctx, e.cfg.ModelName, since)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	var (
		current []featureset.Row
		classes []int
		probs   []float64
	)
	for rows.Next() {
		p := rows.Record()
		current = append(current, p.Features.Clone())
		classes = append(classes, p.PredictedClass)
		probs = append(probs, p.PredictedProbability)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}
	return current, classes, probs, nil
}

func (e *Engine) lookbackHours() int {
	return int(e.cfg.Lookback.Hours())
}
