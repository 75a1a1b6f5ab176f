// Package orchestrator runs the retraining pipeline: decide whether to
// train, train a shadow candidate against the labeled window, replay both
// models over the held-out tail, and hand the evidence to the evaluation
// gate. Every attempt, including the ones that never reach training,
// leaves a decision row behind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftguard/internal/artifacts"
	"driftguard/internal/evalgate"
	"driftguard/internal/featureset"
	"driftguard/internal/metrics"
	"driftguard/internal/store"
	"driftguard/internal/trainer"
)

// Skip reasons recorded on decisions that never reached the gate.
const (
	skipInFlight        = "orchestration_in_flight"
	skipEmptyPartition  = "empty_partition"
	skipTrainingFailed  = "training_failed"
	skipTrainingTimeout = "training_timeout"

	reasonBootstrap = "bootstrap"
	reasonRaceLost  = "promotion commit lost to a concurrent orchestration"
)

// Config wires the orchestrator's collaborators and tuning.
type Config struct {
	ModelName string
	Schema    featureset.Schema

	Store     *store.Store
	Artifacts *artifacts.Store
	Trainer   trainer.Trainer
	Promoter  *evalgate.Promoter
	Metrics   *metrics.Set
	Logger    *zap.Logger

	Thresholds      evalgate.Thresholds
	TrainingWindow  time.Duration
	TestFraction    float64
	TrainingTimeout time.Duration
	Seed            int64
	SegmentColumns  []string
	SegmentBins     int
}

// Orchestrator serializes retraining per model name. A trigger that finds
// an orchestration already in flight is dropped with a skip decision, not
// queued.
type Orchestrator struct {
	cfg      Config
	store    *store.Store
	arts     *artifacts.Store
	trainer  trainer.Trainer
	promoter *evalgate.Promoter
	metrics  *metrics.Set
	logger   *zap.Logger

	segmenter *evalgate.Segmenter

	locks sync.Map // model name -> *sync.Mutex
	now   func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name must not be empty")
	}
	if cfg.Store == nil || cfg.Artifacts == nil || cfg.Trainer == nil || cfg.Promoter == nil {
		return nil, fmt.Errorf("store, artifacts, trainer and promoter are required")
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in (0, 1), got %g", cfg.TestFraction)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seg, err := evalgate.NewSegmenter(cfg.Schema, cfg.SegmentColumns, cfg.SegmentBins)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     cfg.Store,
		arts:      cfg.Artifacts,
		trainer:   cfg.Trainer,
		promoter:  cfg.Promoter,
		metrics:   cfg.Metrics,
		logger:    logger.Named("orchestrator"),
		segmenter: seg,
		now:       time.Now,
	}, nil
}

// Run executes one orchestration attempt for the configured model and
// returns the persisted decision. The returned error means the attempt
// could not even be recorded; gate rejections and preflight skips are
// normal decisions, not errors.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*store.Decision, error) {
	dec := &store.Decision{
		DecisionID:    uuid.NewString(),
		DecidedAt:     o.now().UTC(),
		TriggerReason: trigger,
	}

	mu := o.modelLock(o.cfg.ModelName)
	if !mu.TryLock() {
		o.logger.Warn("orchestration already in flight, dropping trigger",
			zap.String("model_name", o.cfg.ModelName),
			zap.String("trigger", trigger))
		dec.Action = store.ActionSkip
		dec.Reason = skipInFlight
		return o.record(ctx, dec)
	}
	defer mu.Unlock()

	o.logger.Info("orchestration started",
		zap.String("model_name", o.cfg.ModelName),
		zap.String("trigger", trigger),
		zap.String("decision_id", dec.DecisionID))

	o.attachDriftSnapshot(ctx, dec)

	windowStart := dec.DecidedAt.Add(-o.cfg.TrainingWindow)
	cov, err := o.store.Coverage(ctx, o.cfg.ModelName, windowStart)
	if err != nil {
		return nil, err
	}
	labeled := cov.LabeledPredictions
	coveragePct := cov.CoveragePct
	dec.LabeledSamples = &labeled
	dec.CoveragePct = &coveragePct
	o.metrics.ObserveCoverage(coveragePct)

	prod, err := o.store.ProductionVersion(ctx, o.cfg.ModelName)
	if err != nil && !errors.Is(err, store.ErrNoProduction) {
		return nil, err
	}
	if prod != nil {
		dec.ProductionVersion = &prod.Version
	}

	// Preflight eligibility, fail closed: no training on thin evidence.
	if labeled < o.cfg.Thresholds.MinSamples {
		return o.skipGate(ctx, dec, evalgate.GateSamples,
			fmt.Sprintf("num_samples %d < %d", labeled, o.cfg.Thresholds.MinSamples))
	}
	if coveragePct < o.cfg.Thresholds.MinCoveragePct {
		return o.skipGate(ctx, dec, evalgate.GateCoverage,
			fmt.Sprintf("coverage_pct %.1f < %.1f", coveragePct, o.cfg.Thresholds.MinCoveragePct))
	}

	rows, cache, err := o.loadLabeledWindow(ctx, windowStart)
	if err != nil {
		return nil, err
	}
	trainRows, replayRows := trainer.TemporalSplit(rows, o.cfg.TestFraction)
	if len(trainRows) == 0 || len(replayRows) == 0 {
		return o.skip(ctx, dec, skipEmptyPartition)
	}

	model, trainMetrics, err := o.trainShadow(ctx, trainRows, replayRows)
	if err != nil {
		reason := skipTrainingFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = skipTrainingTimeout
		}
		o.logger.Error("shadow training failed",
			zap.String("model_name", o.cfg.ModelName),
			zap.Error(err))
		return o.skip(ctx, dec, reason)
	}

	version, err := o.registerShadow(ctx, model, trainMetrics, trigger, dec)
	if err != nil {
		o.logger.Error("shadow registration failed",
			zap.String("model_name", o.cfg.ModelName),
			zap.Error(err))
		return o.skip(ctx, dec, skipTrainingFailed)
	}
	dec.ShadowVersion = &version

	rep := o.evaluateReplay(trainRows, replayRows, cache, model)

	if prod == nil {
		return o.recordBootstrap(ctx, dec, version, rep, trainMetrics)
	}

	days := math.Inf(1)
	if last, err := o.store.LastPromotedAt(ctx, o.cfg.ModelName); err != nil {
		return nil, err
	} else if last != nil {
		days = o.now().UTC().Sub(*last).Hours() / 24
	}

	ev := evalgate.Evidence{
		NumSamples:             rep.NumRows,
		CoveragePct:            coveragePct,
		DaysSinceLastPromotion: days,
		ProductionF1:           rep.ProductionF1,
		ShadowF1:               rep.ShadowF1,
		ProductionBrier:        rep.ProductionBrier,
		ShadowBrier:            rep.ShadowBrier,
		Segments:               rep.Segments,
	}
	verdict := evalgate.Decide(ev, o.cfg.Thresholds)
	dec.F1ImprovementPct = &verdict.F1ImprovementPct
	dec.BrierChange = &verdict.BrierChange
	dec.Reason = verdict.Reason
	if verdict.FailedGate != "" {
		dec.FailedGate = &verdict.FailedGate
	}
	o.putEvaluation(dec, version, prod, ev, &verdict, trainMetrics)

	if verdict.Decision == evalgate.DecisionReject {
		// The shadow stays in Staging; the janitor archives it when the
		// TTL expires.
		dec.Action = store.ActionReject
		return o.record(ctx, dec)
	}

	if err := o.promoter.Promote(ctx, o.cfg.ModelName, version, dec.DecisionID); err != nil {
		return o.recordPromotionFailure(ctx, dec, err)
	}
	dec.Action = store.ActionPromote
	o.metrics.ObservePromotion()
	return o.record(ctx, dec)
}

// recordBootstrap promotes the first-ever model without gate scrutiny.
// There is no incumbent to compare against, but the promotion still goes
// through the registry transaction, so a racing bootstrap loses cleanly.
func (o *Orchestrator) recordBootstrap(ctx context.Context, dec *store.Decision, version string, rep replayMetrics, trainMetrics *trainer.Metrics) (*store.Decision, error) {
	ev := evalgate.Evidence{
		NumSamples:  rep.NumRows,
		ShadowF1:    rep.ShadowF1,
		ShadowBrier: rep.ShadowBrier,
		Segments:    rep.Segments,
	}
	if dec.CoveragePct != nil {
		ev.CoveragePct = *dec.CoveragePct
	}
	o.putEvaluation(dec, version, nil, ev, nil, trainMetrics)

	dec.Reason = reasonBootstrap
	if err := o.promoter.Promote(ctx, o.cfg.ModelName, version, dec.DecisionID); err != nil {
		return o.recordPromotionFailure(ctx, dec, err)
	}
	dec.Action = store.ActionPromote
	o.metrics.ObservePromotion()
	return o.record(ctx, dec)
}

func (o *Orchestrator) recordPromotionFailure(ctx context.Context, dec *store.Decision, err error) (*store.Decision, error) {
	if errors.Is(err, store.ErrRegistryConflict) || errors.Is(err, store.ErrIllegalTransition) {
		o.logger.Warn("promotion race lost",
			zap.String("model_name", o.cfg.ModelName),
			zap.Error(err))
		dec.Action = store.ActionReject
		gate := evalgate.GateConcurrent
		dec.FailedGate = &gate
		dec.Reason = reasonRaceLost
		return o.record(ctx, dec)
	}
	o.logger.Error("promotion commit failed",
		zap.String("model_name", o.cfg.ModelName),
		zap.Error(err))
	dec.Action = store.ActionSkip
	dec.Reason = fmt.Sprintf("promotion failed: %v", err)
	return o.record(ctx, dec)
}

// trainShadow invokes the training contract under the configured timeout.
func (o *Orchestrator) trainShadow(ctx context.Context, trainRows, replayRows []trainer.LabeledRow) (*trainer.Model, *trainer.Metrics, error) {
	if o.cfg.TrainingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TrainingTimeout)
		defer cancel()
	}
	return o.trainer.Train(ctx, trainRows, replayRows, o.cfg.Seed)
}

// registerShadow persists the model blob and registers the version in
// Staging. The version only becomes Production through the promoter.
func (o *Orchestrator) registerShadow(ctx context.Context, model *trainer.Model, m *trainer.Metrics, trigger string, dec *store.Decision) (string, error) {
	version, err := o.store.NextVersion(ctx, o.cfg.ModelName)
	if err != nil {
		return "", err
	}
	ref, err := o.arts.Put(artifacts.KindModel, fmt.Sprintf("%s-v%s", o.cfg.ModelName, version), model)
	if err != nil {
		return "", err
	}
	v := &store.ModelVersion{
		ModelName:            o.cfg.ModelName,
		Version:              version,
		Stage:                store.StageStaging,
		TrainedAt:            model.TrainedAt,
		TrainingRunRef:       ref,
		TriggerReason:        trigger,
		F1Score:              m.F1,
		BrierScore:           m.Brier,
		NumTrainingSamples:   m.NumTrain,
		DriftRatioAtTraining: dec.FeatureDriftRatio,
		DecisionID:           &dec.DecisionID,
	}
	if err := o.store.RegisterVersion(ctx, v); err != nil {
		return "", err
	}
	return version, nil
}

// attachDriftSnapshot copies the latest monitoring verdict onto the
// decision so audits show what the drift picture looked like at decision
// time. Missing monitoring history is fine.
func (o *Orchestrator) attachDriftSnapshot(ctx context.Context, dec *store.Decision) {
	run, err := o.store.LatestMonitoringRun(ctx)
	if err != nil {
		o.logger.Warn("could not read latest monitoring run", zap.Error(err))
		return
	}
	if run == nil {
		return
	}
	dec.FeatureDriftRatio = run.FeatureDriftRatio
	dec.NumDriftedFeatures = run.NumDrifted
}

// loadLabeledWindow streams the labeled window into training rows plus a
// cache of the production predictions logged for each row. Replay reuses
// those cached scores instead of re-scoring the incumbent.
func (o *Orchestrator) loadLabeledWindow(ctx context.Context, since time.Time) ([]trainer.LabeledRow, map[string]cachedScore, error) {
	it, err := o.store.LoadLabeledSince(ctx, o.cfg.ModelName, since)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	var rows []trainer.LabeledRow
	cache := make(map[string]cachedScore)
	for it.Next() {
		r := it.Record()
		rows = append(rows, trainer.LabeledRow{
			PredictionID: r.PredictionID,
			At:           r.CreatedAt,
			Features:     r.Features,
			Label:        r.TrueClass,
		})
		cache[r.PredictionID] = cachedScore{
			Class:       r.PredictedClass,
			Probability: r.PredictedProbability,
		}
	}
	if err := it.Err(); err != nil {
		return nil, nil, err
	}
	return rows, cache, nil
}

func (o *Orchestrator) skip(ctx context.Context, dec *store.Decision, reason string) (*store.Decision, error) {
	dec.Action = store.ActionSkip
	dec.Reason = reason
	return o.record(ctx, dec)
}

func (o *Orchestrator) skipGate(ctx context.Context, dec *store.Decision, gate, reason string) (*store.Decision, error) {
	dec.FailedGate = &gate
	return o.skip(ctx, dec, reason)
}

func (o *Orchestrator) record(ctx context.Context, dec *store.Decision) (*store.Decision, error) {
	if err := o.store.InsertDecision(ctx, dec); err != nil {
		return nil, err
	}
	o.metrics.ObserveDecision(dec.Action)
	o.logger.Info("retraining decision recorded",
		zap.String("decision_id", dec.DecisionID),
		zap.String("trigger", dec.TriggerReason),
		zap.String("action", dec.Action),
		zap.String("reason", dec.Reason))
	return dec, nil
}

func (o *Orchestrator) modelLock(name string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
