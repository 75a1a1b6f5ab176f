package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"driftguard/internal/events"
	"driftguard/internal/store"
)

const (
	alertBuffer    = 16
	seenAlertLimit = 4096
	janitorTimeout = 30 * time.Second
	stopTimeout    = 2 * time.Minute
)

// SchedulerConfig wires the daemon-side retraining loop.
type SchedulerConfig struct {
	Orchestrator    *Orchestrator
	Store           *store.Store
	Bus             *events.Bus
	TrainInterval   time.Duration
	JanitorInterval time.Duration
	StagingTTL      time.Duration
	Logger          *zap.Logger
}

// Scheduler owns the daemon's retraining triggers: the wall-clock
// schedule, drift alerts from monitoring, and the janitor that archives
// Staging versions past their TTL. Triggers funnel into the
// orchestrator's single-flight Run, so a drift alert landing during a
// scheduled run simply records a skip.
type Scheduler struct {
	orc        *Orchestrator
	store      *store.Store
	bus        *events.Bus
	logger     *zap.Logger
	trainEvery time.Duration
	sweepEvery time.Duration
	stagingTTL time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sweep := cfg.JanitorInterval
	if sweep <= 0 {
		sweep = time.Hour
	}
	return &Scheduler{
		orc:        cfg.Orchestrator,
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     logger.Named("scheduler"),
		trainEvery: cfg.TrainInterval,
		sweepEvery: sweep,
		stagingTTL: cfg.StagingTTL,
	}
}

// Start launches the scheduler goroutine. The drift subscription is
// registered before Start returns, so alerts published from then on are
// not lost. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	var alerts <-chan events.DriftAlert
	if s.bus != nil {
		alerts = s.bus.SubscribeDrift(alertBuffer)
	}
	s.logger.Info("retraining scheduler started",
		zap.Duration("train_interval", s.trainEvery),
		zap.Duration("janitor_interval", s.sweepEvery),
		zap.Duration("staging_ttl", s.stagingTTL))
	go s.run(s.stop, s.done, alerts)
}

// Stop halts the scheduler and waits for the loop to drain. An in-flight
// orchestration finishes its run first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for scheduler to stop")
	}
}

func (s *Scheduler) run(stop, done chan struct{}, alerts <-chan events.DriftAlert) {
	defer close(done)

	trainTicker := time.NewTicker(s.trainEvery)
	defer trainTicker.Stop()
	sweepTicker := time.NewTicker(s.sweepEvery)
	defer sweepTicker.Stop()

	// Catch up on stale Staging rows left behind by a previous process.
	s.archiveStale()

	seen := make(map[string]struct{})
	for {
		select {
		case <-stop:
			return
		case <-trainTicker.C:
			s.trigger(store.TriggerScheduled)
		case alert, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			// Delivery is at-least-once; duplicate run ids are dropped.
			if _, dup := seen[alert.RunID]; dup {
				s.logger.Debug("duplicate drift alert ignored",
					zap.String("run_id", alert.RunID))
				continue
			}
			if len(seen) >= seenAlertLimit {
				seen = make(map[string]struct{})
			}
			seen[alert.RunID] = struct{}{}
			s.logger.Info("drift alert received, triggering retraining",
				zap.String("run_id", alert.RunID),
				zap.Float64("feature_drift_ratio", alert.FeatureDriftRatio),
				zap.Strings("drifted_features", alert.DriftedFeatures))
			s.trigger(store.TriggerDriftAlert)
		case <-sweepTicker.C:
			s.archiveStale()
		}
	}
}

func (s *Scheduler) trigger(reason string) {
	timeout := s.orc.cfg.TrainingTimeout + time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := s.orc.Run(ctx, reason); err != nil {
		s.logger.Error("orchestration attempt failed",
			zap.String("trigger", reason),
			zap.Error(err))
	}
}

func (s *Scheduler) archiveStale() {
	if s.stagingTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), janitorTimeout)
	defer cancel()
	cutoff := time.Now().UTC().Add(-s.stagingTTL)
	n, err := s.store.ArchiveStaleStaging(ctx, s.orc.cfg.ModelName, cutoff)
	if err != nil {
		s.logger.Error("staging janitor sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("archived stale staging versions",
			zap.Int("archived", n),
			zap.Time("cutoff", cutoff))
	}
}
