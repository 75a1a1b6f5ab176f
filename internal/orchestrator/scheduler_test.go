package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"driftguard/internal/events"
	"driftguard/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newScheduler(f *fixture, mutate func(*SchedulerConfig)) *Scheduler {
	cfg := SchedulerConfig{
		Orchestrator:    f.orc,
		Store:           f.st,
		Bus:             f.bus,
		TrainInterval:   time.Hour,
		JanitorInterval: time.Hour,
		StagingTTL:      time.Hour,
		Logger:          zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewScheduler(cfg)
}

// hasDecisions returns a poll condition for Eventually, which runs it on
// its own goroutine and therefore must only see a bool.
func hasDecisions(f *fixture, trigger string, want int) func() bool {
	return func() bool {
		rows, err := f.st.ListDecisions(context.Background(), 50)
		if err != nil {
			return false
		}
		n := 0
		for _, d := range rows {
			if d.TriggerReason == trigger {
				n++
			}
		}
		return n >= want
	}
}

func countByTrigger(t *testing.T, f *fixture, trigger string) int {
	t.Helper()
	rows, err := f.st.ListDecisions(context.Background(), 50)
	require.NoError(t, err)
	n := 0
	for _, d := range rows {
		if d.TriggerReason == trigger {
			n++
		}
	}
	return n
}

func TestSchedulerDriftAlertTriggersRun(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Thresholds.MinSamples = 200 // every run is a fast preflight skip
	})
	s := newScheduler(f, nil)
	s.Start()
	defer s.Stop()

	alert := events.DriftAlert{
		RunID:             "run-1",
		RunAt:             time.Now().UTC(),
		FeatureDriftRatio: 0.5,
		DriftedFeatures:   []string{"age"},
	}
	f.bus.PublishDrift(alert)
	require.Eventually(t, hasDecisions(f, store.TriggerDriftAlert, 1),
		2*time.Second, 10*time.Millisecond)

	// Redelivery of the same run id is dropped.
	f.bus.PublishDrift(alert)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, countByTrigger(t, f, store.TriggerDriftAlert))

	f.bus.PublishDrift(events.DriftAlert{
		RunID: "run-2",
		RunAt: time.Now().UTC(),
	})
	require.Eventually(t, hasDecisions(f, store.TriggerDriftAlert, 2),
		2*time.Second, 10*time.Millisecond)
}

func TestSchedulerFiresOnTrainInterval(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Thresholds.MinSamples = 200
	})
	s := newScheduler(f, func(cfg *SchedulerConfig) {
		cfg.TrainInterval = 25 * time.Millisecond
	})
	s.Start()
	defer s.Stop()

	require.Eventually(t, hasDecisions(f, store.TriggerScheduled, 2),
		2*time.Second, 10*time.Millisecond)

	s.Stop()
	frozen := countByTrigger(t, f, store.TriggerScheduled)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, frozen, countByTrigger(t, f, store.TriggerScheduled))
}

func TestSchedulerArchivesStaleStagingOnStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.st.RegisterVersion(ctx, &store.ModelVersion{
		ModelName: testModel,
		Version:   "1",
		Stage:     store.StageStaging,
		TrainedAt: time.Now().UTC().Add(-2 * time.Hour),
	}))

	s := newScheduler(f, nil) // TTL one hour, version is two hours old
	s.Start()
	defer s.Stop()

	archived := func() bool {
		v, err := f.st.GetVersion(ctx, testModel, "1")
		return err == nil && v.Stage == store.StageArchived
	}
	require.Eventually(t, archived, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerLeavesFreshStagingAlone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.st.RegisterVersion(ctx, &store.ModelVersion{
		ModelName: testModel,
		Version:   "1",
		Stage:     store.StageStaging,
		TrainedAt: time.Now().UTC().Add(-10 * time.Minute),
	}))

	s := newScheduler(f, nil)
	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	v, err := f.st.GetVersion(ctx, testModel, "1")
	require.NoError(t, err)
	assert.Equal(t, store.StageStaging, v.Stage)
}

func TestSchedulerStartAndStopAreIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	s := newScheduler(f, nil)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
