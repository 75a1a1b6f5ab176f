package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }
func strPtr(v string) *string     { return &v }

func TestMonitoringRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	latest, err := s.LatestMonitoringRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	full := &MonitoringRun{
		RunID:             "run-1",
		RunAt:             runAt,
		LookbackHours:     24,
		NumPredictions:    512,
		PositiveRate:      floatPtr(0.12),
		ProbabilityMean:   floatPtr(0.31),
		ProbabilityStd:    floatPtr(0.18),
		Entropy:           floatPtr(0.44),
		DatasetDrift:      boolPtr(true),
		FeatureDriftRatio: floatPtr(0.4),
		NumDrifted:        intPtr(4),
		NumEvaluated:      intPtr(10),
		Reason:            RunReasonOK,
		DriftArtifactRef:  strPtr("artifacts/drift/run-1.json"),
	}
	require.NoError(t, s.InsertMonitoringRun(ctx, full))

	skip := &MonitoringRun{
		RunID:          "run-2",
		RunAt:          runAt.Add(5 * time.Minute),
		LookbackHours:  24,
		NumPredictions: 37,
		Reason:         RunReasonInsufficientSamples,
	}
	require.NoError(t, s.InsertMonitoringRun(ctx, skip))

	latest, err = s.LatestMonitoringRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.RunID)
	assert.Nil(t, latest.PositiveRate)
	assert.Nil(t, latest.DatasetDrift)
	assert.Equal(t, "json", latest.ArtifactFormat)

	runs, err := s.ListMonitoringRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	require.NotNil(t, runs[1].FeatureDriftRatio)
	assert.InDelta(t, 0.4, *runs[1].FeatureDriftRatio, 1e-9)
	require.NotNil(t, runs[1].DatasetDrift)
	assert.True(t, *runs[1].DatasetDrift)
}

func TestDecisionAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	decisions := []*Decision{
		{
			DecisionID:    "dec-1",
			DecidedAt:     base,
			TriggerReason: TriggerScheduled,
			Action:        ActionSkip,
			FailedGate:    strPtr("G1"),
			Reason:        "num_samples 0 < 200",
		},
		{
			DecisionID:        "dec-2",
			DecidedAt:         base.Add(24 * time.Hour),
			TriggerReason:     TriggerDriftAlert,
			Action:            ActionPromote,
			Reason:            "all gates passed",
			LabeledSamples:    intPtr(812),
			CoveragePct:       floatPtr(64.2),
			ShadowVersion:     strPtr("3"),
			ProductionVersion: strPtr("2"),
			F1ImprovementPct:  floatPtr(5.8),
			BrierChange:       floatPtr(-0.004),
			EvalArtifactRef:   strPtr("artifacts/evaluations/dec-2.json"),
		},
	}
	for _, d := range decisions {
		require.NoError(t, s.InsertDecision(ctx, d))
	}

	got, err := s.ListDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dec-2", got[0].DecisionID)
	assert.Nil(t, got[0].FailedGate)
	require.NotNil(t, got[1].FailedGate)
	assert.Equal(t, "G1", *got[1].FailedGate)
	assert.Equal(t, "num_samples 0 < 200", got[1].Reason)

	counts, err := s.CountDecisionsByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ActionSkip: 1, ActionPromote: 1}, counts)
}

func TestReferenceInfo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	info, err := s.GetReferenceInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)

	put := &ReferenceInfo{
		ReferenceID:   "ref-1",
		FeatureSchema: `[{"name":"age","semantic_type":"ordinal"}]`,
		RowCount:      15000,
		ContentDigest: "deadbeef",
		CreatedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutReferenceInfo(ctx, put))
	// Same id twice is a no-op.
	require.NoError(t, s.PutReferenceInfo(ctx, put))

	info, err = s.GetReferenceInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "ref-1", info.ReferenceID)
	assert.Equal(t, 15000, info.RowCount)
	assert.Equal(t, "deadbeef", info.ContentDigest)
}
