package evalgate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MinSamples:          200,
		MinCoveragePct:      30.0,
		CooldownDays:        7,
		MinF1ImprovementPct: 2.0,
		MaxBrierDegradation: 0.01,
		MaxSegmentDropPct:   1.0,
		SegmentMin:          50,
	}
}

func healthyEvidence() Evidence {
	return Evidence{
		NumSamples:             500,
		CoveragePct:            80.0,
		DaysSinceLastPromotion: 30,
		ProductionF1:           0.60,
		ShadowF1:               0.66,
		ProductionBrier:        0.18,
		ShadowBrier:            0.17,
		Segments: []SegmentEvidence{
			{Name: "age<35", N: 120, ProductionF1: 0.58, ShadowF1: 0.62},
			{Name: "age>=35", N: 380, ProductionF1: 0.61, ShadowF1: 0.64},
		},
	}
}

func TestDecidePromotesWhenAllGatesPass(t *testing.T) {
	v := Decide(healthyEvidence(), defaultThresholds())

	require.Equal(t, DecisionPromote, v.Decision)
	assert.Empty(t, v.FailedGate)
	assert.Equal(t, "all gates passed", v.Reason)
	require.Len(t, v.Gates, 6)
	for _, g := range v.Gates {
		assert.True(t, g.Passed, "gate %s should pass: %s", g.Gate, g.Detail)
	}
	assert.InDelta(t, 10.0, v.F1ImprovementPct, 1e-9)
	assert.InDelta(t, -0.01, v.BrierChange, 1e-9)
}

func TestDecideRejectsInsufficientSamples(t *testing.T) {
	ev := healthyEvidence()
	ev.NumSamples = 150
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateSamples, v.FailedGate)
	assert.Equal(t, "Insufficient samples: 150 < 200", v.Reason)
	// Short circuit: later gates never ran.
	require.Len(t, v.Gates, 1)
}

func TestDecideRejectsLowCoverage(t *testing.T) {
	ev := healthyEvidence()
	ev.CoveragePct = 25.0
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateCoverage, v.FailedGate)
	assert.Equal(t, "Label coverage too low: 25.0% < 30.0%", v.Reason)
	require.Len(t, v.Gates, 2)
}

func TestDecideRejectsInsideCooldown(t *testing.T) {
	ev := healthyEvidence()
	ev.DaysSinceLastPromotion = 3
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateCooldown, v.FailedGate)
	assert.Equal(t, "3 days < 7 days cooldown", v.Reason)
}

func TestDecideRejectsSmallImprovement(t *testing.T) {
	ev := healthyEvidence()
	ev.ProductionF1 = 0.80
	ev.ShadowF1 = 0.808
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateF1, v.FailedGate)
	assert.Equal(t, "F1 improvement 1.00% < 2.00%", v.Reason)
}

func TestDecideRejectsBrierDegradation(t *testing.T) {
	ev := healthyEvidence()
	ev.ProductionBrier = 0.100
	ev.ShadowBrier = 0.115
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateBrier, v.FailedGate)
	assert.Equal(t, "brier degradation 0.0150 > 0.0100", v.Reason)
}

func TestDecideRejectsSegmentRegression(t *testing.T) {
	ev := healthyEvidence()
	ev.Segments = []SegmentEvidence{
		{Name: "age>=52", N: 200, ProductionF1: 0.60, ShadowF1: 0.70},
		{Name: "age<30", N: 150, ProductionF1: 0.50, ShadowF1: 0.49},
	}
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateSegments, v.FailedGate)
	assert.Equal(t, "segment age<30 regressed by -2.0%", v.Reason)
}

// Every gate boundary is inclusive: evidence sitting exactly on a
// threshold passes. Values here are exactly representable in binary so
// the comparisons carry no rounding slack.
func TestDecideBoundariesAreInclusive(t *testing.T) {
	th := Thresholds{
		MinSamples:          200,
		MinCoveragePct:      30.0,
		CooldownDays:        7,
		MinF1ImprovementPct: 25.0,
		MaxBrierDegradation: 0.0625,
		MaxSegmentDropPct:   12.5,
		SegmentMin:          50,
	}
	ev := Evidence{
		NumSamples:             200,
		CoveragePct:            30.0,
		DaysSinceLastPromotion: 7,
		ProductionF1:           0.5,
		ShadowF1:               0.625, // exactly +25%
		ProductionBrier:        0.125,
		ShadowBrier:            0.1875, // exactly +0.0625
		Segments: []SegmentEvidence{
			// Exactly -12.5%.
			{Name: "age<35", N: 100, ProductionF1: 0.5, ShadowF1: 0.4375},
		},
	}

	v := Decide(ev, th)
	require.Equal(t, DecisionPromote, v.Decision, "reason: %s", v.Reason)
	assert.Equal(t, 25.0, v.F1ImprovementPct)
	assert.Equal(t, 0.0625, v.BrierChange)
}

func TestDecideZeroProductionF1FailsImprovement(t *testing.T) {
	ev := healthyEvidence()
	ev.ProductionF1 = 0
	ev.ShadowF1 = 0.9
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.Equal(t, GateF1, v.FailedGate)
	assert.Equal(t, "F1 improvement 0.00% < 2.00%", v.Reason)
	assert.Zero(t, v.F1ImprovementPct)
}

func TestDecideNeverPromotedPassesCooldown(t *testing.T) {
	ev := healthyEvidence()
	ev.DaysSinceLastPromotion = math.Inf(1)
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionPromote, v.Decision)
	assert.Equal(t, "no previous promotion", v.Gates[2].Detail)
}

func TestDecideSkipsAbstainingSegments(t *testing.T) {
	ev := healthyEvidence()
	ev.Segments = []SegmentEvidence{
		// Too small to judge, despite the huge drop.
		{Name: "MonthlyIncome<2903", N: 10, ProductionF1: 0.9, ShadowF1: 0.1, Insufficient: true},
		// Production never got a positive right here, ratio is undefined.
		{Name: "age<35", N: 120, ProductionF1: 0, ShadowF1: 0},
		{Name: "age>=35", N: 370, ProductionF1: 0.61, ShadowF1: 0.64},
	}
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionPromote, v.Decision, "reason: %s", v.Reason)
}

func TestDecideCarriesMetricsOnEarlyRejection(t *testing.T) {
	ev := healthyEvidence()
	ev.NumSamples = 0
	v := Decide(ev, defaultThresholds())

	require.Equal(t, DecisionReject, v.Decision)
	assert.InDelta(t, 10.0, v.F1ImprovementPct, 1e-9)
	assert.InDelta(t, -0.01, v.BrierChange, 1e-9)
}

func TestDecideIsDeterministic(t *testing.T) {
	ev := healthyEvidence()
	th := defaultThresholds()
	require.Equal(t, Decide(ev, th), Decide(ev, th))
}
