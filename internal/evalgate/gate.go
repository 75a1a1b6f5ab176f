// Package evalgate decides whether a shadow candidate replaces production.
// Decide is a pure function over an evidence package: six gates in a fixed
// order, first failure short-circuits, every boundary inclusive. Rejection
// is a correct outcome here, not an error. The package also owns the
// promotion commit, the registry's only stage mutator.
package evalgate

import (
	"fmt"
	"math"
)

// Gate labels recorded in the decision audit.
const (
	GateSamples  = "G1"
	GateCoverage = "G2"
	GateCooldown = "G3"
	GateF1       = "G4"
	GateBrier    = "G5"
	GateSegments = "G6"

	// GateConcurrent marks a promotion race lost after all gates passed.
	GateConcurrent = "concurrent_promotion"
)

// Decision outcomes.
const (
	DecisionPromote = "promote"
	DecisionReject  = "reject"
)

// SegmentEvidence is one subgroup's replay performance under both models.
type SegmentEvidence struct {
	Name         string  `json:"segment"`
	N            int     `json:"n"`
	ProductionF1 float64 `json:"production_f1"`
	ShadowF1     float64 `json:"shadow_f1"`
	Insufficient bool    `json:"insufficient"`
}

// Evidence is the complete input to Decide. DaysSinceLastPromotion is +Inf
// when the model has never been promoted.
type Evidence struct {
	NumSamples             int               `json:"num_samples"`
	CoveragePct            float64           `json:"coverage_pct"`
	DaysSinceLastPromotion float64           `json:"days_since_last_promotion"`
	ProductionF1           float64           `json:"production_f1"`
	ShadowF1               float64           `json:"shadow_f1"`
	ProductionBrier        float64           `json:"production_brier"`
	ShadowBrier            float64           `json:"shadow_brier"`
	Segments               []SegmentEvidence `json:"segments"`
}

// Thresholds are the gate parameters, taken from configuration.
type Thresholds struct {
	MinSamples          int     `json:"min_samples_for_decision"`
	MinCoveragePct      float64 `json:"min_coverage_pct"`
	CooldownDays        int     `json:"promotion_cooldown_days"`
	MinF1ImprovementPct float64 `json:"min_f1_improvement_pct"`
	MaxBrierDegradation float64 `json:"max_brier_degradation"`
	MaxSegmentDropPct   float64 `json:"min_segment_f1_drop"`
	SegmentMin          int     `json:"segment_min"`
}

// GateResult is one gate's outcome in the structured detail report.
type GateResult struct {
	Gate   string `json:"gate"`
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Verdict is Decide's output. F1ImprovementPct and BrierChange are always
// populated so audit rows carry them even for early-gate rejections.
type Verdict struct {
	Decision         string       `json:"decision"`
	FailedGate       string       `json:"failed_gate,omitempty"`
	Reason           string       `json:"reason"`
	F1ImprovementPct float64      `json:"f1_improvement_pct"`
	BrierChange      float64      `json:"brier_change"`
	Gates            []GateResult `json:"gates"`
}

// Decide runs the six gates in order and returns the verdict. It performs
// no I/O and is total over well-typed evidence: the same inputs always
// yield the same verdict.
func Decide(ev Evidence, th Thresholds) Verdict {
	v := Verdict{
		F1ImprovementPct: relativeImprovementPct(ev.ProductionF1, ev.ShadowF1),
		BrierChange:      ev.ShadowBrier - ev.ProductionBrier,
	}

	reject := func(gate, name, reason string) Verdict {
		v.Gates = append(v.Gates, GateResult{Gate: gate, Name: name, Passed: false, Detail: reason})
		v.Decision = DecisionReject
		v.FailedGate = gate
		v.Reason = reason
		return v
	}
	pass := func(gate, name, detail string) {
		v.Gates = append(v.Gates, GateResult{Gate: gate, Name: name, Passed: true, Detail: detail})
	}

	// G1 sample validity.
	if ev.NumSamples < th.MinSamples {
		return reject(GateSamples, "sufficient_samples",
			fmt.Sprintf("Insufficient samples: %d < %d", ev.NumSamples, th.MinSamples))
	}
	pass(GateSamples, "sufficient_samples",
		fmt.Sprintf("num_samples %d >= %d", ev.NumSamples, th.MinSamples))

	// G2 label coverage.
	if ev.CoveragePct < th.MinCoveragePct {
		return reject(GateCoverage, "minimum_coverage",
			fmt.Sprintf("Label coverage too low: %.1f%% < %.1f%%", ev.CoveragePct, th.MinCoveragePct))
	}
	pass(GateCoverage, "minimum_coverage",
		fmt.Sprintf("coverage %.1f%% >= %.1f%%", ev.CoveragePct, th.MinCoveragePct))

	// G3 promotion cooldown. +Inf (never promoted) always passes.
	if ev.DaysSinceLastPromotion < float64(th.CooldownDays) {
		return reject(GateCooldown, "promotion_cooldown",
			fmt.Sprintf("%d days < %d days cooldown", int(ev.DaysSinceLastPromotion), th.CooldownDays))
	}
	pass(GateCooldown, "promotion_cooldown", cooldownDetail(ev.DaysSinceLastPromotion, th.CooldownDays))

	// G4 performance gain. A zero production F1 yields improvement 0.
	if v.F1ImprovementPct < th.MinF1ImprovementPct {
		return reject(GateF1, "metric_improvement",
			fmt.Sprintf("F1 improvement %.2f%% < %.2f%%", v.F1ImprovementPct, th.MinF1ImprovementPct))
	}
	pass(GateF1, "metric_improvement",
		fmt.Sprintf("F1 improvement %.2f%% >= %.2f%%", v.F1ImprovementPct, th.MinF1ImprovementPct))

	// G5 calibration hold.
	if v.BrierChange > th.MaxBrierDegradation {
		return reject(GateBrier, "calibration_maintained",
			fmt.Sprintf("brier degradation %.4f > %.4f", v.BrierChange, th.MaxBrierDegradation))
	}
	pass(GateBrier, "calibration_maintained",
		fmt.Sprintf("brier change %+.4f <= %.4f", v.BrierChange, th.MaxBrierDegradation))

	// G6 segment fairness. Insufficient segments abstain rather than fail.
	for _, s := range ev.Segments {
		if s.Insufficient || s.ProductionF1 <= 0 {
			continue
		}
		changePct := (s.ShadowF1 - s.ProductionF1) / s.ProductionF1 * 100
		if changePct < -th.MaxSegmentDropPct {
			return reject(GateSegments, "no_segment_regression",
				fmt.Sprintf("segment %s regressed by %.1f%%", s.Name, changePct))
		}
	}
	pass(GateSegments, "no_segment_regression",
		fmt.Sprintf("%d segments checked", len(ev.Segments)))

	v.Decision = DecisionPromote
	v.Reason = "all gates passed"
	return v
}

// relativeImprovementPct returns the shadow's relative F1 gain in percent.
func relativeImprovementPct(productionF1, shadowF1 float64) float64 {
	if productionF1 == 0 {
		return 0
	}
	return (shadowF1 - productionF1) / productionF1 * 100
}

func cooldownDetail(days float64, cooldown int) string {
	if math.IsInf(days, 1) {
		return "no previous promotion"
	}
	return fmt.Sprintf("%d days >= %d days cooldown", int(days), cooldown)
}
