package orchestrator

import (
	"go.uber.org/zap"

	"driftguard/internal/artifacts"
	"driftguard/internal/evalgate"
	"driftguard/internal/featureset"
	"driftguard/internal/stats"
	"driftguard/internal/store"
	"driftguard/internal/trainer"
)

// cachedScore is the production prediction logged in the ledger when the
// row was served. Replay treats it as authoritative: the incumbent is
// never re-scored under a newer preprocessing pipeline.
type cachedScore struct {
	Class       int
	Probability float64
}

// replayMetrics is both models' performance over the held-out replay set.
type replayMetrics struct {
	NumRows         int
	ProductionF1    float64
	ProductionBrier float64
	ShadowF1        float64
	ShadowBrier     float64
	Segments        []evalgate.SegmentEvidence
}

// evaluateReplay scores the shadow over the replay rows, joins the cached
// production scores, and computes the global and per-segment comparison.
// Segment cut points come from the training partition so replay rows are
// bucketed on boundaries the shadow never saw.
func (o *Orchestrator) evaluateReplay(trainRows, replayRows []trainer.LabeledRow, cache map[string]cachedScore, model *trainer.Model) replayMetrics {
	fitRows := make([]featureset.Row, len(trainRows))
	for i := range trainRows {
		fitRows[i] = trainRows[i].Features
	}
	o.segmenter.Fit(fitRows)

	truth := make([]int, 0, len(replayRows))
	prodClass := make([]int, 0, len(replayRows))
	prodProb := make([]float64, 0, len(replayRows))
	shadowClass := make([]int, 0, len(replayRows))
	shadowProb := make([]float64, 0, len(replayRows))
	outcomes := make([]evalgate.ReplayOutcome, 0, len(replayRows))

	missing := 0
	for _, row := range replayRows {
		cached, ok := cache[row.PredictionID]
		if !ok {
			// Replay rows are drawn from the ledger join, so every row
			// carries a logged production score.
			missing++
			continue
		}
		sc, sp := model.Score(row.Features)

		truth = append(truth, row.Label)
		prodClass = append(prodClass, cached.Class)
		prodProb = append(prodProb, cached.Probability)
		shadowClass = append(shadowClass, sc)
		shadowProb = append(shadowProb, sp)
		outcomes = append(outcomes, evalgate.ReplayOutcome{
			Features:    row.Features,
			TrueClass:   row.Label,
			ProdClass:   cached.Class,
			ShadowClass: sc,
		})
	}
	if missing > 0 {
		o.logger.Warn("replay rows without a logged production score were dropped",
			zap.Int("dropped", missing))
	}

	return replayMetrics{
		NumRows:         len(truth),
		ProductionF1:    stats.NewConfusion(truth, prodClass).F1(),
		ProductionBrier: stats.Brier(truth, prodProb),
		ShadowF1:        stats.NewConfusion(truth, shadowClass).F1(),
		ShadowBrier:     stats.Brier(truth, shadowProb),
		Segments:        o.segmenter.SegmentEvidence(outcomes, o.cfg.Thresholds.SegmentMin),
	}
}

// evaluationReport is the structured detail stored alongside each gate
// decision. The verdict is absent on the bootstrap path.
type evaluationReport struct {
	DecisionID        string            `json:"decision_id"`
	ModelName         string            `json:"model_name"`
	TriggerReason     string            `json:"trigger_reason"`
	ProductionVersion string            `json:"production_version,omitempty"`
	ShadowVersion     string            `json:"shadow_version"`
	Evidence          evalgate.Evidence `json:"evidence"`
	Verdict           *evalgate.Verdict `json:"verdict,omitempty"`
	TrainingMetrics   *trainer.Metrics  `json:"training_metrics"`
}

// putEvaluation writes the evaluation artifact and attaches its reference
// to the decision. The decision row is the audit record of note; losing
// the detail artifact is logged but does not flip the verdict.
func (o *Orchestrator) putEvaluation(dec *store.Decision, shadowVersion string, prod *store.ModelVersion, ev evalgate.Evidence, verdict *evalgate.Verdict, trainMetrics *trainer.Metrics) {
	report := evaluationReport{
		DecisionID:      dec.DecisionID,
		ModelName:       o.cfg.ModelName,
		TriggerReason:   dec.TriggerReason,
		ShadowVersion:   shadowVersion,
		Evidence:        ev,
		Verdict:         verdict,
		TrainingMetrics: trainMetrics,
	}
	if prod != nil {
		report.ProductionVersion = prod.Version
	}

	ref, err := o.arts.Put(artifacts.KindEvaluation, dec.DecisionID, report)
	if err != nil {
		o.logger.Error("failed to persist evaluation artifact",
			zap.String("decision_id", dec.DecisionID),
			zap.Error(err))
		return
	}
	dec.EvalArtifactRef = &ref
}
