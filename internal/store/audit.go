package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MonitoringRun is one row of the monitoring audit table. Metric fields are
// nil when the run recorded a skip (insufficient_samples, overlap_skip)
// instead of a full analysis.
type MonitoringRun struct {
	RunID             string    `db:"run_id"`
	RunAt             time.Time `db:"run_at"`
	LookbackHours     int       `db:"lookback_hours"`
	NumPredictions    int       `db:"num_predictions"`
	PositiveRate      *float64  `db:"positive_rate"`
	ProbabilityMean   *float64  `db:"probability_mean"`
	ProbabilityStd    *float64  `db:"probability_std"`
	Entropy           *float64  `db:"entropy"`
	DatasetDrift      *bool     `db:"dataset_drift_detected"`
	FeatureDriftRatio *float64  `db:"feature_drift_ratio"`
	NumDrifted        *int      `db:"num_drifted_features"`
	NumEvaluated      *int      `db:"num_evaluated_features"`
	Reason            string    `db:"reason"`
	DriftArtifactRef  *string   `db:"drift_artifact_ref"`
	ArtifactFormat    string    `db:"artifact_format"`
}

// Reason values recorded by monitoring runs.
const (
	RunReasonOK                  = "ok"
	RunReasonInsufficientSamples = "insufficient_samples"
	RunReasonOverlapSkip         = "overlap_skip"
)

// Decision is one row of the retraining decision audit table. Every
// orchestration attempt, including skips, appends exactly one row.
type Decision struct {
	DecisionID         string    `db:"decision_id"`
	DecidedAt          time.Time `db:"decided_at"`
	TriggerReason      string    `db:"trigger_reason"`
	Action             string    `db:"action"`
	FailedGate         *string   `db:"failed_gate"`
	Reason             string    `db:"reason"`
	FeatureDriftRatio  *float64  `db:"feature_drift_ratio"`
	NumDriftedFeatures *int      `db:"num_drifted_features"`
	LabeledSamples     *int      `db:"labeled_samples"`
	CoveragePct        *float64  `db:"coverage_pct"`
	ShadowVersion      *string   `db:"shadow_model_version"`
	ProductionVersion  *string   `db:"production_model_version"`
	F1ImprovementPct   *float64  `db:"f1_improvement_pct"`
	BrierChange        *float64  `db:"brier_change"`
	EvalArtifactRef    *string   `db:"evaluation_artifact_ref"`
}

// Trigger reasons for an orchestration attempt.
const (
	TriggerScheduled  = "scheduled"
	TriggerManual     = "manual"
	TriggerDriftAlert = "drift_alert"
)

// Decision actions.
const (
	ActionTrain   = "train"
	ActionSkip    = "skip"
	ActionPromote = "promote"
	ActionReject  = "reject"
)

// ReferenceInfo mirrors the reference baseline's identity into the database
// so audit rows and the on-disk baseline can be cross-checked.
type ReferenceInfo struct {
	ReferenceID   string    `db:"reference_id"`
	FeatureSchema string    `db:"feature_schema"`
	RowCount      int       `db:"row_count"`
	ContentDigest string    `db:"content_digest"`
	CreatedAt     time.Time `db:"created_at"`
}

// ========== Monitoring audit ==========

// InsertMonitoringRun appends one monitoring run row.
func (s *Store) InsertMonitoringRun(ctx context.Context, r *MonitoringRun) error {
	if r.RunAt.IsZero() {
		r.RunAt = s.now()
	}
	r.RunAt = r.RunAt.UTC()
	if r.ArtifactFormat == "" {
		r.ArtifactFormat = "json"
	}

	q := s.db.Rebind(`INSERT INTO monitoring_metrics
		(run_id, run_at, lookback_hours, num_predictions,
		 positive_rate, probability_mean, probability_std, entropy,
		 dataset_drift_detected, feature_drift_ratio, num_drifted_features, num_evaluated_features,
		 reason, drift_artifact_ref, artifact_format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := s.withRetry(ctx, "insert monitoring run", func() error {
		_, err := s.db.ExecContext(ctx, q,
			r.RunID, r.RunAt, r.LookbackHours, r.NumPredictions,
			r.PositiveRate, r.ProbabilityMean, r.ProbabilityStd, r.Entropy,
			r.DatasetDrift, r.FeatureDriftRatio, r.NumDrifted, r.NumEvaluated,
			r.Reason, r.DriftArtifactRef, r.ArtifactFormat)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert monitoring run %s: %w", r.RunID, err)
	}

	s.logger.Debug("monitoring run recorded",
		zap.String("run_id", r.RunID),
		zap.String("reason", r.Reason),
		zap.Int("num_predictions", r.NumPredictions))
	return nil
}

const monitoringColumns = `run_id, run_at, lookback_hours, num_predictions,
	positive_rate, probability_mean, probability_std, entropy,
	dataset_drift_detected, feature_drift_ratio, num_drifted_features, num_evaluated_features,
	reason, drift_artifact_ref, artifact_format`

// LatestMonitoringRun returns the most recent run, or nil when the table is
// empty.
func (s *Store) LatestMonitoringRun(ctx context.Context) (*MonitoringRun, error) {
	var r MonitoringRun
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM monitoring_metrics
		ORDER BY run_at DESC LIMIT 1`, monitoringColumns))
	if err := s.db.GetContext(ctx, &r, q); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest monitoring run: %w", err)
	}
	return &r, nil
}

// ListMonitoringRuns returns the most recent runs, newest first.
func (s *Store) ListMonitoringRuns(ctx context.Context, limit int) ([]MonitoringRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rs []MonitoringRun
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM monitoring_metrics
		ORDER BY run_at DESC LIMIT ?`, monitoringColumns))
	if err := s.db.SelectContext(ctx, &rs, q, limit); err != nil {
		return nil, fmt.Errorf("failed to list monitoring runs: %w", err)
	}
	return rs, nil
}

// ========== Decision audit ==========

const decisionColumns = `decision_id, decided_at, trigger_reason, action, failed_gate, reason,
	feature_drift_ratio, num_drifted_features, labeled_samples, coverage_pct,
	shadow_model_version, production_model_version, f1_improvement_pct, brier_change,
	evaluation_artifact_ref`

// InsertDecision appends one retraining decision row.
func (s *Store) InsertDecision(ctx context.Context, d *Decision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = s.now()
	}
	d.DecidedAt = d.DecidedAt.UTC()

	q := s.db.Rebind(fmt.Sprintf(`INSERT INTO retraining_decisions (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, decisionColumns))
	err := s.withRetry(ctx, "insert decision", func() error {
		_, err := s.db.ExecContext(ctx, q,
			d.DecisionID, d.DecidedAt, d.TriggerReason, d.Action, d.FailedGate, d.Reason,
			d.FeatureDriftRatio, d.NumDriftedFeatures, d.LabeledSamples, d.CoveragePct,
			d.ShadowVersion, d.ProductionVersion, d.F1ImprovementPct, d.BrierChange,
			d.EvalArtifactRef)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", d.DecisionID, err)
	}

	s.logger.Info("retraining decision recorded",
		zap.String("decision_id", d.DecisionID),
		zap.String("trigger", d.TriggerReason),
		zap.String("action", d.Action),
		zap.String("reason", d.Reason))
	return nil
}

// ListDecisions returns the most recent decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	var ds []Decision
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM retraining_decisions
		ORDER BY decided_at DESC LIMIT ?`, decisionColumns))
	if err := s.db.SelectContext(ctx, &ds, q, limit); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return ds, nil
}

// CountDecisionsByAction returns decision counts grouped by action.
func (s *Store) CountDecisionsByAction(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT action, COUNT(*) FROM retraining_decisions GROUP BY action")
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// ========== Reference mirror ==========

// PutReferenceInfo records the baseline identity. One row per reference_id;
// re-putting the same id is a no-op.
func (s *Store) PutReferenceInfo(ctx context.Context, info *ReferenceInfo) error {
	q := s.db.Rebind(`INSERT INTO reference_info
		(reference_id, feature_schema, row_count, content_digest, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (reference_id) DO NOTHING`)
	err := s.withRetry(ctx, "put reference info", func() error {
		_, err := s.db.ExecContext(ctx, q,
			info.ReferenceID, info.FeatureSchema, info.RowCount,
			info.ContentDigest, info.CreatedAt.UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record reference info: %w", err)
	}
	return nil
}

// GetReferenceInfo returns the most recently created baseline record, or nil
// when none was bootstrapped.
func (s *Store) GetReferenceInfo(ctx context.Context) (*ReferenceInfo, error) {
	var info ReferenceInfo
	q := `SELECT reference_id, feature_schema, row_count, content_digest, created_at
		FROM reference_info ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &info, q); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load reference info: %w", err)
	}
	return &info, nil
}
