package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"driftguard/internal/featureset"
)

// Prediction is one scoring event in the append-only ledger. Features holds
// one value per schema column; NaN marks a missing input and is stored as
// NULL.
type Prediction struct {
	PredictionID         string
	CreatedAt            time.Time
	ModelName            string
	ModelVersion         string
	Features             featureset.Row
	PredictedClass       int
	PredictedProbability float64
	RequestSource        string
	ResponseTimeMs       int64
}

// Label is the delayed ground-truth outcome for a logged prediction.
type Label struct {
	PredictionID    string
	TrueClass       int
	LabelObservedAt time.Time
	LabelSource     string

	// DaysDelayed is derived from the prediction's created_at on append.
	DaysDelayed float64
}

// LabeledRow is one row of the inner join between predictions and labels,
// streamed in chronological order.
type LabeledRow struct {
	PredictionID         string
	CreatedAt            time.Time
	ModelVersion         string
	Features             featureset.Row
	PredictedClass       int
	PredictedProbability float64
	TrueClass            int
	LabelObservedAt      time.Time
}

// CoverageStats summarizes how much of a prediction window has ground truth.
type CoverageStats struct {
	TotalPredictions   int
	LabeledPredictions int
	CoveragePct        float64
	MeanLabelDelayDays float64
}

// ========== Writes ==========

// AppendPrediction appends one prediction to the ledger. Re-appending an
// existing prediction_id is a no-op, so delivery retries stay safe.
func (s *Store) AppendPrediction(ctx context.Context, p *Prediction) error {
	if p.PredictionID == "" {
		return fmt.Errorf("prediction id must not be empty")
	}
	if len(p.Features) != len(s.schema) {
		return fmt.Errorf("feature count mismatch: got %d, schema has %d", len(p.Features), len(s.schema))
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	source := p.RequestSource
	if source == "" {
		source = "api"
	}

	cols := []string{"prediction_id", "created_at", "model_name", "model_version"}
	args := []interface{}{p.PredictionID, createdAt.UTC(), p.ModelName, p.ModelVersion}
	for i, f := range s.schema {
		cols = append(cols, fmt.Sprintf("%q", f.Name))
		args = append(args, nullableFloat(p.Features[i]))
	}
	cols = append(cols, "predicted_class", "predicted_probability", "request_source", "response_time_ms")
	args = append(args, p.PredictedClass, p.PredictedProbability, source, p.ResponseTimeMs)

	q := fmt.Sprintf(
		"INSERT INTO predictions (%s) VALUES (%s) ON CONFLICT (prediction_id) DO NOTHING",
		strings.Join(cols, ", "), placeholders(len(cols)))
	q = s.db.Rebind(q)

	return s.withRetry(ctx, "append prediction", func() error {
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			s.logger.Debug("duplicate prediction ignored", zap.String("prediction_id", p.PredictionID))
		}
		return nil
	})
}

// AppendLabel records the observed outcome for a prediction. The prediction
// must exist and must not already be labeled; labels are immutable.
func (s *Store) AppendLabel(ctx context.Context, l *Label) error {
	if l.PredictionID == "" {
		return fmt.Errorf("prediction id must not be empty")
	}
	observedAt := l.LabelObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}
	source := l.LabelSource
	if source == "" {
		source = "batch"
	}

	return s.withRetry(ctx, "append label", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var createdAt time.Time
		q := tx.Rebind("SELECT created_at FROM predictions WHERE prediction_id = ?")
		if err := tx.GetContext(ctx, &createdAt, q, l.PredictionID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s", ErrUnknownPrediction, l.PredictionID)
			}
			return err
		}

		var n int
		q = tx.Rebind("SELECT COUNT(*) FROM labels WHERE prediction_id = ?")
		if err := tx.GetContext(ctx, &n, q, l.PredictionID); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyLabeled, l.PredictionID)
		}

		daysDelayed := observedAt.Sub(createdAt).Hours() / 24
		q = tx.Rebind(`INSERT INTO labels
			(prediction_id, true_class, label_observed_at, label_source, days_delayed)
			VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q,
			l.PredictionID, l.TrueClass, observedAt.UTC(), source, daysDelayed); err != nil {
			return err
		}
		l.DaysDelayed = daysDelayed
		return tx.Commit()
	})
}

// ========== Reads ==========

// CountPredictionsSince counts ledger rows for a model with created_at in
// [since, now).
func (s *Store) CountPredictionsSince(ctx context.Context, modelName string, since time.Time) (int, error) {
	var n int
	q := s.db.Rebind("SELECT COUNT(*) FROM predictions WHERE model_name = ? AND created_at >= ?")
	if err := s.db.GetContext(ctx, &n, q, modelName, since.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return n, nil
}

// LoadPredictionsSince streams predictions for a model with created_at in
// [since, now), ordered by created_at then prediction_id so replays are
// deterministic. The caller must Close the iterator.
func (s *Store) LoadPredictionsSince(ctx context.Context, modelName string, since time.Time) (*PredictionRows, error) {
	q := fmt.Sprintf(`SELECT prediction_id, created_at, model_name, model_version, %s,
			predicted_class, predicted_probability, request_source, response_time_ms
		FROM predictions
		WHERE model_name = ? AND created_at >= ?
		ORDER BY created_at ASC, prediction_id ASC`, featureColumns(s.schema))
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), modelName, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}
	return &PredictionRows{rows: rows, schema: s.schema}, nil
}

// LoadLabeledSince streams the inner join of predictions and labels for a
// model with created_at in [since, now), in the same deterministic order as
// LoadPredictionsSince. The caller must Close the iterator.
func (s *Store) LoadLabeledSince(ctx context.Context, modelName string, since time.Time) (*LabeledRows, error) {
	q := fmt.Sprintf(`SELECT p.prediction_id, p.created_at, p.model_version, %s,
			p.predicted_class, p.predicted_probability, l.true_class, l.label_observed_at
		FROM predictions p
		JOIN labels l ON l.prediction_id = p.prediction_id
		WHERE p.model_name = ? AND p.created_at >= ?
		ORDER BY p.created_at ASC, p.prediction_id ASC`, prefixedFeatureColumns(s.schema, "p"))
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), modelName, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load labeled rows: %w", err)
	}
	return &LabeledRows{rows: rows, schema: s.schema}, nil
}

// LoadUnlabeledSince streams predictions that have no label yet, for a model
// with created_at in [since, now), in the same deterministic order as the
// other ledger reads. The caller must Close the iterator.
func (s *Store) LoadUnlabeledSince(ctx context.Context, modelName string, since time.Time) (*PredictionRows, error) {
	q := fmt.Sprintf(`SELECT p.prediction_id, p.created_at, p.model_name, p.model_version, %s,
			p.predicted_class, p.predicted_probability, p.request_source, p.response_time_ms
		FROM predictions p
		LEFT JOIN labels l ON l.prediction_id = p.prediction_id
		WHERE p.model_name = ? AND p.created_at >= ? AND l.prediction_id IS NULL
		ORDER BY p.created_at ASC, p.prediction_id ASC`, prefixedFeatureColumns(s.schema, "p"))
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), modelName, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load unlabeled predictions: %w", err)
	}
	return &PredictionRows{rows: rows, schema: s.schema}, nil
}

// Coverage computes label coverage for predictions with created_at in
// [since, now) in a single aggregate query.
func (s *Store) Coverage(ctx context.Context, modelName string, since time.Time) (CoverageStats, error) {
	var agg struct {
		Total    int             `db:"total"`
		Labeled  int             `db:"labeled"`
		MeanLate sql.NullFloat64 `db:"mean_late"`
	}
	q := s.db.Rebind(`SELECT COUNT(p.prediction_id) AS total,
			COUNT(l.prediction_id) AS labeled,
			AVG(l.days_delayed) AS mean_late
		FROM predictions p
		LEFT JOIN labels l ON l.prediction_id = p.prediction_id
		WHERE p.model_name = ? AND p.created_at >= ?`)
	if err := s.db.GetContext(ctx, &agg, q, modelName, since.UTC()); err != nil {
		return CoverageStats{}, fmt.Errorf("failed to compute coverage: %w", err)
	}

	stats := CoverageStats{
		TotalPredictions:   agg.Total,
		LabeledPredictions: agg.Labeled,
	}
	if agg.Total > 0 {
		stats.CoveragePct = float64(agg.Labeled) / float64(agg.Total) * 100
	}
	if agg.MeanLate.Valid {
		stats.MeanLabelDelayDays = agg.MeanLate.Float64
	}
	return stats, nil
}

// ========== Iterators ==========

// PredictionRows streams prediction rows without loading the window into
// memory.
type PredictionRows struct {
	rows   *sql.Rows
	schema featureset.Schema
	cur    Prediction
	err    error
}

// Next advances to the next row. It returns false at the end of the result
// set or on error; check Err after the loop.
func (r *PredictionRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	p := Prediction{Features: make(featureset.Row, len(r.schema))}
	feats := make([]sql.NullFloat64, len(r.schema))

	dest := []interface{}{&p.PredictionID, &p.CreatedAt, &p.ModelName, &p.ModelVersion}
	for i := range feats {
		dest = append(dest, &feats[i])
	}
	dest = append(dest, &p.PredictedClass, &p.PredictedProbability, &p.RequestSource, &p.ResponseTimeMs)

	if err := r.rows.Scan(dest...); err != nil {
		r.err = err
		return false
	}
	for i, f := range feats {
		if f.Valid {
			p.Features[i] = f.Float64
		} else {
			p.Features[i] = math.NaN()
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	r.cur = p
	return true
}

// Record returns the current row. Valid until the next call to Next.
func (r *PredictionRows) Record() *Prediction { return &r.cur }

// Err returns the first error hit while iterating.
func (r *PredictionRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

// Close releases the underlying cursor.
func (r *PredictionRows) Close() error { return r.rows.Close() }

// LabeledRows streams joined prediction+label rows.
type LabeledRows struct {
	rows   *sql.Rows
	schema featureset.Schema
	cur    LabeledRow
	err    error
}

// Next advances to the next row. It returns false at the end of the result
// set or on error; check Err after the loop.
func (r *LabeledRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	row := LabeledRow{Features: make(featureset.Row, len(r.schema))}
	feats := make([]sql.NullFloat64, len(r.schema))

	dest := []interface{}{&row.PredictionID, &row.CreatedAt, &row.ModelVersion}
	for i := range feats {
		dest = append(dest, &feats[i])
	}
	dest = append(dest, &row.PredictedClass, &row.PredictedProbability, &row.TrueClass, &row.LabelObservedAt)

	if err := r.rows.Scan(dest...); err != nil {
		r.err = err
		return false
	}
	for i, f := range feats {
		if f.Valid {
			row.Features[i] = f.Float64
		} else {
			row.Features[i] = math.NaN()
		}
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.LabelObservedAt = row.LabelObservedAt.UTC()
	r.cur = row
	return true
}

// Record returns the current row. Valid until the next call to Next.
func (r *LabeledRows) Record() *LabeledRow { return &r.cur }

// Err returns the first error hit while iterating.
func (r *LabeledRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

// Close releases the underlying cursor.
func (r *LabeledRows) Close() error { return r.rows.Close() }

// ========== Helpers ==========

func nullableFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func featureColumns(schema featureset.Schema) string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = fmt.Sprintf("%q", f.Name)
	}
	return strings.Join(names, ", ")
}

func prefixedFeatureColumns(schema featureset.Schema, prefix string) string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = fmt.Sprintf("%s.%q", prefix, f.Name)
	}
	return strings.Join(names, ", ")
}
