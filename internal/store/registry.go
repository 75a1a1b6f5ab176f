package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
)

// Stage is a model version's position in the promotion lifecycle.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ModelVersion is one row of the model registry. A (model_name, version)
// pair is immutable except for its stage and the stage-change timestamps; a
// partial unique index holds at most one version per model in Production.
type ModelVersion struct {
	ModelName            string     `db:"model_name"`
	Version              string     `db:"version"`
	Stage                Stage      `db:"stage"`
	TrainedAt            time.Time  `db:"trained_at"`
	PromotedAt           *time.Time `db:"promoted_at"`
	ArchivedAt           *time.Time `db:"archived_at"`
	TrainingRunRef       string     `db:"training_run_ref"`
	TriggerReason        string     `db:"trigger_reason"`
	F1Score              float64    `db:"f1_score"`
	BrierScore           float64    `db:"brier_score"`
	NumTrainingSamples   int        `db:"num_training_samples"`
	DriftRatioAtTraining *float64   `db:"feature_drift_ratio_at_training"`
	DecisionID           *string    `db:"decision_id"`
	ArtifactFormat       string     `db:"artifact_format"`
}

const modelVersionColumns = `model_name, version, stage, trained_at, promoted_at, archived_at,
	training_run_ref, trigger_reason, f1_score, brier_score, num_training_samples,
	feature_drift_ratio_at_training, decision_id, artifact_format`

// ========== Registration ==========

// RegisterVersion inserts a freshly trained version. New versions always
// enter in Staging.
func (s *Store) RegisterVersion(ctx context.Context, v *ModelVersion) error {
	if v.ModelName == "" || v.Version == "" {
		return fmt.Errorf("model name and version must not be empty")
	}
	if v.Stage != StageStaging {
		return fmt.Errorf("%w: new versions must enter in Staging, got %s", ErrIllegalTransition, v.Stage)
	}
	if v.TrainedAt.IsZero() {
		v.TrainedAt = s.now()
	}
	v.TrainedAt = v.TrainedAt.UTC()
	if v.ArtifactFormat == "" {
		v.ArtifactFormat = "json"
	}

	q := s.db.Rebind(fmt.Sprintf(`INSERT INTO model_versions (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, modelVersionColumns))
	err := s.withRetry(ctx, "register version", func() error {
		_, err := s.db.ExecContext(ctx, q,
			v.ModelName, v.Version, v.Stage, v.TrainedAt, v.PromotedAt, v.ArchivedAt,
			v.TrainingRunRef, v.TriggerReason, v.F1Score, v.BrierScore, v.NumTrainingSamples,
			v.DriftRatioAtTraining, v.DecisionID, v.ArtifactFormat)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to register %s v%s: %w", v.ModelName, v.Version, err)
	}

	s.logger.Info("model version registered",
		zap.String("model", v.ModelName),
		zap.String("version", v.Version),
		zap.Float64("f1", v.F1Score))
	return nil
}

// NextVersion returns the next unused version number for a model, as a
// string. The first version of a model is "1".
func (s *Store) NextVersion(ctx context.Context, modelName string) (string, error) {
	var next int
	q := s.db.Rebind(`SELECT COALESCE(MAX(CAST(version AS INTEGER)), 0) + 1
		FROM model_versions WHERE model_name = ?`)
	if err := s.db.GetContext(ctx, &next, q, modelName); err != nil {
		return "", fmt.Errorf("failed to compute next version: %w", err)
	}
	return fmt.Sprintf("%d", next), nil
}

// ========== Lookups ==========

// GetVersion fetches one registry row.
func (s *Store) GetVersion(ctx context.Context, modelName, version string) (*ModelVersion, error) {
	var v ModelVersion
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM model_versions
		WHERE model_name = ? AND version = ?`, modelVersionColumns))
	if err := s.db.GetContext(ctx, &v, q, modelName, version); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s v%s", ErrVersionNotFound, modelName, version)
		}
		return nil, fmt.Errorf("failed to load %s v%s: %w", modelName, version, err)
	}
	return &v, nil
}

// ProductionVersion fetches the model's current Production version, or
// ErrNoProduction when the registry holds none.
func (s *Store) ProductionVersion(ctx context.Context, modelName string) (*ModelVersion, error) {
	var v ModelVersion
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM model_versions
		WHERE model_name = ? AND stage = ?`, modelVersionColumns))
	if err := s.db.GetContext(ctx, &v, q, modelName, StageProduction); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNoProduction, modelName)
		}
		return nil, fmt.Errorf("failed to load production version: %w", err)
	}
	return &v, nil
}

// ListVersions returns every registry row for a model, newest first.
func (s *Store) ListVersions(ctx context.Context, modelName string) ([]ModelVersion, error) {
	var vs []ModelVersion
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM model_versions
		WHERE model_name = ? ORDER BY CAST(version AS INTEGER) DESC`, modelVersionColumns))
	if err := s.db.SelectContext(ctx, &vs, q, modelName); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return vs, nil
}

// LastPromotedAt returns the most recent promotion time across all versions
// of a model, or nil when the model was never promoted.
func (s *Store) LastPromotedAt(ctx context.Context, modelName string) (*time.Time, error) {
	var at time.Time
	q := s.db.Rebind(`SELECT promoted_at FROM model_versions
		WHERE model_name = ? AND promoted_at IS NOT NULL
		ORDER BY promoted_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &at, q, modelName); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last promotion time: %w", err)
	}
	at = at.UTC()
	return &at, nil
}

// ========== Stage transitions ==========

// PromoteVersion atomically archives the current Production version (if any)
// and moves the named Staging version into Production. Promotion is the only
// path into Production besides RestoreVersion; losing the race for the
// Production slot returns ErrRegistryConflict with nothing changed.
func (s *Store) PromoteVersion(ctx context.Context, modelName, version, decisionID string) error {
	err := s.withRetry(ctx, "promote version", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var stage Stage
		q := tx.Rebind("SELECT stage FROM model_versions WHERE model_name = ? AND version = ?")
		if err := tx.GetContext(ctx, &stage, q, modelName, version); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s v%s", ErrVersionNotFound, modelName, version)
			}
			return err
		}
		if stage != StageStaging {
			return fmt.Errorf("%w: cannot promote from %s", ErrIllegalTransition, stage)
		}

		now := s.now().UTC()
		q = tx.Rebind(`UPDATE model_versions SET stage = ?, archived_at = ?
			WHERE model_name = ? AND stage = ?`)
		if _, err := tx.ExecContext(ctx, q, StageArchived, now, modelName, StageProduction); err != nil {
			return err
		}

		q = tx.Rebind(`UPDATE model_versions SET stage = ?, promoted_at = ?, decision_id = ?
			WHERE model_name = ? AND version = ?`)
		if _, err := tx.ExecContext(ctx, q, StageProduction, now, decisionID, modelName, version); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s v%s", ErrRegistryConflict, modelName, version)
			}
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.logger.Info("model version promoted",
		zap.String("model", modelName),
		zap.String("version", version),
		zap.String("decision_id", decisionID))
	return nil
}

// RestoreVersion moves an Archived version back into Production, archiving
// the current Production holder first. This is the manual rollback path.
func (s *Store) RestoreVersion(ctx context.Context, modelName, version, decisionID string) error {
	err := s.withRetry(ctx, "restore version", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var stage Stage
		q := tx.Rebind("SELECT stage FROM model_versions WHERE model_name = ? AND version = ?")
		if err := tx.GetContext(ctx, &stage, q, modelName, version); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s v%s", ErrVersionNotFound, modelName, version)
			}
			return err
		}
		if stage != StageArchived {
			return fmt.Errorf("%w: cannot restore from %s", ErrIllegalTransition, stage)
		}

		now := s.now().UTC()
		q = tx.Rebind(`UPDATE model_versions SET stage = ?, archived_at = ?
			WHERE model_name = ? AND stage = ?`)
		if _, err := tx.ExecContext(ctx, q, StageArchived, now, modelName, StageProduction); err != nil {
			return err
		}

		q = tx.Rebind(`UPDATE model_versions SET stage = ?, promoted_at = ?, archived_at = NULL, decision_id = ?
			WHERE model_name = ? AND version = ?`)
		if _, err := tx.ExecContext(ctx, q, StageProduction, now, decisionID, modelName, version); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s v%s", ErrRegistryConflict, modelName, version)
			}
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.logger.Info("model version restored to production",
		zap.String("model", modelName),
		zap.String("version", version))
	return nil
}

// ArchiveVersion moves a Staging version to Archived. Used when a shadow is
// rejected past its TTL.
func (s *Store) ArchiveVersion(ctx context.Context, modelName, version string) error {
	return s.withRetry(ctx, "archive version", func() error {
		q := s.db.Rebind(`UPDATE model_versions SET stage = ?, archived_at = ?
			WHERE model_name = ? AND version = ? AND stage = ?`)
		res, err := s.db.ExecContext(ctx, q, StageArchived, s.now().UTC(), modelName, version, StageStaging)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s v%s is not in Staging", ErrIllegalTransition, modelName, version)
		}
		return nil
	})
}

// ArchiveStaleStaging archives every Staging version trained before the
// cutoff and returns how many rows changed.
func (s *Store) ArchiveStaleStaging(ctx context.Context, modelName string, cutoff time.Time) (int, error) {
	var archived int64
	err := s.withRetry(ctx, "archive stale staging", func() error {
		q := s.db.Rebind(`UPDATE model_versions SET stage = ?, archived_at = ?
			WHERE model_name = ? AND stage = ? AND trained_at < ?`)
		res, err := s.db.ExecContext(ctx, q, StageArchived, s.now().UTC(), modelName, StageStaging, cutoff.UTC())
		if err != nil {
			return err
		}
		archived, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive stale staging versions: %w", err)
	}
	if archived > 0 {
		s.logger.Info("stale staging versions archived",
			zap.String("model", modelName),
			zap.Int64("count", archived))
	}
	return int(archived), nil
}

// isUniqueViolation reports whether err is a unique-index violation on
// either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		// 2067 = SQLITE_CONSTRAINT_UNIQUE, 1555 = SQLITE_CONSTRAINT_PRIMARYKEY
		return sqErr.Code() == 2067 || sqErr.Code() == 1555
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
