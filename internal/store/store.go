// Package store persists driftguard's durable state: the append-only
// prediction and label ledgers, the model version registry, and the
// monitoring and decision audit tables. It runs on SQLite by default and on
// PostgreSQL when configured, behind one query surface written with `?`
// placeholders and rebound per driver.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"driftguard/internal/featureset"
)

// Sentinel errors surfaced by store operations.
var (
	// ErrUnknownPrediction is returned when a label names a prediction_id
	// that was never logged.
	ErrUnknownPrediction = errors.New("unknown prediction id")

	// ErrAlreadyLabeled is returned when a prediction already has a label.
	// Labels are immutable once written.
	ErrAlreadyLabeled = errors.New("prediction already labeled")

	// ErrVersionNotFound is returned when a registry lookup misses.
	ErrVersionNotFound = errors.New("model version not found")

	// ErrNoProduction is returned when no version of the model holds the
	// Production stage.
	ErrNoProduction = errors.New("no production model version")

	// ErrIllegalTransition is returned when a stage change is requested
	// that the lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal stage transition")

	// ErrRegistryConflict is returned when a promotion loses the race for
	// the single Production slot.
	ErrRegistryConflict = errors.New("registry conflict: production slot already taken")
)

// Config configures a Store.
type Config struct {
	// Driver selects the backend: "sqlite" or "postgres".
	Driver string

	// DSN is the database location. For sqlite this is a file path or
	// ":memory:"; for postgres a connection string.
	DSN string

	// Schema describes the feature columns of the prediction ledger.
	Schema featureset.Schema

	// Logger receives store diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// Store is the single handle to driftguard's database. All methods are safe
// for concurrent use; the underlying pool serializes SQLite writers via the
// busy timeout.
type Store struct {
	db     *sqlx.DB
	driver string
	schema featureset.Schema
	logger *zap.Logger

	now func() time.Time
}

// Open connects to the configured backend, applies connection settings, and
// ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature schema: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		// Rebind must leave `?` placeholders alone for the modernc driver.
		sqlx.BindDriver("sqlite", sqlx.QUESTION)
		dsn := sqliteDSN(cfg.DSN)
		db, err = sqlx.Open("sqlite", dsn)
		if err == nil && strings.Contains(cfg.DSN, ":memory:") {
			// Every pooled connection to :memory: would otherwise see its
			// own empty database.
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sqlx.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	s := &Store{
		db:     db,
		driver: cfg.Driver,
		schema: cfg.Schema,
		logger: logger,
		now:    time.Now,
	}

	if err := s.db.Ping(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", cfg.Driver, err)
	}
	if err := s.initialize(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("store opened",
		zap.String("driver", cfg.Driver),
		zap.Int("feature_columns", len(cfg.Schema)))
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// sqliteDSN appends the pragmas every connection needs. The modernc driver
// applies _pragma parameters at connection open, so pooled connections stay
// consistent.
func sqliteDSN(dsn string) string {
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// timestampType returns the column type for points in time. All values are
// stored in UTC.
func (s *Store) timestampType() string {
	if s.driver == "postgres" {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// ========== Schema ==========

// initialize creates all tables and indexes if they do not exist. The
// prediction ledger's feature columns come from the configured schema.
func (s *Store) initialize() error {
	ts := s.timestampType()

	var features strings.Builder
	for _, f := range s.schema {
		fmt.Fprintf(&features, "\t\t%q REAL,\n", f.Name)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS predictions (
		prediction_id TEXT PRIMARY KEY,
		created_at %[1]s NOT NULL,
		model_name TEXT NOT NULL,
		model_version TEXT NOT NULL,
%[2]s		predicted_class INTEGER NOT NULL CHECK (predicted_class IN (0, 1)),
		predicted_probability REAL NOT NULL,
		request_source TEXT NOT NULL DEFAULT 'api',
		response_time_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_model ON predictions(model_name, created_at);

	CREATE TABLE IF NOT EXISTS labels (
		prediction_id TEXT PRIMARY KEY REFERENCES predictions(prediction_id),
		true_class INTEGER NOT NULL CHECK (true_class IN (0, 1)),
		label_observed_at %[1]s NOT NULL,
		label_source TEXT NOT NULL,
		days_delayed REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_labels_observed ON labels(label_observed_at);

	CREATE TABLE IF NOT EXISTS monitoring_metrics (
		run_id TEXT PRIMARY KEY,
		run_at %[1]s NOT NULL UNIQUE,
		lookback_hours INTEGER NOT NULL,
		num_predictions INTEGER NOT NULL,
		positive_rate REAL,
		probability_mean REAL,
		probability_std REAL,
		entropy REAL,
		dataset_drift_detected BOOLEAN,
		feature_drift_ratio REAL,
		num_drifted_features INTEGER,
		num_evaluated_features INTEGER,
		reason TEXT NOT NULL,
		drift_artifact_ref TEXT,
		artifact_format TEXT NOT NULL DEFAULT 'json'
	);

	CREATE TABLE IF NOT EXISTS retraining_decisions (
		decision_id TEXT PRIMARY KEY,
		decided_at %[1]s NOT NULL UNIQUE,
		trigger_reason TEXT NOT NULL,
		action TEXT NOT NULL,
		failed_gate TEXT,
		reason TEXT NOT NULL,
		feature_drift_ratio REAL,
		num_drifted_features INTEGER,
		labeled_samples INTEGER,
		coverage_pct REAL,
		shadow_model_version TEXT,
		production_model_version TEXT,
		f1_improvement_pct REAL,
		brier_change REAL,
		evaluation_artifact_ref TEXT
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		model_name TEXT NOT NULL,
		version TEXT NOT NULL,
		stage TEXT NOT NULL,
		trained_at %[1]s NOT NULL,
		promoted_at %[1]s,
		archived_at %[1]s,
		training_run_ref TEXT NOT NULL DEFAULT '',
		trigger_reason TEXT NOT NULL DEFAULT '',
		f1_score REAL NOT NULL DEFAULT 0,
		brier_score REAL NOT NULL DEFAULT 0,
		num_training_samples INTEGER NOT NULL DEFAULT 0,
		feature_drift_ratio_at_training REAL,
		decision_id TEXT,
		artifact_format TEXT NOT NULL DEFAULT 'json',
		PRIMARY KEY (model_name, version)
	);

	CREATE INDEX IF NOT EXISTS idx_model_versions_stage ON model_versions(model_name, stage);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_model_versions_production
		ON model_versions(model_name) WHERE stage = 'Production';

	CREATE TABLE IF NOT EXISTS reference_info (
		reference_id TEXT PRIMARY KEY,
		feature_schema TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		content_digest TEXT NOT NULL,
		created_at %[1]s NOT NULL
	);
	`, ts, features.String())

	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// splitStatements breaks a schema script into single statements. lib/pq does
// not accept multi-statement Exec outside simple-query mode.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		stmts = append(stmts, p)
	}
	return stmts
}

// ========== Migrations ==========

// migration adds a column to an existing table. Fresh databases already get
// every column from initialize; these cover databases created before the
// column existed.
type migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []migration{
	// Request provenance columns, added alongside the traffic simulator.
	{"predictions", "request_source", "TEXT NOT NULL DEFAULT 'api'"},
	{"predictions", "response_time_ms", "INTEGER NOT NULL DEFAULT 0"},
	// Excluded-feature accounting, added with the per-feature sample floor.
	{"monitoring_metrics", "num_evaluated_features", "INTEGER"},
	// Artifact format markers for forward compatibility.
	{"monitoring_metrics", "artifact_format", "TEXT NOT NULL DEFAULT 'json'"},
	{"model_versions", "artifact_format", "TEXT NOT NULL DEFAULT 'json'"},
	{"retraining_decisions", "evaluation_artifact_ref", "TEXT"},
}

func (s *Store) runMigrations() error {
	applied := 0
	for _, m := range pendingMigrations {
		ok, err := s.columnExists(m.Table, m.Column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		applied++
	}
	if applied > 0 {
		s.logger.Info("schema migrations applied", zap.Int("count", applied))
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	if s.driver == "postgres" {
		var n int
		q := s.db.Rebind(`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`)
		if err := s.db.Get(&n, q, table, column); err != nil {
			return false, fmt.Errorf("column check failed for %s.%s: %w", table, column, err)
		}
		return n > 0, nil
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("column check failed for %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
