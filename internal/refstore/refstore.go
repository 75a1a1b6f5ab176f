// Package refstore manages the frozen reference baseline: the labeled
// dataset snapshot that every drift comparison is made against. The baseline
// is written once at bootstrap and never modified; a sha-256 digest over the
// canonical CSV bytes is recorded alongside it and re-verified before every
// use, so silent corruption or tampering surfaces as ErrIntegrity instead of
// skewed drift verdicts.
package refstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driftguard/internal/featureset"
)

const (
	dataFile     = "reference_data.csv"
	metadataFile = "reference_metadata.json"
)

var (
	// ErrAlreadyExists is returned when bootstrap finds a baseline in
	// place. Replacing a baseline is a deliberate operator action, not an
	// overwrite.
	ErrAlreadyExists = errors.New("reference baseline already exists")

	// ErrNotFound is returned when no baseline has been bootstrapped.
	ErrNotFound = errors.New("reference baseline not found")

	// ErrIntegrity is returned when the stored data does not match its
	// recorded digest. Nothing downstream may run against a baseline that
	// fails this check.
	ErrIntegrity = errors.New("reference baseline integrity violation")
)

// Baseline is the loaded, verified reference dataset.
type Baseline struct {
	ReferenceID   string
	Schema        featureset.Schema
	Rows          []featureset.Row
	RowCount      int
	ContentDigest string
	CreatedAt     time.Time
}

// FeatureColumn returns the named feature's reference values with missing
// entries removed, ready for a drift comparison.
func (b *Baseline) FeatureColumn(name string) ([]float64, bool) {
	idx := b.Schema.Index(name)
	if idx < 0 {
		return nil, false
	}
	col := make([]float64, 0, len(b.Rows))
	for _, row := range b.Rows {
		if idx < len(row) && !row.IsMissing(idx) {
			col = append(col, row[idx])
		}
	}
	return col, true
}

// metadata is the on-disk manifest next to the CSV.
type metadata struct {
	ReferenceID   string            `json:"reference_id"`
	FeatureSchema featureset.Schema `json:"feature_schema"`
	RowCount      int               `json:"row_count"`
	ContentDigest string            `json:"content_digest"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Store reads and writes the baseline directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New returns a Store over dir. The directory is created on bootstrap.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the baseline directory.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether a baseline has been bootstrapped.
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, metadataFile))
	return err == nil
}

// Bootstrap writes the baseline exactly once: canonical CSV first, then the
// manifest carrying the digest. It fails with ErrAlreadyExists if a baseline
// is already in place.
func (s *Store) Bootstrap(schema featureset.Schema, rows []featureset.Row) (*Baseline, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reference baseline must not be empty")
	}
	if s.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, s.dir)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reference dir: %w", err)
	}

	data, err := canonicalCSV(schema, rows)
	if err != nil {
		return nil, err
	}
	digest := digestOf(data)

	dataPath := filepath.Join(s.dir, dataFile)
	if err := os.WriteFile(dataPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write reference data: %w", err)
	}

	meta := metadata{
		ReferenceID:   uuid.NewString(),
		FeatureSchema: schema,
		RowCount:      len(rows),
		ContentDigest: digest,
		CreatedAt:     time.Now().UTC(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode reference metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, metadataFile), metaBytes, 0644); err != nil {
		return nil, fmt.Errorf("failed to write reference metadata: %w", err)
	}

	s.logger.Info("reference baseline bootstrapped",
		zap.String("reference_id", meta.ReferenceID),
		zap.Int("rows", meta.RowCount),
		zap.String("digest", digest))

	return &Baseline{
		ReferenceID:   meta.ReferenceID,
		Schema:        schema,
		Rows:          rows,
		RowCount:      meta.RowCount,
		ContentDigest: digest,
		CreatedAt:     meta.CreatedAt,
	}, nil
}

// Load reads the baseline and verifies the stored data against its recorded
// digest and row count. A mismatch returns ErrIntegrity.
func (s *Store) Load() (*Baseline, error) {
	meta, err := s.readMetadata()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, dataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: data file missing", ErrIntegrity)
		}
		return nil, fmt.Errorf("failed to read reference data: %w", err)
	}

	if got := digestOf(data); got != meta.ContentDigest {
		s.logger.Error("reference baseline digest mismatch",
			zap.String("expected", meta.ContentDigest),
			zap.String("actual", got))
		return nil, fmt.Errorf("%w: digest mismatch (expected %s, got %s)",
			ErrIntegrity, meta.ContentDigest, got)
	}

	rows, err := decodeCSV(meta.FeatureSchema, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(rows) != meta.RowCount {
		return nil, fmt.Errorf("%w: row count mismatch (expected %d, got %d)",
			ErrIntegrity, meta.RowCount, len(rows))
	}

	return &Baseline{
		ReferenceID:   meta.ReferenceID,
		Schema:        meta.FeatureSchema,
		Rows:          rows,
		RowCount:      meta.RowCount,
		ContentDigest: meta.ContentDigest,
		CreatedAt:     meta.CreatedAt,
	}, nil
}

// Verify re-checks the stored data against the manifest without decoding the
// full dataset into memory.
func (s *Store) Verify() error {
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, dataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: data file missing", ErrIntegrity)
		}
		return fmt.Errorf("failed to read reference data: %w", err)
	}
	if got := digestOf(data); got != meta.ContentDigest {
		return fmt.Errorf("%w: digest mismatch (expected %s, got %s)",
			ErrIntegrity, meta.ContentDigest, got)
	}
	return nil
}

func (s *Store) readMetadata() (*metadata, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.dir)
		}
		return nil, fmt.Errorf("failed to read reference metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: corrupt metadata: %v", ErrIntegrity, err)
	}
	if err := meta.FeatureSchema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: corrupt metadata: %v", ErrIntegrity, err)
	}
	return &meta, nil
}

// digestOf returns the sha-256 of the canonical CSV bytes, prefixed with the
// algorithm so the manifest stays self-describing.
func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// canonicalCSV renders rows in the byte-stable form the digest is defined
// over.
func canonicalCSV(schema featureset.Schema, rows []featureset.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := featureset.WriteCSV(&buf, schema, rows); err != nil {
		return nil, fmt.Errorf("failed to encode reference data: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCSV(schema featureset.Schema, data []byte) ([]featureset.Row, error) {
	ds, err := featureset.ReadCSV(bytes.NewReader(data), schema, featureset.CSVOptions{})
	if err != nil {
		return nil, err
	}
	return ds.Rows, nil
}
