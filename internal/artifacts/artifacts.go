// Package artifacts stores the JSON documents that are too detailed for
// audit table columns: per-feature drift reports, replay evaluation reports,
// and trained model parameters. Rows in the database carry the returned refs
// so an operator can walk from any decision to its full evidence.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Artifact kinds used across the system.
const (
	KindDrift      = "drift"
	KindEvaluation = "evaluations"
	KindModel      = "models"
)

// ErrNotFound is returned when a ref does not resolve to a stored artifact.
var ErrNotFound = errors.New("artifact not found")

// Store writes artifacts under a base directory, one subdirectory per kind.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New returns a Store rooted at dir.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Put marshals v as indented JSON and stores it under kind/id.json. The
// returned ref is stable and relative, suitable for audit columns.
func (s *Store) Put(kind, id string, v interface{}) (string, error) {
	ref := path(kind, id)
	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact %s: %w", ref, err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", ref, err)
	}

	s.logger.Debug("artifact stored", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

// Get unmarshals the artifact at ref into v.
func (s *Store) Get(ref string, v interface{}) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("failed to read artifact %s: %w", ref, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", ref, err)
	}
	return nil
}

// Path returns the absolute filesystem location for a ref.
func (s *Store) Path(ref string) (string, error) {
	return s.resolve(ref)
}

func path(kind, id string) string {
	return kind + "/" + id + ".json"
}

// resolve maps a ref to a path inside the store, rejecting refs that try to
// escape it.
func (s *Store) resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	return filepath.Join(s.dir, clean), nil
}
