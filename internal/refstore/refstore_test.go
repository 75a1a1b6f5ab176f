package refstore

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftguard/internal/featureset"
)

func testRows(n int) []featureset.Row {
	schema := featureset.CreditRisk()
	rows := make([]featureset.Row, n)
	for i := range rows {
		row := make(featureset.Row, len(schema))
		for j := range row {
			row[j] = float64(i*len(schema) + j)
		}
		rows[i] = row
	}
	return rows
}

func TestBootstrapAndLoad(t *testing.T) {
	s := New(t.TempDir(), nil)
	schema := featureset.CreditRisk()
	rows := testRows(5)
	rows[2][4] = math.NaN()

	assert.False(t, s.Exists())

	b, err := s.Bootstrap(schema, rows)
	require.NoError(t, err)
	assert.True(t, s.Exists())
	assert.NotEmpty(t, b.ReferenceID)
	assert.Equal(t, 5, b.RowCount)
	assert.Contains(t, b.ContentDigest, "sha256:")

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, b.ReferenceID, loaded.ReferenceID)
	assert.Equal(t, b.ContentDigest, loaded.ContentDigest)
	require.Len(t, loaded.Rows, 5)
	assert.True(t, loaded.Rows[2].IsMissing(4))
	assert.Equal(t, rows[0][0], loaded.Rows[0][0])
	assert.True(t, loaded.Schema.Equal(schema))
}

func TestBootstrapRefusesSecond(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, err := s.Bootstrap(featureset.CreditRisk(), testRows(3))
	require.NoError(t, err)

	_, err = s.Bootstrap(featureset.CreditRisk(), testRows(3))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestBootstrapRejectsEmpty(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, err := s.Bootstrap(featureset.CreditRisk(), nil)
	assert.Error(t, err)
}

func TestLoadWithoutBootstrap(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTamperedDataFailsIntegrity(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	_, err := s.Bootstrap(featureset.CreditRisk(), testRows(5))
	require.NoError(t, err)

	// Flip one byte in the stored CSV.
	path := filepath.Join(dir, "reference_data.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0644))

	assert.ErrorIs(t, s.Verify(), ErrIntegrity)
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestMissingDataFileFailsIntegrity(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	_, err := s.Bootstrap(featureset.CreditRisk(), testRows(2))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "reference_data.csv")))
	assert.ErrorIs(t, s.Verify(), ErrIntegrity)
}

func TestCorruptMetadataFailsIntegrity(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	_, err := s.Bootstrap(featureset.CreditRisk(), testRows(2))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "reference_metadata.json"), []byte("{"), 0644))
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestFeatureColumn(t *testing.T) {
	s := New(t.TempDir(), nil)
	rows := testRows(4)
	rows[1][1] = math.NaN()
	b, err := s.Bootstrap(featureset.CreditRisk(), rows)
	require.NoError(t, err)

	col, ok := b.FeatureColumn("age")
	require.True(t, ok)
	// Row 1's age is missing, so three values survive.
	assert.Len(t, col, 3)

	_, ok = b.FeatureColumn("no_such_feature")
	assert.False(t, ok)
}

func TestDigestIsStable(t *testing.T) {
	rows := testRows(10)
	a, err := canonicalCSV(featureset.CreditRisk(), rows)
	require.NoError(t, err)
	b, err := canonicalCSV(featureset.CreditRisk(), rows)
	require.NoError(t, err)
	assert.Equal(t, digestOf(a), digestOf(b))
}
