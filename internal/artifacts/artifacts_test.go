package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(t.TempDir(), nil)

	ref, err := s.Put(KindDrift, "run-1", testDoc{Name: "age", Score: 0.42})
	require.NoError(t, err)
	assert.Equal(t, "drift/run-1.json", ref)

	var got testDoc
	require.NoError(t, s.Get(ref, &got))
	assert.Equal(t, "age", got.Name)
	assert.Equal(t, 0.42, got.Score)
}

func TestGetMissing(t *testing.T) {
	s := New(t.TempDir(), nil)
	var got testDoc
	assert.ErrorIs(t, s.Get("drift/absent.json", &got), ErrNotFound)
}

func TestRejectsEscapingRefs(t *testing.T) {
	s := New(t.TempDir(), nil)
	var got testDoc
	assert.Error(t, s.Get("../outside.json", &got))
	_, err := s.Put("..", "escape", got)
	assert.Error(t, err)
}

func TestPutOverwrites(t *testing.T) {
	s := New(t.TempDir(), nil)

	_, err := s.Put(KindModel, "credit-risk-model-1", testDoc{Score: 1})
	require.NoError(t, err)
	ref, err := s.Put(KindModel, "credit-risk-model-1", testDoc{Score: 2})
	require.NoError(t, err)

	var got testDoc
	require.NoError(t, s.Get(ref, &got))
	assert.Equal(t, 2.0, got.Score)
}
