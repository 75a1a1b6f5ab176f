package trainer

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftguard/internal/featureset"
)

func trainSchema() featureset.Schema {
	return featureset.Schema{
		{Name: "utilization", Kind: featureset.Continuous},
		{Name: "age", Kind: featureset.Continuous},
	}
}

// separableRows builds a linearly separable fixture: class 1 sits at high
// utilization, class 0 at low, with age as an uninformative second feature.
func separableRows(n int, start time.Time) []LabeledRow {
	rows := make([]LabeledRow, n)
	for i := range rows {
		label := i % 2
		util := 0.1 + 0.01*float64(i%10)
		if label == 1 {
			util = 0.8 + 0.01*float64(i%10)
		}
		rows[i] = LabeledRow{
			PredictionID: fmt.Sprintf("p-%04d", i),
			At:           start.Add(time.Duration(i) * time.Minute),
			Features:     featureset.Row{util, 30 + float64(i%40)},
			Label:        label,
		}
	}
	return rows
}

func newTestLogistic() *Logistic {
	t := NewLogistic(trainSchema(), nil)
	t.MinEvalRows = 5
	return t
}

func TestTemporalSplitOrdersAndCuts(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []LabeledRow{
		{PredictionID: "c", At: start.Add(2 * time.Hour)},
		{PredictionID: "a", At: start},
		{PredictionID: "d", At: start.Add(3 * time.Hour)},
		{PredictionID: "b", At: start.Add(time.Hour)},
		{PredictionID: "e", At: start.Add(4 * time.Hour)},
	}

	train, test := TemporalSplit(rows, 0.2)
	require.Len(t, train, 4)
	require.Len(t, test, 1)
	assert.Equal(t, "a", train[0].PredictionID)
	assert.Equal(t, "d", train[3].PredictionID)
	// The most recent row is the held-out one.
	assert.Equal(t, "e", test[0].PredictionID)

	// The input order must not change.
	assert.Equal(t, "c", rows[0].PredictionID)
}

func TestTemporalSplitEdges(t *testing.T) {
	train, test := TemporalSplit(nil, 0.2)
	assert.Nil(t, train)
	assert.Nil(t, test)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := separableRows(4, start)

	// 4 * 0.2 truncates to zero held-out rows.
	train, test = TemporalSplit(rows, 0.2)
	assert.Len(t, train, 4)
	assert.Empty(t, test)

	train, test = TemporalSplit(rows, 1.0)
	assert.Empty(t, train)
	assert.Len(t, test, 4)
}

func TestTemporalSplitBreaksTimestampTies(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []LabeledRow{
		{PredictionID: "b", At: at},
		{PredictionID: "a", At: at},
		{PredictionID: "c", At: at},
	}
	train, test := TemporalSplit(rows, 0.34)
	require.Len(t, train, 2)
	require.Len(t, test, 1)
	assert.Equal(t, "a", train[0].PredictionID)
	assert.Equal(t, "c", test[0].PredictionID)
}

func TestTrainLearnsSeparableData(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trainRows := separableRows(80, start)
	testRows := separableRows(20, start.Add(100*time.Hour))

	model, metrics, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 42)
	require.NoError(t, err)
	require.NotNil(t, model)
	require.NoError(t, model.Validate())

	assert.Equal(t, "logistic_regression", model.ModelType)
	assert.Equal(t, []string{"utilization", "age"}, model.Features)
	assert.Equal(t, int64(42), model.Seed)

	assert.Equal(t, 80, metrics.NumTrain)
	assert.Equal(t, 20, metrics.NumTest)
	assert.Equal(t, 1.0, metrics.F1)
	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1.0, metrics.AUC)
	assert.Less(t, metrics.Brier, 0.2)
	assert.InDelta(t, 0.5, metrics.PositiveRate, 1e-12)
}

func TestTrainIsDeterministicPerSeed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trainRows := separableRows(60, start)
	testRows := separableRows(10, start.Add(100*time.Hour))

	m1, _, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 42)
	require.NoError(t, err)
	m2, _, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 42)
	require.NoError(t, err)
	assert.Equal(t, m1.Weights, m2.Weights)
	assert.Equal(t, m1.Bias, m2.Bias)

	m3, _, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 7)
	require.NoError(t, err)
	assert.NotEqual(t, m1.Weights, m3.Weights)
}

func TestTrainRejectsSingleClass(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := separableRows(40, start)
	for i := range rows {
		rows[i].Label = 1
	}
	testRows := separableRows(10, start.Add(100*time.Hour))

	_, _, err := newTestLogistic().Train(context.Background(), rows, testRows, 42)
	require.ErrorIs(t, err, ErrSingleClass)
}

func TestTrainRejectsBadPartitions(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trainRows := separableRows(40, start)

	_, _, err := newTestLogistic().Train(context.Background(), nil, separableRows(10, start), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training partition is empty")

	_, _, err = newTestLogistic().Train(context.Background(), trainRows, separableRows(3, start), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")

	allNeg := separableRows(10, start.Add(100*time.Hour))
	for i := range allNeg {
		allNeg[i].Label = 0
	}
	_, _, err = newTestLogistic().Train(context.Background(), trainRows, allNeg, 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single class")
}

func TestMedianImputation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trainRows := separableRows(60, start)
	// Knock out some ages; the median must be computed over the rest.
	for i := 0; i < 10; i++ {
		trainRows[i].Features[1] = math.NaN()
	}
	testRows := separableRows(10, start.Add(100*time.Hour))

	model, _, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 42)
	require.NoError(t, err)

	// A missing value must score identically to the imputed median value.
	withNaN := featureset.Row{0.85, math.NaN()}
	withMedian := featureset.Row{0.85, model.Medians[1]}
	c1, p1 := model.Score(withNaN)
	c2, p2 := model.Score(withMedian)
	assert.Equal(t, c2, c1)
	assert.Equal(t, p2, p1)
}

func TestScoreThreshold(t *testing.T) {
	m := &Model{
		ModelType: "logistic_regression",
		Features:  []string{"x"},
		Medians:   []float64{0},
		ScalerMu:  []float64{0},
		ScalerSd:  []float64{1},
		Weights:   []float64{1},
		Bias:      0,
	}
	require.NoError(t, m.Validate())

	class, p := m.Score(featureset.Row{0})
	assert.Equal(t, 1, class)
	assert.InDelta(t, 0.5, p, 1e-12)

	class, p = m.Score(featureset.Row{-1})
	assert.Equal(t, 0, class)
	assert.Less(t, p, 0.5)

	class, p = m.Score(featureset.Row{3})
	assert.Equal(t, 1, class)
	assert.Greater(t, p, 0.9)
}

func TestModelValidate(t *testing.T) {
	m := &Model{
		Features: []string{"x", "y"},
		Medians:  []float64{0, 0},
		ScalerMu: []float64{0, 0},
		ScalerSd: []float64{1, 1},
		Weights:  []float64{1, -1},
	}
	require.NoError(t, m.Validate())

	bad := *m
	bad.ScalerSd = []float64{1, 0}
	require.Error(t, bad.Validate())

	bad = *m
	bad.Medians = []float64{0}
	require.Error(t, bad.Validate())

	require.Error(t, (&Model{}).Validate())
}

func TestClassBalancedWeightingHandlesImbalance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// 90% negatives, separable.
	trainRows := make([]LabeledRow, 100)
	for i := range trainRows {
		label := 0
		util := 0.1 + 0.002*float64(i)
		if i%10 == 0 {
			label = 1
			util = 0.9 + 0.002*float64(i%50)
		}
		trainRows[i] = LabeledRow{
			PredictionID: fmt.Sprintf("p-%04d", i),
			At:           start.Add(time.Duration(i) * time.Minute),
			Features:     featureset.Row{util, 40},
			Label:        label,
		}
	}
	testRows := separableRows(20, start.Add(200 * time.Hour))

	_, metrics, err := newTestLogistic().Train(context.Background(), trainRows, testRows, 42)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Recall)
	assert.Equal(t, 1.0, metrics.F1)
}
