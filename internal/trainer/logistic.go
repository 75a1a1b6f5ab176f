package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"driftguard/internal/featureset"
	"driftguard/internal/stats"
)

const (
	defaultLearningRate = 0.1
	defaultEpochs       = 300
	defaultL2Penalty    = 1e-4
	defaultMinEvalRows  = 30
)

// Model is a fitted logistic scorer together with the preprocessing fitted
// alongside it: per-feature imputation medians and a standard scaler, both
// computed on the training partition only. The JSON encoding of this struct
// is the model artifact.
type Model struct {
	ModelType string    `json:"model_type"`
	Features  []string  `json:"features"`
	Medians   []float64 `json:"imputation_medians"`
	ScalerMu  []float64 `json:"scaler_mean"`
	ScalerSd  []float64 `json:"scaler_std"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Seed      int64     `json:"seed"`
	TrainedAt time.Time `json:"trained_at"`
}

// Validate checks that a decoded artifact has consistent shapes before it
// is used for scoring.
func (m *Model) Validate() error {
	d := len(m.Weights)
	if d == 0 {
		return fmt.Errorf("model has no weights")
	}
	if len(m.Features) != d || len(m.Medians) != d || len(m.ScalerMu) != d || len(m.ScalerSd) != d {
		return fmt.Errorf("model arrays disagree on dimension: features=%d medians=%d mean=%d std=%d weights=%d",
			len(m.Features), len(m.Medians), len(m.ScalerMu), len(m.ScalerSd), d)
	}
	for i, s := range m.ScalerSd {
		if s == 0 || math.IsNaN(s) {
			return fmt.Errorf("model scaler std for %s is invalid", m.Features[i])
		}
	}
	return nil
}

// Score returns the predicted class and positive-class probability for one
// feature row. Missing values are imputed with the training medians; the
// class threshold is 0.5.
func (m *Model) Score(features featureset.Row) (int, float64) {
	z := m.Bias
	for i := range m.Weights {
		v := 0.0
		if i < len(features) {
			v = features[i]
		}
		if math.IsNaN(v) {
			v = m.Medians[i]
		}
		z += m.Weights[i] * (v - m.ScalerMu[i]) / m.ScalerSd[i]
	}
	p := sigmoid(z)
	if p >= 0.5 {
		return 1, p
	}
	return 0, p
}

// Logistic trains a class-balanced logistic regression by full-batch
// gradient descent. Weight initialization is drawn from the seed, so a
// given (rows, seed) pair always yields the same model.
type Logistic struct {
	LearningRate float64
	Epochs       int
	L2Penalty    float64
	MinEvalRows  int

	schema featureset.Schema
	logger *zap.Logger
}

// NewLogistic returns a trainer with the default hyperparameters.
func NewLogistic(schema featureset.Schema, logger *zap.Logger) *Logistic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logistic{
		LearningRate: defaultLearningRate,
		Epochs:       defaultEpochs,
		L2Penalty:    defaultL2Penalty,
		MinEvalRows:  defaultMinEvalRows,
		schema:       schema,
		logger:       logger,
	}
}

// Train fits on trainRows and evaluates on testRows. It fails on an empty
// or single-class training partition and on an evaluation partition that is
// too small or single-class, since none of those can produce a candidate
// worth gating.
func (t *Logistic) Train(ctx context.Context, trainRows, testRows []LabeledRow, seed int64) (*Model, *Metrics, error) {
	if len(trainRows) == 0 {
		return nil, nil, fmt.Errorf("training partition is empty")
	}
	if len(testRows) < t.MinEvalRows {
		return nil, nil, fmt.Errorf("evaluation partition too small: %d < %d", len(testRows), t.MinEvalRows)
	}
	if singleClass(trainRows) {
		return nil, nil, ErrSingleClass
	}
	if singleClass(testRows) {
		return nil, nil, fmt.Errorf("evaluation partition contains a single class")
	}

	d := len(t.schema)
	medians := fitMedians(trainRows, d)
	mu, sd := fitScaler(trainRows, medians, d)

	x := make([][]float64, len(trainRows))
	y := make([]float64, len(trainRows))
	var nPos, nNeg int
	for i, row := range trainRows {
		x[i] = transform(row.Features, medians, mu, sd)
		y[i] = float64(row.Label)
		if row.Label == 1 {
			nPos++
		} else {
			nNeg++
		}
	}

	// Balanced class weighting: n / (2 * n_class).
	posWeight := float64(len(trainRows)) / (2 * float64(nPos))
	negWeight := float64(len(trainRows)) / (2 * float64(nNeg))

	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, d)
	for i := range weights {
		weights[i] = rng.NormFloat64() * 0.01
	}
	bias := 0.0

	gradW := make([]float64, d)
	inv := 1.0 / float64(len(trainRows))
	for epoch := 0; epoch < t.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0
		for i, xi := range x {
			p := sigmoid(dot(weights, xi) + bias)
			e := p - y[i]
			if y[i] == 1 {
				e *= posWeight
			} else {
				e *= negWeight
			}
			for j, v := range xi {
				gradW[j] += e * v
			}
			gradB += e
		}
		for j := range weights {
			weights[j] -= t.LearningRate * (gradW[j]*inv + t.L2Penalty*weights[j])
		}
		bias -= t.LearningRate * gradB * inv
	}

	model := &Model{
		ModelType: "logistic_regression",
		Features:  t.schema.Names(),
		Medians:   medians,
		ScalerMu:  mu,
		ScalerSd:  sd,
		Weights:   weights,
		Bias:      bias,
		Seed:      seed,
		TrainedAt: time.Now().UTC(),
	}

	metrics := evaluate(model, testRows)
	metrics.NumTrain = len(trainRows)
	metrics.NumTest = len(testRows)

	t.logger.Info("shadow model trained",
		zap.Int("num_train", metrics.NumTrain),
		zap.Int("num_test", metrics.NumTest),
		zap.Float64("f1", metrics.F1),
		zap.Float64("brier", metrics.Brier),
		zap.Int64("seed", seed))

	return model, metrics, nil
}

// evaluate scores every held-out row and aggregates the classifier metrics.
func evaluate(m *Model, testRows []LabeledRow) *Metrics {
	truth := make([]int, len(testRows))
	pred := make([]int, len(testRows))
	probs := make([]float64, len(testRows))
	for i, row := range testRows {
		truth[i] = row.Label
		pred[i], probs[i] = m.Score(row.Features)
	}

	cm := stats.NewConfusion(truth, pred)
	return &Metrics{
		F1:           cm.F1(),
		Precision:    cm.Precision(),
		Recall:       cm.Recall(),
		Accuracy:     cm.Accuracy(),
		AUC:          stats.ROCAUC(truth, probs),
		Brier:        stats.Brier(truth, probs),
		PositiveRate: stats.PositiveRate(pred),
	}
}

func singleClass(rows []LabeledRow) bool {
	if len(rows) == 0 {
		return true
	}
	first := rows[0].Label
	for _, r := range rows[1:] {
		if r.Label != first {
			return false
		}
	}
	return true
}

// fitMedians computes per-feature medians over non-missing training values.
// A feature with no observed values at all imputes to 0.
func fitMedians(rows []LabeledRow, d int) []float64 {
	medians := make([]float64, d)
	col := make([]float64, 0, len(rows))
	for j := 0; j < d; j++ {
		col = col[:0]
		for _, row := range rows {
			if j < len(row.Features) && !math.IsNaN(row.Features[j]) {
				col = append(col, row.Features[j])
			}
		}
		if len(col) > 0 {
			medians[j] = stats.Median(col)
		}
	}
	return medians
}

// fitScaler computes the standardization parameters on imputed training
// values. Zero-variance features keep a scale of 1 so they standardize to 0
// instead of dividing by zero.
func fitScaler(rows []LabeledRow, medians []float64, d int) (mu, sd []float64) {
	mu = make([]float64, d)
	sd = make([]float64, d)
	col := make([]float64, 0, len(rows))
	for j := 0; j < d; j++ {
		col = col[:0]
		for _, row := range rows {
			v := medians[j]
			if j < len(row.Features) && !math.IsNaN(row.Features[j]) {
				v = row.Features[j]
			}
			col = append(col, v)
		}
		mu[j] = stats.Mean(col)
		sd[j] = stats.StdPop(col)
		if sd[j] == 0 {
			sd[j] = 1
		}
	}
	return mu, sd
}

func transform(features featureset.Row, medians, mu, sd []float64) []float64 {
	out := make([]float64, len(medians))
	for j := range out {
		v := medians[j]
		if j < len(features) && !math.IsNaN(features[j]) {
			v = features[j]
		}
		out[j] = (v - mu[j]) / sd[j]
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
