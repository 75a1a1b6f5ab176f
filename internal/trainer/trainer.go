// Package trainer fits shadow candidate models on labeled ledger rows. The
// contract is deliberately narrow: given a temporal train/test split and a
// seed, produce a scoring model and held-out metrics, deterministically.
package trainer

import (
	"context"
	"errors"
	"sort"
	"time"

	"driftguard/internal/featureset"
)

// ErrSingleClass is returned when the training partition holds only one
// class. A logistic fit on such data is degenerate and must not be staged.
var ErrSingleClass = errors.New("training partition contains a single class")

// LabeledRow is one training example: the features a model saw at serving
// time joined with the ground-truth outcome that arrived later.
type LabeledRow struct {
	PredictionID string
	At           time.Time
	Features     featureset.Row
	Label        int
}

// Metrics summarizes a fitted model's performance on the held-out
// partition.
type Metrics struct {
	F1           float64 `json:"f1_score"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	Accuracy     float64 `json:"accuracy"`
	AUC          float64 `json:"roc_auc"`
	Brier        float64 `json:"brier_score"`
	PositiveRate float64 `json:"positive_rate"`
	NumTrain     int     `json:"num_train"`
	NumTest      int     `json:"num_test"`
}

// Trainer fits a candidate on the training partition and evaluates it on
// the held-out partition. Implementations must be pure: the same rows and
// seed always produce the same model.
type Trainer interface {
	Train(ctx context.Context, trainRows, testRows []LabeledRow, seed int64) (*Model, *Metrics, error)
}

// TemporalSplit orders rows by their prediction time and reserves the most
// recent testFraction of them as the held-out partition. The split is
// never randomized. Either returned slice may be empty; callers decide
// whether that skips the run.
func TemporalSplit(rows []LabeledRow, testFraction float64) (train, test []LabeledRow) {
	if len(rows) == 0 {
		return nil, nil
	}
	ordered := make([]LabeledRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].At.Equal(ordered[j].At) {
			return ordered[i].PredictionID < ordered[j].PredictionID
		}
		return ordered[i].At.Before(ordered[j].At)
	})

	nTest := int(float64(len(ordered)) * testFraction)
	if nTest < 0 {
		nTest = 0
	}
	if nTest > len(ordered) {
		nTest = len(ordered)
	}
	cut := len(ordered) - nTest
	return ordered[:cut], ordered[cut:]
}
