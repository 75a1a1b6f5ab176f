package stats

import (
	"math"
	"sort"
)

// Confusion is a binary confusion matrix.
type Confusion struct {
	TP, FP, TN, FN int
}

// NewConfusion tallies predicted against true classes. Slices must have equal
// length; classes are 0/1.
func NewConfusion(trueClass, predClass []int) Confusion {
	var c Confusion
	for i := range trueClass {
		switch {
		case trueClass[i] == 1 && predClass[i] == 1:
			c.TP++
		case trueClass[i] == 0 && predClass[i] == 1:
			c.FP++
		case trueClass[i] == 0 && predClass[i] == 0:
			c.TN++
		default:
			c.FN++
		}
	}
	return c
}

// Precision returns TP / (TP + FP), or 0 when no positives were predicted.
func (c Confusion) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall returns TP / (TP + FN), or 0 when there are no true positives.
func (c Confusion) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 returns the harmonic mean of precision and recall, or 0 when both are 0.
func (c Confusion) F1() float64 {
	p := c.Precision()
	r := c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy returns the fraction of correct classifications.
func (c Confusion) Accuracy() float64 {
	total := c.TP + c.FP + c.TN + c.FN
	if total == 0 {
		return 0
	}
	return float64(c.TP+c.TN) / float64(total)
}

// Brier returns the mean squared error between predicted probabilities and
// true classes.
func Brier(trueClass []int, prob []float64) float64 {
	if len(trueClass) == 0 {
		return 0
	}
	var sum float64
	for i := range trueClass {
		d := prob[i] - float64(trueClass[i])
		sum += d * d
	}
	return sum / float64(len(trueClass))
}

// ROCAUC computes the area under the ROC curve via the rank-sum (Mann-Whitney)
// statistic with midrank tie handling. A single-class input carries no ranking
// information and returns 0.5.
func ROCAUC(trueClass []int, prob []float64) float64 {
	n := len(trueClass)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return prob[idx[a]] < prob[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && prob[idx[j]] == prob[idx[i]] {
			j++
		}
		// midrank for the tie group [i, j)
		avg := (float64(i+1) + float64(j)) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var nPos, nNeg int
	var sumPos float64
	for i, y := range trueClass {
		if y == 1 {
			nPos++
			sumPos += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (sumPos - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}

// BinaryEntropy returns -p*ln(p) - (1-p)*ln(1-p) with 0*ln(0) taken as 0.
func BinaryEntropy(p float64) float64 {
	var h float64
	if p > 0 {
		h -= p * math.Log(p)
	}
	if p < 1 {
		h -= (1 - p) * math.Log(1-p)
	}
	return h
}

// MeanBinaryEntropy averages BinaryEntropy over a probability slice.
func MeanBinaryEntropy(ps []float64) float64 {
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		sum += BinaryEntropy(p)
	}
	return sum / float64(len(ps))
}

// PositiveRate returns the fraction of 1s in a class slice.
func PositiveRate(classes []int) float64 {
	if len(classes) == 0 {
		return 0
	}
	var pos int
	for _, c := range classes {
		if c == 1 {
			pos++
		}
	}
	return float64(pos) / float64(len(classes))
}
