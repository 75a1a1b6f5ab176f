// Package stats implements the statistical primitives behind drift detection
// and model evaluation:
//
//   - descriptive statistics (mean, std, quantiles)
//   - Kolmogorov-Smirnov two-sample test with asymptotic p-value
//   - chi-squared homogeneity test backed by the regularized incomplete gamma
//   - Wasserstein-1 and total-variation distances
//   - binary classification metrics (F1, Brier, ROC AUC, entropy)
//
// All functions are pure and total over finite inputs. Callers are expected
// to strip NaN values before calling; see featureset.NonNull.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Std returns the sample standard deviation (n-1 denominator), or 0 when
// fewer than two values are given.
func Std(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// StdPop returns the population standard deviation (n denominator), or 0 for
// an empty slice. Used where a distribution scale is needed rather than an
// estimator, e.g. normalizing effect sizes against the reference.
func StdPop(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// Quantile returns the p-quantile (0 <= p <= 1) using linear interpolation
// between order statistics. Returns 0 for an empty slice.
func Quantile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := sortedCopy(xs)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	frac := h - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Median returns the 0.5-quantile.
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}
