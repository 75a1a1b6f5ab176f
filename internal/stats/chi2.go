package stats

import (
	"math"
	"sort"
)

// Chi2Result holds the chi-squared homogeneity test outcome.
type Chi2Result struct {
	Statistic float64
	DF        int
	PValue    float64
}

// ChiSquared runs a two-sample homogeneity test over categorical codes. The
// contingency table is built over the union of observed values; cells with
// zero expected count are skipped. Fewer than two distinct categories means
// the samples cannot differ, so the p-value is 1.
func ChiSquared(a, b []float64) Chi2Result {
	if len(a) == 0 || len(b) == 0 {
		return Chi2Result{Statistic: 0, DF: 0, PValue: 1}
	}

	countsA := make(map[float64]float64)
	countsB := make(map[float64]float64)
	for _, v := range a {
		countsA[v]++
	}
	for _, v := range b {
		countsB[v]++
	}

	categories := make([]float64, 0, len(countsA)+len(countsB))
	seen := make(map[float64]struct{})
	for v := range countsA {
		seen[v] = struct{}{}
	}
	for v := range countsB {
		seen[v] = struct{}{}
	}
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Float64s(categories)

	k := len(categories)
	if k < 2 {
		return Chi2Result{Statistic: 0, DF: 0, PValue: 1}
	}

	na := float64(len(a))
	nb := float64(len(b))
	total := na + nb

	var stat float64
	for _, cat := range categories {
		oa := countsA[cat]
		ob := countsB[cat]
		col := oa + ob
		ea := na * col / total
		eb := nb * col / total
		if ea > 0 {
			stat += (oa - ea) * (oa - ea) / ea
		}
		if eb > 0 {
			stat += (ob - eb) * (ob - eb) / eb
		}
	}

	df := k - 1
	return Chi2Result{Statistic: stat, DF: df, PValue: ChiSquaredSurvival(stat, df)}
}

// ChiSquaredSurvival returns P(X >= x) for a chi-squared variable with df
// degrees of freedom.
func ChiSquaredSurvival(x float64, df int) float64 {
	if df <= 0 || x <= 0 {
		return 1
	}
	return GammaQ(float64(df)/2, x/2)
}

// GammaQ is the regularized upper incomplete gamma function Q(a, x).
// Series expansion for x < a+1, continued fraction otherwise.
func GammaQ(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return math.NaN()
	}
	if x == 0 {
		return 1
	}
	if x < a+1 {
		return 1 - gammaPSeries(a, x)
	}
	return gammaQContinuedFraction(a, x)
}

const (
	gammaMaxIter = 500
	gammaEps     = 3e-14
	gammaFPMin   = 1e-300
)

// gammaPSeries evaluates P(a, x) by its series representation.
func gammaPSeries(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	ap := a
	sum := 1 / a
	del := sum
	for i := 0; i < gammaMaxIter; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*gammaEps {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

// gammaQContinuedFraction evaluates Q(a, x) by modified Lentz continued
// fraction.
func gammaQContinuedFraction(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	b := x + 1 - a
	c := 1 / gammaFPMin
	d := 1 / b
	h := d
	for i := 1; i <= gammaMaxIter; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < gammaFPMin {
			d = gammaFPMin
		}
		c = b + an/c
		if math.Abs(c) < gammaFPMin {
			c = gammaFPMin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < gammaEps {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lg) * h
}
