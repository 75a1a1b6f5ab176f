package stats

import "math"

// KSResult holds the two-sample Kolmogorov-Smirnov test outcome.
type KSResult struct {
	Statistic float64 // max |F1(x) - F2(x)|
	PValue    float64 // asymptotic two-sided p-value
}

// KolmogorovSmirnov runs the two-sample KS test. The statistic is the exact
// maximum CDF distance; the p-value uses the Kolmogorov asymptotic
// distribution with the small-sample correction
// lambda = (sqrt(ne) + 0.12 + 0.11/sqrt(ne)) * D, ne = n1*n2/(n1+n2).
// Either sample empty yields {0, 1}.
func KolmogorovSmirnov(a, b []float64) KSResult {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return KSResult{Statistic: 0, PValue: 1}
	}

	as := sortedCopy(a)
	bs := sortedCopy(b)

	var d float64
	var i, j int
	for i < n1 && j < n2 {
		x := math.Min(as[i], bs[j])
		for i < n1 && as[i] <= x {
			i++
		}
		for j < n2 && bs[j] <= x {
			j++
		}
		f1 := float64(i) / float64(n1)
		f2 := float64(j) / float64(n2)
		if diff := math.Abs(f1 - f2); diff > d {
			d = diff
		}
	}

	ne := float64(n1) * float64(n2) / float64(n1+n2)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d

	return KSResult{Statistic: d, PValue: ksProbability(lambda)}
}

// ksProbability evaluates Q_KS(lambda) = 2 * sum_{j>=1} (-1)^(j-1) exp(-2 j^2 lambda^2).
func ksProbability(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	l2 := -2 * lambda * lambda
	var sum float64
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(l2*float64(j)*float64(j))
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
