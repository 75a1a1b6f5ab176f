package stats

import "math"

// Wasserstein1 computes the first Wasserstein (earth mover's) distance
// between two empirical distributions, as the integral of |F1 - F2| over the
// merged support. Either sample empty yields 0.
func Wasserstein1(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	as := sortedCopy(a)
	bs := sortedCopy(b)

	all := make([]float64, 0, len(as)+len(bs))
	var i, j int
	for i < len(as) || j < len(bs) {
		switch {
		case i >= len(as):
			all = append(all, bs[j])
			j++
		case j >= len(bs):
			all = append(all, as[i])
			i++
		case as[i] <= bs[j]:
			all = append(all, as[i])
			i++
		default:
			all = append(all, bs[j])
			j++
		}
	}

	var dist float64
	var ia, ib int
	for k := 0; k < len(all)-1; k++ {
		x := all[k]
		for ia < len(as) && as[ia] <= x {
			ia++
		}
		for ib < len(bs) && bs[ib] <= x {
			ib++
		}
		fa := float64(ia) / float64(len(as))
		fb := float64(ib) / float64(len(bs))
		dist += math.Abs(fa-fb) * (all[k+1] - x)
	}
	return dist
}

// TotalVariation computes the total-variation distance between the empirical
// category frequencies of two samples: 0.5 * sum |p_c - q_c| over the union
// of observed categories. Result is in [0, 1].
func TotalVariation(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	freqA := make(map[float64]float64)
	freqB := make(map[float64]float64)
	for _, v := range a {
		freqA[v] += 1 / float64(len(a))
	}
	for _, v := range b {
		freqB[v] += 1 / float64(len(b))
	}

	seen := make(map[float64]struct{})
	for v := range freqA {
		seen[v] = struct{}{}
	}
	for v := range freqB {
		seen[v] = struct{}{}
	}

	var sum float64
	for v := range seen {
		sum += math.Abs(freqA[v] - freqB[v])
	}
	return sum / 2
}
