package space

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PruneCovariates returns, in order, the covariates with strictly positive
// weight and their column indices. Used to restrict local design matrices.
func PruneCovariates(names []string, w Weights) ([]string, []int) {
	var (
		kept []string
		idx  []int
	)
	for i, v := range w {
		if i >= len(names) {
			break
		}
		if v > 0 {
			kept = append(kept, names[i])
			idx = append(idx, i)
		}
	}
	return kept, idx
}

// ThresholdWeights returns |w| with every entry below frac*max|w| set to
// zero. frac <= 0 keeps every non-zero entry.
func ThresholdWeights(w Weights, frac float64) Weights {
	out := make(Weights, len(w))
	cut := frac * floats.Norm(w, math.Inf(1))
	for i, v := range w {
		if math.Abs(v) < cut || v == 0 {
			continue
		}
		out[i] = math.Abs(v)
	}
	return out
}
