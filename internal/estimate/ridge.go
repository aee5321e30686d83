package estimate

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultAlphas is the penalty grid searched by FitRidge.
var DefaultAlphas = []float64{0.1, 1, 10}

// Ridge is an L2-penalised linear model with an unpenalised intercept.
type Ridge struct {
	Coef      []float64
	Intercept float64
	// Alpha is the penalty selected by leave-one-out error.
	Alpha float64
}

// FitRidge fits y on the rows of x, choosing the penalty among alphas by
// exact leave-one-out squared error. When no penalty yields a usable score
// the largest one is used.
func FitRidge(x [][]float64, y []float64, alphas []float64) (*Ridge, error) {
	n := len(y)
	if len(x) != n {
		return nil, fmt.Errorf("%w: %d rows, %d targets", core.ErrInvalidArgument, len(x), n)
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: %d rows", core.ErrDegenerateMatchGroup, n)
	}
	if len(alphas) == 0 {
		alphas = DefaultAlphas
	}
	for _, a := range alphas {
		if !(a > 0) || math.IsInf(a, 1) {
			return nil, fmt.Errorf("%w: ridge penalty %v", core.ErrInvalidArgument, a)
		}
	}

	p := len(x[0])
	yMean := stat.Mean(y, nil)
	yc := make([]float64, n)
	for i, v := range y {
		yc[i] = v - yMean
	}
	if p == 0 {
		return &Ridge{Coef: []float64{}, Intercept: yMean, Alpha: alphas[len(alphas)-1]}, nil
	}

	xMean := make([]float64, p)
	for _, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("%w: ragged design matrix", core.ErrInvalidArgument)
		}
		floats.Add(xMean, row)
	}
	floats.Scale(1/float64(n), xMean)

	xc := mat.NewDense(n, p, nil)
	for i, row := range x {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(xc, mat.SVDThin) {
		return nil, fmt.Errorf("%w: svd did not converge", core.ErrSingularFit)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	uty := make([]float64, len(s))
	for j := range s {
		for i := 0; i < n; i++ {
			uty[j] += u.At(i, j) * yc[i]
		}
	}

	best, bestErr := len(alphas)-1, math.Inf(1)
	for ai, alpha := range alphas {
		if e, ok := looError(&u, s, uty, yc, alpha); ok && e < bestErr {
			best, bestErr = ai, e
		}
	}
	alpha := alphas[best]

	coef := make([]float64, p)
	for k := 0; k < p; k++ {
		for j, sj := range s {
			coef[k] += v.At(k, j) * sj / (sj*sj + alpha) * uty[j]
		}
	}
	r := &Ridge{Coef: coef, Intercept: yMean - floats.Dot(xMean, coef), Alpha: alpha}
	if !finite(r.Intercept) || !allFinite(coef) {
		return nil, fmt.Errorf("%w: non-finite coefficients", core.ErrSingularFit)
	}
	return r, nil
}

// looError is the mean squared leave-one-out residual of the centred ridge
// fit, from the diagonal of its hat matrix.
func looError(u *mat.Dense, s, uty, yc []float64, alpha float64) (float64, bool) {
	n := len(yc)
	shrink := make([]float64, len(s))
	for j, sj := range s {
		shrink[j] = sj * sj / (sj*sj + alpha)
	}
	var sum float64
	for i := 0; i < n; i++ {
		fitted, h := 0.0, 1/float64(n)
		for j := range s {
			uij := u.At(i, j)
			fitted += uij * shrink[j] * uty[j]
			h += uij * uij * shrink[j]
		}
		den := 1 - h
		if den < 1e-12 {
			return 0, false
		}
		r := (yc[i] - fitted) / den
		sum += r * r
	}
	return sum / float64(n), true
}

// Predict evaluates the model at x.
func (r *Ridge) Predict(x []float64) float64 {
	return r.Intercept + floats.Dot(r.Coef, x)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
