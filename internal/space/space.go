// Package space turns covariates and a learned weight vector into the metric
// space used for matching, and selects the covariates that carry weight.
package space

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
)

// Weights holds one importance value per covariate.
type Weights []float64

// Validate checks the vector against the covariate count.
func (w Weights) Validate(p int) error {
	if len(w) != p {
		return lcmerrors.WrapConfigurationError(&core.WeightVectorError{Want: p, Got: len(w)},
			"space.Validate", "weight vector length does not match covariate count")
	}
	positive := 0
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return lcmerrors.WrapConfigurationError(
				&core.WeightVectorError{Want: p, Got: len(w), Reason: fmt.Sprintf("entry %d is not finite", i)},
				"space.Validate", "non-finite weight")
		}
		if v > 0 {
			positive++
		}
	}
	if positive == 0 {
		return lcmerrors.WrapConfigurationError(
			&core.WeightVectorError{Want: p, Got: len(w), Reason: "no positive entries"},
			"space.Validate", "degenerate distance space")
	}
	return nil
}

// Space is the weighted, reduced covariate space of a set of units.
type Space struct {
	columns []int
	scale   []float64
	rows    [][]float64
}

// Transform scales every column by its weight and drops the columns whose
// weight is not positive.
func Transform(rows [][]float64, w Weights) (*Space, error) {
	p := len(w)
	if len(rows) > 0 {
		p = len(rows[0])
	}
	if err := w.Validate(p); err != nil {
		return nil, err
	}

	cols, scale := positive(w)
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(w) {
			return nil, lcmerrors.NewDataContractError("space.Transform",
				fmt.Sprintf("row %d has %d covariates, want %d", i, len(row), len(w)))
		}
		r := make([]float64, len(cols))
		for j, c := range cols {
			r[j] = scale[j] * row[c]
		}
		out[i] = r
	}
	return &Space{columns: cols, scale: scale, rows: out}, nil
}

// Prognostic builds a space over predicted outcomes: the control prediction
// alone, or the control and treated predictions when treated is non-nil.
// Column indices of a prognostic space refer to the prediction vectors, not
// to covariates.
func Prognostic(control, treated []float64) (*Space, error) {
	op := "space.Prognostic"
	if treated != nil && len(treated) != len(control) {
		return nil, lcmerrors.NewValidationError(op,
			fmt.Sprintf("%d control predictions but %d treated", len(control), len(treated)))
	}
	cols, scale := []int{0}, []float64{1}
	if treated != nil {
		cols, scale = []int{0, 1}, []float64{1, 1}
	}
	out := make([][]float64, len(control))
	for i, c := range control {
		r := []float64{c}
		if treated != nil {
			r = append(r, treated[i])
		}
		for _, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, lcmerrors.NewDataContractError(op, fmt.Sprintf("prediction for row %d is not finite", i))
			}
		}
		out[i] = r
	}
	return &Space{columns: cols, scale: scale, rows: out}, nil
}

// Dims returns the number of retained columns.
func (s *Space) Dims() int { return len(s.columns) }

// Len returns the number of units.
func (s *Space) Len() int { return len(s.rows) }

// Columns returns the retained original column indices.
func (s *Space) Columns() []int { return append([]int(nil), s.columns...) }

// Point returns the transformed coordinates of unit i.
func (s *Space) Point(i int) []float64 { return s.rows[i] }

// Points returns all transformed rows.
func (s *Space) Points() [][]float64 { return s.rows }

// Project maps one raw covariate row into the space.
func (s *Space) Project(row []float64) []float64 {
	out := make([]float64, len(s.columns))
	for j, c := range s.columns {
		out[j] = s.scale[j] * row[c]
	}
	return out
}

func positive(w Weights) ([]int, []float64) {
	var (
		cols  []int
		scale []float64
	)
	for i, v := range w {
		if v > 0 {
			cols = append(cols, i)
			scale = append(scale, v)
		}
	}
	return cols, scale
}
