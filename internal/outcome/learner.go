package outcome

import (
	"context"
	"fmt"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/space"
)

// DefaultWeightPrune drops weights below 1% of the largest one.
const DefaultWeightPrune = 0.01

// Fitted is the per-arm outcome models and matching weights of one fold.
type Fitted struct {
	Control Model
	Treated Model
	Weights space.Weights
}

// Predict evaluates both arm models on every row.
func (f *Fitted) Predict(rows [][]float64) *estimate.Predictions {
	p := &estimate.Predictions{
		Control: make([]float64, len(rows)),
		Treated: make([]float64, len(rows)),
	}
	for i, row := range rows {
		p.Control[i] = f.Control.Predict(row)
		p.Treated[i] = f.Treated.Predict(row)
	}
	return p
}

// Learner fits the outcome models of a fold from its training split only.
type Learner interface {
	Fit(ctx context.Context, train *dataset.Dataset) (*Fitted, error)
}

// StaticWeighter is implemented by learners whose weight vector is known
// before any fold runs, so it can be validated up front.
type StaticWeighter interface {
	StaticWeights() space.Weights
}

// RidgeLearner fits one ridge model per arm and matches on the mean absolute
// coefficient of the two, thresholded at Prune times the largest.
type RidgeLearner struct {
	Alphas []float64
	Prune  float64
}

// Fit implements Learner.
func (l RidgeLearner) Fit(ctx context.Context, train *dataset.Dataset) (*Fitted, error) {
	var models [2]*RidgeModel
	for _, arm := range core.Arms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			x [][]float64
			y []float64
		)
		for i := 0; i < train.Len(); i++ {
			if train.Arm(i) == arm {
				x = append(x, train.Row(i))
				y = append(y, train.Outcome(i))
			}
		}
		m, err := FitRidgeModel(x, y, l.Alphas)
		if err != nil {
			return nil, lcmerrors.WrapEstimationError(err, "outcome.RidgeLearner",
				fmt.Sprintf("fitting %s outcome model on %d units", arm, len(y)))
		}
		models[arm] = m
	}

	p := train.P()
	var sum space.Weights
	for _, m := range models {
		w, err := ExtractWeights(m, p)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make(space.Weights, p)
		}
		for j, v := range w {
			sum[j] += v / 2
		}
	}
	return &Fitted{
		Control: models[core.Control],
		Treated: models[core.Treated],
		Weights: space.ThresholdWeights(sum, l.Prune),
	}, nil
}

// FixedWeights matches on a caller supplied vector; the outcome models used
// by augmented strategies are still ridge fits on the training split.
type FixedWeights struct {
	Weights space.Weights
	Alphas  []float64
}

// Fit implements Learner.
func (f FixedWeights) Fit(ctx context.Context, train *dataset.Dataset) (*Fitted, error) {
	if err := f.Weights.Validate(train.P()); err != nil {
		return nil, err
	}
	fitted, err := RidgeLearner{Alphas: f.Alphas}.Fit(ctx, train)
	if err != nil {
		return nil, err
	}
	fitted.Weights = append(space.Weights(nil), f.Weights...)
	return fitted, nil
}

// StaticWeights implements StaticWeighter.
func (f FixedWeights) StaticWeights() space.Weights { return f.Weights }
