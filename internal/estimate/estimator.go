package estimate

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/match"
	"github.com/23skdu/lcm/internal/metrics"
)

// Failure reasons recorded per unit.
const (
	ReasonDegenerate = "degenerate_match_group"
	ReasonSingular   = "singular_fit"
)

// Predictions are global per-arm outcome predictions aligned to the
// estimation units.
type Predictions struct {
	Control []float64
	Treated []float64
}

// Of returns the prediction for arm a at position i.
func (p *Predictions) Of(a core.Arm, i int) float64 {
	if a == core.Treated {
		return p.Treated[i]
	}
	return p.Control[i]
}

// Input is everything a strategy needs for one estimation split. Rows,
// Outcomes and Predictions are aligned with Groups.Units.
type Input struct {
	Rows     [][]float64
	Outcomes []float64
	Groups   *match.Groups
	// Mask marks pruned units; nil disables pruning.
	Mask *match.PruneMask
	// Columns are the covariates kept by LinearPruned.
	Columns     []int
	Predictions *Predictions
	Alphas      []float64
}

// Result is one strategy's per-unit series for a split.
type Result struct {
	Strategy Strategy
	Values   []float64
	Pruned   int
	Failures map[string]int
}

// Failed returns the number of recovered per-unit failures.
func (r *Result) Failed() int {
	n := 0
	for _, c := range r.Failures {
		n += c
	}
	return n
}

// Estimate runs strategy s for every unit of in. Per-unit failures become
// missing values; only malformed input is returned as an error.
func Estimate(ctx context.Context, s Strategy, in *Input) (*Result, error) {
	if err := in.validate(s); err != nil {
		return nil, err
	}

	label := s.Label()
	n := in.Groups.Len()
	res := &Result{Strategy: s, Values: make([]float64, n), Failures: map[string]int{}}
	adjusted := in.adjustedOutcomes(s)
	cols := in.columns(s.Method)

	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if in.Mask != nil && in.Mask.Pruned(i) {
			res.Values[i] = core.Missing()
			res.Pruned++
			continue
		}

		var (
			v   float64
			err error
		)
		if s.Method == Mean {
			v = meanDifference(in.Groups, adjusted, i)
		} else {
			v, err = localLinear(in, adjusted, cols, i)
		}
		if err != nil {
			reason := ReasonSingular
			if errors.Is(err, core.ErrDegenerateMatchGroup) {
				reason = ReasonDegenerate
			}
			res.Failures[reason]++
			metrics.EstimationFailuresTotal.WithLabelValues(label, reason).Inc()
			res.Values[i] = core.Missing()
			continue
		}
		if s.Augmented {
			v += in.Predictions.Treated[i] - in.Predictions.Control[i]
		}
		res.Values[i] = v
	}

	metrics.UnitsEstimatedTotal.WithLabelValues(label).Add(float64(n - res.Pruned - res.Failed()))
	return res, nil
}

func (in *Input) validate(s Strategy) error {
	if in.Groups == nil {
		return lcmerrors.NewDataContractError("estimate.Estimate", "no match groups")
	}
	n := in.Groups.Len()
	if len(in.Rows) != n || len(in.Outcomes) != n {
		return lcmerrors.WrapDataContractError(core.ErrMatchGroupMismatch, "estimate.Estimate",
			fmt.Sprintf("%d match groups for %d rows and %d outcomes", n, len(in.Rows), len(in.Outcomes)))
	}
	if s.Augmented {
		if in.Predictions == nil {
			return lcmerrors.NewConfigurationError("estimate.Estimate",
				fmt.Sprintf("strategy %s needs global predictions", s.Label()))
		}
		if len(in.Predictions.Control) != n || len(in.Predictions.Treated) != n {
			return lcmerrors.WrapDataContractError(core.ErrMatchGroupMismatch, "estimate.Estimate",
				fmt.Sprintf("predictions cover %d/%d units, want %d",
					len(in.Predictions.Control), len(in.Predictions.Treated), n))
		}
	}
	return nil
}

// adjustedOutcomes replaces each outcome with its residual against the
// global model of the unit's own arm when s is augmented.
func (in *Input) adjustedOutcomes(s Strategy) []float64 {
	if !s.Augmented {
		return in.Outcomes
	}
	out := make([]float64, len(in.Outcomes))
	for _, arm := range core.Arms {
		ag := in.Groups.Arm(arm)
		for _, rows := range ag.Rows {
			for _, r := range rows {
				out[r] = in.Outcomes[r] - in.Predictions.Of(arm, r)
			}
		}
	}
	return out
}

func (in *Input) columns(m Method) []int {
	if m == LinearPruned {
		return in.Columns
	}
	if len(in.Rows) == 0 {
		return nil
	}
	all := make([]int, len(in.Rows[0]))
	for j := range all {
		all[j] = j
	}
	return all
}

func meanDifference(g *match.Groups, y []float64, i int) float64 {
	return groupMean(g.Arm(core.Treated).Rows[i], y) - groupMean(g.Arm(core.Control).Rows[i], y)
}

func groupMean(rows []int, y []float64) float64 {
	var sum float64
	for _, r := range rows {
		sum += y[r]
	}
	return sum / float64(len(rows))
}

// localLinear stacks the unit (row 0), its control members and its treated
// members, splits the stack after the control block and fits one ridge
// model per block. The unit itself is only a prediction point.
func localLinear(in *Input, y []float64, cols []int, i int) (float64, error) {
	control := in.Groups.Arm(core.Control).Rows[i]
	treated := in.Groups.Arm(core.Treated).Rows[i]

	stack := make([]int, 0, 1+len(control)+len(treated))
	stack = append(stack, i)
	stack = append(stack, control...)
	stack = append(stack, treated...)
	split := 1 + len(control)

	at := project(in.Rows[i], cols)
	blocks := [2][]int{core.Control: stack[1:split], core.Treated: stack[split:]}
	var pred [2]float64
	for _, arm := range core.Arms {
		block := blocks[arm]
		if len(block) < 2 {
			return 0, fmt.Errorf("%w: %s block has %d rows", core.ErrDegenerateMatchGroup, arm, len(block))
		}
		x := make([][]float64, len(block))
		t := make([]float64, len(block))
		for j, r := range block {
			x[j] = project(in.Rows[r], cols)
			t[j] = y[r]
		}
		model, err := FitRidge(x, t, in.Alphas)
		if err != nil {
			return 0, err
		}
		pred[arm] = model.Predict(at)
	}
	return pred[core.Treated] - pred[core.Control], nil
}

func project(row []float64, cols []int) []float64 {
	out := make([]float64, len(cols))
	for j, c := range cols {
		out[j] = row[c]
	}
	return out
}
