package estimate

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/match"
	"github.com/23skdu/lcm/internal/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type split struct {
	x    [][]float64
	y    []float64
	arms []core.Arm
	mu0  []float64
	mu1  []float64
}

// newSplit draws n units with two covariates, outcome f0(x) under control
// and f1(x) under treatment, alternating arms.
func newSplit(seed uint64, n int, f0, f1 func(x []float64) float64) *split {
	r := rand.New(rand.NewPCG(seed, 11))
	s := &split{}
	for i := 0; i < n; i++ {
		x := []float64{5 * r.NormFloat64(), 5 * r.NormFloat64()}
		arm := core.Arm(i % 2)
		s.x = append(s.x, x)
		s.arms = append(s.arms, arm)
		s.mu0 = append(s.mu0, f0(x))
		s.mu1 = append(s.mu1, f1(x))
		if arm == core.Treated {
			s.y = append(s.y, f1(x))
		} else {
			s.y = append(s.y, f0(x))
		}
	}
	return s
}

func (s *split) groups(t *testing.T, k int) *match.Groups {
	t.Helper()
	sp, err := space.Transform(s.x, space.Weights{1, 1})
	require.NoError(t, err)
	units := make([]core.UnitID, len(s.x))
	for i := range units {
		units[i] = core.UnitID(i)
	}
	g, err := (&match.Builder{K: k}).Build(context.Background(), sp, units, s.arms)
	require.NoError(t, err)
	return g
}

func TestMeanRecoversConstantEffect(t *testing.T) {
	s := newSplit(1, 80,
		func([]float64) float64 { return 5 },
		func([]float64) float64 { return 7.5 })
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 10)}

	res, err := Estimate(context.Background(), Strategy{Method: Mean}, in)
	require.NoError(t, err)
	for i, v := range res.Values {
		assert.Equal(t, 2.5, v, "unit %d", i)
	}
	assert.Zero(t, res.Pruned)
	assert.Zero(t, res.Failed())
}

func TestLinearRecoversConstantEffect(t *testing.T) {
	s := newSplit(2, 120,
		func(x []float64) float64 { return 1 + 2*x[0] - x[1] },
		func(x []float64) float64 { return 4 + 2*x[0] - x[1] })
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 15), Alphas: []float64{1e-9}}

	for _, m := range []Method{Linear, LinearPruned} {
		in.Columns = []int{0, 1}
		res, err := Estimate(context.Background(), Strategy{Method: m}, in)
		require.NoError(t, err)
		for _, v := range res.Values {
			assert.InDelta(t, 3, v, 1e-5)
		}
	}
}

func TestLinearPrunedUsesSelectedColumns(t *testing.T) {
	s := newSplit(3, 60,
		func(x []float64) float64 { return x[0] },
		func(x []float64) float64 { return 2 * x[0] })
	g := s.groups(t, 12)
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: g, Columns: []int{0}, Alphas: []float64{1e-9}}

	res, err := Estimate(context.Background(), Strategy{Method: LinearPruned}, in)
	require.NoError(t, err)
	for i, v := range res.Values {
		assert.InDelta(t, s.x[i][0], v, 1e-5)
	}

	// No columns degrades to a difference of block means.
	in.Columns = nil
	pruned, err := Estimate(context.Background(), Strategy{Method: LinearPruned}, in)
	require.NoError(t, err)
	mean, err := Estimate(context.Background(), Strategy{Method: Mean}, in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, mean.Values, pruned.Values, 1e-9)
}

func TestAugmentedWithExactGlobalModels(t *testing.T) {
	f0 := func(x []float64) float64 { return x[0] * x[1] }
	f1 := func(x []float64) float64 { return x[0]*x[1] + x[0] }
	s := newSplit(4, 80, f0, f1)
	in := &Input{
		Rows:        s.x,
		Outcomes:    s.y,
		Groups:      s.groups(t, 8),
		Columns:     []int{0, 1},
		Predictions: &Predictions{Control: s.mu0, Treated: s.mu1},
	}

	for _, m := range []Method{Mean, Linear, LinearPruned} {
		res, err := Estimate(context.Background(), Strategy{Method: m, Augmented: true}, in)
		require.NoError(t, err)
		for i, v := range res.Values {
			assert.InDelta(t, s.mu1[i]-s.mu0[i], v, 1e-9, "%s unit %d", m, i)
		}
	}
}

func TestAugmentedRequiresPredictions(t *testing.T) {
	s := newSplit(5, 20, func([]float64) float64 { return 0 }, func([]float64) float64 { return 1 })
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 3)}
	_, err := Estimate(context.Background(), Strategy{Method: Mean, Augmented: true}, in)
	require.Error(t, err)
	typ, _ := lcmerrors.TypeOf(err)
	assert.Equal(t, lcmerrors.ErrorTypeConfiguration, typ)

	in.Predictions = &Predictions{Control: make([]float64, 3), Treated: make([]float64, 20)}
	_, err = Estimate(context.Background(), Strategy{Method: Mean, Augmented: true}, in)
	assert.ErrorIs(t, err, core.ErrMatchGroupMismatch)
}

func TestDegenerateGroupsBecomeMissing(t *testing.T) {
	s := newSplit(6, 30, func(x []float64) float64 { return x[0] }, func(x []float64) float64 { return x[1] })
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 1)}

	res, err := Estimate(context.Background(), Strategy{Method: Linear}, in)
	require.NoError(t, err)
	for _, v := range res.Values {
		assert.True(t, math.IsNaN(v))
	}
	assert.Equal(t, 30, res.Failures[ReasonDegenerate])

	// A single member is enough for a mean.
	res, err = Estimate(context.Background(), Strategy{Method: Mean}, in)
	require.NoError(t, err)
	assert.Zero(t, res.Failed())
}

func TestLocalLinearChecksControlBlockFirst(t *testing.T) {
	s := newSplit(6, 30, func(x []float64) float64 { return x[0] }, func(x []float64) float64 { return x[1] })
	in := &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 1)}
	cols := in.columns(Linear)

	for range 20 {
		_, err := localLinear(in, s.y, cols, 0)
		require.ErrorIs(t, err, core.ErrDegenerateMatchGroup)
		assert.ErrorContains(t, err, core.Control.String()+" block")
	}
}

func TestPrunedUnitsBecomeMissing(t *testing.T) {
	s := newSplit(7, 100, func(x []float64) float64 { return x[0] }, func(x []float64) float64 { return x[0] + 1 })
	g := s.groups(t, 5)
	mask, err := g.Prune(0)
	require.NoError(t, err)
	require.Positive(t, mask.Count())

	in := &Input{Rows: s.x, Outcomes: s.y, Groups: g, Mask: mask}
	res, err := Estimate(context.Background(), Strategy{Method: Mean}, in)
	require.NoError(t, err)
	assert.Equal(t, mask.Count(), res.Pruned)
	for i, v := range res.Values {
		assert.Equal(t, mask.Pruned(i), math.IsNaN(v))
	}
}

func TestEstimateRejectsMisalignedInput(t *testing.T) {
	s := newSplit(8, 20, func([]float64) float64 { return 0 }, func([]float64) float64 { return 0 })
	in := &Input{Rows: s.x[:10], Outcomes: s.y, Groups: s.groups(t, 2)}
	_, err := Estimate(context.Background(), Strategy{Method: Mean}, in)
	assert.ErrorIs(t, err, core.ErrMatchGroupMismatch)

	_, err = Estimate(context.Background(), Strategy{Method: Mean}, &Input{})
	assert.Error(t, err)
}

func TestEstimateHonoursCancellation(t *testing.T) {
	s := newSplit(9, 20, func([]float64) float64 { return 0 }, func([]float64) float64 { return 0 })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Estimate(ctx, Strategy{Method: Mean}, &Input{Rows: s.x, Outcomes: s.y, Groups: s.groups(t, 2)})
	assert.ErrorIs(t, err, context.Canceled)
}
