package match

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/space"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, seed uint64, n int) (*space.Space, []core.UnitID, []core.Arm) {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, 7))
	rows := make([][]float64, n)
	units := make([]core.UnitID, n)
	arms := make([]core.Arm, n)
	for i := range rows {
		rows[i] = []float64{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}
		units[i] = core.UnitID(i * 3)
		if i%2 == 1 {
			arms[i] = core.Treated
		}
	}
	sp, err := space.Transform(rows, space.Weights{1, 0.5, 0})
	require.NoError(t, err)
	return sp, units, arms
}

func TestBuildFillsBothArms(t *testing.T) {
	sp, units, arms := fixture(t, 1, 60)
	for _, kind := range []core.IndexKind{core.IndexKDTree, core.IndexBrute} {
		t.Run(string(kind), func(t *testing.T) {
			b := &Builder{K: 5, Index: kind}
			g, err := b.Build(context.Background(), sp, units, arms)
			require.NoError(t, err)
			require.Equal(t, 60, g.Len())

			for _, arm := range core.Arms {
				ag := g.Arm(arm)
				for i := 0; i < g.Len(); i++ {
					require.Len(t, ag.IDs[i], 5)
					seen := map[core.UnitID]bool{}
					for j, row := range ag.Rows[i] {
						assert.Equal(t, arm, arms[row], "member of wrong arm")
						assert.Equal(t, units[row], ag.IDs[i][j])
						assert.False(t, seen[ag.IDs[i][j]])
						seen[ag.IDs[i][j]] = true
						if j > 0 {
							assert.LessOrEqual(t, ag.Dist[i][j-1], ag.Dist[i][j])
						}
					}
				}
			}
		})
	}
}

func TestBuildOwnArmIncludesSelf(t *testing.T) {
	sp, units, arms := fixture(t, 2, 40)
	g, err := (&Builder{K: 3}).Build(context.Background(), sp, units, arms)
	require.NoError(t, err)
	for i := range units {
		ag := g.Arm(arms[i])
		assert.Equal(t, units[i], ag.IDs[i][0])
		assert.Zero(t, ag.Dist[i][0])
	}
}

func TestBuildInsufficientArmSize(t *testing.T) {
	sp, units, arms := fixture(t, 3, 10)
	_, err := (&Builder{K: 6}).Build(context.Background(), sp, units, arms)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientArmSize))

	var ase *core.ArmSizeError
	require.True(t, errors.As(err, &ase))
	assert.Equal(t, 5, ase.Size)
	assert.Equal(t, 6, ase.K)

	typ, ok := lcmerrors.TypeOf(err)
	require.True(t, ok)
	assert.Equal(t, lcmerrors.ErrorTypeConfiguration, typ)
}

func TestCheckArmSizesRejectsNonPositiveK(t *testing.T) {
	err := CheckArmSizes(0, []core.Arm{core.Control, core.Treated})
	require.Error(t, err)
	assert.True(t, lcmerrors.IsFatal(err))
}

func TestBuildMismatchedInputs(t *testing.T) {
	sp, units, arms := fixture(t, 4, 10)
	_, err := (&Builder{K: 2}).Build(context.Background(), sp, units[:9], arms)
	assert.ErrorIs(t, err, core.ErrMatchGroupMismatch)
}

func TestDiametersAreLastDistance(t *testing.T) {
	sp, units, arms := fixture(t, 5, 30)
	g, err := (&Builder{K: 4}).Build(context.Background(), sp, units, arms)
	require.NoError(t, err)
	d := g.Diameters(core.Treated)
	for i := range d {
		assert.Equal(t, g.Arm(core.Treated).Dist[i][3], d[i])
	}
}

func TestPruneThreshold(t *testing.T) {
	g := &Groups{K: 1, Units: make([]core.UnitID, 5)}
	g.arms[core.Control] = &ArmGroups{Arm: core.Control, Dist: [][]float64{{1}, {1}, {1}, {1}, {11}}}
	g.arms[core.Treated] = &ArmGroups{Arm: core.Treated, Dist: [][]float64{{2}, {2}, {2}, {2}, {2}}}

	m, err := g.Prune(1)
	require.NoError(t, err)
	// mean 3, population std 4
	assert.InDelta(t, 7, m.Threshold[core.Control], 1e-12)
	assert.InDelta(t, 2, m.Threshold[core.Treated], 1e-12)
	assert.True(t, m.Pruned(4))
	assert.True(t, m.ArmPruned(core.Control, 4))
	assert.False(t, m.ArmPruned(core.Treated, 4))
	assert.False(t, m.Pruned(0))
	assert.Equal(t, 1, m.Count())

	m, err = g.Prune(math.Inf(1))
	require.NoError(t, err)
	assert.Zero(t, m.Count())
}

func TestPruneRejectsBadMultiplier(t *testing.T) {
	g := &Groups{}
	for _, c := range []float64{-1, math.NaN()} {
		_, err := g.Prune(c)
		require.Error(t, err)
		typ, _ := lcmerrors.TypeOf(err)
		assert.Equal(t, lcmerrors.ErrorTypeConfiguration, typ)
	}
}

func TestNoPruning(t *testing.T) {
	m := NoPruning()
	assert.Zero(t, m.Count())
	assert.False(t, m.Pruned(0))
}

func TestPruneMonotonicProperty(t *testing.T) {
	sp, units, arms := fixture(t, 6, 80)
	g, err := (&Builder{K: 6}).Build(context.Background(), sp, units, arms)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("larger multiplier never prunes more", prop.ForAll(
		func(a, b float64) bool {
			lo, hi := math.Min(a, b), math.Max(a, b)
			mlo, err := g.Prune(lo)
			if err != nil {
				return false
			}
			mhi, err := g.Prune(hi)
			if err != nil {
				return false
			}
			for i := 0; i < g.Len(); i++ {
				if mhi.Pruned(i) && !mlo.Pruned(i) {
					return false
				}
			}
			return mhi.Count() <= mlo.Count()
		},
		gen.Float64Range(0, 5),
		gen.Float64Range(0, 5),
	))

	properties.TestingRun(t)
}

func TestTablesKeyedByUnit(t *testing.T) {
	sp, units, arms := fixture(t, 8, 20)
	g, err := (&Builder{K: 2}).Build(context.Background(), sp, units, arms)
	require.NoError(t, err)

	ids := g.IDTable(core.Control)
	dist := g.DistanceTable(core.Control)
	assert.Equal(t, units, ids.Units)
	assert.Equal(t, units, dist.Units)
	require.Len(t, ids.Rows, 20)
	assert.Equal(t, g.Arm(core.Control).IDs[7], ids.Rows[7])
	assert.Equal(t, g.Arm(core.Control).Dist[7], dist.Rows[7])
}
