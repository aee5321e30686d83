// Package match builds per-arm matched groups for the units of an
// estimation split and applies diameter pruning.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/23skdu/lcm/internal/neighbors"
	"github.com/23skdu/lcm/internal/space"
	"github.com/rs/zerolog"
)

// Builder finds, for every estimation unit, its K nearest control units and
// its K nearest treated units in a weighted space.
type Builder struct {
	K       int
	Metric  core.DistanceMetric
	Index   core.IndexKind
	Workers int
	Options neighbors.Options
	Logger  zerolog.Logger
}

// ArmGroups holds one arm's match groups, aligned with Groups.Units.
type ArmGroups struct {
	Arm core.Arm
	// IDs[i] are the neighbour identifiers of unit i, nearest first.
	IDs [][]core.UnitID
	// Rows[i] are the same neighbours as positions in the estimation set.
	Rows [][]int
	// Dist[i] are the neighbour distances, non-decreasing.
	Dist [][]float64
}

// Groups are the match groups of one estimation split.
type Groups struct {
	K     int
	Units []core.UnitID
	arms  [2]*ArmGroups
}

// CheckArmSizes fails with InsufficientArmSize when k cannot be served by
// both arms.
func CheckArmSizes(k int, arms []core.Arm) error {
	if k < 1 {
		return lcmerrors.NewConfigurationError("match.CheckArmSizes", fmt.Sprintf("k must be positive, got %d", k))
	}
	var sizes [2]int
	for _, a := range arms {
		sizes[a]++
	}
	for _, a := range core.Arms {
		if k > sizes[a] {
			return lcmerrors.WrapConfigurationError(&core.ArmSizeError{Arm: a, Size: sizes[a], K: k},
				"match.CheckArmSizes", "not enough units to fill match groups")
		}
	}
	return nil
}

// Build queries both arm indexes for every unit of sp, regardless of the
// unit's own arm. units and arms are aligned with the rows of sp.
func (b *Builder) Build(ctx context.Context, sp *space.Space, units []core.UnitID, arms []core.Arm) (*Groups, error) {
	n := sp.Len()
	if len(units) != n || len(arms) != n {
		return nil, lcmerrors.WrapDataContractError(core.ErrMatchGroupMismatch, "match.Build",
			fmt.Sprintf("space has %d rows, units %d, arms %d", n, len(units), len(arms)))
	}
	if err := CheckArmSizes(b.K, arms); err != nil {
		return nil, err
	}

	kind := b.Index
	if kind == "" {
		kind = core.IndexKDTree
	}
	start := time.Now()

	g := &Groups{K: b.K, Units: append([]core.UnitID(nil), units...)}
	for _, arm := range core.Arms {
		var (
			rows []int
			pts  [][]float64
			ids  []core.UnitID
		)
		for i, a := range arms {
			if a == arm {
				rows = append(rows, i)
				pts = append(pts, sp.Point(i))
				ids = append(ids, units[i])
			}
		}

		idx, err := neighbors.New(kind, b.Metric, pts, ids, b.Options)
		if err != nil {
			return nil, err
		}
		hits, err := neighbors.QueryAll(ctx, idx, sp.Points(), b.K, b.Workers)
		if err != nil {
			return nil, err
		}

		ag := &ArmGroups{
			Arm:  arm,
			IDs:  make([][]core.UnitID, n),
			Rows: make([][]int, n),
			Dist: make([][]float64, n),
		}
		for i, ns := range hits {
			if len(ns) != b.K {
				return nil, lcmerrors.WrapDataContractError(core.ErrMatchGroupMismatch, "match.Build",
					fmt.Sprintf("unit %d got %d %s neighbours, want %d", units[i], len(ns), arm, b.K))
			}
			ag.IDs[i] = make([]core.UnitID, b.K)
			ag.Rows[i] = make([]int, b.K)
			ag.Dist[i] = make([]float64, b.K)
			for j, nb := range ns {
				ag.IDs[i][j] = nb.ID
				ag.Rows[i][j] = rows[nb.Row]
				ag.Dist[i][j] = nb.Dist
			}
		}
		g.arms[arm] = ag
	}

	metrics.MatchGroupBuildSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	b.Logger.Debug().
		Int("units", n).
		Int("k", b.K).
		Str("index", string(kind)).
		Dur("duration", time.Since(start)).
		Msg("built match groups")
	return g, nil
}

// Len returns the number of estimation units.
func (g *Groups) Len() int { return len(g.Units) }

// Arm returns the match groups of one arm.
func (g *Groups) Arm(a core.Arm) *ArmGroups { return g.arms[a] }

// Diameters returns, per unit, the distance to its K-th neighbour in arm a.
func (g *Groups) Diameters(a core.Arm) []float64 {
	ag := g.arms[a]
	out := make([]float64, len(ag.Dist))
	for i, d := range ag.Dist {
		out[i] = d[len(d)-1]
	}
	return out
}
