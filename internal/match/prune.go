package match

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/stat"
)

// DefaultPruneMultiplier is the c in mean + c*std.
const DefaultPruneMultiplier = 3.0

// PruneMask marks, per arm, the estimation positions whose match group is
// wider than the arm's threshold.
type PruneMask struct {
	Multiplier float64
	Threshold  [2]float64
	pruned     [2]*roaring.Bitmap
}

// Prune computes one threshold per arm, mean(diameter) + c*std(diameter)
// over the whole estimation set, and only then marks units above it.
// c = +Inf disables pruning.
func (g *Groups) Prune(c float64) (*PruneMask, error) {
	if err := ValidateMultiplier(c); err != nil {
		return nil, err
	}
	m := &PruneMask{Multiplier: c}
	for _, arm := range core.Arms {
		m.pruned[arm] = roaring.New()
		if math.IsInf(c, 1) {
			m.Threshold[arm] = math.Inf(1)
			continue
		}

		diam := g.Diameters(arm)
		mean, std := stat.PopMeanStdDev(diam, nil)
		m.Threshold[arm] = mean + c*std
		for i, d := range diam {
			if d > m.Threshold[arm] {
				m.pruned[arm].Add(uint32(i))
			}
		}
		metrics.PrunedUnitsTotal.WithLabelValues(arm.String()).Add(float64(m.pruned[arm].GetCardinality()))
	}
	return m, nil
}

// ValidateMultiplier rejects negative and NaN multipliers.
func ValidateMultiplier(c float64) error {
	if math.IsNaN(c) || c < 0 {
		return lcmerrors.NewConfigurationError("match.Prune", fmt.Sprintf("prune multiplier must be >= 0, got %v", c))
	}
	return nil
}

// NoPruning returns a mask that rejects nothing.
func NoPruning() *PruneMask {
	return &PruneMask{
		Multiplier: math.Inf(1),
		Threshold:  [2]float64{math.Inf(1), math.Inf(1)},
		pruned:     [2]*roaring.Bitmap{roaring.New(), roaring.New()},
	}
}

// ArmPruned reports whether position i was rejected for arm a.
func (m *PruneMask) ArmPruned(a core.Arm, i int) bool {
	return m.pruned[a].Contains(uint32(i))
}

// Pruned reports whether position i was rejected for either arm; its effect
// estimate is then missing.
func (m *PruneMask) Pruned(i int) bool {
	return m.ArmPruned(core.Control, i) || m.ArmPruned(core.Treated, i)
}

// Count returns the number of positions rejected for either arm.
func (m *PruneMask) Count() int {
	return int(roaring.Or(m.pruned[core.Control], m.pruned[core.Treated]).GetCardinality())
}
