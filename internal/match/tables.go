package match

import "github.com/23skdu/lcm/internal/core"

// IDTable is one arm's neighbour identifiers keyed by estimation unit.
type IDTable struct {
	Arm   core.Arm
	Units []core.UnitID
	Rows  [][]core.UnitID
}

// DistanceTable is one arm's neighbour distances keyed by estimation unit.
type DistanceTable struct {
	Arm   core.Arm
	Units []core.UnitID
	Rows  [][]float64
}

// IDTable returns the identifier table for arm a.
func (g *Groups) IDTable(a core.Arm) IDTable {
	return IDTable{Arm: a, Units: g.Units, Rows: g.arms[a].IDs}
}

// DistanceTable returns the distance table for arm a.
func (g *Groups) DistanceTable(a core.Arm) DistanceTable {
	return DistanceTable{Arm: a, Units: g.Units, Rows: g.arms[a].Dist}
}
