package dataset

import (
	"fmt"
	"math"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
)

// Columns names the structural columns of an input table. Every other
// column is a covariate unless Covariates is set explicitly.
type Columns struct {
	Treatment  string
	Outcome    string
	ID         string
	Covariates []string
}

// DefaultColumns matches the conventional T/Y layout with an optional id column.
func DefaultColumns() Columns {
	return Columns{Treatment: "T", Outcome: "Y", ID: "id"}
}

// Dataset is an immutable, row-major view of observed units.
type Dataset struct {
	covariates []string
	x          []float64 // n*p, row major
	t          []core.Arm
	y          []float64
	ids        []core.UnitID
	pos        map[core.UnitID]int
}

// New validates and builds a dataset. ids may be nil, in which case row
// numbers become the unit identifiers.
func New(covariates []string, rows [][]float64, t, y []float64, ids []core.UnitID) (*Dataset, error) {
	n := len(rows)
	if len(t) != n || len(y) != n {
		return nil, lcmerrors.NewDataContractError("dataset.New",
			fmt.Sprintf("row count mismatch: covariates=%d treatment=%d outcome=%d", n, len(t), len(y)))
	}
	if ids != nil && len(ids) != n {
		return nil, lcmerrors.NewDataContractError("dataset.New",
			fmt.Sprintf("row count mismatch: covariates=%d ids=%d", n, len(ids)))
	}

	p := len(covariates)
	ds := &Dataset{
		covariates: append([]string(nil), covariates...),
		x:          make([]float64, 0, n*p),
		t:          make([]core.Arm, n),
		y:          append([]float64(nil), y...),
		ids:        make([]core.UnitID, n),
		pos:        make(map[core.UnitID]int, n),
	}
	for i, row := range rows {
		if len(row) != p {
			return nil, lcmerrors.NewDataContractError("dataset.New",
				fmt.Sprintf("row %d has %d covariates, want %d", i, len(row), p))
		}
		ds.x = append(ds.x, row...)

		arm, ok := core.ArmFromFloat(t[i])
		if !ok {
			return nil, lcmerrors.NewDataContractError("dataset.New",
				fmt.Sprintf("treatment value %v at row %d is not 0 or 1", t[i], i))
		}
		ds.t[i] = arm

		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, lcmerrors.NewDataContractError("dataset.New",
				fmt.Sprintf("outcome at row %d is not finite", i))
		}

		id := core.UnitID(i)
		if ids != nil {
			id = ids[i]
		}
		if _, dup := ds.pos[id]; dup {
			return nil, lcmerrors.NewDataContractError("dataset.New",
				fmt.Sprintf("duplicate unit id %d", id))
		}
		ds.ids[i] = id
		ds.pos[id] = i
	}
	return ds, nil
}

// Len returns the number of units.
func (d *Dataset) Len() int { return len(d.ids) }

// P returns the number of covariates.
func (d *Dataset) P() int { return len(d.covariates) }

// Covariates returns the covariate names in column order.
func (d *Dataset) Covariates() []string { return append([]string(nil), d.covariates...) }

// Row returns the covariates of the unit at position i. The slice aliases
// the dataset and must not be modified.
func (d *Dataset) Row(i int) []float64 {
	p := len(d.covariates)
	return d.x[i*p : (i+1)*p : (i+1)*p]
}

// Rows returns every covariate row (aliasing the dataset).
func (d *Dataset) Rows() [][]float64 {
	out := make([][]float64, d.Len())
	for i := range out {
		out[i] = d.Row(i)
	}
	return out
}

// Arm returns the treatment arm of the unit at position i.
func (d *Dataset) Arm(i int) core.Arm { return d.t[i] }

// Arms returns a copy of the treatment column.
func (d *Dataset) Arms() []core.Arm { return append([]core.Arm(nil), d.t...) }

// Outcome returns the outcome of the unit at position i.
func (d *Dataset) Outcome(i int) float64 { return d.y[i] }

// Outcomes returns a copy of the outcome column.
func (d *Dataset) Outcomes() []float64 { return append([]float64(nil), d.y...) }

// ID returns the identifier of the unit at position i.
func (d *Dataset) ID(i int) core.UnitID { return d.ids[i] }

// IDs returns a copy of the unit identifiers in row order.
func (d *Dataset) IDs() []core.UnitID { return append([]core.UnitID(nil), d.ids...) }

// Position returns the row of a unit.
func (d *Dataset) Position(id core.UnitID) (int, bool) {
	i, ok := d.pos[id]
	return i, ok
}

// ArmSize counts the units in an arm.
func (d *Dataset) ArmSize(arm core.Arm) int {
	n := 0
	for _, a := range d.t {
		if a == arm {
			n++
		}
	}
	return n
}

// Subset returns the units with the given identifiers, in the given order.
func (d *Dataset) Subset(ids []core.UnitID) (*Dataset, error) {
	p := len(d.covariates)
	sub := &Dataset{
		covariates: d.covariates,
		x:          make([]float64, 0, len(ids)*p),
		t:          make([]core.Arm, len(ids)),
		y:          make([]float64, len(ids)),
		ids:        make([]core.UnitID, len(ids)),
		pos:        make(map[core.UnitID]int, len(ids)),
	}
	for i, id := range ids {
		src, ok := d.pos[id]
		if !ok {
			return nil, lcmerrors.NewDataContractError("dataset.Subset",
				fmt.Sprintf("unit id %d not in dataset", id))
		}
		if _, dup := sub.pos[id]; dup {
			return nil, lcmerrors.NewDataContractError("dataset.Subset",
				fmt.Sprintf("unit id %d requested twice", id))
		}
		sub.x = append(sub.x, d.Row(src)...)
		sub.t[i] = d.t[src]
		sub.y[i] = d.y[src]
		sub.ids[i] = id
		sub.pos[id] = i
	}
	return sub, nil
}

// SelectColumns returns the covariate rows restricted to the given column
// indices, in order.
func (d *Dataset) SelectColumns(cols []int) [][]float64 {
	out := make([][]float64, d.Len())
	for i := range out {
		src := d.Row(i)
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = src[c]
		}
		out[i] = row
	}
	return out
}

// WithOutcome returns a copy of the dataset whose outcome column is replaced.
// Used by outer loops that re-randomise treatment and outcome.
func (d *Dataset) WithOutcome(t, y []float64) (*Dataset, error) {
	return New(d.covariates, d.Rows(), t, y, d.ids)
}
