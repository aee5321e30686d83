// Package aggregate combines per-fold CATE series into per-unit means and
// standard deviations.
package aggregate

import (
	"fmt"
	"math"
	"sync"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/23skdu/lcm/internal/pipeline"
	"gonum.org/v1/gonum/stat"
)

// ErrFrozen is returned by Add after Build.
var ErrFrozen = fmt.Errorf("%w: aggregator already built", core.ErrInvalidArgument)

// Aggregator owns the ordered fold results of a run.
type Aggregator struct {
	mu      sync.Mutex
	results []*pipeline.Result
	frozen  bool
}

// New returns an empty aggregator.
func New() *Aggregator { return &Aggregator{} }

// Add appends one fold result.
func (a *Aggregator) Add(r *pipeline.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return ErrFrozen
	}
	for _, label := range r.Labels {
		if len(r.Series[label]) != len(r.Units) {
			return lcmerrors.WrapDataContractError(core.ErrMatchGroupMismatch, "aggregate.Add",
				fmt.Sprintf("repeat %d fold %d: %s has %d values for %d units",
					r.Repeat, r.Index, label, len(r.Series[label]), len(r.Units)))
		}
	}
	a.results = append(a.results, r)
	return nil
}

// Len returns the number of folds added.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Stats is one column set of the aggregated result.
type Stats struct {
	Mean  []float64
	Std   []float64
	Count []int
}

// Result is the per-unit aggregate over every fold in which a unit was
// estimated. Units follow dataset order.
type Result struct {
	Units     []core.UnitID
	Labels    []string
	ByLabel   map[string]*Stats
	Combined  *Stats
	Outcome   []float64
	Treatment []core.Arm
	Folds     []*pipeline.Result
	index     map[core.UnitID]int
}

// Build freezes the aggregator and computes the aggregate. Units missing from
// a fold leave a gap rather than a zero; NaN estimates are skipped. A unit
// with one contribution has that value as its mean and NaN as its std.
func (a *Aggregator) Build(ds *dataset.Dataset, combined bool) (*Result, error) {
	a.mu.Lock()
	a.frozen = true
	results := append([]*pipeline.Result(nil), a.results...)
	a.mu.Unlock()

	if len(results) == 0 {
		return nil, lcmerrors.NewValidationError("aggregate.Build", "no fold results")
	}

	var labels []string
	seenLabel := map[string]bool{}
	present := make([]bool, ds.Len())
	for _, r := range results {
		for _, l := range r.Labels {
			if !seenLabel[l] {
				seenLabel[l] = true
				labels = append(labels, l)
			}
		}
		for _, id := range r.Units {
			pos, ok := ds.Position(id)
			if !ok {
				return nil, lcmerrors.NewDataContractError("aggregate.Build", fmt.Sprintf("unknown unit %d", id))
			}
			present[pos] = true
		}
	}

	res := &Result{
		Labels:  labels,
		ByLabel: make(map[string]*Stats, len(labels)),
		Folds:   results,
		index:   map[core.UnitID]int{},
	}
	row := make([]int, ds.Len())
	for pos, ok := range present {
		if !ok {
			continue
		}
		row[pos] = len(res.Units)
		res.index[ds.ID(pos)] = len(res.Units)
		res.Units = append(res.Units, ds.ID(pos))
		res.Outcome = append(res.Outcome, ds.Outcome(pos))
		res.Treatment = append(res.Treatment, ds.Arm(pos))
	}

	n := len(res.Units)
	values := make(map[string][][]float64, len(labels))
	for _, l := range labels {
		values[l] = make([][]float64, n)
	}
	all := make([][]float64, n)
	for _, r := range results {
		for i, id := range r.Units {
			pos, _ := ds.Position(id)
			u := row[pos]
			for _, l := range r.Labels {
				v := r.Series[l][i]
				if core.IsMissing(v) {
					continue
				}
				values[l][u] = append(values[l][u], v)
				all[u] = append(all[u], v)
			}
		}
	}

	for _, l := range labels {
		res.ByLabel[l] = summarize(values[l])
	}
	if combined {
		res.Combined = summarize(all)
	}
	metrics.AggregatedUnits.Set(float64(n))
	return res, nil
}

func summarize(values [][]float64) *Stats {
	s := &Stats{
		Mean:  make([]float64, len(values)),
		Std:   make([]float64, len(values)),
		Count: make([]int, len(values)),
	}
	for i, v := range values {
		s.Count[i] = len(v)
		switch len(v) {
		case 0:
			s.Mean[i], s.Std[i] = core.Missing(), core.Missing()
		case 1:
			s.Mean[i], s.Std[i] = v[0], core.Missing()
		default:
			s.Mean[i], s.Std[i] = stat.MeanStdDev(v, nil)
		}
	}
	return s
}

// Lookup returns the position of id in Units.
func (r *Result) Lookup(id core.UnitID) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Effect returns the mean estimate of one unit for label, NaN when absent.
func (r *Result) Effect(label string, id core.UnitID) float64 {
	s, ok := r.ByLabel[label]
	i, found := r.Lookup(id)
	if !ok || !found {
		return math.NaN()
	}
	return s.Mean[i]
}
