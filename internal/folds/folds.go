// Package folds produces the training/estimation splits consumed by the
// engine.
package folds

import (
	"fmt"
	"math/rand/v2"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Fold is one training/estimation split.
type Fold struct {
	Repeat     int
	Index      int
	Estimation []core.UnitID
	Training   []core.UnitID
}

func (f Fold) String() string { return fmt.Sprintf("repeat %d fold %d", f.Repeat, f.Index) }

// Validate checks that the estimation set is non-empty and disjoint from the
// training set. The union need not cover the dataset.
func (f Fold) Validate() error {
	op := "folds.Validate"
	if len(f.Estimation) == 0 {
		return lcmerrors.NewConfigurationError(op, fmt.Sprintf("%s has an empty estimation set", f))
	}
	est, err := bitmap(f.Estimation)
	if err != nil {
		return lcmerrors.WrapConfigurationError(err, op, fmt.Sprintf("%s estimation set", f))
	}
	train, err := bitmap(f.Training)
	if err != nil {
		return lcmerrors.WrapConfigurationError(err, op, fmt.Sprintf("%s training set", f))
	}
	if est.Intersects(train) {
		overlap := roaring64.And(est, train)
		return lcmerrors.NewConfigurationError(op,
			fmt.Sprintf("%s: %d units are in both training and estimation sets", f, overlap.GetCardinality()))
	}
	return nil
}

func bitmap(ids []core.UnitID) (*roaring64.Bitmap, error) {
	b := roaring64.New()
	for _, id := range ids {
		if b.Contains(uint64(id)) {
			return nil, fmt.Errorf("%w: duplicate unit %d", core.ErrInvalidArgument, id)
		}
		b.Add(uint64(id))
	}
	return b, nil
}

// Generator yields the folds of a run.
type Generator interface {
	Folds(ds *dataset.Dataset) ([]Fold, error)
}

// Static replays caller supplied folds.
type Static []Fold

// Folds returns the stored folds.
func (s Static) Folds(*dataset.Dataset) ([]Fold, error) {
	if len(s) == 0 {
		return nil, lcmerrors.NewConfigurationError("folds.Static", "no folds")
	}
	return append([]Fold(nil), s...), nil
}

// RepeatedStratified shuffles each arm with a seeded generator and deals its
// units round-robin over Splits parts, once per repeat. Each part in turn is
// the training set; the remaining units are the estimation set.
type RepeatedStratified struct {
	Splits  int
	Repeats int
	Seed    uint64
}

// Folds generates Splits*Repeats folds. The same seed always yields the same
// folds.
func (g RepeatedStratified) Folds(ds *dataset.Dataset) ([]Fold, error) {
	op := "folds.RepeatedStratified"
	if g.Splits < 2 {
		return nil, lcmerrors.NewConfigurationError(op, fmt.Sprintf("splits must be at least 2, got %d", g.Splits))
	}
	if g.Repeats < 1 {
		return nil, lcmerrors.NewConfigurationError(op, fmt.Sprintf("repeats must be positive, got %d", g.Repeats))
	}
	if ds.Len() < g.Splits {
		return nil, lcmerrors.NewConfigurationError(op,
			fmt.Sprintf("cannot split %d units into %d parts", ds.Len(), g.Splits))
	}

	var byArm [2][]int
	for i := 0; i < ds.Len(); i++ {
		a := ds.Arm(i)
		byArm[a] = append(byArm[a], i)
	}

	out := make([]Fold, 0, g.Splits*g.Repeats)
	for r := 0; r < g.Repeats; r++ {
		rng := rand.New(rand.NewPCG(g.Seed, uint64(r)))
		part := make([]int, ds.Len())
		next := 0
		for _, arm := range core.Arms {
			pos := append([]int(nil), byArm[arm]...)
			rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
			for _, p := range pos {
				part[p] = next % g.Splits
				next++
			}
		}
		for f := 0; f < g.Splits; f++ {
			fold := Fold{Repeat: r, Index: f}
			for i := 0; i < ds.Len(); i++ {
				if part[i] == f {
					fold.Training = append(fold.Training, ds.ID(i))
				} else {
					fold.Estimation = append(fold.Estimation, ds.ID(i))
				}
			}
			out = append(out, fold)
		}
	}
	return out, nil
}
