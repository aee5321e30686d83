package outcome

import (
	"context"
	"fmt"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/metrics"
)

// PredictionSource supplies per-arm outcome predictions for the estimation
// units of a fold, in place of the fold's own models.
type PredictionSource interface {
	Predict(ctx context.Context, fold folds.Fold, est *dataset.Dataset) (*estimate.Predictions, error)
}

// FoldKey identifies a fold within a run.
type FoldKey struct {
	Repeat int
	Index  int
}

// StaticPredictions replays precomputed predictions, keyed by fold and
// aligned to each fold's estimation units.
type StaticPredictions map[FoldKey]*estimate.Predictions

// Predict implements PredictionSource.
func (s StaticPredictions) Predict(_ context.Context, fold folds.Fold, _ *dataset.Dataset) (*estimate.Predictions, error) {
	p, ok := s[FoldKey{Repeat: fold.Repeat, Index: fold.Index}]
	if !ok {
		return nil, fmt.Errorf("no predictions for %s", fold)
	}
	return p, nil
}

// Collect calls src and tags any failure as a collaborator failure, distinct
// from per-unit estimation failures, so callers can retry the fold.
func Collect(ctx context.Context, src PredictionSource, fold folds.Fold, est *dataset.Dataset) (*estimate.Predictions, error) {
	op := "outcome.Collect"
	p, err := src.Predict(ctx, fold, est)
	if err == nil && (p == nil || len(p.Control) != est.Len() || len(p.Treated) != est.Len()) {
		got := 0
		if p != nil {
			got = min(len(p.Control), len(p.Treated))
		}
		err = fmt.Errorf("predictions cover %d units, want %d", got, est.Len())
	}
	if err != nil {
		metrics.CollaboratorFailuresTotal.Inc()
		return nil, lcmerrors.WrapCollaboratorError(fmt.Errorf("%w: %w", core.ErrCollaboratorFailure, err), op,
			fmt.Sprintf("prediction source failed for %s", fold)).
			WithContext("repeat", fold.Repeat).
			WithContext("fold", fold.Index)
	}
	return p, nil
}
