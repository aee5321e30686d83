// Package pipeline runs one fold: fit outcome models on the training split,
// build match groups on the estimation split, then estimate every unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/logging"
	"github.com/23skdu/lcm/internal/match"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/23skdu/lcm/internal/neighbors"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/space"
	"github.com/23skdu/lcm/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrAlreadyRun is returned by a second call to Fold.Run.
var ErrAlreadyRun = errors.New("fold pipeline already run")

// State is the position of a fold in its pipeline.
type State uint8

const (
	Pending State = iota
	Fitting
	Matching
	Estimating
	Complete
	Failed
)

var stateNames = [...]string{"pending", "fitting", "matching", "estimating", "complete", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Config holds the per-fold engine parameters.
type Config struct {
	K            int
	Matching     core.MatchingSpace
	Metric       core.DistanceMetric
	Index        core.IndexKind
	QueryWorkers int
	Neighbors    neighbors.Options
	// PruneMultiplier is c in the diameter rule; +Inf disables pruning.
	PruneMultiplier float64
	Strategies      []estimate.Strategy
	Alphas          []float64
}

// Result is everything a completed fold hands to the aggregator.
type Result struct {
	Repeat int
	Index  int
	Units  []core.UnitID
	// Labels lists the strategy labels in request order.
	Labels   []string
	Series   map[string][]float64
	Groups   *match.Groups
	Mask     *match.PruneMask
	Weights  space.Weights
	Pruned   int
	Failures map[string]int
	Duration time.Duration
}

// Fold is the state machine for one split. It is not reusable.
type Fold struct {
	split   folds.Fold
	cfg     Config
	data    *dataset.Dataset
	learner outcome.Learner
	source  outcome.PredictionSource
	logger  zerolog.Logger

	mu    sync.Mutex
	state State

	fitted *outcome.Fitted
	est    *dataset.Dataset
	groups *match.Groups
	mask   *match.PruneMask
}

// NewFold prepares a fold. source may be nil, in which case augmented
// strategies use the fold's own outcome models.
func NewFold(split folds.Fold, cfg Config, data *dataset.Dataset, learner outcome.Learner,
	source outcome.PredictionSource, logger zerolog.Logger) *Fold {
	return &Fold{
		split:   split,
		cfg:     cfg,
		data:    data,
		learner: learner,
		source:  source,
		logger:  logging.ForFold(logger, split.Repeat, split.Index),
	}
}

// State returns the current pipeline state.
func (f *Fold) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fold) advance(from, to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		if from == Pending {
			return lcmerrors.Wrap(ErrAlreadyRun, lcmerrors.ErrorTypeValidation, "pipeline.Fold",
				fmt.Sprintf("%s is %s", f.split, f.state))
		}
		return lcmerrors.NewValidationError("pipeline.Fold",
			fmt.Sprintf("%s: cannot move from %s to %s", f.split, f.state, to))
	}
	f.state = to
	return nil
}

func (f *Fold) fail() {
	f.mu.Lock()
	f.state = Failed
	f.mu.Unlock()
}

// Run executes Fitting, Matching and Estimating in order.
func (f *Fold) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracing.Start(ctx, "fold.Run",
		attribute.Int("lcm.repeat", f.split.Repeat),
		attribute.Int("lcm.fold", f.split.Index))
	res, err := f.run(ctx)
	if res != nil {
		span.SetAttributes(
			attribute.Int("lcm.units", len(res.Units)),
			attribute.Int("lcm.pruned", res.Pruned))
	}
	tracing.End(span, err)
	return res, err
}

func (f *Fold) run(ctx context.Context) (*Result, error) {
	if err := f.advance(Pending, Fitting); err != nil {
		return nil, err
	}
	start := time.Now()

	stages := []struct {
		state State
		run   func(context.Context) error
	}{
		{Fitting, f.fit},
		{Matching, f.match},
	}
	for i, st := range stages {
		t := time.Now()
		stageCtx, span := tracing.Start(ctx, "fold."+st.state.String())
		err := st.run(stageCtx)
		tracing.End(span, err)
		if err != nil {
			f.fail()
			f.logger.Warn().Err(err).Str("stage", st.state.String()).Msg("fold failed")
			return nil, err
		}
		metrics.FoldStageDurationSeconds.WithLabelValues(st.state.String()).Observe(time.Since(t).Seconds())
		next := Estimating
		if i+1 < len(stages) {
			next = stages[i+1].state
		}
		if err := f.advance(st.state, next); err != nil {
			return nil, err
		}
	}

	t := time.Now()
	stageCtx, span := tracing.Start(ctx, "fold."+Estimating.String())
	res, err := f.estimate(stageCtx)
	tracing.End(span, err)
	if err != nil {
		f.fail()
		f.logger.Warn().Err(err).Str("stage", Estimating.String()).Msg("fold failed")
		return nil, err
	}
	metrics.FoldStageDurationSeconds.WithLabelValues(Estimating.String()).Observe(time.Since(t).Seconds())
	if err := f.advance(Estimating, Complete); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	metrics.FoldDurationSeconds.Observe(res.Duration.Seconds())
	f.logger.Info().
		Int("units", len(res.Units)).
		Int("pruned", res.Pruned).
		Dur("duration", res.Duration).
		Msg("fold complete")
	return res, nil
}

// fit sees only the training split.
func (f *Fold) fit(ctx context.Context) error {
	train, err := f.data.Subset(f.split.Training)
	if err != nil {
		return err
	}
	fitted, err := f.learner.Fit(ctx, train)
	if err != nil {
		return err
	}
	if err := fitted.Weights.Validate(f.data.P()); err != nil {
		return err
	}
	f.fitted = fitted
	f.logger.Debug().Int("train", train.Len()).Floats64("weights", fitted.Weights).Msg("fitted outcome models")
	return nil
}

func (f *Fold) match(ctx context.Context) error {
	est, err := f.data.Subset(f.split.Estimation)
	if err != nil {
		return err
	}
	sp, err := f.matchingSpace(est)
	if err != nil {
		return err
	}
	b := &match.Builder{
		K:       f.cfg.K,
		Metric:  f.cfg.Metric,
		Index:   f.cfg.Index,
		Workers: f.cfg.QueryWorkers,
		Options: f.cfg.Neighbors,
		Logger:  f.logger,
	}
	groups, err := b.Build(ctx, sp, est.IDs(), est.Arms())
	if err != nil {
		return err
	}
	mask := match.NoPruning()
	if !math.IsInf(f.cfg.PruneMultiplier, 1) {
		if mask, err = groups.Prune(f.cfg.PruneMultiplier); err != nil {
			return err
		}
	}
	f.est, f.groups, f.mask = est, groups, mask
	return nil
}

// matchingSpace places the estimation units either in the weighted covariate
// space or at their predicted outcomes under the fold's fitted models.
func (f *Fold) matchingSpace(est *dataset.Dataset) (*space.Space, error) {
	switch f.cfg.Matching {
	case core.MatchPrognostic, core.MatchDoublePrognostic:
		p := f.fitted.Predict(est.Rows())
		if f.cfg.Matching == core.MatchPrognostic {
			return space.Prognostic(p.Control, nil)
		}
		return space.Prognostic(p.Control, p.Treated)
	default:
		return space.Transform(est.Rows(), f.fitted.Weights)
	}
}

func (f *Fold) estimate(ctx context.Context) (*Result, error) {
	var preds *estimate.Predictions
	if estimate.AnyAugmented(f.cfg.Strategies) {
		if f.source != nil {
			p, err := outcome.Collect(ctx, f.source, f.split, f.est)
			if err != nil {
				return nil, err
			}
			preds = p
		} else {
			preds = f.fitted.Predict(f.est.Rows())
		}
	}
	_, cols := space.PruneCovariates(f.est.Covariates(), f.fitted.Weights)

	in := &estimate.Input{
		Rows:        f.est.Rows(),
		Outcomes:    f.est.Outcomes(),
		Groups:      f.groups,
		Mask:        f.mask,
		Columns:     cols,
		Predictions: preds,
		Alphas:      f.cfg.Alphas,
	}
	res := &Result{
		Repeat:   f.split.Repeat,
		Index:    f.split.Index,
		Units:    f.est.IDs(),
		Series:   make(map[string][]float64, len(f.cfg.Strategies)),
		Groups:   f.groups,
		Mask:     f.mask,
		Weights:  f.fitted.Weights,
		Pruned:   f.mask.Count(),
		Failures: map[string]int{},
	}
	for _, s := range f.cfg.Strategies {
		r, err := estimate.Estimate(ctx, s, in)
		if err != nil {
			return nil, err
		}
		res.Labels = append(res.Labels, s.Label())
		res.Series[s.Label()] = r.Values
		res.Failures[s.Label()] = r.Failed()
		if r.Failed() > 0 {
			f.logger.Debug().Str("method", s.Label()).Interface("failures", r.Failures).Msg("recovered estimation failures")
		}
	}
	return res, nil
}
