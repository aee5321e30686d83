// Package engine validates a run, executes its folds on a bounded worker
// pool and aggregates the results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/23skdu/lcm/internal/aggregate"
	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/logging"
	"github.com/23skdu/lcm/internal/match"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/pipeline"
	"github.com/23skdu/lcm/internal/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Config controls one run.
type Config struct {
	Pipeline pipeline.Config
	// FoldWorkers bounds concurrent folds; <= 0 uses GOMAXPROCS.
	FoldWorkers int
	// Combined adds the across-method average and std columns.
	Combined bool
	Logger   zerolog.Logger
}

// FoldError records a fold that did not complete.
type FoldError struct {
	Repeat int
	Index  int
	Err    error
}

func (e FoldError) Error() string {
	return fmt.Sprintf("repeat %d fold %d: %v", e.Repeat, e.Index, e.Err)
}

func (e FoldError) Unwrap() error { return e.Err }

// Report is the outcome of a run.
type Report struct {
	RunID      string
	// TraceID links the run to its spans when tracing is enabled.
	TraceID    string
	Folds      []folds.Fold
	Result     *aggregate.Result
	FoldErrors []FoldError
	Started    time.Time
	Duration   time.Duration
}

// Completed returns the number of folds that produced a result.
func (r *Report) Completed() int { return len(r.Folds) - len(r.FoldErrors) }

// Run executes every fold produced by gen. Configuration errors abort before
// any fold starts. A fold that fails is recorded in Report.FoldErrors and the
// others continue, unless its weight vector has the wrong length. source may
// be nil.
func Run(ctx context.Context, cfg Config, ds *dataset.Dataset, gen folds.Generator,
	learner outcome.Learner, source outcome.PredictionSource) (*Report, error) {
	runID := uuid.NewString()
	ctx, span := tracing.Start(ctx, "engine.Run", attribute.String("lcm.run_id", runID))
	report, err := run(ctx, runID, cfg, ds, gen, learner, source)
	if report != nil {
		span.SetAttributes(
			attribute.Int("lcm.folds", len(report.Folds)),
			attribute.Int("lcm.folds_failed", len(report.FoldErrors)),
		)
	}
	tracing.End(span, err)
	return report, err
}

func run(ctx context.Context, runID string, cfg Config, ds *dataset.Dataset, gen folds.Generator,
	learner outcome.Learner, source outcome.PredictionSource) (*Report, error) {
	started := time.Now()
	logger := logging.ForRun(cfg.Logger, runID)

	fs, err := validate(cfg, ds, gen, learner)
	if err != nil {
		logger.Error().Err(err).Msg("run rejected")
		return nil, err
	}
	logger.Info().
		Int("units", ds.Len()).
		Int("covariates", ds.P()).
		Int("folds", len(fs)).
		Int("k", cfg.Pipeline.K).
		Msg("starting run")

	workers := cfg.FoldWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*pipeline.Result, len(fs))
	foldErrs := make([]error, len(fs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, split := range fs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			fold := pipeline.NewFold(split, cfg.Pipeline, ds, learner, source, logger)
			res, err := fold.Run(gCtx)
			if err != nil {
				if abortsRun(err) {
					return err
				}
				metrics.FoldsTotal.WithLabelValues("failed").Inc()
				foldErrs[i] = err
				return nil
			}
			metrics.FoldsTotal.WithLabelValues("ok").Inc()
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("run aborted")
		return nil, err
	}

	report := &Report{RunID: runID, TraceID: tracing.TraceID(ctx), Folds: fs, Started: started}
	agg := aggregate.New()
	for i, res := range results {
		if foldErrs[i] != nil {
			report.FoldErrors = append(report.FoldErrors, FoldError{Repeat: fs[i].Repeat, Index: fs[i].Index, Err: foldErrs[i]})
			continue
		}
		if err := agg.Add(res); err != nil {
			return nil, err
		}
	}
	if agg.Len() == 0 {
		return nil, lcmerrors.NewValidationError("engine.Run",
			fmt.Sprintf("all %d folds failed", len(fs))).WithContext("first_error", report.FoldErrors[0].Error())
	}

	report.Result, err = agg.Build(ds, cfg.Combined)
	if err != nil {
		return nil, err
	}
	report.Duration = time.Since(started)
	logger.Info().
		Int("completed", report.Completed()).
		Int("failed", len(report.FoldErrors)).
		Int("aggregated_units", len(report.Result.Units)).
		Dur("duration", report.Duration).
		Msg("run complete")
	return report, nil
}

// abortsRun singles out the errors that invalidate every fold: a weight
// vector of the wrong length or cancellation.
func abortsRun(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var wve *core.WeightVectorError
	return errors.As(err, &wve) && wve.Got != wve.Want
}

func validate(cfg Config, ds *dataset.Dataset, gen folds.Generator, learner outcome.Learner) ([]folds.Fold, error) {
	op := "engine.validate"
	pc := cfg.Pipeline
	if ds == nil || ds.Len() == 0 {
		return nil, lcmerrors.NewDataContractError(op, "empty dataset")
	}
	if len(pc.Strategies) == 0 {
		return nil, lcmerrors.NewConfigurationError(op, "no estimation strategy")
	}
	if err := match.ValidateMultiplier(pc.PruneMultiplier); err != nil {
		return nil, err
	}
	if learner == nil {
		return nil, lcmerrors.NewConfigurationError(op, "no outcome learner")
	}
	if sw, ok := learner.(outcome.StaticWeighter); ok {
		if err := sw.StaticWeights().Validate(ds.P()); err != nil {
			return nil, err
		}
	}

	fs, err := gen.Folds(ds)
	if err != nil {
		return nil, err
	}
	if len(fs) == 0 {
		return nil, lcmerrors.NewConfigurationError(op, "fold generator produced no folds")
	}
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		arms := make([]core.Arm, 0, len(f.Estimation))
		for _, id := range f.Estimation {
			pos, ok := ds.Position(id)
			if !ok {
				return nil, lcmerrors.NewConfigurationError(op, fmt.Sprintf("%s: unknown unit %d", f, id))
			}
			arms = append(arms, ds.Arm(pos))
		}
		for _, id := range f.Training {
			if _, ok := ds.Position(id); !ok {
				return nil, lcmerrors.NewConfigurationError(op, fmt.Sprintf("%s: unknown unit %d", f, id))
			}
		}
		if err := match.CheckArmSizes(pc.K, arms); err != nil {
			return nil, err
		}
	}
	return fs, nil
}
