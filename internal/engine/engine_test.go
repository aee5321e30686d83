package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/datagen"
	"github.com/23skdu/lcm/internal/dataset"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/logging"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/pipeline"
	"github.com/23skdu/lcm/internal/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func config(k int, strategies ...string) Config {
	st, err := estimate.ParseStrategies(strings.Join(strategies, ","), false)
	if err != nil {
		panic(err)
	}
	return Config{
		Pipeline: pipeline.Config{
			K:               k,
			PruneMultiplier: math.Inf(1),
			Strategies:      st,
		},
		FoldWorkers: 2,
		Logger:      logging.DiscardLogger(),
	}
}

func splitHalves(ds *dataset.Dataset, est int) folds.Static {
	f := folds.Fold{}
	for i := 0; i < ds.Len(); i++ {
		if i < est {
			f.Estimation = append(f.Estimation, ds.ID(i))
		} else {
			f.Training = append(f.Training, ds.ID(i))
		}
	}
	return folds.Static{f}
}

// The r > 0.8 threshold assumes outcome noise with SD 0.1 against
// covariates with SD 2: 20 rows per arm leave about 10 informative columns
// for each local fit, and unit noise swamps a fit that small.
func TestLinearRecoversHeterogeneousEffect(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 10, Noise: 5, NoiseSD: 0.1}.Generate(200, 2024)
	require.NoError(t, err)
	fs, err := folds.RepeatedStratified{Splits: 2, Repeats: 1, Seed: 7}.Folds(s.Data)
	require.NoError(t, err)

	report, err := Run(context.Background(), config(20, "linear"), s.Data,
		folds.Static{fs[0]}, outcome.RidgeLearner{Prune: outcome.DefaultWeightPrune}, nil)
	require.NoError(t, err)
	require.Empty(t, report.FoldErrors)
	require.Len(t, report.Result.Units, len(fs[0].Estimation))

	est := report.Result.ByLabel["linear"].Mean
	truth := make([]float64, len(est))
	for i, id := range report.Result.Units {
		pos, _ := s.Data.Position(id)
		truth[i] = s.Data.Row(pos)[0]
		require.False(t, math.IsNaN(est[i]))
	}
	r := stat.Correlation(est, truth, nil)
	assert.Greater(t, r, 0.8, "pearson r = %v", r)
}

func TestFoldLogsCarryRunID(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(60, 3)
	require.NoError(t, err)
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Format: "json", Level: "info", Output: &buf})
	require.NoError(t, err)
	cfg := config(3, "mean")
	cfg.Logger = logger

	report, err := Run(context.Background(), cfg, s.Data, splitHalves(s.Data, 30),
		outcome.FixedWeights{Weights: space.Weights{1, 1}}, nil)
	require.NoError(t, err)

	var foldLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, report.RunID, entry["run_id"], line)
		assert.Equal(t, 1, strings.Count(line, `"component"`), line)
		if _, ok := entry["fold"]; ok {
			foldLines++
		}
	}
	assert.Positive(t, foldLines)
}

func TestMeanRecoversConstantEffectEndToEnd(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(120, 5)
	require.NoError(t, err)
	n := s.Data.Len()
	tr := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = float64(s.Data.Arm(i))
		y[i] = 5 + 2.5*tr[i]
	}
	ds, err := s.Data.WithOutcome(tr, y)
	require.NoError(t, err)

	report, err := Run(context.Background(), config(5, "mean"), ds,
		folds.RepeatedStratified{Splits: 3, Repeats: 2, Seed: 1},
		outcome.FixedWeights{Weights: space.Weights{1, 1}}, nil)
	require.NoError(t, err)
	for _, v := range report.Result.ByLabel["mean"].Mean {
		assert.Equal(t, 2.5, v)
	}
	assert.Len(t, report.Folds, 6)
	assert.Equal(t, 6, report.Completed())
	assert.NotEmpty(t, report.RunID)
}

func TestSingleFoldAggregationIsIdentity(t *testing.T) {
	s, err := datagen.Sine{Informative: 3, Noise: 1}.Generate(150, 8)
	require.NoError(t, err)
	cfg := config(6, "mean", "linear")
	cfg.Combined = true
	report, err := Run(context.Background(), cfg, s.Data, splitHalves(s.Data, 100), outcome.RidgeLearner{}, nil)
	require.NoError(t, err)

	fold := report.Result.Folds[0]
	for _, label := range []string{"mean", "linear"} {
		agg := report.Result.ByLabel[label]
		for i, id := range fold.Units {
			j, ok := report.Result.Lookup(id)
			require.True(t, ok)
			if math.IsNaN(fold.Series[label][i]) {
				assert.True(t, math.IsNaN(agg.Mean[j]))
				continue
			}
			assert.Equal(t, fold.Series[label][i], agg.Mean[j])
		}
	}
	require.NotNil(t, report.Result.Combined)
}

func TestWrongWeightLengthIsFatal(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 3}.Generate(60, 1)
	require.NoError(t, err)

	_, err = Run(context.Background(), config(3, "mean"), s.Data,
		folds.RepeatedStratified{Splits: 2, Repeats: 1}, outcome.FixedWeights{Weights: space.Weights{1, 1, 1, 1}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidWeightVector)
	assert.True(t, lcmerrors.IsFatal(err))
}

type shortWeights struct{}

func (shortWeights) Fit(context.Context, *dataset.Dataset) (*outcome.Fitted, error) {
	return &outcome.Fitted{Weights: space.Weights{1}}, nil
}

func TestLearnedWeightLengthAbortsRun(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 3}.Generate(60, 1)
	require.NoError(t, err)
	_, err = Run(context.Background(), config(3, "mean"), s.Data,
		folds.RepeatedStratified{Splits: 2, Repeats: 1}, shortWeights{}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidWeightVector)
}

func TestInsufficientArmSizeIsRaisedUpFront(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(40, 3)
	require.NoError(t, err)

	var calls atomic.Int32
	learner := learnerFunc(func(ctx context.Context, ds *dataset.Dataset) (*outcome.Fitted, error) {
		calls.Add(1)
		return outcome.RidgeLearner{}.Fit(ctx, ds)
	})
	_, err = Run(context.Background(), config(s.Data.ArmSize(core.Control)+1, "mean"), s.Data,
		folds.Static{{Estimation: s.Data.IDs()}}, learner, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInsufficientArmSize)
	assert.Zero(t, calls.Load(), "no fold work before validation")
}

type learnerFunc func(context.Context, *dataset.Dataset) (*outcome.Fitted, error)

func (f learnerFunc) Fit(ctx context.Context, ds *dataset.Dataset) (*outcome.Fitted, error) {
	return f(ctx, ds)
}

func TestFoldFailuresAreRecorded(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(90, 4)
	require.NoError(t, err)
	poison := s.Data.ID(0)
	boom := errors.New("boom")

	learner := learnerFunc(func(ctx context.Context, train *dataset.Dataset) (*outcome.Fitted, error) {
		if _, ok := train.Position(poison); ok {
			return nil, boom
		}
		return outcome.RidgeLearner{}.Fit(ctx, train)
	})
	report, err := Run(context.Background(), config(4, "mean"), s.Data,
		folds.RepeatedStratified{Splits: 3, Repeats: 1, Seed: 2}, learner, nil)
	require.NoError(t, err)
	require.Len(t, report.FoldErrors, 1)
	assert.ErrorIs(t, report.FoldErrors[0], boom)
	assert.Equal(t, 2, report.Completed())
	assert.Contains(t, report.FoldErrors[0].Error(), "repeat 0 fold")
}

func TestCollaboratorFailureIsDistinct(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(90, 4)
	require.NoError(t, err)
	fs, err := folds.RepeatedStratified{Splits: 3, Repeats: 1, Seed: 2}.Folds(s.Data)
	require.NoError(t, err)

	src := outcome.StaticPredictions{}
	for _, f := range fs[1:] {
		n := len(f.Estimation)
		src[outcome.FoldKey{Repeat: f.Repeat, Index: f.Index}] = &estimate.Predictions{
			Control: make([]float64, n), Treated: make([]float64, n),
		}
	}
	report, err := Run(context.Background(), config(4, "mean_augmented"), s.Data, folds.Static(fs), outcome.RidgeLearner{}, src)
	require.NoError(t, err)
	require.Len(t, report.FoldErrors, 1)
	assert.ErrorIs(t, report.FoldErrors[0], core.ErrCollaboratorFailure)
	assert.Equal(t, 0, report.FoldErrors[0].Index)
}

func TestAllFoldsFailing(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(40, 4)
	require.NoError(t, err)
	learner := learnerFunc(func(context.Context, *dataset.Dataset) (*outcome.Fitted, error) {
		return nil, errors.New("always")
	})
	_, err = Run(context.Background(), config(2, "mean"), s.Data, folds.RepeatedStratified{Splits: 2, Repeats: 1}, learner, nil)
	assert.Error(t, err)
}

func TestRunValidation(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(40, 4)
	require.NoError(t, err)
	gen := folds.RepeatedStratified{Splits: 2, Repeats: 1}

	cfg := config(2, "mean")
	cfg.Pipeline.Strategies = nil
	_, err = Run(context.Background(), cfg, s.Data, gen, outcome.RidgeLearner{}, nil)
	assert.True(t, lcmerrors.IsFatal(err))

	cfg = config(2, "mean")
	cfg.Pipeline.PruneMultiplier = -1
	_, err = Run(context.Background(), cfg, s.Data, gen, outcome.RidgeLearner{}, nil)
	assert.True(t, lcmerrors.IsFatal(err))

	_, err = Run(context.Background(), config(2, "mean"), s.Data, gen, nil, nil)
	assert.True(t, lcmerrors.IsFatal(err))

	_, err = Run(context.Background(), config(2, "mean"), s.Data,
		folds.Static{{Estimation: []core.UnitID{9999}}}, outcome.RidgeLearner{}, nil)
	assert.True(t, lcmerrors.IsFatal(err))

	_, err = Run(context.Background(), config(0, "mean"), s.Data, gen, outcome.RidgeLearner{}, nil)
	assert.True(t, lcmerrors.IsFatal(err))
}

func TestRunCancelled(t *testing.T) {
	s, err := datagen.LinearEffect{Informative: 2}.Generate(40, 4)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, config(2, "mean"), s.Data, folds.RepeatedStratified{Splits: 2, Repeats: 1}, outcome.RidgeLearner{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
