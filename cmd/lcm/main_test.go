package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/23skdu/lcm/internal/breaker"
	"github.com/23skdu/lcm/internal/config"
	"github.com/23skdu/lcm/internal/dataset"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func simulate(t *testing.T, dir string) string {
	t.Helper()
	data := filepath.Join(dir, "data.csv")
	out, err := execute(t, "simulate", "--dgp", "linear_effect", "-n", "200",
		"--informative", "3", "--noise", "1", "--seed", "5",
		"--out", data, "--truth", filepath.Join(dir, "truth.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 200 units from linear_effect")
	return data
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range buildRootCmd().Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"estimate", "simulate", "version"} {
		assert.True(t, names[name], "expected subcommand %q", name)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lcm dev")
}

func TestSimulateThenEstimate(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)
	assert.FileExists(t, filepath.Join(dir, "truth.csv"))

	outDir := filepath.Join(dir, "results")
	out, err := execute(t, "estimate", "--data", data, "--env-file", "",
		"-k", "10", "--splits", "2", "--strategies", "mean,linear",
		"--format", "both", "--log-level", "error", "--metrics-addr", "127.0.0.1:0",
		"--trace-file", filepath.Join(dir, "trace.jsonl"), "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 folds completed, 200 units")

	assert.FileExists(t, filepath.Join(outDir, storage.CATEFile))
	assert.FileExists(t, filepath.Join(outDir, storage.FoldEstimatesParquetFile))
	assert.FileExists(t, filepath.Join(outDir, storage.FoldEstimatesCSVFile))
	assert.FileExists(t, filepath.Join(outDir, "match_groups_control.csv"))
	assert.NoFileExists(t, filepath.Join(outDir, "match_groups_control_distance.csv"))

	m, err := storage.ReadManifest(filepath.Join(outDir, storage.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, 200, m.Units)
	assert.Equal(t, []string{"mean", "linear"}, m.Labels)
	cfg, ok := m.Config.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 10, cfg["k"])
	assert.NotEmpty(t, m.TraceID)

	spans, err := os.ReadFile(filepath.Join(dir, "trace.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(spans), m.TraceID)
	assert.Contains(t, string(spans), `"Name":"engine.Run"`)
}

func TestEstimateFlagsOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)

	t.Setenv("LCM_K", "0")
	_, err := execute(t, "estimate", "--data", data, "--env-file", "", "--out", dir)
	assert.ErrorIs(t, err, config.ErrInvalidK)

	_, err = execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"-k", "5", "--splits", "2", "--strategies", "mean", "--out", filepath.Join(dir, "ok"))
	assert.NoError(t, err)
}

// writePredictions writes zero predictions for the estimation units of the
// listed folds of a 2-split stratified partition of data.
func writePredictions(t *testing.T, data string, repeats int, keep ...outcome.FoldKey) string {
	t.Helper()
	f, err := os.Open(data)
	require.NoError(t, err)
	ds, err := dataset.ReadCSV(f, dataset.DefaultColumns())
	require.NoError(t, f.Close())
	require.NoError(t, err)
	fs, err := folds.RepeatedStratified{Splits: 2, Repeats: repeats}.Folds(ds)
	require.NoError(t, err)

	var b strings.Builder
	b.WriteString("id,repeat,fold,y0,y1\n")
	for _, fold := range fs {
		if !slices.Contains(keep, outcome.FoldKey{Repeat: fold.Repeat, Index: fold.Index}) {
			continue
		}
		for _, id := range fold.Estimation {
			fmt.Fprintf(&b, "%d,%d,%d,0,0\n", id, fold.Repeat, fold.Index)
		}
	}
	path := filepath.Join(filepath.Dir(data), "predictions.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestEstimateWithPredictions(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)
	preds := writePredictions(t, data, 1, outcome.FoldKey{Repeat: 0, Index: 0})

	outDir := filepath.Join(dir, "results")
	out, err := execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"-k", "5", "--splits", "2", "--strategies", "mean", "--augmented", "--fold-workers", "1",
		"--predictions", preds, "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1/2 folds completed")

	m, err := storage.ReadManifest(filepath.Join(outDir, storage.ManifestFile))
	require.NoError(t, err)
	require.Len(t, m.FoldErrors, 1)
	assert.Equal(t, 1, m.FoldErrors[0].Fold)
	assert.Contains(t, m.FoldErrors[0].Error, "collaborator failure")
	assert.Equal(t, []string{"mean", "mean_augmented"}, m.Labels)
}

func TestEstimatePredictionFailuresOpenGuard(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)
	preds := writePredictions(t, data, 2, outcome.FoldKey{Repeat: 0, Index: 0})

	t.Setenv("LCM_PREDICTIONS", preds)
	outDir := filepath.Join(dir, "results")
	out, err := execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"-k", "5", "--splits", "2", "--repeats", "2", "--strategies", "mean_augmented",
		"--fold-workers", "1", "--prediction-failures", "1", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1/4 folds completed")

	m, err := storage.ReadManifest(filepath.Join(outDir, storage.ManifestFile))
	require.NoError(t, err)
	require.Len(t, m.FoldErrors, 3)
	assert.NotContains(t, m.FoldErrors[0].Error, breaker.ErrOpen.Error())
	for _, fe := range m.FoldErrors[1:] {
		assert.Equal(t, 1, fe.Repeat)
		assert.Contains(t, fe.Error, breaker.ErrOpen.Error())
	}
}

func TestEstimateRejectsPartialPredictions(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)
	preds := filepath.Join(dir, "partial.csv")
	require.NoError(t, os.WriteFile(preds, []byte("repeat,fold,id,y0,y1\n0,0,0,1.5,2\n"), 0o644))

	_, err := execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"-k", "5", "--splits", "2", "--strategies", "mean", "--augmented",
		"--predictions", preds, "--out", filepath.Join(dir, "results"))
	assert.ErrorContains(t, err, "no prediction for unit")
}

func TestWeightPruneHelp(t *testing.T) {
	flag := buildEstimateCmd().Flags().Lookup("weight-prune")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "largest weight")
}

func TestEstimateRejectsMissingColumn(t *testing.T) {
	dir := t.TempDir()
	data := simulate(t, dir)

	_, err := execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"--treatment", "W", "--out", dir)
	assert.Error(t, err)
}

func TestEstimateRequiresData(t *testing.T) {
	_, err := execute(t, "estimate")
	assert.Error(t, err)
}

func TestSimulateUnknownProcess(t *testing.T) {
	_, err := execute(t, "simulate", "--dgp", "nope", "--out", filepath.Join(t.TempDir(), "x.csv"))
	assert.Error(t, err)
}

func TestEstimatePrognosticMatching(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.csv")
	out, err := execute(t, "simulate", "--dgp", "non_linear_mixed", "-n", "200",
		"--informative", "2", "--noise", "2", "--seed", "8", "--out", data)
	require.NoError(t, err)
	assert.Contains(t, out, "from non_linear_mixed")

	outDir := filepath.Join(dir, "results")
	out, err = execute(t, "estimate", "--data", data, "--env-file", "", "--log-level", "error",
		"-k", "10", "--splits", "2", "--strategies", "mean,linear", "--matching", "prognostic",
		"--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 folds completed, 200 units")

	m, err := storage.ReadManifest(filepath.Join(outDir, storage.ManifestFile))
	require.NoError(t, err)
	cfg, ok := m.Config.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prognostic", cfg["matching"])

	_, err = execute(t, "estimate", "--data", data, "--env-file", "", "--matching", "propensity", "--out", outDir)
	assert.ErrorIs(t, err, config.ErrInvalidMatching)
}
