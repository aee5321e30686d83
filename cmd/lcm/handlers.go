package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/23skdu/lcm/internal/config"
	"github.com/23skdu/lcm/internal/datagen"
	"github.com/23skdu/lcm/internal/dataset"
	"github.com/23skdu/lcm/internal/engine"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/logging"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/storage"
	"github.com/23skdu/lcm/internal/tracing"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// runEstimate loads the input table, runs every fold and persists the result.
func runEstimate(cmd *cobra.Command, dataPath string, cfg config.Config) error {
	ctx := cmd.Context()
	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		stop, err := startMetricsServer(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.TraceFile != "" {
		shutdown, err := startTracing(cfg.TraceFile)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	ds, err := dataset.ReadCSV(f, cfg.Columns())
	_ = f.Close()
	if err != nil {
		return err
	}
	logger.Info().
		Str("data", dataPath).
		Int("units", ds.Len()).
		Int("covariates", ds.P()).
		Msg("Dataset loaded")

	ec, err := cfg.Engine(logger)
	if err != nil {
		return err
	}
	var (
		gen    folds.Generator = cfg.FoldGenerator()
		source outcome.PredictionSource
	)
	if cfg.Predictions != "" {
		fs, err := gen.Folds(ds)
		if err != nil {
			return err
		}
		if source, err = loadPredictions(cfg.Predictions, fs, cfg.PredictionFailures); err != nil {
			return err
		}
		gen = folds.Static(fs)
		if !estimate.AnyAugmented(ec.Pipeline.Strategies) {
			logger.Warn().Str("predictions", cfg.Predictions).
				Msg("Predictions are only used by augmented strategies")
		}
	}
	rep, err := engine.Run(ctx, ec, ds, gen, cfg.Learner(), source)
	if err != nil {
		return err
	}

	w := &storage.Writer{
		Dir:            cfg.OutputDir,
		Format:         storage.Format(cfg.OutputFormat),
		ReturnDistance: cfg.ReturnDistance,
		Mem:            memory.NewGoAllocator(),
		Logger:         logger,
	}
	if _, err := w.Write(rep, storage.NewManifest(rep, cfg.Seed, cfg)); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d/%d folds completed, %d units, results in %s\n",
		rep.RunID, rep.Completed(), len(rep.Folds), len(rep.Result.Units), cfg.OutputDir)
	for _, fe := range rep.FoldErrors {
		fmt.Fprintf(cmd.OutOrStdout(), "  fold failed: %v\n", fe)
	}
	return nil
}

// loadPredictions reads a predictions file, aligns it with the run's folds
// and guards it so that repeated failures stop further calls.
func loadPredictions(path string, fs []folds.Fold, failures int) (outcome.PredictionSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open predictions: %w", err)
	}
	defer f.Close()
	table, err := outcome.ReadPredictionsCSV(f)
	if err != nil {
		return nil, err
	}
	static, err := table.Align(fs)
	if err != nil {
		return nil, err
	}
	return outcome.Guard(static, "predictions", failures, time.Minute), nil
}

// runSimulate draws a synthetic study and writes it as CSV.
func runSimulate(cmd *cobra.Command, opts simulateOptions) error {
	g, err := datagen.ByName(opts.dgp, datagen.Params{Informative: opts.informative, Noise: opts.noise})
	if err != nil {
		return err
	}
	s, err := g.Generate(opts.n, opts.seed)
	if err != nil {
		return err
	}

	mem := memory.NewGoAllocator()
	rec := s.Data.ToRecord(mem, dataset.DefaultColumns())
	defer rec.Release()
	if err := writeCSVFile(opts.out, func(f *os.File) error { return storage.WriteRecordCSV(f, rec) }); err != nil {
		return err
	}

	if opts.truth != "" {
		truth := s.TruthRecord(mem)
		defer truth.Release()
		if err := writeCSVFile(opts.truth, func(f *os.File) error { return storage.WriteRecordCSV(f, truth) }); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d units from %s to %s\n", s.Data.Len(), g.Name(), opts.out)
	return nil
}

func writeCSVFile(path string, write func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return storage.NewArtifactError("write", path, err)
	}
	return f.Close()
}

// startTracing exports spans to path until the returned function runs.
func startTracing(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace file: %w", err)
	}
	shutdown, err := tracing.Init(tracing.Config{ServiceName: "lcm", ServiceVersion: version, Output: f})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
		_ = f.Close()
	}, nil
}

// startMetricsServer serves /metrics until the returned stop function runs.
func startMetricsServer(addr string, logger zerolog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("address", lis.Addr().String()).Msg("Starting metrics server")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
