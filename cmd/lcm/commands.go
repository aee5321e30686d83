package main

import (
	"fmt"
	"strings"

	"github.com/23skdu/lcm/internal/config"
	"github.com/23skdu/lcm/internal/datagen"
	"github.com/spf13/cobra"
)

// buildRootCmd assembles the command tree.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lcm",
		Short:         "Matched-group conditional average treatment effect estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildEstimateCmd(), buildSimulateCmd(), buildVersionCmd())
	return root
}

// =============================================================================
// Estimate Command
// =============================================================================

// estimateFlag binds one command line flag to a config field. Only flags set
// on the command line override the environment.
type estimateFlag struct {
	name  string
	apply func(dst *config.Config, src config.Config)
}

var estimateFlags = []estimateFlag{
	{"k", func(d *config.Config, s config.Config) { d.K = s.K }},
	{"strategies", func(d *config.Config, s config.Config) { d.Strategies = s.Strategies }},
	{"augmented", func(d *config.Config, s config.Config) { d.Augmented = s.Augmented }},
	{"combined", func(d *config.Config, s config.Config) { d.Combined = s.Combined }},
	{"prune-multiplier", func(d *config.Config, s config.Config) { d.PruneMultiplier = s.PruneMultiplier }},
	{"weight-prune", func(d *config.Config, s config.Config) { d.WeightPrune = s.WeightPrune }},
	{"splits", func(d *config.Config, s config.Config) { d.Splits = s.Splits }},
	{"repeats", func(d *config.Config, s config.Config) { d.Repeats = s.Repeats }},
	{"seed", func(d *config.Config, s config.Config) { d.Seed = s.Seed }},
	{"matching", func(d *config.Config, s config.Config) { d.Matching = s.Matching }},
	{"metric", func(d *config.Config, s config.Config) { d.Metric = s.Metric }},
	{"index", func(d *config.Config, s config.Config) { d.Index = s.Index }},
	{"query-workers", func(d *config.Config, s config.Config) { d.QueryWorkers = s.QueryWorkers }},
	{"fold-workers", func(d *config.Config, s config.Config) { d.FoldWorkers = s.FoldWorkers }},
	{"treatment", func(d *config.Config, s config.Config) { d.TreatmentColumn = s.TreatmentColumn }},
	{"outcome", func(d *config.Config, s config.Config) { d.OutcomeColumn = s.OutcomeColumn }},
	{"id", func(d *config.Config, s config.Config) { d.IDColumn = s.IDColumn }},
	{"predictions", func(d *config.Config, s config.Config) { d.Predictions = s.Predictions }},
	{"prediction-failures", func(d *config.Config, s config.Config) { d.PredictionFailures = s.PredictionFailures }},
	{"return-distance", func(d *config.Config, s config.Config) { d.ReturnDistance = s.ReturnDistance }},
	{"out", func(d *config.Config, s config.Config) { d.OutputDir = s.OutputDir }},
	{"format", func(d *config.Config, s config.Config) { d.OutputFormat = s.OutputFormat }},
	{"log-format", func(d *config.Config, s config.Config) { d.LogFormat = s.LogFormat }},
	{"log-level", func(d *config.Config, s config.Config) { d.LogLevel = s.LogLevel }},
	{"metrics-addr", func(d *config.Config, s config.Config) { d.MetricsAddr = s.MetricsAddr }},
	{"trace-file", func(d *config.Config, s config.Config) { d.TraceFile = s.TraceFile }},
}

// buildEstimateCmd creates the "estimate" command that runs the engine over
// a delimited input table and persists the artifacts.
func buildEstimateCmd() *cobra.Command {
	var (
		dataPath string
		envFile  string
		fc       = config.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate per-unit treatment effects from a CSV file",
		Example: `  # Default settings, results under ./out
  lcm estimate --data study.csv

  # Two strategies with augmentation, three repeats of 5-fold splitting
  lcm estimate --data study.csv --strategies mean,linear --augmented --repeats 3

  # Augment with outcome predictions produced by another model
  lcm estimate --data study.csv --augmented --predictions bart.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(envFile)
			if err != nil {
				return err
			}
			for _, f := range estimateFlags {
				if cmd.Flags().Changed(f.name) {
					f.apply(&cfg, fc)
				}
			}
			if err := config.ValidateConfig(&cfg); err != nil {
				return err
			}
			return runEstimate(cmd, dataPath, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dataPath, "data", "", "Input CSV with a header row")
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	flags.IntVarP(&fc.K, "k", "k", fc.K, "Units per arm in each match group")
	flags.StringVar(&fc.Strategies, "strategies", fc.Strategies, "Comma separated methods: mean, linear, linear_pruned")
	flags.BoolVar(&fc.Augmented, "augmented", fc.Augmented, "Also run the augmented variant of each method")
	flags.BoolVar(&fc.Combined, "combined", fc.Combined, "Add the across-method average and std columns")
	flags.Float64Var(&fc.PruneMultiplier, "prune-multiplier", fc.PruneMultiplier, "Diameter pruning multiplier; inf disables pruning")
	flags.Float64Var(&fc.WeightPrune, "weight-prune", fc.WeightPrune, "Weights below this fraction of the largest weight are zeroed")
	flags.IntVar(&fc.Splits, "splits", fc.Splits, "Stratified splits per repeat")
	flags.IntVar(&fc.Repeats, "repeats", fc.Repeats, "Independent repetitions of the split")
	flags.Uint64Var(&fc.Seed, "seed", fc.Seed, "Seed for fold assignment and approximate indexes")
	flags.StringVar(&fc.Matching, "matching", fc.Matching, "Match on: covariates, prognostic, double_prognostic")
	flags.StringVar(&fc.Metric, "metric", fc.Metric, "Distance metric: euclidean, manhattan, chebyshev, cosine")
	flags.StringVar(&fc.Index, "index", fc.Index, "Neighbour index: kdtree, brute, hnsw")
	flags.IntVar(&fc.QueryWorkers, "query-workers", fc.QueryWorkers, "Concurrent neighbour queries per fold (0 = GOMAXPROCS)")
	flags.IntVar(&fc.FoldWorkers, "fold-workers", fc.FoldWorkers, "Concurrent folds (0 = GOMAXPROCS)")
	flags.StringVar(&fc.TreatmentColumn, "treatment", fc.TreatmentColumn, "Treatment column name")
	flags.StringVar(&fc.OutcomeColumn, "outcome", fc.OutcomeColumn, "Outcome column name")
	flags.StringVar(&fc.IDColumn, "id", fc.IDColumn, "Unit identifier column; row numbers are used when absent")
	flags.StringVar(&fc.Predictions, "predictions", fc.Predictions, "CSV of repeat,fold,id,y0,y1 outcome predictions for the augmented strategies")
	flags.IntVar(&fc.PredictionFailures, "prediction-failures", fc.PredictionFailures, "Consecutive prediction failures before the remaining folds fail fast")
	flags.BoolVar(&fc.ReturnDistance, "return-distance", fc.ReturnDistance, "Also write match-group distances")
	flags.StringVarP(&fc.OutputDir, "out", "o", fc.OutputDir, "Output directory")
	flags.StringVar(&fc.OutputFormat, "format", fc.OutputFormat, "Per-fold estimates format: csv, parquet, both")
	flags.StringVar(&fc.LogFormat, "log-format", fc.LogFormat, "Log format: json or console")
	flags.StringVar(&fc.LogLevel, "log-level", fc.LogLevel, "Log level: debug, info, warn, error")
	flags.StringVar(&fc.MetricsAddr, "metrics-addr", fc.MetricsAddr, "Serve Prometheus metrics on this address during the run")
	flags.StringVar(&fc.TraceFile, "trace-file", fc.TraceFile, "Write OpenTelemetry spans to this file as JSON lines")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

// =============================================================================
// Simulate Command
// =============================================================================

type simulateOptions struct {
	dgp         string
	n           int
	seed        uint64
	informative int
	noise       int
	out         string
	truth       string
}

// buildSimulateCmd creates the "simulate" command that writes a synthetic
// study with known effects.
func buildSimulateCmd() *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic dataset with known treatment effects",
		Long: fmt.Sprintf(`Write a synthetic dataset drawn from a named data generating process.

Available processes: %s`, strings.Join(datagen.Names(), ", ")),
		Example: `  lcm simulate --dgp sine --n 1000 --out data.csv --truth truth.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dgp, "dgp", "linear_effect", "Data generating process")
	cmd.Flags().IntVarP(&opts.n, "n", "n", 1000, "Number of units")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Random seed")
	cmd.Flags().IntVar(&opts.informative, "informative", 10, "Informative covariates")
	cmd.Flags().IntVar(&opts.noise, "noise", 5, "Uninformative covariates")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "data.csv", "Output CSV path")
	cmd.Flags().StringVar(&opts.truth, "truth", "", "Optional CSV path for the true potential outcomes and effect")

	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lcm %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
