// Package config loads run settings from the environment and validates them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/dataset"
	"github.com/23skdu/lcm/internal/engine"
	"github.com/23skdu/lcm/internal/estimate"
	"github.com/23skdu/lcm/internal/folds"
	"github.com/23skdu/lcm/internal/neighbors"
	"github.com/23skdu/lcm/internal/outcome"
	"github.com/23skdu/lcm/internal/pipeline"
	"github.com/23skdu/lcm/internal/storage"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment variable, e.g. LCM_K.
const EnvPrefix = "LCM"

// Config validation errors
var (
	ErrInvalidK               = errors.New("k must be positive")
	ErrInvalidStrategies      = errors.New("strategies must name mean, linear or linear_pruned")
	ErrInvalidPruneMultiplier = errors.New("prune_multiplier must be non-negative or inf")
	ErrInvalidWeightPrune     = errors.New("weight_prune must be in [0, 1)")
	ErrInvalidSplits          = errors.New("splits must be at least 2")
	ErrInvalidRepeats         = errors.New("repeats must be at least 1")
	ErrInvalidMetric          = errors.New("metric must be euclidean, manhattan, chebyshev or cosine")
	ErrInvalidIndex           = errors.New("index must be kdtree, brute or hnsw")
	ErrInvalidIndexMetric     = errors.New("kdtree needs the euclidean metric and hnsw euclidean or cosine")
	ErrInvalidWorkers         = errors.New("worker counts cannot be negative")
	ErrInvalidColumns         = errors.New("treatment and outcome columns must be set and distinct")
	ErrInvalidLogFormat       = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel        = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidOutputDir       = errors.New("output_dir cannot be empty")
	ErrInvalidOutputFormat    = errors.New("output_format must be csv, parquet or both")
	ErrInvalidSourceFailures  = errors.New("prediction_failures must be at least 1")
	ErrInvalidMatching        = errors.New("matching must be covariates, prognostic or double_prognostic")
	ErrInvalidMatchingMetric  = errors.New("prognostic matching cannot use the cosine metric")
)

// Config holds every run setting. Environment variables use the LCM prefix.
type Config struct {
	K               int     `envconfig:"K" default:"80" json:"k"`
	Strategies      string  `envconfig:"STRATEGIES" default:"linear" json:"strategies"`
	Augmented       bool    `envconfig:"AUGMENTED" default:"false" json:"augmented"`
	Combined        bool    `envconfig:"COMBINED" default:"false" json:"combined"`
	PruneMultiplier float64 `envconfig:"PRUNE_MULTIPLIER" default:"3" json:"prune_multiplier"`
	WeightPrune     float64 `envconfig:"WEIGHT_PRUNE" default:"0.01" json:"weight_prune"`
	Splits          int     `envconfig:"SPLITS" default:"5" json:"splits"`
	Repeats         int     `envconfig:"REPEATS" default:"1" json:"repeats"`
	Seed            uint64  `envconfig:"SEED" default:"0" json:"seed"`
	Matching        string  `envconfig:"MATCHING" default:"covariates" json:"matching"`

	Metric       string `envconfig:"METRIC" default:"euclidean" json:"metric"`
	Index        string `envconfig:"INDEX" default:"kdtree" json:"index"`
	HNSWM        int    `envconfig:"HNSW_M" default:"16" json:"hnsw_m"`
	HNSWEfSearch int    `envconfig:"HNSW_EF_SEARCH" default:"0" json:"hnsw_ef_search"`
	QueryWorkers int    `envconfig:"QUERY_WORKERS" default:"0" json:"query_workers"`
	FoldWorkers  int    `envconfig:"FOLD_WORKERS" default:"0" json:"fold_workers"`

	TreatmentColumn string `envconfig:"TREATMENT_COLUMN" default:"T" json:"treatment_column"`
	OutcomeColumn   string `envconfig:"OUTCOME_COLUMN" default:"Y" json:"outcome_column"`
	IDColumn        string `envconfig:"ID_COLUMN" default:"id" json:"id_column"`

	Predictions        string `envconfig:"PREDICTIONS" default:"" json:"predictions,omitempty"`
	PredictionFailures int    `envconfig:"PREDICTION_FAILURES" default:"3" json:"prediction_failures"`

	ReturnDistance bool   `envconfig:"RETURN_DISTANCE" default:"false" json:"return_distance"`
	OutputDir      string `envconfig:"OUTPUT_DIR" default:"./out" json:"output_dir"`
	OutputFormat   string `envconfig:"OUTPUT_FORMAT" default:"csv" json:"output_format"`

	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" json:"log_format"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" json:"log_level"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"" json:"metrics_addr,omitempty"`
	TraceFile   string `envconfig:"TRACE_FILE" default:"" json:"trace_file,omitempty"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		K:                  80,
		Strategies:         "linear",
		PruneMultiplier:    3,
		WeightPrune:        outcome.DefaultWeightPrune,
		Splits:             5,
		Repeats:            1,
		Matching:           string(core.MatchCovariates),
		Metric:             string(core.MetricEuclidean),
		Index:              string(core.IndexKDTree),
		HNSWM:              16,
		TreatmentColumn:    "T",
		OutcomeColumn:      "Y",
		IDColumn:           "id",
		PredictionFailures: 3,
		OutputDir:          "./out",
		OutputFormat:       string(storage.FormatCSV),
		LogFormat:          "json",
		LogLevel:           "info",
	}
}

// Read reads envFile when it exists, then the LCM_* environment. Variables
// already set in the environment win over the file. An empty envFile skips
// the file. The result is not validated.
func Read(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config from env: %w", err)
	}
	return cfg, nil
}

// Load is Read followed by ValidateConfig.
func Load(envFile string) (Config, error) {
	cfg, err := Read(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.K <= 0 {
		return ErrInvalidK
	}
	if _, err := estimate.ParseStrategies(cfg.Strategies, cfg.Augmented); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStrategies, err)
	}
	if math.IsNaN(cfg.PruneMultiplier) || cfg.PruneMultiplier < 0 {
		return ErrInvalidPruneMultiplier
	}
	if math.IsNaN(cfg.WeightPrune) || cfg.WeightPrune < 0 || cfg.WeightPrune >= 1 {
		return ErrInvalidWeightPrune
	}
	if cfg.Splits < 2 {
		return ErrInvalidSplits
	}
	if cfg.Repeats < 1 {
		return ErrInvalidRepeats
	}
	metric, err := core.ParseDistanceMetric(cfg.Metric)
	if err != nil {
		return ErrInvalidMetric
	}
	index, err := core.ParseIndexKind(cfg.Index)
	if err != nil {
		return ErrInvalidIndex
	}
	if index == core.IndexKDTree && metric != core.MetricEuclidean {
		return ErrInvalidIndexMetric
	}
	if index == core.IndexHNSW && metric != core.MetricEuclidean && metric != core.MetricCosine {
		return ErrInvalidIndexMetric
	}
	matching, err := core.ParseMatchingSpace(cfg.Matching)
	if err != nil {
		return ErrInvalidMatching
	}
	if matching != core.MatchCovariates && metric == core.MetricCosine {
		return ErrInvalidMatchingMetric
	}
	if cfg.QueryWorkers < 0 || cfg.FoldWorkers < 0 || cfg.HNSWM < 0 || cfg.HNSWEfSearch < 0 {
		return ErrInvalidWorkers
	}
	if cfg.TreatmentColumn == "" || cfg.OutcomeColumn == "" || cfg.TreatmentColumn == cfg.OutcomeColumn {
		return ErrInvalidColumns
	}
	if cfg.IDColumn != "" && (cfg.IDColumn == cfg.TreatmentColumn || cfg.IDColumn == cfg.OutcomeColumn) {
		return ErrInvalidColumns
	}
	if cfg.PredictionFailures < 1 {
		return ErrInvalidSourceFailures
	}
	if cfg.OutputDir == "" {
		return ErrInvalidOutputDir
	}
	if _, err := storage.ParseFormat(cfg.OutputFormat); err != nil {
		return ErrInvalidOutputFormat
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// MarshalJSON encodes an infinite prune multiplier as "inf".
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	out := struct {
		plain
		PruneMultiplier any `json:"prune_multiplier"`
	}{plain: plain(c), PruneMultiplier: c.PruneMultiplier}
	if math.IsInf(c.PruneMultiplier, 1) {
		out.PruneMultiplier = "inf"
	}
	return json.Marshal(out)
}

// Columns returns the structural column names of the input table.
func (c Config) Columns() dataset.Columns {
	return dataset.Columns{Treatment: c.TreatmentColumn, Outcome: c.OutcomeColumn, ID: c.IDColumn}
}

// FoldGenerator returns the stratified splitter described by the config.
func (c Config) FoldGenerator() folds.RepeatedStratified {
	return folds.RepeatedStratified{Splits: c.Splits, Repeats: c.Repeats, Seed: c.Seed}
}

// Learner returns the outcome-model learner described by the config.
func (c Config) Learner() outcome.RidgeLearner {
	return outcome.RidgeLearner{Prune: c.WeightPrune}
}

// Engine maps the config onto the engine's run parameters. The config must
// have passed ValidateConfig.
func (c Config) Engine(logger zerolog.Logger) (engine.Config, error) {
	strategies, err := estimate.ParseStrategies(c.Strategies, c.Augmented)
	if err != nil {
		return engine.Config{}, err
	}
	metric, err := core.ParseDistanceMetric(c.Metric)
	if err != nil {
		return engine.Config{}, err
	}
	index, err := core.ParseIndexKind(c.Index)
	if err != nil {
		return engine.Config{}, err
	}
	matching, err := core.ParseMatchingSpace(c.Matching)
	if err != nil {
		return engine.Config{}, err
	}
	foldWorkers := c.FoldWorkers
	if foldWorkers == 0 {
		foldWorkers = runtime.GOMAXPROCS(0)
	}
	return engine.Config{
		Pipeline: pipeline.Config{
			K:            c.K,
			Matching:     matching,
			Metric:       metric,
			Index:        index,
			QueryWorkers: c.QueryWorkers,
			Neighbors: neighbors.Options{
				Seed:         int64(c.Seed),
				HNSWM:        c.HNSWM,
				HNSWEfSearch: c.HNSWEfSearch,
			},
			PruneMultiplier: c.PruneMultiplier,
			Strategies:      strategies,
		},
		FoldWorkers: foldWorkers,
		Combined:    c.Combined,
		Logger:      logger,
	}, nil
}
