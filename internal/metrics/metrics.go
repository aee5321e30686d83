package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Engine Metrics
// =============================================================================

var (
	// FoldsTotal counts completed fold pipelines by outcome
	FoldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcm_folds_total",
			Help: "Total number of fold pipelines by status",
		},
		[]string{"status"}, // ok, failed
	)

	// FoldDurationSeconds measures one fold from fitting to completion
	FoldDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lcm_fold_duration_seconds",
			Help:    "Duration of a fold pipeline",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// FoldStageDurationSeconds measures each pipeline stage
	FoldStageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lcm_fold_stage_duration_seconds",
			Help:    "Duration of fold pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// MatchGroupBuildSeconds measures index build plus query for both arms
	MatchGroupBuildSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lcm_match_group_build_seconds",
			Help:    "Latency of match group construction by index kind",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"index"},
	)

	// NeighborFallbacksTotal counts approximate queries completed by an exact scan
	NeighborFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lcm_neighbor_fallbacks_total",
			Help: "Approximate index queries completed by an exact scan",
		},
	)

	// PrunedUnitsTotal counts units rejected by diameter pruning
	PrunedUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcm_pruned_units_total",
			Help: "Units whose match group exceeded the diameter threshold",
		},
		[]string{"arm"},
	)

	// UnitsEstimatedTotal counts per-unit estimates produced
	UnitsEstimatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcm_units_estimated_total",
			Help: "Per-unit CATE estimates produced by method",
		},
		[]string{"method"},
	)

	// EstimationFailuresTotal counts recovered per-unit failures
	EstimationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcm_estimation_failures_total",
			Help: "Per-unit estimation failures recorded as missing",
		},
		[]string{"method", "reason"},
	)

	// CollaboratorFailuresTotal counts prediction source failures
	CollaboratorFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lcm_collaborator_failures_total",
			Help: "Failures raised by external prediction sources",
		},
	)

	// AggregatedUnits tracks units present in the last aggregation
	AggregatedUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lcm_aggregated_units",
			Help: "Number of units in the most recent aggregated result",
		},
	)

	// ArtifactWriteDurationSeconds measures writing one output artifact
	ArtifactWriteDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lcm_artifact_write_duration_seconds",
			Help:    "Duration of writing an output artifact",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"artifact"},
	)

	// ArtifactSizeBytes tracks the size of written artifacts
	ArtifactSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lcm_artifact_size_bytes",
			Help:    "Size of written output artifacts",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"artifact"},
	)

	// SourceBreakerState is the state of each guarded prediction source
	// (0 closed, 1 open, 2 half-open).
	SourceBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lcm_source_breaker_state",
			Help: "State of the breaker guarding a prediction source",
		},
		[]string{"source"},
	)
)
