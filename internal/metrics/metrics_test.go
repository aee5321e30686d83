package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsInitialization(t *testing.T) {
	assert.NotNil(t, FoldsTotal)
	assert.NotNil(t, FoldDurationSeconds)
	assert.NotNil(t, FoldStageDurationSeconds)
	assert.NotNil(t, MatchGroupBuildSeconds)
	assert.NotNil(t, NeighborFallbacksTotal)
	assert.NotNil(t, PrunedUnitsTotal)
	assert.NotNil(t, UnitsEstimatedTotal)
	assert.NotNil(t, EstimationFailuresTotal)
	assert.NotNil(t, CollaboratorFailuresTotal)
	assert.NotNil(t, AggregatedUnits)
	assert.NotNil(t, ArtifactWriteDurationSeconds)
	assert.NotNil(t, ArtifactSizeBytes)
	assert.NotNil(t, SourceBreakerState)
}

func TestCounterLabels(t *testing.T) {
	before := testutil.ToFloat64(EstimationFailuresTotal.WithLabelValues("linear", "degenerate"))
	EstimationFailuresTotal.WithLabelValues("linear", "degenerate").Inc()
	after := testutil.ToFloat64(EstimationFailuresTotal.WithLabelValues("linear", "degenerate"))
	assert.Equal(t, before+1, after)
}
