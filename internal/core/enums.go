package core

import "fmt"

// DistanceMetric defines the distance metric used when matching units.
type DistanceMetric string

const (
	// MetricEuclidean is the default L2 distance (lower is closer).
	MetricEuclidean DistanceMetric = "euclidean"
	// MetricManhattan is the L1 distance.
	MetricManhattan DistanceMetric = "manhattan"
	// MetricChebyshev is the L-infinity distance.
	MetricChebyshev DistanceMetric = "chebyshev"
	// MetricCosine is the Cosine distance (1.0 - cosine_similarity).
	MetricCosine DistanceMetric = "cosine"
)

// ParseDistanceMetric validates a metric name. Empty means Euclidean.
func ParseDistanceMetric(s string) (DistanceMetric, error) {
	switch DistanceMetric(s) {
	case "":
		return MetricEuclidean, nil
	case MetricEuclidean, MetricManhattan, MetricChebyshev, MetricCosine:
		return DistanceMetric(s), nil
	}
	return "", fmt.Errorf("%w: unknown distance metric %q", ErrInvalidArgument, s)
}

// IndexKind selects the nearest-neighbour index used per arm.
type IndexKind string

const (
	// IndexKDTree is an exact k-d tree (Euclidean only).
	IndexKDTree IndexKind = "kdtree"
	// IndexBrute is an exact linear scan usable with every metric.
	IndexBrute IndexKind = "brute"
	// IndexHNSW is an approximate navigable small-world graph.
	IndexHNSW IndexKind = "hnsw"
)

// ParseIndexKind validates an index name. Empty means k-d tree.
func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(s) {
	case "":
		return IndexKDTree, nil
	case IndexKDTree, IndexBrute, IndexHNSW:
		return IndexKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown index kind %q", ErrInvalidArgument, s)
}

// MatchingSpace selects the coordinates match groups are built in.
type MatchingSpace string

const (
	// MatchCovariates matches on the weighted covariates.
	MatchCovariates MatchingSpace = "covariates"
	// MatchPrognostic matches on the predicted control outcome.
	MatchPrognostic MatchingSpace = "prognostic"
	// MatchDoublePrognostic matches on the predicted control and treated
	// outcomes.
	MatchDoublePrognostic MatchingSpace = "double_prognostic"
)

// ParseMatchingSpace validates a matching space name. Empty means covariates.
func ParseMatchingSpace(s string) (MatchingSpace, error) {
	switch MatchingSpace(s) {
	case "":
		return MatchCovariates, nil
	case MatchCovariates, MatchPrognostic, MatchDoublePrognostic:
		return MatchingSpace(s), nil
	}
	return "", fmt.Errorf("%w: unknown matching space %q", ErrInvalidArgument, s)
}
