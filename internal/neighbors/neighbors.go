// Package neighbors provides exact and approximate k-nearest-neighbour
// indexes over the points of one treatment arm.
package neighbors

import (
	"fmt"
	"sort"

	"github.com/23skdu/lcm/internal/core"
	lcmerrors "github.com/23skdu/lcm/internal/errors"
)

// Neighbor is one search hit. Row is the position of the point in the slice
// the index was built from.
type Neighbor struct {
	Row  int
	ID   core.UnitID
	Dist float64
}

// Index answers k-nearest-neighbour queries. Implementations are read-only
// after construction and safe for concurrent Search calls.
type Index interface {
	// Search returns exactly min(k, Len()) neighbours sorted by
	// non-decreasing distance, ties broken by row.
	Search(q []float64, k int) []Neighbor
	Len() int
	Kind() core.IndexKind
}

// Options tunes index construction.
type Options struct {
	// Seed makes approximate graph construction reproducible.
	Seed int64
	// HNSWM is the graph degree of the approximate index.
	HNSWM int
	// HNSWEfSearch is the candidate list size of the approximate index.
	HNSWEfSearch int
}

// New builds an index of the requested kind over points. ids[i] labels
// points[i].
func New(kind core.IndexKind, metric core.DistanceMetric, points [][]float64, ids []core.UnitID, opts Options) (Index, error) {
	if len(points) != len(ids) {
		return nil, lcmerrors.NewDataContractError("neighbors.New",
			fmt.Sprintf("%d points but %d ids", len(points), len(ids)))
	}
	dist, err := distanceFunc(metric)
	if err != nil {
		return nil, err
	}

	switch kind {
	case core.IndexKDTree, "":
		if metric != core.MetricEuclidean && metric != "" {
			return nil, lcmerrors.NewConfigurationError("neighbors.New",
				fmt.Sprintf("k-d tree supports only the euclidean metric, got %q", metric))
		}
		return NewKDTree(points, ids), nil
	case core.IndexBrute:
		return NewBrute(points, ids, dist), nil
	case core.IndexHNSW:
		if metric != core.MetricEuclidean && metric != core.MetricCosine && metric != "" {
			return nil, lcmerrors.NewConfigurationError("neighbors.New",
				fmt.Sprintf("hnsw supports euclidean and cosine metrics, got %q", metric))
		}
		return NewHNSW(points, ids, metric, opts), nil
	}
	return nil, lcmerrors.NewConfigurationError("neighbors.New", fmt.Sprintf("unknown index kind %q", kind))
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(a, b int) bool {
		if ns[a].Dist != ns[b].Dist {
			return ns[a].Dist < ns[b].Dist
		}
		return ns[a].Row < ns[b].Row
	})
}
