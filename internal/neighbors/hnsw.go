package neighbors

import (
	"math/rand"

	"github.com/23skdu/lcm/internal/core"
	"github.com/23skdu/lcm/internal/metrics"
	"github.com/coder/hnsw"
)

const (
	defaultHNSWM        = 16
	defaultHNSWEfSearch = 64
)

// HNSW is an approximate index backed by a navigable small-world graph.
// Candidates are re-ranked with exact float64 distances, and a query that
// yields fewer than k distinct hits is answered by an exact scan instead.
type HNSW struct {
	graph *hnsw.Graph[int]
	exact *Brute
	dist  DistanceFunc
}

// NewHNSW builds the graph. Cosine uses the graph's cosine distance, every
// other metric the Euclidean one.
func NewHNSW(points [][]float64, ids []core.UnitID, metric core.DistanceMetric, opts Options) *HNSW {
	g := hnsw.NewGraph[int]()
	g.M = opts.HNSWM
	if g.M <= 0 {
		g.M = defaultHNSWM
	}
	g.EfSearch = opts.HNSWEfSearch
	if g.EfSearch <= 0 {
		g.EfSearch = defaultHNSWEfSearch
	}
	g.Rng = rand.New(rand.NewSource(opts.Seed))

	dist := Euclidean
	g.Distance = hnsw.EuclideanDistance
	if metric == core.MetricCosine {
		dist = Cosine
		g.Distance = hnsw.CosineDistance
	}

	nodes := make([]hnsw.Node[int], len(points))
	for i, p := range points {
		nodes[i] = hnsw.MakeNode(i, toFloat32(p))
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}

	return &HNSW{
		graph: g,
		exact: NewBrute(points, ids, dist),
		dist:  dist,
	}
}

func (h *HNSW) Search(q []float64, k int) []Neighbor {
	if k > h.exact.Len() {
		k = h.exact.Len()
	}
	if k <= 0 {
		return nil
	}

	hits := h.graph.Search(toFloat32(q), k)
	seen := make(map[int]struct{}, len(hits))
	out := make([]Neighbor, 0, k)
	for _, n := range hits {
		if _, dup := seen[n.Key]; dup {
			continue
		}
		seen[n.Key] = struct{}{}
		out = append(out, Neighbor{
			Row:  n.Key,
			ID:   h.exact.ids[n.Key],
			Dist: h.dist(q, h.exact.points[n.Key]),
		})
	}
	if len(out) < k {
		metrics.NeighborFallbacksTotal.Inc()
		return h.exact.Search(q, k)
	}
	sortNeighbors(out)
	return out[:k]
}

func (h *HNSW) Len() int { return h.exact.Len() }

func (h *HNSW) Kind() core.IndexKind { return core.IndexHNSW }

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
