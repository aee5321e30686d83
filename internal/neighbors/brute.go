package neighbors

import "github.com/23skdu/lcm/internal/core"

// Brute is an exact linear-scan index usable with any metric.
type Brute struct {
	points [][]float64
	ids    []core.UnitID
	dist   DistanceFunc
}

// NewBrute builds a linear-scan index.
func NewBrute(points [][]float64, ids []core.UnitID, dist DistanceFunc) *Brute {
	if dist == nil {
		dist = Euclidean
	}
	return &Brute{points: points, ids: ids, dist: dist}
}

func (b *Brute) Search(q []float64, k int) []Neighbor {
	if k > len(b.points) {
		k = len(b.points)
	}
	h := newMaxHeap(k)
	for i, p := range b.points {
		h.offer(Neighbor{Row: i, ID: b.ids[i], Dist: b.dist(q, p)})
	}
	return h.drain()
}

func (b *Brute) Len() int { return len(b.points) }

func (b *Brute) Kind() core.IndexKind { return core.IndexBrute }
