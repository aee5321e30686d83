package neighbors

import (
	"math"

	"github.com/23skdu/lcm/internal/core"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is an exact Euclidean index backed by a gonum k-d tree.
type KDTree struct {
	tree *kdtree.Tree
	ids  []core.UnitID
	n    int
}

// NewKDTree builds a balanced k-d tree over points.
func NewKDTree(points [][]float64, ids []core.UnitID) *KDTree {
	pts := make(treePoints, len(points))
	for i, p := range points {
		pts[i] = treePoint{coords: p, row: i}
	}
	return &KDTree{
		tree: kdtree.New(pts, false),
		ids:  ids,
		n:    len(points),
	}
}

func (t *KDTree) Search(q []float64, k int) []Neighbor {
	if k > t.n {
		k = t.n
	}
	if k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, treePoint{coords: q, row: -1})

	out := make([]Neighbor, 0, k)
	for _, c := range keep.Heap {
		p, ok := c.Comparable.(treePoint)
		if !ok {
			continue // keeper sentinel
		}
		out = append(out, Neighbor{Row: p.row, ID: t.ids[p.row], Dist: math.Sqrt(c.Dist)})
	}
	sortNeighbors(out)
	return out
}

func (t *KDTree) Len() int { return t.n }

func (t *KDTree) Kind() core.IndexKind { return core.IndexKDTree }

// treePoint carries its row so results map back to unit ids. Distance is
// the squared Euclidean distance, as the tree's pruning rule requires.
type treePoint struct {
	coords []float64
	row    int
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return p.coords[d] - q.coords[d]
}

func (p treePoint) Dims() int { return len(p.coords) }

func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	var sum float64
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p treePoints) Len() int                              { return len(p) }
func (p treePoints) Pivot(d kdtree.Dim) int                { return plane{Dim: d, treePoints: p}.Pivot() }
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	treePoints
}

func (p plane) Less(i, j int) bool {
	return p.treePoints[i].coords[p.Dim] < p.treePoints[j].coords[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}
