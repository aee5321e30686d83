package neighbors

// maxHeap is a fixed-capacity max-heap keeping the k closest candidates seen
// so far; the farthest is at the root.
type maxHeap struct {
	items []Neighbor
	size  int
	cap   int
}

func newMaxHeap(capacity int) *maxHeap {
	return &maxHeap{
		items: make([]Neighbor, capacity),
		cap:   capacity,
	}
}

// offer keeps c if the heap has room or c beats the current farthest.
func (h *maxHeap) offer(c Neighbor) {
	if h.cap == 0 {
		return
	}
	if h.size < h.cap {
		h.items[h.size] = c
		h.size++
		h.bubbleUp(h.size - 1)
		return
	}
	if !farther(h.items[0], c) {
		return
	}
	h.items[0] = c
	h.bubbleDown(0)
}

func (h *maxHeap) Len() int {
	return h.size
}

// drain returns the kept items sorted nearest first.
func (h *maxHeap) drain() []Neighbor {
	out := make([]Neighbor, h.size)
	copy(out, h.items[:h.size])
	sortNeighbors(out)
	h.size = 0
	return out
}

// farther orders by distance, then row, so results are deterministic.
func farther(a, b Neighbor) bool {
	if a.Dist != b.Dist {
		return a.Dist > b.Dist
	}
	return a.Row > b.Row
}

func (h *maxHeap) bubbleUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !farther(h.items[idx], h.items[parent]) {
			break
		}
		h.items[idx], h.items[parent] = h.items[parent], h.items[idx]
		idx = parent
	}
}

func (h *maxHeap) bubbleDown(idx int) {
	for {
		left := 2*idx + 1
		right := 2*idx + 2
		largest := idx

		if left < h.size && farther(h.items[left], h.items[largest]) {
			largest = left
		}
		if right < h.size && farther(h.items[right], h.items[largest]) {
			largest = right
		}
		if largest == idx {
			break
		}
		h.items[idx], h.items[largest] = h.items[largest], h.items[idx]
		idx = largest
	}
}
