package neighbors

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// queryChunk is the number of queries handled by one task.
const queryChunk = 256

// QueryAll searches idx for the k nearest neighbours of every query. Work is
// split in chunks over at most workers goroutines; workers <= 0 means
// GOMAXPROCS. The result is aligned with queries.
func QueryAll(ctx context.Context, idx Index, queries [][]float64, k, workers int) ([][]Neighbor, error) {
	out := make([][]Neighbor, len(queries))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(queries); start += queryChunk {
		s, e := start, min(start+queryChunk, len(queries))
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			for i := s; i < e; i++ {
				out[i] = idx.Search(queries[i], k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
