package index

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelQueries runs fn for every query index 0..n-1.
//
// numThreads <= 0 uses GOMAXPROCS workers and 1 runs sequentially on the
// calling goroutine. The first error cancels the remaining work.
func ParallelQueries(ctx context.Context, numThreads, n int, fn func(ctx context.Context, i int) error) error {
	if numThreads <= 0 {
		numThreads = runtime.GOMAXPROCS(0)
	}

	if numThreads == 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numThreads)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}

	return g.Wait()
}
