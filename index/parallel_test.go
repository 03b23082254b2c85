package index

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelQueries(t *testing.T) {
	for _, threads := range []int{-1, 0, 1, 4} {
		out := make([]int, 100)
		err := ParallelQueries(context.Background(), threads, len(out), func(_ context.Context, i int) error {
			out[i] = i * i
			return nil
		})
		require.NoError(t, err)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}
}

func TestParallelQueriesError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int64

	err := ParallelQueries(context.Background(), 2, 50, func(_ context.Context, i int) error {
		calls.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestParallelQueriesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ParallelQueries(ctx, 1, 3, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
