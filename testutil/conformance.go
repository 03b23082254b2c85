package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewIndexFunc builds a fresh, empty index for one conformance case.
type NewIndexFunc func(t *testing.T, space metric.Space, dim int, params index.Params) index.Index

// ConformanceOptions tunes RunConformance for engine-specific behavior.
type ConformanceOptions struct {
	// Dim and Count size the dataset.
	Dim   int
	Count int
	// K is the number of neighbours requested per query.
	K int
	// Tolerance bounds per-component error of GetItems (quantized engines).
	Tolerance float32
	// MinRecall is the required recall@K against brute force.
	MinRecall float64
	// Descending is set when higher scores rank first.
	Descending bool
	// NilMissing is set when GetItems returns nil slots instead of ErrNotFound.
	NilMissing bool
	// SkipCount is set when Count returns ErrNotImplemented.
	SkipCount bool
	// SkipPersistence disables the Save/Load round trip.
	SkipPersistence bool
	// Seed drives the dataset.
	Seed int64
}

// WithTolerance sets the GetItems tolerance.
func WithTolerance(tol float32) func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.Tolerance = tol }
}

// WithMinRecall sets the minimum recall.
func WithMinRecall(r float64) func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.MinRecall = r }
}

// WithDescending marks scores as similarities.
func WithDescending() func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.Descending = true }
}

// WithNilMissing expects nil slots for missing ids.
func WithNilMissing() func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.NilMissing = true }
}

// WithoutCount skips Count checks.
func WithoutCount() func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.SkipCount = true }
}

// WithoutPersistence skips the Save/Load round trip.
func WithoutPersistence() func(o *ConformanceOptions) {
	return func(o *ConformanceOptions) { o.SkipPersistence = true }
}

// RunConformance checks the index contract for one metric space.
func RunConformance(t *testing.T, space metric.Space, newIndex NewIndexFunc, optFns ...func(o *ConformanceOptions)) {
	t.Helper()

	opts := ConformanceOptions{
		Dim:       8,
		Count:     60,
		K:         5,
		MinRecall: 0.9,
		Seed:      4711,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ctx := context.Background()
	rng := NewRNG(opts.Seed)
	vectors := rng.UniformRangeVectors(opts.Count, opts.Dim)
	ids := SequentialIDs(1, opts.Count)
	queries := rng.UniformRangeVectors(4, opts.Dim)

	params := func(maxElements int) index.Params {
		p := index.DefaultParams()
		p.MaxElements = maxElements
		p.Store = blobstore.NewMemoryStore()
		return p
	}

	fill := func(t *testing.T, idx index.Index, batch int) {
		for start := 0; start < len(vectors); start += batch {
			end := min(start+batch, len(vectors))
			require.NoError(t, idx.AddItems(ctx, vectors[start:end], ids[start:end]))
		}
	}

	t.Run("Uninitialized", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		defer idx.Close()

		if !opts.SkipCount {
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		}

		res, err := idx.Search(ctx, queries, opts.K)
		require.NoError(t, err)
		require.Len(t, res, len(queries))
		for _, r := range res {
			assert.Empty(t, r)
		}

		items, err := idx.GetItems(ctx, ids[:2])
		require.NoError(t, err)
		for _, v := range items {
			assert.Nil(t, v)
		}
	})

	t.Run("AddAndGet", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		defer idx.Close()

		fill(t, idx, len(vectors))

		if !opts.SkipCount {
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, opts.Count, n)
		}

		// Request order is preserved.
		want := []int64{ids[5], ids[0], ids[len(ids)-1]}
		got, err := idx.GetItems(ctx, want)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i, id := range want {
			assertVector(t, vectors[id-1], got[i], opts.Tolerance)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		defer idx.Close()

		fill(t, idx, len(vectors))

		got, err := idx.GetItems(ctx, []int64{ids[0], 1 << 40})
		if opts.NilMissing {
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.NotNil(t, got[0])
			assert.Nil(t, got[1])
			return
		}

		require.ErrorIs(t, err, index.ErrNotFound)
		var notFound *index.ErrItemNotFound
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, int64(1<<40), notFound.ID)
	})

	t.Run("Search", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		defer idx.Close()

		fill(t, idx, 16)

		res, err := idx.Search(ctx, queries, opts.K)
		require.NoError(t, err)
		require.Len(t, res, len(queries))

		var recall float64
		for qi, r := range res {
			require.LessOrEqual(t, len(r), opts.K)
			assertOrdered(t, r, opts.Descending)
			for _, hit := range r {
				assert.True(t, hit.ID >= 1 && hit.ID <= int64(opts.Count), "unknown id %d", hit.ID)
			}
			recall += ComputeRecall(ExactTopK(queries[qi], vectors, ids, opts.K, space), r)
		}
		recall /= float64(len(queries))
		assert.GreaterOrEqual(t, recall, opts.MinRecall)

		again, err := idx.Search(ctx, queries, opts.K)
		require.NoError(t, err)
		assert.Equal(t, res, again)

		// k larger than the collection.
		res, err = idx.Search(ctx, queries[:1], opts.Count*2)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res[0]), opts.Count)
	})

	t.Run("Growth", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(10))
		defer idx.Close()

		fill(t, idx, 7)

		if !opts.SkipCount {
			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, opts.Count, n)
		}
		if m := idx.MaxElements(); m != -1 {
			assert.GreaterOrEqual(t, m, opts.Count)
		}

		got, err := idx.GetItems(ctx, ids[:3])
		require.NoError(t, err)
		for i := range got {
			assertVector(t, vectors[i], got[i], opts.Tolerance)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		defer idx.Close()

		bad := [][]float32{vectors[0], make([]float32, opts.Dim+1)}
		err := idx.AddItems(ctx, bad, ids[:2])
		var dimErr *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, opts.Dim, dimErr.Expected)

		err = idx.AddItems(ctx, vectors[:2], ids[:1])
		require.ErrorIs(t, err, index.ErrLengthMismatch)

		// Nothing from the rejected batches landed.
		items, err := idx.GetItems(ctx, ids[:1])
		if opts.NilMissing {
			require.NoError(t, err)
			assert.Nil(t, items[0])
		} else if err == nil {
			assert.Nil(t, items)
		}

		fill(t, idx, len(vectors))

		_, err = idx.Search(ctx, queries, 0)
		require.ErrorIs(t, err, index.ErrInvalidK)

		_, err = idx.Search(ctx, [][]float32{{1}}, 1)
		require.ErrorAs(t, err, &dimErr)
	})

	if idx := newIndex(t, space, opts.Dim, params(0)); isPartitioner(idx) {
		t.Run("Partitions", func(t *testing.T) {
			defer idx.Close()
			p := idx.(index.Partitioner)

			half := opts.Count / 2
			require.NoError(t, p.AddItemsPartition(ctx, "a", vectors[:half], ids[:half]))
			require.NoError(t, p.AddItemsPartition(ctx, "b", vectors[half:], ids[half:]))

			res, err := p.SearchPartition(ctx, "a", queries, opts.K)
			require.NoError(t, err)
			for _, r := range res {
				require.NotEmpty(t, r)
				for _, hit := range r {
					assert.LessOrEqual(t, hit.ID, int64(half))
				}
			}

			res, err = p.SearchPartition(ctx, "", queries[:1], opts.Count)
			require.NoError(t, err)
			assert.Len(t, res[0], opts.Count)

			res, err = p.SearchPartition(ctx, "missing", queries[:1], opts.K)
			require.NoError(t, err)
			assert.Empty(t, res[0])
		})
	} else {
		require.NoError(t, idx.Close())
	}

	if !opts.SkipPersistence {
		t.Run("Persistence", func(t *testing.T) {
			p := params(0)

			idx := newIndex(t, space, opts.Dim, p)
			fill(t, idx, len(vectors))

			path := fmt.Sprintf("snapshots/%s-%s", idx.Engine(), space)
			require.NoError(t, idx.Save(ctx, path))

			want, err := idx.Search(ctx, queries, opts.K)
			require.NoError(t, err)
			require.NoError(t, idx.Close())

			restored := newIndex(t, space, opts.Dim, p)
			defer restored.Close()
			require.NoError(t, restored.Load(ctx, path))

			if !opts.SkipCount {
				n, err := restored.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, opts.Count, n)
			}

			got, err := restored.Search(ctx, queries, opts.K)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			err = restored.Load(ctx, "snapshots/missing")
			assert.Error(t, err)
		})
	}

	t.Run("Close", func(t *testing.T) {
		idx := newIndex(t, space, opts.Dim, params(0))
		fill(t, idx, len(vectors))
		require.NoError(t, idx.Close())

		_, err := idx.Search(ctx, queries, opts.K)
		assert.ErrorIs(t, err, index.ErrClosed)
		assert.ErrorIs(t, idx.AddItems(ctx, vectors[:1], ids[:1]), index.ErrClosed)
	})
}

// RunScenario inserts [0,0,0,0] and [1,1,1,1] into a capacity-2 euclidean
// index, grows it with [2,2,2,2] and checks the two nearest neighbours of the
// origin.
func RunScenario(t *testing.T, newIndex NewIndexFunc) {
	t.Helper()

	ctx := context.Background()

	p := index.DefaultParams()
	p.MaxElements = 2

	idx := newIndex(t, metric.Euclidean, 4, p)
	defer idx.Close()

	require.NoError(t, idx.AddItems(ctx, [][]float32{{0, 0, 0, 0}, {1, 1, 1, 1}}, []int64{1, 2}))
	require.NoError(t, idx.AddItems(ctx, [][]float32{{2, 2, 2, 2}}, []int64{3}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := idx.Search(ctx, [][]float32{{0, 0, 0, 0}}, 2)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0], 2)

	assert.Equal(t, int64(1), res[0][0].ID)
	assert.InDelta(t, 0.0, res[0][0].Score, 1e-5)
	assert.Equal(t, int64(2), res[0][1].ID)
	assert.InDelta(t, 2.0, res[0][1].Score, 1e-5)
}

func isPartitioner(idx index.Index) bool {
	_, ok := idx.(index.Partitioner)
	return ok
}

func assertVector(t *testing.T, want, got []float32, tol float32) {
	t.Helper()

	require.Len(t, got, len(want))
	if tol == 0 {
		assert.Equal(t, want, got)
		return
	}
	for i := range want {
		assert.InDelta(t, want[i], got[i], float64(tol))
	}
}

func assertOrdered(t *testing.T, r []index.Result, descending bool) {
	t.Helper()

	for i := 1; i < len(r); i++ {
		if descending {
			assert.GreaterOrEqual(t, r[i-1].Score, r[i].Score)
		} else {
			assert.LessOrEqual(t, r[i-1].Score, r[i].Score)
		}
	}
}
