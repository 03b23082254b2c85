package exact

import (
	"context"
	"testing"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/hupe1980/vecswitch/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, space metric.Space, dim int, params index.Params) index.Index {
	t.Helper()

	idx, err := Constructor(context.Background(), space, dim, params)
	require.NoError(t, err)
	return idx
}

func TestConformance(t *testing.T) {
	for _, space := range []metric.Space{metric.Euclidean, metric.Cosine, metric.InnerProduct} {
		t.Run(space.String(), func(t *testing.T) {
			testutil.RunConformance(t, space, newIndex, testutil.WithMinRecall(1))
		})
	}
}

func TestScenario(t *testing.T) {
	testutil.RunScenario(t, newIndex)
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), metric.Euclidean, 0, index.Params{})
	assert.Error(t, err)

	_, err = New(context.Background(), metric.Space(42), 4, index.Params{})
	assert.ErrorIs(t, err, index.ErrUnsupportedMetric)
}

func TestRefitAfterInsert(t *testing.T) {
	ctx := context.Background()

	idx, err := New(ctx, metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	require.NoError(t, idx.AddItems(ctx, [][]float32{{5, 5}}, []int64{1}))

	res, err := idx.Search(ctx, [][]float32{{0, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res[0][0].ID)

	require.NoError(t, idx.AddItems(ctx, [][]float32{{0, 1}}, []int64{2}))

	res, err = idx.Search(ctx, [][]float32{{0, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []index.Result{{ID: 2, Score: 1}}, res[0])
}

func TestScoresPerMetric(t *testing.T) {
	ctx := context.Background()
	q := [][]float32{{1, 0}}

	tests := []struct {
		space metric.Space
		want  float32
	}{
		{metric.Euclidean, 1},
		{metric.Cosine, 0},
		{metric.InnerProduct, -1},
	}

	for _, tt := range tests {
		t.Run(tt.space.String(), func(t *testing.T) {
			idx, err := New(ctx, tt.space, 2, index.Params{})
			require.NoError(t, err)
			require.NoError(t, idx.AddItems(ctx, [][]float32{{2, 0}}, []int64{7}))

			res, err := idx.Search(ctx, q, 1)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res[0][0].Score, 1e-6)
		})
	}
}

func TestOverwriteMovesPartition(t *testing.T) {
	ctx := context.Background()

	idx, err := New(ctx, metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	require.NoError(t, idx.AddItemsPartition(ctx, "a", [][]float32{{0, 0}}, []int64{1}))
	require.NoError(t, idx.AddItemsPartition(ctx, "b", [][]float32{{1, 1}}, []int64{1}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := idx.SearchPartition(ctx, "a", [][]float32{{0, 0}}, 1)
	require.NoError(t, err)
	assert.Empty(t, res[0])

	res, err = idx.SearchPartition(ctx, "b", [][]float32{{0, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res[0][0].ID)
}

func TestLoadRejectsOtherEngineAndShape(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src, err := New(ctx, metric.Euclidean, 2, index.Params{Store: store})
	require.NoError(t, err)
	require.NoError(t, src.AddItems(ctx, [][]float32{{1, 2}}, []int64{1}))
	require.NoError(t, src.Save(ctx, "idx"))

	other, err := New(ctx, metric.Euclidean, 3, index.Params{Store: store})
	require.NoError(t, err)
	assert.ErrorIs(t, other.Load(ctx, "idx"), index.ErrInvalidSnapshot)

	require.NoError(t, index.WriteSnapshot(ctx, store, "hnsw", index.SnapshotHeader{Engine: index.EngineHNSW}, nil, index.CompressionNone))
	assert.ErrorIs(t, src.Load(ctx, "hnsw"), index.ErrEngineMismatch)
}

func TestSaveCompressed(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	for _, c := range []index.Compression{index.CompressionLZ4, index.CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			src, err := New(ctx, metric.Cosine, 4, index.Params{Store: store, Compression: c})
			require.NoError(t, err)

			vectors := testutil.NewRNG(1).UniformVectors(100, 4)
			require.NoError(t, src.AddItems(ctx, vectors, testutil.SequentialIDs(0, 100)))
			require.NoError(t, src.Save(ctx, c.String()))

			dst, err := New(ctx, metric.Cosine, 4, index.Params{Store: store})
			require.NoError(t, err)
			require.NoError(t, dst.Load(ctx, c.String()))

			got, err := dst.GetItems(ctx, []int64{42})
			require.NoError(t, err)
			assert.Equal(t, vectors[42], got[0])
		})
	}
}
