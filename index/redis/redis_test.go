package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/hupe1980/vecswitch/testutil"
)

func newIndex(t *testing.T, space metric.Space, dim int, params index.Params) index.Index {
	t.Helper()

	idx, err := NewWithClient(context.Background(), newFakeClient(t), space, dim, params)
	require.NoError(t, err)
	return idx
}

func TestConformance(t *testing.T) {
	for _, space := range []metric.Space{metric.Euclidean, metric.Cosine, metric.InnerProduct} {
		t.Run(space.String(), func(t *testing.T) {
			testutil.RunConformance(t, space, newIndex,
				testutil.WithNilMissing(),
				testutil.WithoutCount(),
				testutil.WithoutPersistence(),
			)
		})
	}
}

func TestMissingCredentials(t *testing.T) {
	_, err := New(context.Background(), metric.Euclidean, 4, index.Params{})
	assert.ErrorIs(t, err, index.ErrMissingCredentials)

	_, err = New(context.Background(), metric.Euclidean, 4, index.Params{Credentials: &index.Credentials{}})
	assert.ErrorIs(t, err, index.ErrMissingCredentials)
}

func TestCreateIndexSchema(t *testing.T) {
	client := newFakeClient(t)

	_, err := NewWithClient(context.Background(), client, metric.Cosine, 3, index.Params{MaxElements: 500, M: 8, EFConstruction: 64})
	require.NoError(t, err)

	args := client.lastCall("FT.CREATE")
	require.NotNil(t, args)
	assert.Equal(t, "vecswitch", args[1])
	assert.Equal(t, 3, argAfter(args, "DIM"))
	assert.Equal(t, "COSINE", argAfter(args, "DISTANCE_METRIC"))
	assert.Equal(t, 500, argAfter(args, "INITIAL_CAP"))
	assert.Equal(t, 8, argAfter(args, "M"))
	assert.Equal(t, 64, argAfter(args, "EF_CONSTRUCTION"))
	assert.Equal(t, "TEXT", argAfter(args, fieldItemID))
	assert.Equal(t, "TAG", argAfter(args, fieldPartition))

	// A second index over the same name reuses the existing one.
	_, err = NewWithClient(context.Background(), client, metric.Cosine, 3, index.Params{})
	require.NoError(t, err)
}

func TestHashLayout(t *testing.T) {
	client := newFakeClient(t)
	ctx := context.Background()

	idx, err := NewWithClient(ctx, client, metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	require.NoError(t, idx.AddItemsPartition(ctx, "tenant-a", [][]float32{{1, 2}}, []int64{42}))

	assert.Equal(t, "42", client.mr.HGet("item:42", fieldItemID))
	assert.Equal(t, "tenant-a", client.mr.HGet("item:42", fieldPartition))
	assert.Equal(t, string(encodeVector([]float32{1, 2})), client.mr.HGet("item:42", fieldEmbedding))

	require.NoError(t, idx.AddItems(ctx, [][]float32{{3, 4}}, []int64{7}))
	assert.Equal(t, "", client.mr.HGet("item:7", fieldPartition))
}

func TestSearchScoresAsReported(t *testing.T) {
	ctx := context.Background()

	idx := newIndex(t, metric.Euclidean, 4, index.DefaultParams())
	require.NoError(t, idx.AddItems(ctx, [][]float32{{0, 0, 0, 0}, {1, 1, 1, 1}, {2, 2, 2, 2}}, []int64{1, 2, 3}))

	res, err := idx.Search(ctx, [][]float32{{0, 0, 0, 0}}, 2)
	require.NoError(t, err)

	// RediSearch reports squared L2.
	assert.Equal(t, []index.Result{{ID: 1, Score: 0}, {ID: 2, Score: 4}}, res[0])
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "*=>[KNN 5 @embedding $vec AS vector_score]", Query("", 5))
	assert.Equal(t, "(@partition:{tenant\\-a})=>[KNN 3 @embedding $vec AS vector_score]", Query("tenant-a", 3))
}

func TestSearchPartitionWithPunctuation(t *testing.T) {
	ctx := context.Background()

	idx := newIndex(t, metric.Euclidean, 2, index.DefaultParams())
	p := idx.(index.Partitioner)

	require.NoError(t, p.AddItemsPartition(ctx, "team.a b", [][]float32{{0, 0}}, []int64{1}))
	require.NoError(t, p.AddItemsPartition(ctx, "team.b", [][]float32{{0, 0}}, []int64{2}))

	res, err := p.SearchPartition(ctx, "team.a b", [][]float32{{0, 0}}, 5)
	require.NoError(t, err)
	assert.Equal(t, []index.Result{{ID: 1, Score: 0}}, res[0])
}

func TestBatchCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(t)

	idx, err := NewWithClient(ctx, client, metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	err = idx.Batch(ctx, func(b index.Batch) error {
		require.NoError(t, b.Add("", [][]float32{{1, 1}}, []int64{1}))
		require.NoError(t, b.Add("p", [][]float32{{2, 2}}, []int64{2}))

		// Nothing is visible before the scope ends.
		assert.False(t, client.mr.Exists("item:1"))
		return nil
	})
	require.NoError(t, err)

	got, err := idx.GetItems(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, got)
}

func TestBatchDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(t)

	idx, err := NewWithClient(ctx, client, metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = idx.Batch(ctx, func(b index.Batch) error {
		require.NoError(t, b.Add("", [][]float32{{1, 1}}, []int64{1}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, client.mr.Exists("item:1"))

	err = idx.Batch(ctx, func(b index.Batch) error {
		return b.Add("", [][]float32{{1, 1, 1}}, []int64{1})
	})
	var dimErr *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.False(t, client.mr.Exists("item:1"))
}

func TestBatchIsNotReentrant(t *testing.T) {
	ctx := context.Background()

	idx, err := NewWithClient(ctx, newFakeClient(t), metric.Euclidean, 2, index.Params{})
	require.NoError(t, err)

	err = idx.Batch(ctx, func(b index.Batch) error {
		return idx.Batch(ctx, func(index.Batch) error { return nil })
	})
	require.ErrorIs(t, err, index.ErrPipelineActive)

	// The scope is released afterwards.
	require.NoError(t, idx.Batch(ctx, func(index.Batch) error { return nil }))
}

func TestNotImplemented(t *testing.T) {
	ctx := context.Background()

	idx := newIndex(t, metric.Euclidean, 2, index.DefaultParams())

	_, err := idx.Count(ctx)
	assert.ErrorIs(t, err, index.ErrNotImplemented)
	assert.ErrorIs(t, idx.Save(ctx, "x"), index.ErrNotImplemented)
	assert.ErrorIs(t, idx.Load(ctx, "x"), index.ErrNotImplemented)
	assert.Equal(t, -1, idx.MaxElements())
}

func TestWriteRateLimit(t *testing.T) {
	ctx := context.Background()

	idx, err := NewWithClient(ctx, newFakeClient(t), metric.Euclidean, 2, index.Params{WriteRateLimit: 1})
	require.NoError(t, err)

	require.NoError(t, idx.AddItems(ctx, [][]float32{{1, 1}}, []int64{1}))

	// The burst is spent; a canceled context aborts the wait.
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, idx.AddItems(cctx, [][]float32{{2, 2}}, []int64{2}))

	got, err := idx.GetItems(ctx, []int64{2})
	require.NoError(t, err)
	assert.Nil(t, got[0])
}

func TestParseSearchReply(t *testing.T) {
	res, err := parseSearchReply([]any{int64(1), "item:9", []any{scoreAlias, "0.5", fieldItemID, "9"}})
	require.NoError(t, err)
	assert.Equal(t, []index.Result{{ID: 9, Score: 0.5}}, res)

	_, err = parseSearchReply(nil)
	assert.Error(t, err)

	_, err = parseSearchReply([]any{int64(1), "item:9", []any{scoreAlias, "0.5"}})
	assert.Error(t, err)
}
