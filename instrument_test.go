package vecswitch

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/index/exact"
	"github.com/hupe1980/vecswitch/index/hnsw"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/hupe1980/vecswitch/testutil"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func TestInstrumentedConformance(t *testing.T) {
	for _, space := range []metric.Space{metric.Euclidean, metric.Cosine} {
		t.Run(space.String(), func(t *testing.T) {
			testutil.RunConformance(t, space, func(t *testing.T, space metric.Space, dim int, params index.Params) index.Index {
				idx, err := exact.New(context.Background(), space, dim, params)
				require.NoError(t, err)
				return Instrument(idx, nil, &BasicMetricsCollector{}, nil)
			}, testutil.WithMinRecall(1))
		})
	}
}

func TestInstrumentedSpans(t *testing.T) {
	ctx := context.Background()
	sr, tp := newRecorder(t)

	inner, err := exact.New(ctx, metric.Euclidean, 2, index.Params{Store: blobstore.NewMemoryStore()})
	require.NoError(t, err)

	idx := Instrument(inner, nil, nil, tp.Tracer("test"))

	require.NoError(t, idx.AddItems(ctx, [][]float32{{0, 0}, {1, 1}}, []int64{1, 2}))
	_, err = idx.Search(ctx, [][]float32{{0, 0}}, 2)
	require.NoError(t, err)
	_, err = idx.Search(ctx, [][]float32{{0, 0}}, 0)
	require.ErrorIs(t, err, index.ErrInvalidK)
	require.NoError(t, idx.Save(ctx, "snap"))

	spans := sr.Ended()
	require.Len(t, spans, 4)

	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"vecswitch.add_items", "vecswitch.search", "vecswitch.search", "vecswitch.save"}, names)

	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "exact", attrs["vecswitch.engine"])
	assert.Equal(t, "l2", attrs["vecswitch.space"])
	assert.Equal(t, "2", attrs["vecswitch.count"])
}

func TestInstrumentedMetricsAndLogs(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mc := &BasicMetricsCollector{}

	inner, err := exact.New(ctx, metric.Euclidean, 2, index.Params{Store: blobstore.NewMemoryStore()})
	require.NoError(t, err)
	idx := Instrument(inner, logger, mc, nil)

	require.NoError(t, idx.AddItems(ctx, [][]float32{{0, 0}, {1, 1}, {2, 2}}, []int64{1, 2, 3}))
	require.Error(t, idx.AddItems(ctx, [][]float32{{0}}, []int64{4}))
	_, err = idx.Search(ctx, [][]float32{{0, 0}, {1, 1}}, 1)
	require.NoError(t, err)
	require.NoError(t, idx.Save(ctx, "a"))
	require.Error(t, idx.Load(ctx, "missing"))

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.BatchInsertCount)
	assert.Equal(t, int64(3), stats.BatchInsertItems)
	assert.Equal(t, int64(1), stats.BatchInsertErrors)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(2), stats.SearchQueries)
	assert.Equal(t, int64(2), stats.SnapshotCount)
	assert.Equal(t, int64(1), stats.SnapshotErrors)

	out := buf.String()
	assert.Contains(t, out, "batch insert completed")
	assert.Contains(t, out, "batch insert failed")
	assert.Contains(t, out, "results=2")
	assert.Contains(t, out, "engine=exact")
	assert.Contains(t, out, "op=load")
}

func TestAs(t *testing.T) {
	ctx := context.Background()

	inner, err := hnsw.New(ctx, metric.Euclidean, 2, index.DefaultParams())
	require.NoError(t, err)
	idx := Instrument(Instrument(inner, nil, nil, nil), nil, nil, nil)

	r, ok := As[index.Resizer](idx)
	require.True(t, ok)
	require.NoError(t, r.Resize(ctx, 8))
	assert.Equal(t, 8, idx.MaxElements())

	_, ok = As[index.EFSetter](idx)
	assert.True(t, ok)

	_, ok = As[index.BatchWriter](idx)
	assert.False(t, ok)

	_, ok = As[index.Resizer](nil)
	assert.False(t, ok)
}
