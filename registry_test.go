package vecswitch

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/hupe1980/vecswitch/testutil"
)

func TestLookup(t *testing.T) {
	all := DetectWithout()

	tests := []struct {
		name     string
		engine   string
		fallback bool
	}{
		{"sklearn", index.EngineExact, false},
		{"BruteForce", index.EngineExact, false},
		{"hnswlib", index.EngineHNSW, false},
		{" HNSW ", index.EngineHNSW, false},
		{"faiss", index.EngineFlat, false},
		{"FlatFaiss", index.EngineFlat, false},
		{"redis", index.EngineRedis, false},
		{"RediSearch", index.EngineRedis, false},
		{"qdrant", index.EngineQdrant, false},
		{"annoy", index.EngineExact, true},
		{"", index.EngineExact, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Lookup(tt.name, all)
			assert.Equal(t, tt.engine, r.Engine)
			assert.Equal(t, tt.fallback, r.Fallback)
			assert.Equal(t, tt.name, r.Requested)
			assert.NotNil(t, r.Constructor)
		})
	}
}

func TestLookupUnavailable(t *testing.T) {
	f := NewFeatures(index.EngineFlat)

	r := Lookup("hnswlib", f)
	assert.Equal(t, index.EngineExact, r.Engine)
	assert.True(t, r.Fallback)

	r = Lookup("faiss", f)
	assert.Equal(t, index.EngineFlat, r.Engine)
	assert.False(t, r.Fallback)
}

func TestDetectWithout(t *testing.T) {
	f := DetectWithout("Redis", " qdrant", "exact")

	assert.False(t, f.Has(index.EngineRedis))
	assert.False(t, f.Has(index.EngineQdrant))
	assert.True(t, f.Has(index.EngineExact))
	assert.Equal(t, []string{index.EngineExact, index.EngineFlat, index.EngineHNSW}, f.Engines())
}

func TestDetectEnv(t *testing.T) {
	t.Setenv(DisableEnv, "hnsw,flat")

	f := Detect()
	assert.False(t, f.Has(index.EngineHNSW))
	assert.False(t, f.Has(index.EngineFlat))
	assert.True(t, f.Has(index.EngineRedis))
}

func TestFeaturesUnknownEngine(t *testing.T) {
	f := NewFeatures("annoy")
	assert.False(t, f.Has("annoy"))
	assert.Equal(t, []string{index.EngineExact}, f.Engines())
}

func TestAliases(t *testing.T) {
	a := Aliases()
	assert.Contains(t, a, "sklearn")
	assert.Contains(t, a, "redisearch")
	assert.IsIncreasing(t, a)
}

func TestResolveNeverFails(t *testing.T) {
	for _, name := range []string{"hnswlib", "faiss", "nope"} {
		c := Resolve(name, NewFeatures())
		require.NotNil(t, c)

		idx, err := c(context.Background(), metric.Cosine, 4, index.DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, index.EngineExact, idx.Engine())
		require.NoError(t, idx.Close())
	}
}

func TestOpenFallbackIsReferenceEquivalent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	testutil.RunScenario(t, func(t *testing.T, space metric.Space, dim int, params index.Params) index.Index {
		idx, err := Open(context.Background(), "hnswlib", space, dim,
			WithFeatures(NewFeatures()),
			WithParams(params),
			WithLogger(logger),
		)
		require.NoError(t, err)
		assert.Equal(t, index.EngineExact, idx.Engine())
		return idx
	})

	assert.Contains(t, buf.String(), "falling back")
	assert.Contains(t, buf.String(), "requested=hnswlib")
}

func TestOpenEngines(t *testing.T) {
	for _, name := range []string{"sklearn", "hnswlib", "faiss"} {
		t.Run(name, func(t *testing.T) {
			testutil.RunScenario(t, func(t *testing.T, space metric.Space, dim int, params index.Params) index.Index {
				idx, err := Open(context.Background(), name, space, dim,
					WithFeatures(DetectWithout()),
					WithParams(params),
				)
				require.NoError(t, err)
				assert.Equal(t, Lookup(name, DetectWithout()).Engine, idx.Engine())
				return idx
			})
		})
	}
}

func TestOpenConstructionError(t *testing.T) {
	_, err := Open(context.Background(), "redis", metric.Cosine, 4, WithFeatures(DetectWithout()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = Open(context.Background(), "faiss", metric.Space(9), 4, WithFeatures(DetectWithout()))
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestOpenInstrumented(t *testing.T) {
	mc := &BasicMetricsCollector{}

	idx, err := Open(context.Background(), "exact", metric.Euclidean, 2, WithMetricsCollector(mc))
	require.NoError(t, err)
	defer idx.Close()

	_, ok := idx.(*Instrumented)
	require.True(t, ok)

	require.NoError(t, idx.AddItems(context.Background(), [][]float32{{1, 0}}, []int64{7}))
	assert.Equal(t, int64(1), mc.GetStats().BatchInsertItems)
}
