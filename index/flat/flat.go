// Package flat adapts the id-mapped flat engine to index.Index.
//
// The storage layout is chosen by a factory string (Params.IndexFactory):
// "Flat" keeps raw vectors, "SQ8" and "PQ<m>" store quantized codes after a
// one-time training pass on the first search. Euclidean scores are L2
// distances (ascending); inner product scores are raw dot products
// (descending). Cosine is not native and is served as inner product on the
// vectors as given.
package flat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecswitch/index"
	engine "github.com/hupe1980/vecswitch/internal/flat"
	"github.com/hupe1980/vecswitch/internal/partition"
	"github.com/hupe1980/vecswitch/metric"
)

// Policy downgrades cosine to inner product.
var Policy = metric.Policy{
	Engine:    index.EngineFlat,
	Native:    []metric.Space{metric.InnerProduct, metric.Euclidean},
	Downgrade: map[metric.Space]metric.Space{metric.Cosine: metric.InnerProduct},
}

// Index is a flat (optionally quantized) index. MaxElements is -1.
type Index struct {
	space  metric.Space
	dim    int
	params index.Params
	logger *slog.Logger

	mu     sync.RWMutex
	e      *engine.Engine
	parts  partition.Sets
	closed bool
}

// New parses the factory string and builds an empty engine.
func New(_ context.Context, space metric.Space, dim int, params index.Params) (*Index, error) {
	res, err := Policy.Normalize(space)
	if err != nil {
		return nil, err
	}

	params = params.WithDefaults()
	logger := params.Logger.With("engine", index.EngineFlat)

	if res.Downgraded {
		logger.Warn("metric not supported, falling back", "requested", res.Requested.String(), "using", res.Resolved.String())
	}

	factory, err := engine.ParseFactory(params.IndexFactory)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(dim, res.Resolved, factory, engineOptions(params))
	if err != nil {
		return nil, err
	}

	return &Index{
		space:  res.Resolved,
		dim:    dim,
		params: params,
		logger: logger,
		e:      e,
	}, nil
}

func engineOptions(params index.Params) func(o *engine.Options) {
	return func(o *engine.Options) {
		if params.RandomSeed != nil {
			o.Seed = *params.RandomSeed
		}
	}
}

// Constructor adapts New to index.Constructor.
func Constructor(ctx context.Context, space metric.Space, dim int, params index.Params) (index.Index, error) {
	idx, err := New(ctx, space, dim, params)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Engine implements index.Index.
func (x *Index) Engine() string { return index.EngineFlat }

// Space implements index.Index. It reports the resolved metric.
func (x *Index) Space() metric.Space { return x.space }

// Dimension implements index.Index.
func (x *Index) Dimension() int { return x.dim }

// MaxElements implements index.Index.
func (x *Index) MaxElements() int { return -1 }

// Factory returns the storage layout in use.
func (x *Index) Factory() engine.Factory {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.e.Factory()
}

// AddItems implements index.Index.
func (x *Index) AddItems(ctx context.Context, vectors [][]float32, ids []int64) error {
	return x.AddItemsPartition(ctx, "", vectors, ids)
}

// AddItemsPartition implements index.Partitioner.
func (x *Index) AddItemsPartition(ctx context.Context, partition string, vectors [][]float32, ids []int64) error {
	if err := index.ValidateBatch(x.dim, vectors, ids); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return index.ErrClosed
	}

	if err := x.e.Add(vectors, ids); err != nil {
		return err
	}
	for _, id := range ids {
		x.parts.Assign(partition, id)
	}

	return nil
}

// GetItems implements index.Index. Quantized layouts return reconstructions.
func (x *Index) GetItems(_ context.Context, ids []int64) ([][]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, index.ErrClosed
	}
	if x.e.Len() == 0 {
		return nil, nil
	}

	out := make([][]float32, len(ids))
	for i, id := range ids {
		v, ok := x.e.Get(id)
		if !ok {
			return nil, &index.ErrItemNotFound{ID: id}
		}
		out[i] = v
	}
	return out, nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, queries [][]float32, k int) ([][]index.Result, error) {
	return x.SearchPartition(ctx, "", queries, k)
}

// SearchPartition implements index.Partitioner.
func (x *Index) SearchPartition(ctx context.Context, partition string, queries [][]float32, k int) ([][]index.Result, error) {
	if err := index.ValidateQueries(x.dim, queries, k); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, index.ErrClosed
	}

	out := index.EmptyResults(len(queries))
	if x.e.Len() == 0 {
		return out, nil
	}

	if f := x.e.Factory(); f.Quantized() && !x.e.Trained() {
		if err := x.e.Train(); err != nil {
			return nil, err
		}
		x.logger.Debug("trained quantizer", "factory", f.String(), "count", x.e.Len())
	}

	filter := x.parts.Filter(partition)

	err := index.ParallelQueries(ctx, x.params.NumThreads, len(queries), func(_ context.Context, qi int) error {
		hits, err := x.e.Search(queries[qi], k, filter)
		if err != nil {
			return err
		}

		res := make([]index.Result, len(hits))
		for i, h := range hits {
			res[i] = index.Result{ID: h.ID, Score: h.Score}
		}
		out[qi] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Count implements index.Index.
func (x *Index) Count(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0, index.ErrClosed
	}
	return x.e.Len(), nil
}

// Save implements index.Index.
func (x *Index) Save(ctx context.Context, path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return index.ErrClosed
	}

	body, err := x.e.MarshalBinary()
	if err != nil {
		return err
	}

	parts, err := x.parts.MarshalBinary()
	if err != nil {
		return err
	}

	h := index.SnapshotHeader{
		Engine:     index.EngineFlat,
		Space:      x.space,
		Dimension:  x.dim,
		Count:      x.e.Len(),
		Capacity:   -1,
		Attributes: map[string]string{"factory": x.e.Factory().String()},
	}

	return index.WriteSnapshot(ctx, x.params.SnapshotStore(), path, h, index.JoinSections(body, parts), x.params.Compression)
}

// Load implements index.Index. The snapshot's factory replaces the current one.
func (x *Index) Load(ctx context.Context, path string) error {
	h, payload, err := index.ReadSnapshot(ctx, x.params.SnapshotStore(), path, index.EngineFlat)
	if err != nil {
		return err
	}
	if h.Dimension != x.dim || h.Space != x.space {
		return fmt.Errorf("%w: snapshot is %v/%d, index is %v/%d", index.ErrInvalidSnapshot, h.Space, h.Dimension, x.space, x.dim)
	}

	sections, err := index.SplitSections(payload, 2)
	if err != nil {
		return err
	}

	e, err := engine.Unmarshal(sections[0], engineOptions(x.params))
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrInvalidSnapshot, err)
	}

	var parts partition.Sets
	if err := parts.UnmarshalBinary(sections[1]); err != nil {
		return fmt.Errorf("%w: %w", index.ErrInvalidSnapshot, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return index.ErrClosed
	}

	x.e, x.parts = e, parts
	return nil
}

// Close implements index.Index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.closed = true
	return nil
}

var (
	_ index.Index       = (*Index)(nil)
	_ index.Partitioner = (*Index)(nil)
)
