// Package hnsw adapts the in-process HNSW graph to index.Index.
//
// The graph is allocated lazily: construction only records the declared
// capacity and hyperparameters, the first insert (or Resize) allocates, and
// later inserts grow the graph before they would overflow it.
package hnsw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecswitch/index"
	graph "github.com/hupe1980/vecswitch/internal/hnsw"
	"github.com/hupe1980/vecswitch/internal/partition"
	"github.com/hupe1980/vecswitch/metric"
)

// Policy supports every metric natively.
var Policy = metric.All(index.EngineHNSW)

// Index is a lazily allocated HNSW index.
type Index struct {
	space  metric.Space
	dim    int
	params index.Params
	logger *slog.Logger

	mu     sync.RWMutex
	cap    index.Capacity
	efc    int
	g      *graph.Graph
	parts  partition.Sets
	closed bool
}

// New records the configuration. No graph is allocated.
func New(_ context.Context, space metric.Space, dim int, params index.Params) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", dim)
	}

	res, err := Policy.Normalize(space)
	if err != nil {
		return nil, err
	}

	params = params.WithDefaults()

	return &Index{
		space:  res.Resolved,
		dim:    dim,
		params: params,
		logger: params.Logger.With("engine", index.EngineHNSW),
		cap:    index.NewCapacity(params.MaxElements),
		efc:    params.EFConstruction,
	}, nil
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
func (x *Index) Engine() string { return index.EngineHNSW }

// Space implements index.Index.
func (x *Index) Space() metric.Space { return x.space }

// Dimension implements index.Index.
func (x *Index) Dimension() int { return x.dim }

// State reports whether the graph has been allocated.
func (x *Index) State() index.State {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cap.State()
}

// MaxElements implements index.Index. It is 0 until the graph is allocated.
func (x *Index) MaxElements() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cap.Allocated()
}

// EFConstruction returns the construction candidate list size the graph
// is (or will be) built with.
func (x *Index) EFConstruction() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.g != nil {
		return x.g.Options().EFConstruction
	}
	return x.efc
}

// SetEF implements index.EFSetter. Before allocation it sets the
// construction candidate list size instead of the search one.
func (x *Index) SetEF(ef int) {
	if ef <= 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.g == nil {
		x.efc = ef
		return
	}
	x.g.SetEF(ef)
}

// Resize implements index.Resizer. An unallocated index is allocated at n.
// Requests below the current capacity are ignored.
func (x *Index) Resize(_ context.Context, n int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return index.ErrClosed
	}
	return x.apply(x.cap.PlanResize(n))
}

// apply executes a capacity plan. Callers hold the write lock.
func (x *Index) apply(plan index.Plan) error {
	switch plan.Action {
	case index.ActionAllocate:
		g, err := graph.New(x.dim, plan.Size, x.graphOptions)
		if err != nil {
			return err
		}
		x.g = g
		x.logger.Debug("allocated graph", "capacity", plan.Size, "m", x.params.M, "ef_construction", x.efc)
	case index.ActionGrow:
		if err := x.g.Resize(plan.Size); err != nil {
			return err
		}
		x.logger.Debug("resized graph", "from", x.cap.Allocated(), "to", plan.Size)
	default:
		return nil
	}

	x.cap.Commit(plan.Size)
	return nil
}

func (x *Index) graphOptions(o *graph.Options) {
	o.Space = x.space
	o.M = x.params.M
	o.EFConstruction = x.efc
	o.EF = x.params.EF
	o.Seed = x.params.RandomSeed
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
	if len(vectors) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return index.ErrClosed
	}

	count := 0
	if x.g != nil {
		count = x.g.Len()
	}
	if err := x.apply(x.cap.Plan(count, len(vectors))); err != nil {
		return err
	}

	for i, v := range vectors {
		if err := x.g.Add(v, ids[i]); err != nil {
			return fmt.Errorf("hnsw: add %d: %w", ids[i], err)
		}
		x.parts.Assign(partition, ids[i])
	}

	return nil
}

// GetItems implements index.Index. It returns nil before allocation.
func (x *Index) GetItems(_ context.Context, ids []int64) ([][]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, index.ErrClosed
	}
	if x.g == nil {
		return nil, nil
	}

	out := make([][]float32, len(ids))
	for i, id := range ids {
		v, ok := x.g.Get(id)
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
	if x.g == nil {
		return out, nil
	}

	filter := x.parts.Filter(partition)

	err := index.ParallelQueries(ctx, x.params.NumThreads, len(queries), func(_ context.Context, qi int) error {
		hits, err := x.g.Search(queries[qi], k, filter)
		if err != nil {
			return err
		}

		res := make([]index.Result, len(hits))
		for i, h := range hits {
			res[i] = index.Result{ID: h.Label, Score: h.Distance}
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
	if x.g == nil {
		return 0, nil
	}
	return x.g.Len(), nil
}

// Save implements index.Index. An unallocated index saves an empty graph
// section and loads back unallocated.
func (x *Index) Save(ctx context.Context, path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return index.ErrClosed
	}

	var (
		graphBytes []byte
		count      int
	)
	if x.g != nil {
		b, err := x.g.MarshalBinary()
		if err != nil {
			return err
		}
		graphBytes = b
		count = x.g.Len()
	}

	parts, err := x.parts.MarshalBinary()
	if err != nil {
		return err
	}

	h := index.SnapshotHeader{
		Engine:    index.EngineHNSW,
		Space:     x.space,
		Dimension: x.dim,
		Count:     count,
		Capacity:  x.cap.Allocated(),
		Attributes: map[string]string{
			"m":               fmt.Sprint(x.params.M),
			"ef_construction": fmt.Sprint(x.efc),
		},
	}

	return index.WriteSnapshot(ctx, x.params.SnapshotStore(), path, h, index.JoinSections(graphBytes, parts), x.params.Compression)
}

// Load implements index.Index. It replaces the current graph.
func (x *Index) Load(ctx context.Context, path string) error {
	h, payload, err := index.ReadSnapshot(ctx, x.params.SnapshotStore(), path, index.EngineHNSW)
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

	var g *graph.Graph
	if len(sections[0]) > 0 {
		g, err = graph.Unmarshal(sections[0], func(o *graph.Options) { o.Seed = x.params.RandomSeed })
		if err != nil {
			return fmt.Errorf("%w: %w", index.ErrInvalidSnapshot, err)
		}
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

	x.g, x.parts = g, parts
	x.cap.Reset()
	if g != nil {
		x.cap.Commit(g.MaxElements())
		x.efc = g.Options().EFConstruction
	}

	x.logger.Debug("loaded graph", "path", path, "count", h.Count, "capacity", h.Capacity)
	return nil
}

// Close implements index.Index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.closed = true
	x.g = nil
	return nil
}

var (
	_ index.Index       = (*Index)(nil)
	_ index.Resizer     = (*Index)(nil)
	_ index.EFSetter    = (*Index)(nil)
	_ index.Partitioner = (*Index)(nil)
)
