// Package exact implements the brute-force reference index.
//
// It is always available and serves as the correctness oracle for the other
// adapters: search is an exact linear scan over every stored vector.
package exact

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecswitch/distance"
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/internal/partition"
	"github.com/hupe1980/vecswitch/metric"
)

// Policy supports every metric natively.
var Policy = metric.All(index.EngineExact)

// Index is an exact k-NN index. MaxElements is -1 (unbounded).
type Index struct {
	space  metric.Space
	dim    int
	params index.Params
	logger *slog.Logger

	mu      sync.RWMutex
	ids     []int64
	pos     map[int64]int
	vectors [][]float32
	parts   partition.Sets
	closed  bool

	// fitted holds the search matrix; cosine rows are normalized.
	// It is rebuilt on the first search after any insert.
	fitted [][]float32
	dirty  bool
}

// New creates an empty exact index.
func New(_ context.Context, space metric.Space, dim int, params index.Params) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("exact: invalid dimension %d", dim)
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
		logger: params.Logger.With("engine", index.EngineExact),
		pos:    make(map[int64]int),
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
func (x *Index) Engine() string { return index.EngineExact }

// Space implements index.Index.
func (x *Index) Space() metric.Space { return x.space }

// Dimension implements index.Index.
func (x *Index) Dimension() int { return x.dim }

// MaxElements implements index.Index.
func (x *Index) MaxElements() int { return -1 }

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

	for i, v := range vectors {
		vec := make([]float32, x.dim)
		copy(vec, v)

		id := ids[i]
		if p, ok := x.pos[id]; ok {
			x.vectors[p] = vec
		} else {
			x.pos[id] = len(x.ids)
			x.ids = append(x.ids, id)
			x.vectors = append(x.vectors, vec)
		}
		x.parts.Assign(partition, id)
	}
	x.dirty = true

	return nil
}

// GetItems implements index.Index. It returns nil for an empty index.
func (x *Index) GetItems(_ context.Context, ids []int64) ([][]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, index.ErrClosed
	}
	if len(x.ids) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(ids))
	for i, id := range ids {
		p, ok := x.pos[id]
		if !ok {
			return nil, &index.ErrItemNotFound{ID: id}
		}
		out[i] = append([]float32(nil), x.vectors[p]...)
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

	if err := x.fit(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, index.ErrClosed
	}

	out := index.EmptyResults(len(queries))
	if len(x.ids) == 0 {
		return out, nil
	}

	filter := x.parts.Filter(partition)

	err := index.ParallelQueries(ctx, x.params.NumThreads, len(queries), func(_ context.Context, qi int) error {
		out[qi] = x.scan(queries[qi], k, filter)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (x *Index) scan(q []float32, k int, filter func(int64) bool) []index.Result {
	if x.space == metric.Cosine {
		q, _ = distance.NormalizeL2Copy(q)
	}

	top := index.NewTopK(k, false)
	for p, v := range x.fitted {
		id := x.ids[p]
		if filter != nil && !filter(id) {
			continue
		}
		top.Push(index.Result{ID: id, Score: x.score(q, v)})
	}
	return top.Results()
}

func (x *Index) score(q, v []float32) float32 {
	switch x.space {
	case metric.Euclidean:
		return distance.L2(q, v)
	default:
		// Cosine rows and queries are normalized.
		return 1 - distance.Dot(q, v)
	}
}

// fit rebuilds the search matrix when items changed since the last fit.
func (x *Index) fit() error {
	x.mu.RLock()
	dirty := x.dirty
	x.mu.RUnlock()

	if !dirty {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return index.ErrClosed
	}
	if !x.dirty {
		return nil
	}

	fitted := x.vectors
	if x.space == metric.Cosine {
		fitted = make([][]float32, len(x.vectors))
		for i, v := range x.vectors {
			fitted[i], _ = distance.NormalizeL2Copy(v)
		}
	}

	x.fitted = fitted
	x.dirty = false
	x.logger.Debug("fitted", "count", len(fitted))

	return nil
}

// Count implements index.Index.
func (x *Index) Count(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0, index.ErrClosed
	}
	return len(x.ids), nil
}

// Save implements index.Index.
func (x *Index) Save(ctx context.Context, path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return index.ErrClosed
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, x.ids); err != nil {
		return err
	}
	for _, v := range x.vectors {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	parts, err := x.parts.MarshalBinary()
	if err != nil {
		return err
	}

	h := index.SnapshotHeader{
		Engine:    index.EngineExact,
		Space:     x.space,
		Dimension: x.dim,
		Count:     len(x.ids),
		Capacity:  -1,
	}

	return index.WriteSnapshot(ctx, x.params.SnapshotStore(), path, h, index.JoinSections(buf.Bytes(), parts), x.params.Compression)
}

// Load implements index.Index. It replaces the current contents.
func (x *Index) Load(ctx context.Context, path string) error {
	h, payload, err := index.ReadSnapshot(ctx, x.params.SnapshotStore(), path, index.EngineExact)
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

	body := sections[0]
	if len(body) != h.Count*(8+4*x.dim) {
		return fmt.Errorf("%w: payload size %d for %d items", index.ErrInvalidSnapshot, len(body), h.Count)
	}

	r := bytes.NewReader(body)
	ids := make([]int64, h.Count)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return fmt.Errorf("%w: %w", index.ErrInvalidSnapshot, err)
	}

	vectors := make([][]float32, h.Count)
	pos := make(map[int64]int, h.Count)
	for i := range vectors {
		v := make([]float32, x.dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: %w", index.ErrInvalidSnapshot, err)
		}
		vectors[i] = v
		pos[ids[i]] = i
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

	x.ids, x.vectors, x.pos, x.parts = ids, vectors, pos, parts
	x.fitted, x.dirty = nil, true

	return nil
}

// Close implements index.Index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.closed = true
	x.ids, x.vectors, x.fitted, x.pos = nil, nil, nil, nil
	return nil
}

var (
	_ index.Index       = (*Index)(nil)
	_ index.Partitioner = (*Index)(nil)
)
