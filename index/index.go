package index

import (
	"context"

	"github.com/hupe1980/vecswitch/metric"
)

// Engine names reported by Index.Engine.
const (
	EngineExact  = "exact"
	EngineHNSW   = "hnsw"
	EngineFlat   = "flat"
	EngineRedis  = "redis"
	EngineQdrant = "qdrant"
)

// Result is a single neighbor of a query.
type Result struct {
	// ID is the caller-assigned item identifier.
	ID int64

	// Score is the engine's distance or similarity for the item.
	Score float32
}

// Index is the operation contract shared by every backend.
//
// Search returns one result list per query. Lists hold at most k results,
// ordered best first according to the engine's score convention.
//
// An Index is not safe for concurrent AddItems. Concurrent reads on an index
// that is not being written are safe.
type Index interface {
	// Engine reports the concrete engine, so callers can detect a fallback.
	Engine() string

	// Space returns the metric space the engine actually uses.
	Space() metric.Space

	// Dimension returns the fixed vector dimensionality.
	Dimension() int

	// AddItems inserts vectors under the given ids. Existing ids are replaced.
	AddItems(ctx context.Context, vectors [][]float32, ids []int64) error

	// GetItems returns the stored vectors in request order.
	GetItems(ctx context.Context, ids []int64) ([][]float32, error)

	// Search returns up to k neighbors for every query.
	Search(ctx context.Context, queries [][]float32, k int) ([][]Result, error)

	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)

	// MaxElements returns the allocated capacity, or -1 when unbounded.
	MaxElements() int

	// Save persists the index to path in the engine's native format.
	Save(ctx context.Context, path string) error

	// Load replaces the index content with the snapshot at path.
	Load(ctx context.Context, path string) error

	// Close releases resources held by the index.
	Close() error
}

// Resizer is implemented by engines with an explicit capacity.
type Resizer interface {
	// Resize allocates the engine when it is uninitialized and grows it
	// otherwise. It never shrinks.
	Resize(ctx context.Context, n int) error
}

// EFSetter is implemented by graph engines with a tunable search breadth.
type EFSetter interface {
	SetEF(ef int)
}

// Partitioner is implemented by engines that can restrict search to a
// named partition of the items.
type Partitioner interface {
	AddItemsPartition(ctx context.Context, partition string, vectors [][]float32, ids []int64) error
	SearchPartition(ctx context.Context, partition string, queries [][]float32, k int) ([][]Result, error)
}

// Batch collects writes inside a BatchWriter scope.
type Batch interface {
	Add(partition string, vectors [][]float32, ids []int64) error
}

// BatchWriter is implemented by engines with a scoped, all-or-nothing write path.
//
// The writes added inside fn are committed together when fn returns nil and
// discarded otherwise. Only one scope may be open per index; opening a second
// one returns ErrPipelineActive.
type BatchWriter interface {
	Batch(ctx context.Context, fn func(b Batch) error) error
}

// Constructor creates an index for the given space and dimensionality.
type Constructor func(ctx context.Context, space metric.Space, dim int, params Params) (Index, error)
