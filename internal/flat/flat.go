// Package flat implements an id-mapped exhaustive-scan index with optional
// scalar or product quantization.
//
// Quantized engines buffer raw vectors until Train runs (explicitly or on the
// first search). Training happens once; later inserts are encoded with the
// trained quantizer.
package flat

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hupe1980/vecswitch/distance"
	"github.com/hupe1980/vecswitch/internal/queue"
	"github.com/hupe1980/vecswitch/metric"
	"github.com/hupe1980/vecswitch/quantization"
)

const pqCentroids = 256

// ErrDimensionMismatch is returned for vectors of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options configures an Engine.
type Options struct {
	// Seed drives PQ codebook initialization.
	Seed int64
}

// DefaultOptions for New.
var DefaultOptions = Options{Seed: 1}

// Neighbor is a search hit.
type Neighbor struct {
	ID    int64
	Score float32
}

// Engine is a flat index. Euclidean scores are L2 distances (ascending);
// inner product scores are raw dot products (descending).
type Engine struct {
	dim     int
	space   metric.Space
	factory Factory
	quant   quantization.Quantizer

	ids   []int64
	pos   map[int64]int
	raw   [][]float32 // raw vectors; only populated until the quantizer is trained
	codes [][]byte

	mu sync.RWMutex
}

// New creates an engine. Only Euclidean and InnerProduct are native.
func New(dim int, space metric.Space, factory Factory, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension %d", dim)
	}
	if space != metric.Euclidean && space != metric.InnerProduct {
		return nil, fmt.Errorf("%w: %v", metric.ErrUnsupported, space)
	}

	e := &Engine{
		dim:     dim,
		space:   space,
		factory: factory,
		pos:     make(map[int64]int),
	}

	switch factory.Kind {
	case KindFlat:
	case KindSQ8:
		e.quant = quantization.NewScalarQuantizer(dim)
	case KindPQ:
		pq, err := quantization.NewProductQuantizer(dim, factory.M, pqCentroids)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFactory, err)
		}
		pq.Seed(opts.Seed)
		e.quant = pq
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedFactory, factory.Kind)
	}

	return e, nil
}

// Dimension returns the vector dimensionality.
func (e *Engine) Dimension() int { return e.dim }

// Space returns the engine metric.
func (e *Engine) Space() metric.Space { return e.space }

// Factory returns the storage layout.
func (e *Engine) Factory() Factory { return e.factory }

// Descending reports whether higher scores rank first.
func (e *Engine) Descending() bool { return e.space == metric.InnerProduct }

// Len returns the number of stored vectors.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

// Trained reports whether vectors are stored as codes.
func (e *Engine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained()
}

func (e *Engine) trained() bool {
	return e.quant != nil && e.quant.Trained()
}

// Add inserts vectors under ids. Existing ids are overwritten in place.
// Every vector is checked before anything is stored.
func (e *Engine) Add(vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return errors.New("flat: vectors and ids differ in length")
	}
	for _, v := range vectors {
		if len(v) != e.dim {
			return &ErrDimensionMismatch{Expected: e.dim, Actual: len(v)}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, v := range vectors {
		id := ids[i]

		var (
			vec  []float32
			code []byte
		)
		if e.trained() {
			code = e.quant.Encode(v)
		} else {
			vec = make([]float32, e.dim)
			copy(vec, v)
		}

		if p, ok := e.pos[id]; ok {
			if code != nil {
				e.codes[p] = code
			} else {
				e.raw[p] = vec
			}
			continue
		}

		e.pos[id] = len(e.ids)
		e.ids = append(e.ids, id)
		if code != nil {
			e.codes = append(e.codes, code)
		} else {
			e.raw = append(e.raw, vec)
		}
	}

	return nil
}

// Train fits the quantizer on the buffered vectors and encodes them.
// It is a no-op for Flat engines, trained engines and empty engines.
func (e *Engine) Train() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.quant == nil || e.quant.Trained() || len(e.raw) == 0 {
		return nil
	}

	if err := e.quant.Train(e.raw); err != nil {
		return fmt.Errorf("flat: train %s: %w", e.factory, err)
	}

	e.codes = make([][]byte, len(e.raw))
	for i, v := range e.raw {
		e.codes[i] = e.quant.Encode(v)
	}
	e.raw = nil

	return nil
}

// Get returns the stored vector for id. Quantized engines return the
// reconstruction.
func (e *Engine) Get(id int64) ([]float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.pos[id]
	if !ok {
		return nil, false
	}
	return e.vector(p), true
}

func (e *Engine) vector(p int) []float32 {
	if e.trained() {
		return e.quant.Decode(e.codes[p])
	}
	out := make([]float32, e.dim)
	copy(out, e.raw[p])
	return out
}

// IDs returns the stored ids in insertion order.
func (e *Engine) IDs() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]int64, len(e.ids))
	copy(out, e.ids)
	return out
}

// Search scans every accepted vector and returns the best k.
// Untrained quantized engines are trained first.
func (e *Engine) Search(q []float32, k int, filter func(id int64) bool) ([]Neighbor, error) {
	if len(q) != e.dim {
		return nil, &ErrDimensionMismatch{Expected: e.dim, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	if e.quant != nil && !e.Trained() {
		if err := e.Train(); err != nil {
			return nil, err
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	score := e.scorer(q)

	// Keys are ordered ascending; inner product keys are negated.
	top := queue.NewMax(k + 1)
	for p, id := range e.ids {
		if filter != nil && !filter(id) {
			continue
		}

		key := score(p)
		if e.space == metric.InnerProduct {
			key = -key
		}

		if top.Len() < k {
			top.Push(queue.Item{Node: uint32(p), Distance: key})
			continue
		}
		if worst, _ := top.Top(); key < worst.Distance {
			top.Pop()
			top.Push(queue.Item{Node: uint32(p), Distance: key})
		}
	}

	items := top.Drain()
	out := make([]Neighbor, len(items))
	for i, it := range items {
		s := it.Distance
		if e.space == metric.InnerProduct {
			s = -s
		}
		out[i] = Neighbor{ID: e.ids[it.Node], Score: s}
	}
	return out, nil
}

// scorer returns the reported score of position p against q.
func (e *Engine) scorer(q []float32) func(p int) float32 {
	ip := e.space == metric.InnerProduct

	if pq, ok := e.quant.(*quantization.ProductQuantizer); ok && pq.Trained() {
		if ip {
			table := pq.DotTable(q)
			return func(p int) float32 { return table.Lookup(e.codes[p]) }
		}
		table := pq.L2Table(q)
		return func(p int) float32 { return sqrt(table.Lookup(e.codes[p])) }
	}

	return func(p int) float32 {
		var v []float32
		if e.trained() {
			v = e.quant.Decode(e.codes[p])
		} else {
			v = e.raw[p]
		}
		if ip {
			return distance.Dot(q, v)
		}
		return sqrt(distance.SquaredL2(q, v))
	}
}

func sqrt(d float32) float32 {
	if d <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(d)))
}
