package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/vecswitch/distance"
	"github.com/hupe1980/vecswitch/internal/queue"
	"github.com/hupe1980/vecswitch/internal/visited"
	"github.com/hupe1980/vecswitch/metric"
)

var (
	// ErrFull is returned when an insert exceeds the allocated capacity.
	ErrFull = errors.New("hnsw: index is full")

	// ErrShrink is returned when Resize would drop stored elements.
	ErrShrink = errors.New("hnsw: cannot resize below element count")
)

// ErrDimensionMismatch is returned for vectors of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options represents the options for configuring the graph.
type Options struct {
	// Space selects the distance function.
	Space metric.Space

	// M specifies the number of established connections for every new element during construction.
	// The range M=12-48 is ok for most use cases. Higher M works better on datasets with high
	// intrinsic dimensionality and/or high recall.
	M int

	// EFConstruction is the size of the dynamic candidate list during inserts.
	EFConstruction int

	// EF is the size of the dynamic candidate list during search.
	// Larger EF values improve recall at the cost of search time.
	EF int

	// Heuristic selects diverse neighbours (true) or simply the closest ones (false).
	Heuristic bool

	// Seed makes level assignment deterministic when set.
	Seed *int64
}

// DefaultOptions are the hnswlib defaults.
var DefaultOptions = Options{
	Space:          metric.Euclidean,
	M:              16,
	EFConstruction: 200,
	EF:             10,
	Heuristic:      true,
}

// Neighbor is a search hit.
type Neighbor struct {
	Label    int64
	Distance float32
}

type node struct {
	label int64
	raw   []float32 // as inserted
	vec   []float32 // normalized for cosine, otherwise raw
	level int
	conns [][]uint32
}

// Graph is an HNSW index over labelled vectors.
//
// Writes take an exclusive lock; searches share a read lock and may run concurrently.
type Graph struct {
	dim         int
	opts        Options
	mmax        int     // max connections on upper layers
	mmax0       int     // max connections on layer 0
	ml          float64 // level generation factor
	maxElements int

	nodes    []*node
	labels   map[int64]uint32
	ep       uint32
	maxLevel int

	rng     *rand.Rand
	visited sync.Pool

	mu sync.RWMutex
}

// New initializes a graph for maxElements vectors of the given dimension.
func New(dim, maxElements int, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", dim)
	}
	if maxElements <= 0 {
		return nil, fmt.Errorf("hnsw: invalid max elements %d", maxElements)
	}
	if !opts.Space.Valid() {
		return nil, fmt.Errorf("%w: %v", metric.ErrUnsupported, opts.Space)
	}

	if opts.M <= 1 {
		// 1 / log(1) would divide by zero
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EF <= 0 {
		opts.EF = DefaultOptions.EF
	}

	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	g := &Graph{
		dim:         dim,
		opts:        opts,
		mmax:        opts.M,
		mmax0:       2 * opts.M,
		ml:          1 / math.Log(float64(opts.M)),
		maxElements: maxElements,
		labels:      make(map[int64]uint32),
		rng:         rand.New(rand.NewSource(seed)), // nolint gosec
	}
	g.visited.New = func() any { return visited.New(g.maxElements) }

	return g, nil
}

// Dimension returns the vector dimensionality.
func (g *Graph) Dimension() int { return g.dim }

// Space returns the distance space.
func (g *Graph) Space() metric.Space { return g.opts.Space }

// Options returns the effective options.
func (g *Graph) Options() Options {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.opts
}

// Len returns the number of stored elements.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// MaxElements returns the allocated capacity.
func (g *Graph) MaxElements() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxElements
}

// SetEF sets the search candidate list size.
func (g *Graph) SetEF(ef int) {
	if ef <= 0 {
		return
	}
	g.mu.Lock()
	g.opts.EF = ef
	g.mu.Unlock()
}

// Resize changes the capacity. It fails when n is below the element count.
func (g *Graph) Resize(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n < len(g.nodes) {
		return ErrShrink
	}
	g.maxElements = n
	return nil
}

// Add inserts v under label. An existing label is updated in place.
func (g *Graph) Add(v []float32, label int64) error {
	if len(v) != g.dim {
		return &ErrDimensionMismatch{Expected: g.dim, Actual: len(v)}
	}

	raw := make([]float32, len(v))
	copy(raw, v)
	vec := raw
	if g.opts.Space == metric.Cosine {
		vec, _ = distance.NormalizeL2Copy(raw)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if slot, ok := g.labels[label]; ok {
		g.update(slot, raw, vec)
		return nil
	}

	if len(g.nodes) >= g.maxElements {
		return ErrFull
	}

	n := &node{
		label: label,
		raw:   raw,
		vec:   vec,
		level: g.randomLevel(),
	}
	n.conns = make([][]uint32, n.level+1)

	slot := uint32(len(g.nodes))

	if len(g.nodes) == 0 {
		g.nodes = append(g.nodes, n)
		g.labels[label] = slot
		g.ep = slot
		g.maxLevel = n.level
		return nil
	}

	cur, curDist := g.descend(vec, n.level)

	for level := min(n.level, g.maxLevel); level >= 0; level-- {
		top := g.searchLayer(vec, cur, curDist, g.opts.EFConstruction, level, nil)
		candidates := top.Drain()
		cur, curDist = candidates[0].Node, candidates[0].Distance
		n.conns[level] = g.selectNeighbours(candidates, g.opts.M)
	}

	g.nodes = append(g.nodes, n)
	g.labels[label] = slot

	// Link the neighbour nodes back to the new node, making it visible.
	for level := min(n.level, g.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.conns[level] {
			g.link(neighbour, slot, level)
		}
	}

	if n.level > g.maxLevel {
		g.ep = slot
		g.maxLevel = n.level
	}

	return nil
}

// update replaces the vector of an existing node and reselects its neighbours.
func (g *Graph) update(slot uint32, raw, vec []float32) {
	n := g.nodes[slot]
	n.raw = raw
	n.vec = vec

	if len(g.nodes) == 1 {
		return
	}

	cur, curDist := g.descend(vec, n.level)

	for level := min(n.level, g.maxLevel); level >= 0; level-- {
		top := g.searchLayer(vec, cur, curDist, g.opts.EFConstruction+1, level, nil)
		candidates := make([]queue.Item, 0, top.Len())
		for _, c := range top.Drain() {
			if c.Node != slot {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		cur, curDist = candidates[0].Node, candidates[0].Distance

		n.conns[level] = g.selectNeighbours(candidates, g.opts.M)
		for _, neighbour := range n.conns[level] {
			g.link(neighbour, slot, level)
		}
	}
}

// Get returns a copy of the vector stored under label.
func (g *Graph) Get(label int64) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	slot, ok := g.labels[label]
	if !ok {
		return nil, false
	}
	out := make([]float32, g.dim)
	copy(out, g.nodes[slot].raw)
	return out, true
}

// Contains reports whether label is stored.
func (g *Graph) Contains(label int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.labels[label]
	return ok
}

// Search returns up to k nearest neighbours of q, closest first.
// When filter is set only labels it accepts are returned; traversal still
// passes through rejected nodes.
func (g *Graph) Search(q []float32, k int, filter func(label int64) bool) ([]Neighbor, error) {
	if len(q) != g.dim {
		return nil, &ErrDimensionMismatch{Expected: g.dim, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	if g.opts.Space == metric.Cosine {
		q, _ = distance.NormalizeL2Copy(q)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 {
		return nil, nil
	}

	var accept func(slot uint32) bool
	if filter != nil {
		accept = func(slot uint32) bool { return filter(g.nodes[slot].label) }
	}

	cur, curDist := g.descend(q, 0)
	top := g.searchLayer(q, cur, curDist, max(g.opts.EF, k), 0, accept)

	items := top.Drain()
	if len(items) > k {
		items = items[:k]
	}

	out := make([]Neighbor, len(items))
	for i, it := range items {
		out[i] = Neighbor{Label: g.nodes[it.Node].label, Distance: g.score(it.Distance)}
	}
	return out, nil
}

// Labels returns all stored labels in insertion order.
func (g *Graph) Labels() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]int64, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.label
	}
	return out
}

// randomLevel draws a level from the exponential distribution.
func (g *Graph) randomLevel() int {
	return int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
}

// dist is the internal ordering distance. Euclidean uses squared L2.
func (g *Graph) dist(a, b []float32) float32 {
	switch g.opts.Space {
	case metric.Euclidean:
		return distance.SquaredL2(a, b)
	default:
		return 1 - distance.Dot(a, b)
	}
}

// score converts an internal distance to the reported one.
func (g *Graph) score(d float32) float32 {
	if g.opts.Space == metric.Euclidean {
		return float32(math.Sqrt(float64(d)))
	}
	return d
}

// descend greedily walks the upper layers down to (but excluding) stop.
func (g *Graph) descend(q []float32, stop int) (uint32, float32) {
	cur := g.ep
	curDist := g.dist(q, g.nodes[cur].vec)

	for level := g.maxLevel; level > stop; level-- {
		changed := true
		for changed {
			changed = false
			n := g.nodes[cur]
			if level >= len(n.conns) {
				break
			}
			for _, id := range n.conns[level] {
				if d := g.dist(q, g.nodes[id].vec); d < curDist {
					cur, curDist = id, d
					changed = true
				}
			}
		}
	}

	return cur, curDist
}

// searchLayer performs a best-first search in one layer and returns a
// max-heap of at most ef accepted items.
func (g *Graph) searchLayer(q []float32, ep uint32, epDist float32, ef, level int, accept func(slot uint32) bool) *queue.PriorityQueue {
	seen := g.visited.Get().(*visited.Set)
	defer func() {
		seen.Reset()
		g.visited.Put(seen)
	}()

	candidates := queue.NewMin(ef)
	top := queue.NewMax(ef + 1)

	seen.Visit(ep)
	candidates.Push(queue.Item{Node: ep, Distance: epDist})
	if accept == nil || accept(ep) {
		top.Push(queue.Item{Node: ep, Distance: epDist})
	}

	for candidates.Len() > 0 {
		c, _ := candidates.Pop()

		if worst, ok := top.Top(); ok && top.Len() >= ef && c.Distance > worst.Distance {
			break
		}

		n := g.nodes[c.Node]
		if level >= len(n.conns) {
			continue
		}

		for _, id := range n.conns[level] {
			if !seen.Visit(id) {
				continue
			}

			d := g.dist(q, g.nodes[id].vec)

			worst, ok := top.Top()
			if top.Len() < ef || !ok || d < worst.Distance {
				candidates.Push(queue.Item{Node: id, Distance: d})

				if accept == nil || accept(id) {
					top.Push(queue.Item{Node: id, Distance: d})
					if top.Len() > ef {
						top.Pop()
					}
				}
			}
		}
	}

	return top
}

// selectNeighbours picks up to m neighbours from candidates sorted closest first.
func (g *Graph) selectNeighbours(candidates []queue.Item, m int) []uint32 {
	if len(candidates) <= m || !g.opts.Heuristic {
		n := min(len(candidates), m)
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = candidates[i].Node
		}
		return out
	}

	selected := make([]queue.Item, 0, m)
	var pruned []queue.Item

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}

		keep := true
		for _, s := range selected {
			if g.dist(g.nodes[s.Node].vec, g.nodes[c.Node].vec) < c.Distance {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	// Fill up with the closest pruned candidates.
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}

	out := make([]uint32, len(selected))
	for i, s := range selected {
		out[i] = s.Node
	}
	return out
}

// link adds a directed edge and prunes the source's connections when they overflow.
func (g *Graph) link(from, to uint32, level int) {
	maxConns := g.mmax
	if level == 0 {
		maxConns = g.mmax0
	}

	n := g.nodes[from]
	for _, id := range n.conns[level] {
		if id == to {
			return
		}
	}
	n.conns[level] = append(n.conns[level], to)

	if len(n.conns[level]) <= maxConns {
		return
	}

	candidates := make([]queue.Item, len(n.conns[level]))
	for i, id := range n.conns[level] {
		candidates[i] = queue.Item{Node: id, Distance: g.dist(n.vec, g.nodes[id].vec)}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })

	n.conns[level] = g.selectNeighbours(candidates, maxConns)
}
