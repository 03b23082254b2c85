package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
)

// RNG is a seeded, thread-safe source of test vectors.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// fill builds num vectors over one backing array, drawing each component
// from next. The caller holds r.mu.
func (r *RNG) fill(num, dim int, next func() float32) [][]float32 {
	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range vectors {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = next()
		}
		vectors[i] = vec
	}
	return vectors
}

// UniformVectors generates vectors with components in [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fill(num, dim, r.rand.Float32)
}

// UniformRangeVectors generates vectors with components in [-1, 1).
func (r *RNG) UniformRangeVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fill(num, dim, func() float32 { return r.rand.Float32()*2 - 1 })
}

// UnitVectors generates L2-normalized vectors, uniform on the hypersphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := r.fill(num, dim, func() float32 { return float32(r.rand.NormFloat64()) })
	for _, vec := range vectors {
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			norm = 1
		}
		scale(vec, float32(1/math.Sqrt(norm)))
	}
	return vectors
}

// ClusteredVectors generates vectors around clusters unit centroids with
// Gaussian noise of the given spread. Vector i belongs to cluster i%clusters.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := r.fill(num, dim, func() float32 { return float32(r.rand.NormFloat64()) * spread })
	for i, vec := range vectors {
		c := centroids[i%clusters]
		for j := range vec {
			vec[j] += c[j]
		}
	}
	return vectors
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []index.Result) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[int64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// ExactTopK returns the k nearest ids of query by brute force, closest first.
// Scores follow metric.Distance for the space.
func ExactTopK(query []float32, vectors [][]float32, ids []int64, k int, space metric.Space) []index.Result {
	fn, err := metric.Distance(space)
	if err != nil {
		return nil
	}

	top := index.NewTopK(k, false)
	for i, v := range vectors {
		top.Push(index.Result{ID: ids[i], Score: fn(query, v)})
	}
	return top.Results()
}

// SequentialIDs returns ids start, start+1, ...
func SequentialIDs(start int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = start + int64(i)
	}
	return ids
}

func scale(v []float32, s float32) {
	for i := range v {
		v[i] *= s
	}
}
