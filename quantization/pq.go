package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/vecswitch/distance"
)

// ProductQuantizer implements Product Quantization (PQ).
// PQ splits vectors into subvectors and quantizes each independently using k-means clustering.
//
// Example: 128-dim vector with M=8 subvectors -> 8 uint8 codes = 8 bytes (64x compression vs float32)
type ProductQuantizer struct {
	numSubvectors int           // M: number of subvectors
	numCentroids  int           // K: number of centroids per subspace
	dimension     int           // D: original vector dimension
	subvectorDim  int           // D/M: dimensions per subvector
	codebooks     [][][]float32 // M codebooks, each with K centroids of subvectorDim dimensions
	trained       bool
	rng           *rand.Rand
}

// NewProductQuantizer creates a new PQ quantizer.
// Parameters:
//   - dimension: Vector dimensionality (must be divisible by numSubvectors)
//   - numSubvectors: Number of subvectors to split into (M, typically 8, 16, or 32)
//   - numCentroids: Number of centroids per subspace (K, at most 256 for uint8 codes)
func NewProductQuantizer(dimension, numSubvectors, numCentroids int) (*ProductQuantizer, error) {
	if numSubvectors <= 0 || dimension%numSubvectors != 0 {
		return nil, fmt.Errorf("dimension %d must be divisible by numSubvectors %d", dimension, numSubvectors)
	}

	if numCentroids <= 0 || numCentroids > 256 {
		return nil, errors.New("numCentroids must be in [1, 256] for uint8 encoding")
	}

	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
		codebooks:     make([][][]float32, numSubvectors),
		rng:           rand.New(rand.NewSource(1)), // nolint gosec
	}, nil
}

// Seed resets the k-means initialization source.
func (pq *ProductQuantizer) Seed(seed int64) {
	pq.rng = rand.New(rand.NewSource(seed)) // nolint gosec
}

// Train calibrates the PQ quantizer using k-means clustering on training vectors.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors provided for training")
	}

	for _, vec := range vectors {
		if len(vec) != pq.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", pq.dimension, len(vec))
		}
	}

	// Train one codebook per subvector
	for m := 0; m < pq.numSubvectors; m++ {
		subvectors := make([][]float32, len(vectors))
		for i, vec := range vectors {
			subvectors[i] = pq.sub(vec, m)
		}

		pq.codebooks[m] = pq.kmeans(subvectors, pq.numCentroids, 20)
	}

	pq.trained = true
	return nil
}

// Trained reports whether the codebooks are available.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Encode quantizes a vector into M codes, one per subvector.
func (pq *ProductQuantizer) Encode(vec []float32) []byte {
	codes := make([]byte, pq.numSubvectors)
	for m := 0; m < pq.numSubvectors; m++ {
		codes[m] = uint8(nearestCentroid(pq.sub(vec, m), pq.codebooks[m]))
	}
	return codes
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) []float32 {
	out := make([]float32, pq.dimension)
	for m, c := range codes {
		copy(out[m*pq.subvectorDim:], pq.codebooks[m][c])
	}
	return out
}

// CodeSize returns the compressed size per vector in bytes.
func (pq *ProductQuantizer) CodeSize() int { return pq.numSubvectors }

// NumSubvectors returns the number of subvectors (M).
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns the number of centroids per subspace (K).
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// DistanceTable holds per-subvector distances from one query to every centroid.
type DistanceTable struct {
	m, k  int
	table []float32
}

// L2Table precomputes squared L2 distances from query to all centroids.
func (pq *ProductQuantizer) L2Table(query []float32) *DistanceTable {
	return pq.table(query, distance.SquaredL2)
}

// DotTable precomputes dot products between query and all centroids.
func (pq *ProductQuantizer) DotTable(query []float32) *DistanceTable {
	return pq.table(query, distance.Dot)
}

func (pq *ProductQuantizer) table(query []float32, fn func(a, b []float32) float32) *DistanceTable {
	t := &DistanceTable{
		m:     pq.numSubvectors,
		k:     pq.numCentroids,
		table: make([]float32, pq.numSubvectors*pq.numCentroids),
	}
	for m := 0; m < pq.numSubvectors; m++ {
		q := pq.sub(query, m)
		for k, c := range pq.codebooks[m] {
			t.table[m*pq.numCentroids+k] = fn(q, c)
		}
	}
	return t
}

// Lookup sums the table entries selected by codes (asymmetric distance computation).
func (t *DistanceTable) Lookup(codes []byte) float32 {
	var sum float32
	for m, c := range codes {
		sum += t.table[m*t.k+int(c)]
	}
	return sum
}

func (pq *ProductQuantizer) sub(vec []float32, m int) []float32 {
	start := m * pq.subvectorDim
	return vec[start : start+pq.subvectorDim]
}

// kmeans performs k-means++ initialization followed by Lloyd iterations.
func (pq *ProductQuantizer) kmeans(vectors [][]float32, k, maxIters int) [][]float32 {
	dim := len(vectors[0])

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}

	if len(vectors) <= k {
		// Not enough data: every vector becomes a centroid.
		for i := range centroids {
			copy(centroids[i], vectors[i%len(vectors)])
		}
		return centroids
	}

	copy(centroids[0], vectors[pq.rng.Intn(len(vectors))])

	// minDistSq tracks each vector's squared distance to its nearest chosen centroid.
	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, vec := range vectors {
		d := distance.SquaredL2(vec, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], vectors[pq.rng.Intn(len(vectors))])
			continue
		}

		// Sample proportional to squared distance.
		target := pq.rng.Float32() * sum
		var cumsum float32
		chosen := len(vectors) - 1
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, vec := range vectors {
			if d := distance.SquaredL2(vec, centroids[c]); d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	assignments := make([]int, len(vectors))
	for i := range assignments {
		assignments[i] = -1
	}

	for range maxIters {
		changed := false
		for i, vec := range vectors {
			if nearest := nearestCentroid(vec, centroids); assignments[i] != nearest {
				changed = true
				assignments[i] = nearest
			}
		}

		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([]float32, k*dim)
		for i, vec := range vectors {
			cluster := assignments[i]
			counts[cluster]++
			for j, val := range vec {
				sums[cluster*dim+j] += val
			}
		}

		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for j := range centroids[i] {
				centroids[i][j] = sums[i*dim+j] / float32(counts[i])
			}
		}
	}

	return centroids
}

func nearestCentroid(vec []float32, centroids [][]float32) int {
	minDist := float32(math.MaxFloat32)
	nearest := 0

	for i, c := range centroids {
		if d := distance.SquaredL2(vec, c); d < minDist {
			minDist = d
			nearest = i
		}
	}

	return nearest
}

// MarshalBinary implements encoding.BinaryMarshaler.
// Format (little-endian): [D:uint32][M:uint32][K:uint32][codebooks:float32*M*K*(D/M)]
func (pq *ProductQuantizer) MarshalBinary() ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}

	b := make([]byte, 12, 12+4*pq.numSubvectors*pq.numCentroids*pq.subvectorDim)
	binary.LittleEndian.PutUint32(b[0:], uint32(pq.dimension))
	binary.LittleEndian.PutUint32(b[4:], uint32(pq.numSubvectors))
	binary.LittleEndian.PutUint32(b[8:], uint32(pq.numCentroids))

	for _, book := range pq.codebooks {
		for _, c := range book {
			for _, f := range c {
				b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
			}
		}
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (pq *ProductQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return errors.New("invalid product quantizer binary length")
	}

	d := int(binary.LittleEndian.Uint32(data[0:]))
	m := int(binary.LittleEndian.Uint32(data[4:]))
	k := int(binary.LittleEndian.Uint32(data[8:]))

	fresh, err := NewProductQuantizer(d, m, k)
	if err != nil {
		return err
	}
	if len(data) != 12+4*m*k*fresh.subvectorDim {
		return errors.New("invalid product quantizer binary length")
	}

	off := 12
	for i := 0; i < m; i++ {
		fresh.codebooks[i] = make([][]float32, k)
		for j := 0; j < k; j++ {
			c := make([]float32, fresh.subvectorDim)
			for x := range c {
				c[x] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
				off += 4
			}
			fresh.codebooks[i][j] = c
		}
	}

	fresh.trained = true
	fresh.rng = pq.rng
	if fresh.rng == nil {
		fresh.rng = rand.New(rand.NewSource(1)) // nolint gosec
	}
	*pq = *fresh
	return nil
}
