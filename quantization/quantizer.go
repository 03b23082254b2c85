package quantization

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrNotTrained is returned when an untrained quantizer is used.
var ErrNotTrained = errors.New("quantizer not trained")

// Quantizer defines the interface for vector quantization methods.
type Quantizer interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	// Train calibrates the quantizer on a set of vectors.
	Train(vectors [][]float32) error

	// Trained reports whether Train (or UnmarshalBinary) has run.
	Trained() bool

	// Encode quantizes a float32 vector to its compressed representation.
	Encode(v []float32) []byte

	// Decode reconstructs an approximate float32 vector.
	Decode(code []byte) []float32

	// CodeSize returns the encoded size of one vector in bytes.
	CodeSize() int
}

// ScalarQuantizer implements 8-bit scalar quantization with a per-dimension range.
// It compresses float32 vectors (4 bytes/dim) to uint8 (1 byte/dim).
type ScalarQuantizer struct {
	dim     int
	min     []float32
	max     []float32
	trained bool
}

// NewScalarQuantizer creates a new 8-bit scalar quantizer.
func NewScalarQuantizer(dim int) *ScalarQuantizer {
	return &ScalarQuantizer{dim: dim}
}

// Train calibrates the quantizer by finding min/max values per dimension.
func (sq *ScalarQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("no vectors provided for training")
	}

	sq.min = make([]float32, sq.dim)
	sq.max = make([]float32, sq.dim)
	for i := range sq.min {
		sq.min[i] = math.MaxFloat32
		sq.max[i] = -math.MaxFloat32
	}

	for _, vec := range vectors {
		if len(vec) != sq.dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", sq.dim, len(vec))
		}
		for i, val := range vec {
			sq.min[i] = min(sq.min[i], val)
			sq.max[i] = max(sq.max[i], val)
		}
	}

	// Handle edge case where all values are the same
	for i := range sq.min {
		if sq.min[i] == sq.max[i] {
			sq.max[i] = sq.min[i] + 1
		}
	}

	sq.trained = true
	return nil
}

// Trained reports whether the quantizer has been calibrated.
func (sq *ScalarQuantizer) Trained() bool { return sq.trained }

// Encode maps each dimension linearly from [min, max] to [0, 255].
func (sq *ScalarQuantizer) Encode(v []float32) []byte {
	code := make([]byte, sq.dim)

	for i, val := range v {
		lo, hi := sq.min[i], sq.max[i]
		val = min(max(val, lo), hi)
		code[i] = uint8((val-lo)*255/(hi-lo) + 0.5)
	}

	return code
}

// Decode reconstructs a float32 vector from its codes.
func (sq *ScalarQuantizer) Decode(code []byte) []float32 {
	out := make([]float32, len(code))
	for i, c := range code {
		out[i] = float32(c)*(sq.max[i]-sq.min[i])/255 + sq.min[i]
	}
	return out
}

// CodeSize returns the dimensionality (one byte per dimension).
func (sq *ScalarQuantizer) CodeSize() int { return sq.dim }

// MarshalBinary implements encoding.BinaryMarshaler.
// Format (little-endian): [dim:uint32][min:float32*dim][max:float32*dim]
func (sq *ScalarQuantizer) MarshalBinary() ([]byte, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}

	b := make([]byte, 4+8*sq.dim)
	binary.LittleEndian.PutUint32(b, uint32(sq.dim))
	for i := 0; i < sq.dim; i++ {
		binary.LittleEndian.PutUint32(b[4+4*i:], math.Float32bits(sq.min[i]))
		binary.LittleEndian.PutUint32(b[4+4*sq.dim+4*i:], math.Float32bits(sq.max[i]))
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (sq *ScalarQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("invalid scalar quantizer binary length")
	}
	dim := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+8*dim {
		return errors.New("invalid scalar quantizer binary length")
	}

	sq.dim = dim
	sq.min = make([]float32, dim)
	sq.max = make([]float32, dim)
	for i := 0; i < dim; i++ {
		sq.min[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
		sq.max[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*dim+4*i:]))
	}
	sq.trained = true
	return nil
}
