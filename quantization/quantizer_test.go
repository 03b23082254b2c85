package quantization

import (
	"math/rand"
	"testing"

	"github.com/hupe1980/vecswitch/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = r.Float32()*4 - 2
		}
	}
	return out
}

func TestScalarQuantizer(t *testing.T) {
	data := randomVectors(100, 8, 1)

	sq := NewScalarQuantizer(8)
	assert.False(t, sq.Trained())
	require.NoError(t, sq.Train(data))
	assert.True(t, sq.Trained())
	assert.Equal(t, 8, sq.CodeSize())

	for _, v := range data {
		decoded := sq.Decode(sq.Encode(v))
		for i := range v {
			assert.InDelta(t, v[i], decoded[i], 4.0/255)
		}
	}
}

func TestScalarQuantizerConstantDimension(t *testing.T) {
	sq := NewScalarQuantizer(2)
	require.NoError(t, sq.Train([][]float32{{1, 5}, {1, 6}}))

	decoded := sq.Decode(sq.Encode([]float32{1, 5.5}))
	assert.InDelta(t, 1, decoded[0], 1e-6)
	assert.InDelta(t, 5.5, decoded[1], 0.01)
}

func TestScalarQuantizerErrors(t *testing.T) {
	sq := NewScalarQuantizer(2)
	assert.Error(t, sq.Train(nil))
	assert.Error(t, sq.Train([][]float32{{1}}))

	_, err := sq.MarshalBinary()
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestScalarQuantizerMarshal(t *testing.T) {
	sq := NewScalarQuantizer(4)
	require.NoError(t, sq.Train(randomVectors(10, 4, 2)))

	b, err := sq.MarshalBinary()
	require.NoError(t, err)

	var loaded ScalarQuantizer
	require.NoError(t, loaded.UnmarshalBinary(b))

	v := []float32{0.5, -1, 1.5, 0}
	assert.Equal(t, sq.Encode(v), loaded.Encode(v))
	assert.Error(t, loaded.UnmarshalBinary(b[:5]))
}

func TestProductQuantizer(t *testing.T) {
	_, err := NewProductQuantizer(10, 3, 256)
	assert.Error(t, err)
	_, err = NewProductQuantizer(8, 2, 300)
	assert.Error(t, err)

	data := randomVectors(500, 16, 3)

	pq, err := NewProductQuantizer(16, 4, 32)
	require.NoError(t, err)
	require.NoError(t, pq.Train(data))
	assert.Equal(t, 4, pq.CodeSize())

	// Reconstruction error must be well below the spread of the data.
	var errSum, normSum float32
	for _, v := range data {
		decoded := pq.Decode(pq.Encode(v))
		errSum += distance.SquaredL2(v, decoded)
		normSum += distance.Dot(v, v)
	}
	assert.Less(t, errSum, normSum/2)
}

func TestProductQuantizerTables(t *testing.T) {
	data := randomVectors(200, 8, 4)

	pq, err := NewProductQuantizer(8, 2, 16)
	require.NoError(t, err)
	require.NoError(t, pq.Train(data))

	q := data[0]
	code := pq.Encode(data[1])
	decoded := pq.Decode(code)

	assert.InDelta(t, distance.SquaredL2(q, decoded), pq.L2Table(q).Lookup(code), 1e-4)
	assert.InDelta(t, distance.Dot(q, decoded), pq.DotTable(q).Lookup(code), 1e-4)
}

func TestProductQuantizerFewVectors(t *testing.T) {
	data := randomVectors(3, 4, 5)

	pq, err := NewProductQuantizer(4, 2, 256)
	require.NoError(t, err)
	require.NoError(t, pq.Train(data))

	for _, v := range data {
		assert.Equal(t, v, pq.Decode(pq.Encode(v)))
	}
}

func TestProductQuantizerMarshal(t *testing.T) {
	pq, err := NewProductQuantizer(8, 4, 8)
	require.NoError(t, err)
	_, err = pq.MarshalBinary()
	assert.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, pq.Train(randomVectors(50, 8, 6)))

	b, err := pq.MarshalBinary()
	require.NoError(t, err)

	var loaded ProductQuantizer
	require.NoError(t, loaded.UnmarshalBinary(b))
	assert.True(t, loaded.Trained())

	v := randomVectors(1, 8, 7)[0]
	assert.Equal(t, pq.Encode(v), loaded.Encode(v))
	assert.Equal(t, pq.Decode(pq.Encode(v)), loaded.Decode(loaded.Encode(v)))
}
