package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign(t *testing.T) {
	s := New()
	s.Assign("a", 1)
	s.Assign("a", 2)
	s.Assign("b", 3)
	s.Assign("", 4)

	assert.True(t, s.Contains("a", 1))
	assert.False(t, s.Contains("b", 1))
	assert.Equal(t, "b", s.Of(3))
	assert.Equal(t, "", s.Of(4))
	assert.Equal(t, []string{"a", "b"}, s.Names())

	// Moving an id clears its old membership.
	s.Assign("b", 1)
	assert.False(t, s.Contains("a", 1))
	assert.Equal(t, uint64(2), s.Cardinality("b"))

	s.Assign("", 2)
	assert.Equal(t, []string{"b"}, s.Names())
}

func TestFilter(t *testing.T) {
	var s Sets
	s.Assign("x", -5)
	s.Assign("x", 10)

	assert.Nil(t, s.Filter(""))

	f := s.Filter("x")
	assert.True(t, f(-5))
	assert.True(t, f(10))
	assert.False(t, f(11))

	missing := s.Filter("nope")
	assert.False(t, missing(10))
}

func TestMarshal(t *testing.T) {
	s := New()
	s.Assign("red", 1)
	s.Assign("red", 1<<40)
	s.Assign("blue", 7)

	b, err := s.MarshalBinary()
	require.NoError(t, err)

	var loaded Sets
	require.NoError(t, loaded.UnmarshalBinary(b))
	assert.Equal(t, []string{"blue", "red"}, loaded.Names())
	assert.True(t, loaded.Contains("red", 1<<40))
	assert.True(t, loaded.Contains("blue", 7))

	assert.Error(t, loaded.UnmarshalBinary([]byte("{")))
}
