// Package metric defines the metric spaces an index can rank by and the policy that
// maps a requested space onto what a given engine supports.
package metric

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/vecswitch/distance"
)

// ErrUnsupported is returned when a metric has no valid mapping.
var ErrUnsupported = errors.New("unsupported metric")

// Space represents the distance/similarity function used to rank vectors.
type Space int

// Supported metric spaces.
const (
	InnerProduct Space = iota
	Cosine
	Euclidean
)

// String returns the canonical short name of the space.
func (s Space) String() string {
	switch s {
	case InnerProduct:
		return "ip"
	case Cosine:
		return "cosine"
	case Euclidean:
		return "l2"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Valid reports whether s is one of the known spaces.
func (s Space) Valid() bool {
	return s >= InnerProduct && s <= Euclidean
}

// Parse resolves a case-insensitive metric name.
func Parse(name string) (Space, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ip", "inner_product", "inner-product", "innerproduct", "dot":
		return InnerProduct, nil
	case "cosine", "cos":
		return Cosine, nil
	case "l2", "euclidean", "euclid":
		return Euclidean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Space) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Space) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DistanceFunc returns a distance where lower means closer.
type DistanceFunc func(a, b []float32) float32

// Distance returns the exact distance function for s:
//   - Euclidean: L2 distance
//   - Cosine: 1 - cosine similarity
//   - InnerProduct: 1 - dot product
func Distance(s Space) (DistanceFunc, error) {
	switch s {
	case Euclidean:
		return distance.L2, nil
	case Cosine:
		return func(a, b []float32) float32 {
			return 1 - distance.CosineSimilarity(a, b)
		}, nil
	case InnerProduct:
		return func(a, b []float32) float32 {
			return 1 - distance.Dot(a, b)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, s)
	}
}
