package flat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedFactory is returned for factory strings the engine cannot build.
var ErrUnsupportedFactory = errors.New("flat: unsupported index factory")

// Kind selects how vectors are stored.
type Kind int

const (
	// KindFlat stores raw float32 vectors.
	KindFlat Kind = iota
	// KindSQ8 stores 8-bit scalar codes.
	KindSQ8
	// KindPQ stores product quantization codes.
	KindPQ
)

// Factory is a parsed index factory description such as "Flat", "SQ8" or "PQ16".
type Factory struct {
	Kind Kind
	// M is the number of PQ subvectors.
	M int
}

// ParseFactory parses a faiss-style factory string. An optional "IDMap," or
// "IDMap2," prefix is accepted since ids are always mapped. The empty string
// means Flat.
func ParseFactory(s string) (Factory, error) {
	desc := strings.ToUpper(strings.TrimSpace(s))
	for _, prefix := range []string{"IDMAP2,", "IDMAP,"} {
		desc = strings.TrimPrefix(desc, prefix)
	}

	switch {
	case desc == "" || desc == "FLAT":
		return Factory{Kind: KindFlat}, nil
	case desc == "SQ8":
		return Factory{Kind: KindSQ8}, nil
	case strings.HasPrefix(desc, "PQ"):
		body := strings.TrimPrefix(desc, "PQ")
		if m, nbits, ok := strings.Cut(body, "X"); ok {
			if nbits != "8" {
				return Factory{}, fmt.Errorf("%w: %q (only 8-bit codes)", ErrUnsupportedFactory, s)
			}
			body = m
		}
		m, err := strconv.Atoi(body)
		if err != nil || m <= 0 {
			return Factory{}, fmt.Errorf("%w: %q", ErrUnsupportedFactory, s)
		}
		return Factory{Kind: KindPQ, M: m}, nil
	default:
		return Factory{}, fmt.Errorf("%w: %q", ErrUnsupportedFactory, s)
	}
}

// String returns the canonical factory string.
func (f Factory) String() string {
	switch f.Kind {
	case KindSQ8:
		return "SQ8"
	case KindPQ:
		return "PQ" + strconv.Itoa(f.M)
	default:
		return "Flat"
	}
}

// Quantized reports whether the factory stores codes instead of raw vectors.
func (f Factory) Quantized() bool { return f.Kind != KindFlat }
