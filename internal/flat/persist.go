package flat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vecswitch/metric"
)

const formatVersion uint8 = 1

// ErrCorrupt is returned when engine bytes cannot be decoded.
var ErrCorrupt = errors.New("flat: corrupt engine data")

type engineHeader struct {
	Version  uint8
	Space    uint8
	Kind     uint8
	Trained  uint8
	Dim      uint32
	M        uint32
	Count    uint64
	QuantLen uint32
}

// MarshalBinary encodes ids, vectors or codes, and the trained quantizer.
func (e *Engine) MarshalBinary() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var quant []byte
	if e.trained() {
		b, err := e.quant.MarshalBinary()
		if err != nil {
			return nil, err
		}
		quant = b
	}

	h := engineHeader{
		Version:  formatVersion,
		Space:    uint8(e.space),
		Kind:     uint8(e.factory.Kind),
		Dim:      uint32(e.dim),
		M:        uint32(e.factory.M),
		Count:    uint64(len(e.ids)),
		QuantLen: uint32(len(quant)),
	}
	if quant != nil {
		h.Trained = 1
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(quant)

	if err := binary.Write(&buf, binary.LittleEndian, e.ids); err != nil {
		return nil, err
	}

	if quant != nil {
		for _, c := range e.codes {
			buf.Write(c)
		}
	} else {
		for _, v := range e.raw {
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes an engine written by MarshalBinary.
func Unmarshal(data []byte, optFns ...func(o *Options)) (*Engine, error) {
	r := bytes.NewReader(data)

	var h engineHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}

	e, err := New(int(h.Dim), metric.Space(h.Space), Factory{Kind: Kind(h.Kind), M: int(h.M)}, optFns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if h.Trained == 1 {
		if e.quant == nil {
			return nil, fmt.Errorf("%w: codes without quantizer", ErrCorrupt)
		}
		quant := make([]byte, h.QuantLen)
		if _, err := io.ReadFull(r, quant); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if err := e.quant.UnmarshalBinary(quant); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	// Guard allocations against a forged count.
	if h.Count > uint64(r.Len())/8 {
		return nil, fmt.Errorf("%w: count %d exceeds data", ErrCorrupt, h.Count)
	}

	e.ids = make([]int64, h.Count)
	if err := binary.Read(r, binary.LittleEndian, e.ids); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	for i, id := range e.ids {
		if _, dup := e.pos[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrCorrupt, id)
		}
		e.pos[id] = i
	}

	if h.Trained == 1 {
		e.codes = make([][]byte, h.Count)
		for i := range e.codes {
			c := make([]byte, e.quant.CodeSize())
			if _, err := io.ReadFull(r, c); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			e.codes[i] = c
		}
	} else {
		e.raw = make([][]float32, h.Count)
		for i := range e.raw {
			v := make([]float32, e.dim)
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			e.raw[i] = v
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}

	return e, nil
}
