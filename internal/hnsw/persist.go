package hnsw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/vecswitch/distance"
	"github.com/hupe1980/vecswitch/metric"
)

const formatVersion uint8 = 1

// ErrCorrupt is returned when graph bytes cannot be decoded.
var ErrCorrupt = errors.New("hnsw: corrupt graph data")

type graphHeader struct {
	Version        uint8
	Space          uint8
	Heuristic      uint8
	_              uint8
	Dim            uint32
	M              uint32
	EFConstruction uint32
	EF             uint32
	MaxElements    uint64
	Count          uint64
	EP             uint32
	MaxLevel       uint32
}

// MarshalBinary encodes the graph, including its links.
func (g *Graph) MarshalBinary() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var buf bytes.Buffer

	h := graphHeader{
		Version:        formatVersion,
		Space:          uint8(g.opts.Space),
		Dim:            uint32(g.dim),
		M:              uint32(g.opts.M),
		EFConstruction: uint32(g.opts.EFConstruction),
		EF:             uint32(g.opts.EF),
		MaxElements:    uint64(g.maxElements),
		Count:          uint64(len(g.nodes)),
		EP:             g.ep,
		MaxLevel:       uint32(g.maxLevel),
	}
	if g.opts.Heuristic {
		h.Heuristic = 1
	}

	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}

	vec := make([]byte, 4*g.dim)
	for _, n := range g.nodes {
		buf.Write(binary.LittleEndian.AppendUint64(nil, uint64(n.label)))
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(n.level)))

		for i, f := range n.raw {
			binary.LittleEndian.PutUint32(vec[i*4:], math.Float32bits(f))
		}
		buf.Write(vec)

		for _, conns := range n.conns {
			buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(conns))))
			for _, id := range conns {
				buf.Write(binary.LittleEndian.AppendUint32(nil, id))
			}
		}
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a graph written by MarshalBinary. Options other than
// Seed are taken from the encoded graph.
func Unmarshal(data []byte, optFns ...func(o *Options)) (*Graph, error) {
	r := bytes.NewReader(data)

	var h graphHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.Count > h.MaxElements {
		return nil, fmt.Errorf("%w: count %d exceeds capacity %d", ErrCorrupt, h.Count, h.MaxElements)
	}

	space := metric.Space(h.Space)
	g, err := New(int(h.Dim), int(h.MaxElements), append(optFns, func(o *Options) {
		o.Space = space
		o.M = int(h.M)
		o.EFConstruction = int(h.EFConstruction)
		o.EF = int(h.EF)
		o.Heuristic = h.Heuristic == 1
	})...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	dim := int(h.Dim)
	vec := make([]byte, 4*dim)
	g.nodes = make([]*node, 0, h.Count)

	for i := uint64(0); i < h.Count; i++ {
		var fixed struct {
			Label int64
			Level uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if _, err := io.ReadFull(r, vec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		n := &node{
			label: fixed.Label,
			level: int(fixed.Level),
			raw:   make([]float32, dim),
			conns: make([][]uint32, fixed.Level+1),
		}
		for j := range n.raw {
			n.raw[j] = math.Float32frombits(binary.LittleEndian.Uint32(vec[j*4:]))
		}
		n.vec = n.raw
		if space == metric.Cosine {
			n.vec, _ = distance.NormalizeL2Copy(n.raw)
		}

		for level := range n.conns {
			var cnt uint32
			if err := binary.Read(r, binary.LittleEndian, &cnt); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			if uint64(cnt) > h.Count {
				return nil, fmt.Errorf("%w: connection count %d", ErrCorrupt, cnt)
			}
			conns := make([]uint32, cnt)
			if err := binary.Read(r, binary.LittleEndian, conns); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
			n.conns[level] = conns
		}

		g.nodes = append(g.nodes, n)
		g.labels[n.label] = uint32(i)
	}

	for _, n := range g.nodes {
		for _, conns := range n.conns {
			for _, id := range conns {
				if uint64(id) >= h.Count {
					return nil, fmt.Errorf("%w: dangling link %d", ErrCorrupt, id)
				}
			}
		}
	}
	if h.Count > 0 && uint64(h.EP) >= h.Count {
		return nil, fmt.Errorf("%w: entry point %d", ErrCorrupt, h.EP)
	}

	g.ep = h.EP
	g.maxLevel = int(h.MaxLevel)

	return g, nil
}
