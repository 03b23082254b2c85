package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/hupe1980/vecswitch/codec"
	"github.com/hupe1980/vecswitch/metric"
)

const (
	snapshotMagic   uint32 = 0x56535731 // "VSW1"
	snapshotVersion uint16 = 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// SnapshotHeader describes a persisted index.
type SnapshotHeader struct {
	Engine     string            `json:"engine"`
	Space      metric.Space      `json:"space"`
	Dimension  int               `json:"dimension"`
	Count      int               `json:"count"`
	Capacity   int               `json:"capacity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Snapshot layout (little endian):
//
//	magic u32 | version u16 | compression u8 | codec name len u8 | codec name
//	header len u32 | header
//	payload size u64 | stored size u64 | crc32c u32 | stored payload
//
// stored size 0 means the payload was kept uncompressed.

// EncodeSnapshot serializes the header and engine payload.
func EncodeSnapshot(h SnapshotHeader, payload []byte, c Compression) ([]byte, error) {
	cd := codec.Default
	hdr, err := cd.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot header: %w", err)
	}

	stored, err := compress(payload, c)
	if err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	body := payload
	storedSize := uint64(0)
	if stored != nil {
		body = stored
		storedSize = uint64(len(stored))
	}

	name := cd.Name()
	buf := make([]byte, 0, 4+2+1+1+len(name)+4+len(hdr)+8+8+4+len(body))
	buf = binary.LittleEndian.AppendUint32(buf, snapshotMagic)
	buf = binary.LittleEndian.AppendUint16(buf, snapshotVersion)
	buf = append(buf, byte(c), byte(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(hdr)))
	buf = append(buf, hdr...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(payload)))
	buf = binary.LittleEndian.AppendUint64(buf, storedSize)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.Checksum(body, castagnoli))
	buf = append(buf, body...)

	return buf, nil
}

// DecodeSnapshot parses bytes written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (SnapshotHeader, []byte, error) {
	var h SnapshotHeader

	r := snapshotReader{data: data}

	if magic := r.u32(); magic != snapshotMagic {
		return h, nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidSnapshot, magic)
	}
	if v := r.u16(); v != snapshotVersion {
		return h, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, v)
	}

	c := Compression(r.u8())
	name := string(r.next(int(r.u8())))
	hdr := r.next(int(r.u32()))
	size := r.u64()
	storedSize := r.u64()
	sum := r.u32()

	if r.err {
		return h, nil, fmt.Errorf("%w: truncated header", ErrInvalidSnapshot)
	}

	cd, ok := codec.ByName(name)
	if !ok {
		return h, nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidSnapshot, name)
	}
	if err := cd.Unmarshal(hdr, &h); err != nil {
		return h, nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	bodyLen := size
	if storedSize > 0 {
		bodyLen = storedSize
	}
	body := r.next(int(bodyLen))
	if r.err {
		return h, nil, fmt.Errorf("%w: truncated payload", ErrInvalidSnapshot)
	}
	if crc32.Checksum(body, castagnoli) != sum {
		return h, nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}

	if storedSize == 0 {
		return h, body, nil
	}

	payload, err := decompress(body, c, int(size))
	if err != nil {
		return h, nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return h, payload, nil
}

// WriteSnapshot encodes and stores a snapshot under path.
func WriteSnapshot(ctx context.Context, store blobstore.Store, path string, h SnapshotHeader, payload []byte, c Compression) error {
	data, err := EncodeSnapshot(h, payload, c)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, path, data); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return nil
}

// ReadSnapshot loads the snapshot at path and checks it was written by engine.
func ReadSnapshot(ctx context.Context, store blobstore.Store, path, engine string) (SnapshotHeader, []byte, error) {
	data, err := store.Get(ctx, path)
	if err != nil {
		return SnapshotHeader{}, nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	h, payload, err := DecodeSnapshot(data)
	if err != nil {
		return h, nil, err
	}
	if h.Engine != engine {
		return h, nil, fmt.Errorf("%w: snapshot written by %q, loading into %q", ErrEngineMismatch, h.Engine, engine)
	}
	return h, payload, nil
}

// JoinSections concatenates length-prefixed payload sections.
func JoinSections(sections ...[]byte) []byte {
	size := 4
	for _, s := range sections {
		size += 8 + len(s)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sections)))
	for _, s := range sections {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// SplitSections reverses JoinSections and expects exactly n sections.
func SplitSections(data []byte, n int) ([][]byte, error) {
	r := snapshotReader{data: data}

	if got := int(r.u32()); got != n || r.err {
		return nil, fmt.Errorf("%w: expected %d sections", ErrInvalidSnapshot, n)
	}

	out := make([][]byte, n)
	for i := range out {
		size := r.u64()
		if size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d too large", ErrInvalidSnapshot, i)
		}
		out[i] = r.next(int(size))
	}

	if r.err || r.off != len(data) {
		return nil, fmt.Errorf("%w: malformed sections", ErrInvalidSnapshot)
	}
	return out, nil
}

type snapshotReader struct {
	data []byte
	off  int
	err  bool
}

func (r *snapshotReader) next(n int) []byte {
	if r.err || n < 0 || r.off+n > len(r.data) {
		r.err = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *snapshotReader) u8() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *snapshotReader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *snapshotReader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *snapshotReader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
