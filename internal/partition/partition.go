// Package partition tracks which item ids belong to which named partition.
package partition

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecswitch/codec"
)

// Sets maps partition names to roaring64 bitmaps of item ids.
// An id belongs to at most one partition; the empty name means unpartitioned.
// The zero value is ready to use. Sets is not safe for concurrent writes.
type Sets struct {
	sets map[string]*roaring64.Bitmap
}

// New returns an empty set collection.
func New() *Sets {
	return &Sets{sets: make(map[string]*roaring64.Bitmap)}
}

// Assign moves id into partition. An empty partition only clears membership.
func (s *Sets) Assign(partition string, id int64) {
	s.Remove(id)

	if partition == "" {
		return
	}

	if s.sets == nil {
		s.sets = make(map[string]*roaring64.Bitmap)
	}

	bm, ok := s.sets[partition]
	if !ok {
		bm = roaring64.New()
		s.sets[partition] = bm
	}
	bm.Add(uint64(id))
}

// Remove drops id from whichever partition holds it.
func (s *Sets) Remove(id int64) {
	for name, bm := range s.sets {
		if bm.CheckedRemove(uint64(id)) && bm.IsEmpty() {
			delete(s.sets, name)
		}
	}
}

// Contains reports whether id is a member of partition.
func (s *Sets) Contains(partition string, id int64) bool {
	bm, ok := s.sets[partition]
	return ok && bm.Contains(uint64(id))
}

// Of returns the partition holding id, or "" when it is unpartitioned.
func (s *Sets) Of(id int64) string {
	for name, bm := range s.sets {
		if bm.Contains(uint64(id)) {
			return name
		}
	}
	return ""
}

// Filter returns a membership predicate for partition.
// An empty partition name yields nil, meaning no filtering.
func (s *Sets) Filter(partition string) func(id int64) bool {
	if partition == "" {
		return nil
	}

	bm, ok := s.sets[partition]
	if !ok {
		return func(int64) bool { return false }
	}
	return func(id int64) bool { return bm.Contains(uint64(id)) }
}

// Cardinality returns the number of ids in partition.
func (s *Sets) Cardinality(partition string) uint64 {
	if bm, ok := s.sets[partition]; ok {
		return bm.GetCardinality()
	}
	return 0
}

// Names returns the sorted partition names.
func (s *Sets) Names() []string {
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every partition.
func (s *Sets) Reset() {
	s.sets = make(map[string]*roaring64.Bitmap)
}

// MarshalBinary encodes the sets as a JSON object of portable roaring64 blobs.
func (s *Sets) MarshalBinary() ([]byte, error) {
	raw := make(map[string][]byte, len(s.sets))
	for name, bm := range s.sets {
		b, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", name, err)
		}
		raw[name] = b
	}
	return codec.Default.Marshal(raw)
}

// UnmarshalBinary replaces the sets with the decoded contents.
func (s *Sets) UnmarshalBinary(data []byte) error {
	var raw map[string][]byte
	if err := codec.Default.Unmarshal(data, &raw); err != nil {
		return err
	}

	sets := make(map[string]*roaring64.Bitmap, len(raw))
	for name, b := range raw {
		bm := roaring64.New()
		if _, err := bm.ReadFrom(bytes.NewReader(b)); err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}
		sets[name] = bm
	}
	s.sets = sets
	return nil
}
