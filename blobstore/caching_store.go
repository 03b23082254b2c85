package blobstore

import (
	"container/list"
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CachingStore wraps a Store and keeps recently read blobs in memory.
//
// The cache is bounded by total bytes and evicts least recently used blobs.
// Writes and deletes invalidate the affected entry before reaching the inner store.
type CachingStore struct {
	inner    Store
	capacity int64

	mu      sync.Mutex
	size    int64
	lru     *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore creates a new CachingStore.
// capacity defaults to 64MB if <= 0.
func NewCachingStore(inner Store, capacity int64) *CachingStore {
	if capacity <= 0 {
		capacity = 64 << 20
	}
	return &CachingStore{
		inner:    inner,
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Put invalidates the cached copy and writes through.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Get serves from the cache, falling back to the inner store.
func (s *CachingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if data, ok := s.lookup(name); ok {
		return data, nil
	}

	data, err := s.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	s.insert(name, data)
	return slices.Clone(data), nil
}

// Delete invalidates the cached copy and deletes from the inner store.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List is passed through uncached.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Prefetch loads the named blobs into the cache concurrently.
func (s *CachingStore) Prefetch(ctx context.Context, names ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)

	for _, name := range names {
		if _, ok := s.lookup(name); ok {
			continue
		}
		g.Go(func() error {
			data, err := s.inner.Get(ctx, name)
			if err != nil {
				return err
			}
			s.insert(name, data)
			return nil
		})
	}

	return g.Wait()
}

// Len returns the number of cached blobs.
func (s *CachingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *CachingStore) lookup(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(el)
	return slices.Clone(el.Value.(*cacheEntry).data), true
}

func (s *CachingStore) insert(name string, data []byte) {
	n := int64(len(data))
	if n > s.capacity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[name]; ok {
		s.removeElement(el)
	}

	el := s.lru.PushFront(&cacheEntry{name: name, data: slices.Clone(data)})
	s.entries[name] = el
	s.size += n

	for s.size > s.capacity {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeElement(back)
	}
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[name]; ok {
		s.removeElement(el)
	}
}

func (s *CachingStore) removeElement(el *list.Element) {
	e := el.Value.(*cacheEntry)
	s.lru.Remove(el)
	delete(s.entries, e.name)
	s.size -= int64(len(e.data))
}
