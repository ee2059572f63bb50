package segment

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache keeps whole segments in a byte-bounded LRU in front of another
// storage.
//
// Segments are immutable, so entries never go stale. Create writes through
// and populates the cache. The first ranged read of an uncached segment
// fetches the whole segment once (concurrent misses share one fetch) when
// the inner storage implements [WholeReader]; otherwise reads pass through.
// Segments larger than the capacity are never cached; once one is seen its
// reads go straight to the inner storage as ranged reads.
type Cache struct {
	inner    Storage
	capacity int64
	group    singleflight.Group

	mu    sync.Mutex
	size  int64
	ll    *list.List
	items map[string]*list.Element

	// oversize holds segments too large to cache.
	oversize map[string]struct{}

	hits, misses int64
}

type cacheEntry struct {
	name string
	data []byte
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Bytes    int64
	Segments int
}

// NewCache wraps inner with an LRU of at most capacityBytes.
func NewCache(inner Storage, capacityBytes int64) *Cache {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}

	return &Cache{
		inner:    inner,
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		oversize: make(map[string]struct{}),
	}
}

func (c *Cache) Create(ctx context.Context, name string, data []byte) error {
	if err := c.inner.Create(ctx, name, data); err != nil {
		return err
	}

	c.put(name, append([]byte(nil), data...))

	return nil
}

func (c *Cache) ReadRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := validateRange(name, offset, length); err != nil {
		return nil, err
	}

	if data, ok := c.lookup(name, true); ok {
		return sliceRange(name, data, offset, length)
	}

	if _, ok := c.inner.(WholeReader); !ok || c.isOversize(name) {
		return c.inner.ReadRange(ctx, name, offset, length)
	}

	// The shared fetch must outlive any single caller's cancellation; each
	// caller still stops waiting when its own ctx ends.
	fetchCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(name, func() (any, error) {
		if data, ok := c.lookup(name, false); ok {
			return data, nil
		}

		data, err := ReadAll(fetchCtx, c.inner, name)
		if err != nil {
			return nil, err
		}

		c.put(name, data)

		return data, nil
	})

	var res singleflight.Result

	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if errors.Is(res.Err, errors.ErrUnsupported) {
		return c.inner.ReadRange(ctx, name, offset, length)
	}

	if res.Err != nil {
		return nil, res.Err
	}

	return sliceRange(name, res.Val.([]byte), offset, length)
}

// ReadAll serves from the cache when possible.
func (c *Cache) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if data, ok := c.lookup(name, true); ok {
		return append([]byte(nil), data...), nil
	}

	return ReadAll(ctx, c.inner, name)
}

// List passes through to the inner storage.
func (c *Cache) List(ctx context.Context) ([]Info, error) {
	return List(ctx, c.inner)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{Hits: c.hits, Misses: c.misses, Bytes: c.size, Segments: c.ll.Len()}
}

func (c *Cache) lookup(name string, count bool) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[name]
	if !ok {
		if count {
			c.misses++
		}

		return nil, false
	}

	if count {
		c.hits++
	}

	c.ll.MoveToFront(elem)

	return elem.Value.(*cacheEntry).data, true
}

func (c *Cache) isOversize(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.oversize[name]

	return ok
}

func (c *Cache) put(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(data)) > c.capacity {
		c.oversize[name] = struct{}{}

		return
	}

	if elem, ok := c.items[name]; ok {
		c.ll.MoveToFront(elem)

		return
	}

	c.items[name] = c.ll.PushFront(&cacheEntry{name: name, data: data})
	c.size += int64(len(data))

	for c.size > c.capacity && c.ll.Len() > 0 {
		elem := c.ll.Back()
		entry := elem.Value.(*cacheEntry)
		delete(c.items, entry.name)
		c.ll.Remove(elem)
		c.size -= int64(len(entry.data))
	}
}

func sliceRange(name string, data []byte, offset, length int64) ([]byte, error) {
	if offset+length > int64(len(data)) {
		return nil, shortRead(name, offset, length, int64(len(data)))
	}

	return append([]byte(nil), data[offset:offset+length]...), nil
}

var (
	_ Storage     = (*Cache)(nil)
	_ Lister      = (*Cache)(nil)
	_ WholeReader = (*Cache)(nil)
)
