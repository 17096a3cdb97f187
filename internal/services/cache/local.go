package cache

import (
	"container/list"
	"sync"
)

// LocalCache is the in-process prediction cache: a bounded LRU over a map
// plus a recency list. It is consulted before the shared tier because it has
// no I/O latency. All operations hold one mutex.
type LocalCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used

	hits      int64
	misses    int64
	evictions int64
}

type localEntry struct {
	key   string
	value interface{}
}

// NewLocalCache creates an LRU cache holding at most capacity entries.
func NewLocalCache(capacity int) *LocalCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LocalCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value and marks the key most recently used.
func (c *LocalCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*localEntry).value, true
}

// Put inserts or replaces a value. When the cache is full, the least
// recently used entry is evicted first.
func (c *LocalCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*localEntry).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*localEntry).key)
			c.evictions++
		}
	}

	c.entries[key] = c.order.PushFront(&localEntry{key: key, value: value})
}

// Delete removes a key if present.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Contains reports presence without touching recency.
func (c *LocalCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Purge drops every entry. Counters survive.
func (c *LocalCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// Stats is a point-in-time snapshot for status reporting.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
}

// Stats returns hit/miss/eviction counters and the current fill level.
func (c *LocalCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		Capacity:  c.capacity,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
