package query

import (
	"container/list"
	"sync"
)

// Cache is a bounded LRU of query results keyed by query name and
// parameters. Safe for concurrent use by batch workers.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type cacheEntry struct {
	key   string
	value any
}

// NewCache creates a cache holding at most capacity results. A capacity
// of zero or less disables caching.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element, max(capacity, 0)),
		lruList:  list.New(),
	}
}

// Get returns the cached value for key and promotes it.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lruList.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Add inserts or replaces key, evicting the least recently used entry
// when full.
func (c *Cache) Add(key string, value any) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	c.items[key] = c.lruList.PushFront(&cacheEntry{key: key, value: value})
	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.lruList.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
	c.evictions++
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, max(c.capacity, 0))
	c.lruList.Init()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Evictions returns the total number of evictions.
func (c *Cache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
