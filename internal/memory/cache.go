package memory

import (
	"strings"
	"sync"
)

// fifoCache is a bounded map evicting in insertion order: once full, a
// new key pushes out the oldest-inserted one. Reads do not reorder, so
// this is deliberately not an LRU — downstream hit-rate numbers were
// measured against insertion-order eviction.
type fifoCache[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]V
	order    []string
}

func newFIFOCache[V any](capacity int) *fifoCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &fifoCache[V]{
		capacity: capacity,
		items:    make(map[string]V, capacity),
	}
}

func (c *fifoCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

// Set inserts or replaces. Replacing keeps the key's original position
// in the eviction order.
func (c *fifoCache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		c.items[key] = v
		return
	}
	if len(c.items) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = v
	c.order = append(c.order, key)
}

func (c *fifoCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		return
	}
	delete(c.items, key)
	c.dropFromOrder(func(k string) bool { return k == key })
}

// DeletePrefix removes every key with the given prefix.
func (c *fifoCache[V]) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed bool
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			removed = true
		}
	}
	if removed {
		c.dropFromOrder(func(k string) bool { return !c.has(k) })
	}
}

// DeleteFunc removes every item for which fn returns true.
func (c *fifoCache[V]) DeleteFunc(fn func(key string, v V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed bool
	for k, v := range c.items {
		if fn(k, v) {
			delete(c.items, k)
			removed = true
		}
	}
	if removed {
		c.dropFromOrder(func(k string) bool { return !c.has(k) })
	}
}

func (c *fifoCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]V, c.capacity)
	c.order = c.order[:0]
}

func (c *fifoCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// dropFromOrder compacts the order slice, keeping relative positions.
// Callers must hold the mutex.
func (c *fifoCache[V]) dropFromOrder(remove func(string) bool) {
	kept := c.order[:0]
	for _, k := range c.order {
		if !remove(k) {
			kept = append(kept, k)
		}
	}
	c.order = kept
}

func (c *fifoCache[V]) has(k string) bool {
	_, ok := c.items[k]
	return ok
}
