// Package fifo provides tiercache's FIFO (First In, First Out) L1 eviction
// policy: items are evicted strictly in insertion order, regardless of how
// often they are accessed.
package fifo

import (
	"fmt"
	"sync"

	"github.com/kvtier/tiercache/memcache"
)

type node struct {
	key        string
	ref        memcache.ValueRef
	prev, next *node
}

// Cache is a thread-safe FIFO cache implementing memcache.Cache.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*node
	head, tail *node // head = newest, tail = oldest
	capacity   uint64
	sink       memcache.EvictionSink
}

var _ memcache.Cache = (*Cache)(nil)

// New creates a FIFO cache bounded at capacity entries. Overflowing
// entries are reported to sink; pass memcache.NopSink to discard them.
func New(capacity uint64, sink memcache.EvictionSink) *Cache {
	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head

	if sink == nil {
		sink = memcache.NopSink
	}

	return &Cache{
		items:    make(map[string]*node),
		head:     head,
		tail:     tail,
		capacity: capacity,
		sink:     sink,
	}
}

// Put adds or updates key. Unlike lru, updating an existing key does NOT
// move it — FIFO keeps strict insertion order.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()

	if n, ok := c.items[key]; ok {
		n.ref = memcache.NewStrongRef(value)
		c.mu.Unlock()

		return
	}

	var evictedKey string

	var evictedRef memcache.ValueRef

	evicted := false

	if uint64(len(c.items)) >= c.capacity {
		evictedKey, evictedRef, evicted = c.evictLocked()
	}

	n := &node{key: key, ref: memcache.NewStrongRef(value)}
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
	c.items[key] = n

	c.mu.Unlock()

	if evicted {
		if v, ok := evictedRef.Load(); ok {
			c.sink.OnEvict(evictedKey, v)
		}
	}
}

// Get returns key's value. Accessing a key does not affect eviction order.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return nil, false
	}

	return n.ref.Load()
}

// Remove deletes key. Never notifies the eviction sink.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}

	c.removeNode(n)
	delete(c.items, key)

	return true
}

// Snapshot returns a debug view of every entry.
func (c *Cache) Snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.items))
	for k, n := range c.items {
		if v, ok := n.ref.Load(); ok {
			out[k] = fmt.Sprintf("0 - %v", v)
		} else {
			out[k] = "0 - null"
		}
	}

	return out
}

// LiveContents returns every key mapped to a non-reclaimed value.
func (c *Cache) LiveContents() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any, len(c.items))
	for k, n := range c.items {
		if v, ok := n.ref.Load(); ok {
			out[k] = v
		}
	}

	return out
}

// Describe returns a one-line summary.
func (c *Cache) Describe() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf("fifo(len=%d, capacity=%d)", len(c.items), c.capacity)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// evictLocked removes the oldest item (at tail). Must be called with the
// lock held and len(items) > 0.
func (c *Cache) evictLocked() (key string, ref memcache.ValueRef, ok bool) {
	oldest := c.tail.prev
	if oldest == c.head {
		return "", nil, false
	}

	c.removeNode(oldest)
	delete(c.items, oldest.key)

	return oldest.key, oldest.ref, true
}

func (c *Cache) removeNode(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}
