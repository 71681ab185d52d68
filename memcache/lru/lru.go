// Package lru provides tiercache's LRU (Least Recently Used) L1 eviction
// policy: both Put and Get mark an item as most-recently-used, and
// overflow evicts the least-recently-used item.
package lru

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

// Cache is a thread-safe LRU cache implementing memcache.Cache.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	mu sync.Mutex

	capacity   uint64
	items      map[string]*node
	head, tail *node
	sink       memcache.EvictionSink
}

var _ memcache.Cache = (*Cache)(nil)

// New creates an LRU cache bounded at capacity entries. Overflowing
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
		capacity: capacity,
		items:    make(map[string]*node),
		head:     head,
		tail:     tail,
		sink:     sink,
	}
}

// Put adds or updates key and marks it as most recently used.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()

	if n, ok := c.items[key]; ok {
		n.ref = memcache.NewStrongRef(value)
		c.moveToHead(n)
		c.mu.Unlock()

		return
	}

	n := &node{key: key, ref: memcache.NewStrongRef(value)}
	c.items[key] = n
	c.addNodeToHead(n)

	var evictedKey string

	var evictedRef memcache.ValueRef

	evicted := false

	if uint64(len(c.items)) > c.capacity {
		lru := c.tail.prev
		c.removeNode(lru)
		delete(c.items, lru.key)
		evictedKey, evictedRef, evicted = lru.key, lru.ref, true
	}

	c.mu.Unlock()

	if evicted {
		if v, ok := evictedRef.Load(); ok {
			c.sink.OnEvict(evictedKey, v)
		}
	}
}

func (c *Cache) moveToHead(n *node) {
	c.removeNode(n)
	c.addNodeToHead(n)
}

func (c *Cache) removeNode(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (c *Cache) addNodeToHead(n *node) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

// Get returns key's value and marks it as most recently used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.moveToHead(n)

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

	return fmt.Sprintf("lru(len=%d, capacity=%d)", len(c.items), c.capacity)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}
