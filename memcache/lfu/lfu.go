// Package lfu provides tiercache's LFU (Least Frequently Used) L1 eviction
// policy via a "hitched stack": a doubly linked list partitioned by 256
// fixed sentinel nodes ("hitches"), each owning a bucket of hit-count
// ranges that double in width as hit counts grow. Eviction sweeps from the
// lowest bucket, migrating any entry it finds sitting in the wrong bucket
// to its correct one as it goes. This trades strict LFU ordering (which
// needs a priority queue and O(log n) per access) for O(1) amortized Get
// and Put, with rebalancing folded into the already-amortized eviction
// path.
//
// This is deliberately approximate: an entry's true rank within its bucket
// is not tracked, only that its hit count currently falls in the bucket's
// range. See the package-level tests for the two worked examples this
// design is checked against.
package lfu

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kvtier/tiercache/memcache"
)

// hitchesCount is fixed by the design: widths 1,2,4,...,128 each emitted
// that many times (255 hitches) plus one final catch-all hitch (256).
const hitchesCount = 256

type kind uint8

const (
	kindBoundary kind = iota // head/tail sentinels, never matched
	kindHitch
	kindEntry
)

type node struct {
	prev, next *node
	kind       kind

	// valid when kind == kindHitch
	hitsMin, hitsMax uint32
	bucketEnd        *node // next hitch, or tail for the last hitch

	// valid when kind == kindEntry
	key  string
	ref  memcache.ValueRef
	hits atomic.Uint32
}

// Cache is a thread-safe, bucketed approximate-LFU cache implementing
// memcache.Cache.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	mapMu sync.RWMutex
	items map[string]*node

	stackMu    sync.Mutex
	head, tail *node
	top        *node
	hitches    []*node // ordered ascending by hitsMax, for ceiling lookup
	count      int

	capacity uint64
	sink     memcache.EvictionSink
}

var _ memcache.Cache = (*Cache)(nil)

// New creates an LFU cache bounded at capacity entries. Overflowing
// entries are reported to sink; pass memcache.NopSink to discard them.
func New(capacity uint64, sink memcache.EvictionSink) *Cache {
	if sink == nil {
		sink = memcache.NopSink
	}

	c := &Cache{
		items:    make(map[string]*node),
		capacity: capacity,
		sink:     sink,
	}
	c.buildHitches()

	return c
}

// buildHitches wires up the 256 fixed hitch sentinels between head and
// tail boundary nodes, per the width series 1,2,4,...,128 (that many
// hitches of that width each), then one final hitch covering the rest of
// the uint32 range.
func (c *Cache) buildHitches() {
	c.head = &node{kind: kindBoundary}
	c.tail = &node{kind: kindBoundary}

	c.hitches = make([]*node, 0, hitchesCount)

	prev := c.head

	var cursor uint64 // wide enough to hold math.MaxUint32+1 without overflow

	for width := uint64(1); width <= 128; width *= 2 {
		for i := uint64(0); i < width; i++ {
			lo := cursor
			hi := cursor + width - 1
			h := &node{
				kind:    kindHitch,
				hitsMin: uint32(lo),
				hitsMax: uint32(hi),
			}
			prev.next = h
			h.prev = prev
			c.hitches = append(c.hitches, h)
			prev = h
			cursor = hi + 1
		}
	}

	final := &node{kind: kindHitch, hitsMin: uint32(cursor), hitsMax: math.MaxUint32}
	prev.next = final
	final.prev = prev
	c.hitches = append(c.hitches, final)
	prev = final

	prev.next = c.tail
	c.tail.prev = prev

	for i, h := range c.hitches {
		if i+1 < len(c.hitches) {
			h.bucketEnd = c.hitches[i+1]
		} else {
			h.bucketEnd = c.tail
		}
	}

	c.top = c.hitches[0]
}

// ceilingHitch returns the hitch with the smallest hitsMax >= hits.
func (c *Cache) ceilingHitch(hits uint32) *node {
	i := sort.Search(len(c.hitches), func(i int) bool {
		return c.hitches[i].hitsMax >= hits
	})
	if i == len(c.hitches) {
		i = len(c.hitches) - 1
	}

	return c.hitches[i]
}

// Put inserts or updates key. Re-putting an existing key carries its hit
// count forward and keeps its bucket position; a brand new key enters
// top's bucket with hits=0.
func (c *Cache) Put(key string, value any) {
	n := &node{kind: kindEntry, key: key, ref: memcache.NewStrongRef(value)}

	c.mapMu.Lock()
	prior, hadPrior := c.items[key]
	c.items[key] = n
	c.mapMu.Unlock()

	var evictedKey string

	var evictedRef memcache.ValueRef

	var evictedVictim *node

	evicted := false

	c.stackMu.Lock()

	switch {
	// prior.prev == nil means prior was already unlinked by a concurrent
	// eviction sweep that raced us between the map install above and
	// taking stackMu (a Put for a different key evicted this very entry
	// as its victim). Splicing into it would dereference a nil neighbor,
	// so treat it like a brand new key instead.
	case hadPrior && prior.prev != nil:
		n.hits.Store(prior.hits.Load())
		c.spliceReplace(prior, n)
	case c.count >= int(c.capacity):
		victim := c.removeLeastFrequentLocked()
		c.insertAtBucketTail(n, c.top)
		c.count++

		if victim != nil {
			evictedVictim = victim
			evictedKey, evictedRef, evicted = victim.key, victim.ref, true
		}
	default:
		c.count++
		c.insertAtBucketTail(n, c.top)
	}

	c.stackMu.Unlock()

	if evicted {
		c.mapMu.Lock()
		// Identity-checked: a concurrent re-put for evictedKey may already
		// have installed a newer node in the map by the time this cleanup
		// runs; only remove the map entry if it still points at the node
		// that was just evicted, never at a newer one.
		if c.items[evictedKey] == evictedVictim {
			delete(c.items, evictedKey)
		}
		c.mapMu.Unlock()

		if v, ok := evictedRef.Load(); ok {
			c.sink.OnEvict(evictedKey, v)
		}
	}
}

// Get returns key's value without taking the stack lock; hits is
// incremented atomically and is allowed to race under contention (see
// package docs — it only feeds an approximate bucket).
func (c *Cache) Get(key string) (any, bool) {
	c.mapMu.RLock()
	n, ok := c.items[key]
	c.mapMu.RUnlock()

	if !ok {
		return nil, false
	}

	v, live := n.ref.Load()
	if !live {
		return nil, false
	}

	n.hits.Add(1)

	return v, true
}

// Remove deletes key. Never notifies the eviction sink.
func (c *Cache) Remove(key string) bool {
	c.mapMu.Lock()
	n, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	c.mapMu.Unlock()

	if !ok {
		return false
	}

	c.stackMu.Lock()
	c.unlink(n)
	c.count--
	c.stackMu.Unlock()

	return true
}

// removeLeastFrequentLocked sweeps from top, promoting any entry found in
// the wrong bucket to its ceiling hitch, until an entry is found whose
// hits fit the bucket it is currently sitting in. That entry is the
// victim. Must be called with stackMu held and count > 0.
func (c *Cache) removeLeastFrequentLocked() *node {
	currHitch := c.top
	cursor := c.top.next

	for {
		if cursor.kind == kindHitch {
			currHitch = cursor
			cursor = cursor.next

			continue
		}

		if cursor.kind == kindBoundary {
			// Unreachable in a non-empty cache: the final hitch accepts
			// any hits value, so the sweep always finds a victim before
			// reaching tail.
			return nil
		}

		if cursor.hits.Load() <= currHitch.hitsMax {
			victim := cursor
			c.unlink(victim)
			c.count--

			return victim
		}

		moving := cursor
		cursor = cursor.next
		c.unlink(moving)
		c.insertAtBucketTail(moving, c.ceilingHitch(moving.hits.Load()))
	}
}

// insertAtBucketTail splices n in just before hitch.bucketEnd, i.e. at the
// tail of hitch's bucket. Used for both fresh inserts into top and
// sweep-time promotions, so that entries within a bucket stay in
// first-in/first-out order (oldest nearest the hitch).
func (c *Cache) insertAtBucketTail(n, hitch *node) {
	boundary := hitch.bucketEnd
	n.prev = boundary.prev
	n.next = boundary
	boundary.prev.next = n
	boundary.prev = n
}

func (c *Cache) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// spliceReplace puts n in old's exact linked-list position (same prev and
// next) and unlinks old. Used when a Put carries hits over from an
// existing entry with the same key: this causes no size change and no
// bucket change, even if the carried-over hits no longer fit whatever
// bucket the entry happens to be sitting in (the next eviction sweep will
// migrate it if so).
func (c *Cache) spliceReplace(old, n *node) {
	n.prev = old.prev
	n.next = old.next
	old.prev.next = n
	old.next.prev = n
	old.prev, old.next = nil, nil
}

// Snapshot returns a debug view of every entry: key -> "<hits> - <value|null>".
func (c *Cache) Snapshot() map[string]string {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	out := make(map[string]string, len(c.items))

	for k, n := range c.items {
		if v, ok := n.ref.Load(); ok {
			out[k] = fmt.Sprintf("%d - %v", n.hits.Load(), v)
		} else {
			out[k] = fmt.Sprintf("%d - null", n.hits.Load())
		}
	}

	return out
}

// LiveContents returns every key mapped to a non-reclaimed value.
func (c *Cache) LiveContents() map[string]any {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

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
	c.mapMu.RLock()
	n := len(c.items)
	c.mapMu.RUnlock()

	return fmt.Sprintf("lfu(len=%d, capacity=%d, buckets=%d)", n, c.capacity, hitchesCount)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()

	return len(c.items)
}
