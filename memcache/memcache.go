// Package memcache defines the shared contract for tiercache's upper
// (in-memory) tier: a bounded key/value map that reports exactly one
// eviction per overflow to an EvictionSink. Three eviction policies
// implement Cache: fifo, lru, and lfu.
//
// Values are held behind a ValueRef rather than stored directly. This is
// the Go rendering of the source cache's weakly-held references: a host
// can supply a ValueRef whose Load reports false once the underlying
// object becomes unreachable, simulating reclaim-before-eviction. The
// default, produced by NewStrongRef, never reports reclaim.
package memcache

// ValueRef is a reclaimable reference to a cached value.
//
// Load returns the value and true while it is live, or the zero value and
// false once it has been reclaimed. A reclaimed entry's key shell may
// still occupy a slot in the cache until it is naturally evicted.
type ValueRef interface {
	Load() (value any, ok bool)
}

// strongRef is a ValueRef that always reports live.
type strongRef struct{ v any }

// NewStrongRef wraps v in a ValueRef that never reclaims.
func NewStrongRef(v any) ValueRef { return strongRef{v: v} }

func (s strongRef) Load() (any, bool) { return s.v, true }

// EvictionSink receives (key, value) pairs evicted from an overflowing
// Cache. It is invoked synchronously from the goroutine that triggered the
// eviction, outside of the cache's internal lock. It is never invoked for
// an entry removed via Remove, and never invoked for an entry whose
// ValueRef reports reclaimed at the moment of eviction.
type EvictionSink interface {
	OnEvict(key string, value any)
}

// EvictionSinkFunc adapts a function to an EvictionSink.
type EvictionSinkFunc func(key string, value any)

func (f EvictionSinkFunc) OnEvict(key string, value any) { f(key, value) }

// NopSink discards every eviction. Useful when a policy is constructed
// without a wired-up coordinator (e.g. in tests of the policy alone).
var NopSink EvictionSink = EvictionSinkFunc(func(string, any) {})

// Cache is the contract shared by fifo.Cache, lru.Cache, and lfu.Cache.
//
// Implementations are safe for concurrent use. Put, Get, and Remove are
// O(1) (amortized, for lfu). On overflow, Put evicts exactly one entry and
// reports it to the configured EvictionSink before returning, unless the
// evicted entry's value had already been reclaimed.
type Cache interface {
	// Put inserts or updates key. Re-putting an existing key carries its
	// hit count forward (lfu) or preserves its position (fifo); lru
	// promotes it to most-recently-used.
	Put(key string, value any)

	// Get returns the live value for key, or (nil, false) if key is
	// absent or its value has been reclaimed.
	Get(key string) (value any, ok bool)

	// Remove deletes key without notifying the eviction sink. Returns
	// whether the key was present.
	Remove(key string) bool

	// Snapshot returns a debug view: key -> "<hits> - <value|null>".
	Snapshot() map[string]string

	// LiveContents returns every key currently mapped to a non-reclaimed
	// value.
	LiveContents() map[string]any

	// Describe returns a one-line human-readable summary of the cache's
	// current state (policy name, length, capacity).
	Describe() string

	// Len returns the current number of entries, including any whose
	// value has been reclaimed but whose shell has not yet been evicted.
	Len() int
}
