// Package tiercache implements a two-tier key/value cache: a bounded
// in-memory tier (memcache) backed by an append-only on-disk log tier
// (fscache). Coordinator stitches the two together behind a small
// lifecycle state machine and an eviction callback that demotes L1
// overflow into L2.
package tiercache

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvtier/tiercache/fscache"
	"github.com/kvtier/tiercache/internal/telemetry"
	"github.com/kvtier/tiercache/memcache"
	"github.com/kvtier/tiercache/memcache/fifo"
	"github.com/kvtier/tiercache/memcache/lfu"
	"github.com/kvtier/tiercache/memcache/lru"
	"github.com/kvtier/tiercache/settings"
	"github.com/kvtier/tiercache/tiererr"
)

// State is a Coordinator's lifecycle state.
type State int

// Lifecycle states, in the order a well-behaved caller passes through
// them.
const (
	Created State = iota
	Starting
	Working
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Starting:
		return "Starting"
	case Working:
		return "Working"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger overrides the default logger.
func WithLogger(log *telemetry.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithSerializer overrides the default fscache.Serializer (fscache.ByteSerializer).
func WithSerializer(s fscache.Serializer) Option {
	return func(c *Coordinator) { c.serializer = s }
}

// Coordinator is the public entry point: a two-tier cache with an
// explicit lifecycle.
//
// The zero value is not usable; create instances with New or Open.
type Coordinator struct {
	mu    sync.Mutex
	state State

	settings   settings.Settings
	log        *telemetry.Logger
	serializer fscache.Serializer

	l1 memcache.Cache
	l2 *fscache.Cache
}

// New validates settings and constructs a Coordinator in the Created
// state. The eviction sink that will demote L1 overflow into L2 is wired
// up here, even though L2 itself is not built until Start: the sink
// captures a stable *Coordinator pointer (allocated before the sink and
// before L1), breaking the construction cycle between "L1 needs a sink"
// and "the sink needs the coordinator."
func New(s settings.Settings, opts ...Option) (*Coordinator, error) {
	validated, err := settings.New(s)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		state:      Created,
		settings:   validated,
		log:        telemetry.New("tiercache", zerolog.InfoLevel),
		serializer: fscache.ByteSerializer{},
	}

	for _, opt := range opts {
		opt(c)
	}

	sink := memcache.EvictionSinkFunc(c.onEvict)

	switch validated.Strategy {
	case settings.FIFO:
		c.l1 = fifo.New(validated.MemMax, sink)
	case settings.LRU:
		c.l1 = lru.New(validated.MemMax, sink)
	case settings.LFU:
		c.l1 = lfu.New(validated.MemMax, sink)
	default:
		return nil, &tiererr.ConfigError{Cause: fmt.Errorf("unknown strategy %q", validated.Strategy)}
	}

	return c, nil
}

// Open combines New and Start for the common case where the caller has
// no need to inspect the Created state before starting.
func Open(s settings.Settings, opts ...Option) (*Coordinator, error) {
	c, err := New(s, opts...)
	if err != nil {
		return nil, err
	}

	if err := c.Start(); err != nil {
		return nil, err
	}

	return c, nil
}

// onEvict is the eviction sink installed on L1: it demotes an evicted
// entry into L2. Captured by value at construction (c is the stable
// pointer allocated in New), so it is safe to call before L2 exists only
// because L1 never evicts before Start puts the Coordinator into
// Working, by which point L2 is built.
func (c *Coordinator) onEvict(key string, value any) {
	c.mu.Lock()
	l2 := c.l2
	c.mu.Unlock()

	if l2 == nil {
		return
	}

	l2.Put(key, value)
}

// Start replays L2 and transitions Created -> Starting -> Working. A
// replay failure transitions to Stopped and returns *tiererr.StartError.
// Calling Start outside Created is a *tiererr.LifecycleError.
func (c *Coordinator) Start() error {
	c.mu.Lock()

	if c.state != Created {
		err := &tiererr.LifecycleError{From: c.state.String(), Attempted: "start"}
		c.mu.Unlock()

		return err
	}

	c.state = Starting
	c.mu.Unlock()

	l2, err := fscache.Open(c.settings, c.log.Component("fscache"), c.serializer)
	if err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()

		return err
	}

	c.mu.Lock()
	c.l2 = l2
	c.state = Working
	c.mu.Unlock()

	return nil
}

// Put inserts or updates key. A no-op outside Working.
func (c *Coordinator) Put(key string, value any) {
	c.mu.Lock()
	working := c.state == Working
	c.mu.Unlock()

	if !working {
		return
	}

	c.l1.Put(key, value)
	c.l2.Remove(key)
}

// Get returns key's value, checking L1 then L2. A no-op (absent) outside
// Working.
func (c *Coordinator) Get(key string) (any, bool) {
	c.mu.Lock()
	working := c.state == Working
	c.mu.Unlock()

	if !working {
		return nil, false
	}

	if v, ok := c.l1.Get(key); ok {
		return v, true
	}

	return c.l2.Get(key)
}

// Remove deletes key from both tiers. A no-op outside Working.
func (c *Coordinator) Remove(key string) {
	c.mu.Lock()
	working := c.state == Working
	c.mu.Unlock()

	if !working {
		return
	}

	c.l1.Remove(key)
	c.l2.Remove(key)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Settings returns the validated settings this Coordinator was built
// with.
func (c *Coordinator) Settings() settings.Settings {
	return c.settings
}

// Describe returns a one-line summary of both tiers' current state.
func (c *Coordinator) Describe() string {
	c.mu.Lock()
	state := c.state
	l1, l2 := c.l1, c.l2
	c.mu.Unlock()

	if l2 == nil {
		return fmt.Sprintf("tiercache(state=%s, l1=%s, l2=<not started>)", state, l1.Describe())
	}

	return fmt.Sprintf("tiercache(state=%s, l1=%s, l2=%s)", state, l1.Describe(), l2.Describe())
}

// MemSnapshot returns a debug view of L1's contents. Empty outside
// Working.
func (c *Coordinator) MemSnapshot() map[string]string {
	c.mu.Lock()
	working := c.state == Working
	l1 := c.l1
	c.mu.Unlock()

	if !working {
		return map[string]string{}
	}

	return l1.Snapshot()
}

// FsSnapshot returns a debug view of L2's contents. Empty outside
// Working.
func (c *Coordinator) FsSnapshot() map[string]any {
	c.mu.Lock()
	working := c.state == Working
	l2 := c.l2
	c.mu.Unlock()

	if !working {
		return map[string]any{}
	}

	return l2.Snapshot()
}

// Stop performs an orderly shutdown: L1's live contents are flushed to L2
// as a best-effort final snapshot, then L2's persistence executor drains
// and closes its handles. onStopped runs on the persistence executor's
// goroutine once that drain completes. Calling Stop outside Working is a
// *tiererr.LifecycleError.
func (c *Coordinator) Stop(onStopped func()) error {
	c.mu.Lock()

	if c.state != Working {
		err := &tiererr.LifecycleError{From: c.state.String(), Attempted: "stop"}
		c.mu.Unlock()

		return err
	}

	c.state = Stopping
	snapshot := c.l1.LiveContents()
	l2 := c.l2
	c.mu.Unlock()

	l2.Stop(snapshot, func() {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()

		if onStopped != nil {
			onStopped()
		}
	})

	return nil
}

// Shutdown performs an abnormal shutdown: L2's persistence executor is
// interrupted without flushing, and Shutdown waits up to timeout for it
// to drain whatever was already queued. Returns whether termination
// completed in time. Calling Shutdown outside Working is a
// *tiererr.LifecycleError.
func (c *Coordinator) Shutdown(timeout time.Duration) (bool, error) {
	c.mu.Lock()

	if c.state != Working {
		err := &tiererr.LifecycleError{From: c.state.String(), Attempted: "shutdown"}
		c.mu.Unlock()

		return false, err
	}

	c.state = Stopping
	l2 := c.l2
	c.mu.Unlock()

	ok := l2.Shutdown(timeout)

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()

	return ok, nil
}
