package tiercache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvtier/tiercache"
	"github.com/kvtier/tiercache/settings"
)

func testSettings(t *testing.T, strategy settings.Strategy, memMax uint64) settings.Settings {
	t.Helper()

	return settings.Settings{
		Strategy: strategy,
		MemMax:   memMax,
		FsMax:    100_000,
		FsFiles:  2,
		FsDir:    t.TempDir(),
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := tiercache.New(settings.Settings{})
	assert.Error(t, err)
}

func TestLifecycle_StartsInCreated(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)
	assert.Equal(t, tiercache.Created, c.State())
}

func TestLifecycle_StartTransitionsToWorking(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	assert.Equal(t, tiercache.Working, c.State())
}

func TestLifecycle_DoubleStartIsLifecycleError(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	err = c.Start()
	assert.Error(t, err)
}

func TestLifecycle_StopOutsideWorkingIsLifecycleError(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	err = c.Stop(nil)
	assert.Error(t, err)
}

func TestLifecycle_PutGetRemoveAreNoopsOutsideWorking(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("k", "v") // Created state: silently dropped

	_, ok := c.Get("k")
	assert.False(t, ok)
}

// Invariant 6: coordinator.put(k,v); coordinator.get(k) == v in Working state.
func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("k", "v")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

// Law: remove(k); get(k) == absent.
func TestLaw_RemoveThenGetAbsent(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("k", "v")
	c.Remove("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

// Law: put(k,v1); put(k,v2); get(k) == v2 regardless of tier.
func TestLaw_LastPutWins(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("k", "v1")
	c.Put("k", "v2")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

// Put invalidates any L2 shadow copy: once a key is re-put at the
// coordinator, a subsequent get must never fall through to a stale L2
// value.
func TestPut_InvalidatesL2Shadow(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 5)) // memMax 5 forces eviction on the 6th put
	require.NoError(t, err)

	c.Put("a", []byte("old"))

	for i := range 5 {
		c.Put(string(rune('b'+i)), []byte("filler")) // the last one evicts "a"; the sink demotes it into L2
	}

	// Give the async L2 persistence a moment to land before re-putting.
	time.Sleep(50 * time.Millisecond)

	c.Put("a", []byte("new")) // L1 put + synchronous L2 shadow removal

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestEvictionDemotesIntoL2(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 5))
	require.NoError(t, err)

	c.Put("a", []byte("1"))

	for i := range 5 {
		c.Put(string(rune('b'+i)), []byte("2")) // the last one evicts "a" from L1; sink demotes it into L2
	}

	require.Eventually(t, func() bool {
		v, ok := c.Get("a")
		return ok && string(v.([]byte)) == "1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDescribeAndSnapshots(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("a", "1")

	assert.Contains(t, c.Describe(), "tiercache(")
	assert.Equal(t, map[string]string{"a": "0 - 1"}, c.MemSnapshot())
}

func TestSnapshots_EmptyOutsideWorking(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	assert.Empty(t, c.MemSnapshot())
	assert.Empty(t, c.FsSnapshot())
}

func TestStop_OrderlyShutdown(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	c.Put("a", []byte("1"))

	done := make(chan struct{})
	require.NoError(t, c.Stop(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop callback never fired")
	}

	assert.Equal(t, tiercache.Stopped, c.State())
}

// Coordinator-level counterpart of the shutdown-timeout scenario: the
// call must return promptly and leave the coordinator in Stopping or
// Stopped, with no data-loss guarantees asserted.
func TestShutdown_TimeoutScenario(t *testing.T) {
	t.Parallel()

	c, err := tiercache.Open(testSettings(t, settings.LRU, 1000))
	require.NoError(t, err)

	for i := range 100 {
		c.Put(string(rune('a'+i%26)), []byte{byte(i)})
	}

	_, err = c.Shutdown(0)
	require.NoError(t, err)

	state := c.State()
	assert.True(t, state == tiercache.Stopping || state == tiercache.Stopped)
}

func TestShutdown_OutsideWorkingIsLifecycleError(t *testing.T) {
	t.Parallel()

	c, err := tiercache.New(testSettings(t, settings.LRU, 10))
	require.NoError(t, err)

	_, err = c.Shutdown(time.Second)
	assert.Error(t, err)
}

func TestStrategies_AllThreeConstructWithoutError(t *testing.T) {
	t.Parallel()

	for _, strategy := range []settings.Strategy{settings.FIFO, settings.LRU, settings.LFU} {
		c, err := tiercache.Open(testSettings(t, strategy, 10))
		require.NoError(t, err)

		c.Put("k", "v")

		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	}
}
