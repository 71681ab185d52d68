// Command tiercache-bench drives a tiercache.Coordinator through a
// configurable put/get/remove workload and reports throughput and final
// tier state. It is a demo harness, not part of the library contract.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kvtier/tiercache"
	"github.com/kvtier/tiercache/settings"
)

// Config holds the flags that shape a single bench run.
type Config struct {
	strategy  string
	memMax    uint64
	fsMax     int64
	fsFiles   int
	fsDir     string
	keyspace  int
	ops       int
	removeOne int // every removeOne-th operation is a remove instead of a put followed by a get
}

func parseFlags() Config {
	var c Config

	flag.StringVar(&c.strategy, "strategy", "LRU", "L1 eviction strategy: FIFO, LRU, or LFU")
	flag.Uint64Var(&c.memMax, "mem-max", 1000, "L1 entry cap")
	flag.Int64Var(&c.fsMax, "fs-max", 1_000_000, "L2 total byte cap")
	flag.IntVar(&c.fsFiles, "fs-files", 8, "L2 log file cap")
	flag.StringVar(&c.fsDir, "fs-dir", "", "L2 log directory (default: a temp dir, removed on exit)")
	flag.IntVar(&c.keyspace, "keyspace", 5000, "distinct keys drawn from during the run")
	flag.IntVar(&c.ops, "ops", 200_000, "number of operations to run")
	flag.IntVar(&c.removeOne, "remove-one-in", 20, "issue a remove instead of a put and get every N operations")
	flag.Parse()

	return c
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintln(os.Stderr, "tiercache-bench:", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	fsDir := cfg.fsDir
	if fsDir == "" {
		dir, err := os.MkdirTemp("", "tiercache-bench-")
		if err != nil {
			return fmt.Errorf("create temp fs-dir: %w", err)
		}

		defer os.RemoveAll(dir)

		fsDir = dir
	}

	s := settings.Settings{
		Strategy: settings.Strategy(cfg.strategy),
		MemMax:   cfg.memMax,
		FsMax:    cfg.fsMax,
		FsFiles:  cfg.fsFiles,
		FsDir:    fsDir,
	}

	c, err := tiercache.Open(s)
	if err != nil {
		return fmt.Errorf("open coordinator: %w", err)
	}

	fmt.Fprintf(os.Stderr, "opened %s\n", c.Describe())

	rng := rand.New(rand.NewSource(1))

	start := time.Now()

	var hits, misses, removes int

	for i := range cfg.ops {
		key := fmt.Sprintf("key-%d", rng.Intn(cfg.keyspace))

		if cfg.removeOne > 0 && i%cfg.removeOne == 0 {
			c.Remove(key)
			removes++

			continue
		}

		value := []byte(fmt.Sprintf("value-for-%s-at-op-%d", key, i))
		c.Put(key, value)

		if _, ok := c.Get(key); ok {
			hits++
		} else {
			misses++
		}
	}

	elapsed := time.Since(start)

	fmt.Fprintf(os.Stderr, "ran %d ops in %s (%.0f ops/sec)\n", cfg.ops, elapsed, float64(cfg.ops)/elapsed.Seconds())
	fmt.Fprintf(os.Stderr, "puts: hits=%d misses=%d removes=%d\n", hits, misses, removes)
	fmt.Fprintf(os.Stderr, "final state: %s\n", c.Describe())
	fmt.Fprintf(os.Stderr, "L1 entries: %d\n", len(c.MemSnapshot()))
	fmt.Fprintf(os.Stderr, "L2 entries: %d\n", len(c.FsSnapshot()))

	done := make(chan struct{})
	if err := c.Stop(func() { close(done) }); err != nil {
		return fmt.Errorf("stop coordinator: %w", err)
	}

	<-done

	fmt.Fprintln(os.Stderr, "stopped cleanly")

	return nil
}
