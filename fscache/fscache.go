// Package fscache implements tiercache's L2: an append-only
// log-structured key/value store spread across numbered files, backed by
// an in-memory position index and a single-worker asynchronous
// persistence executor.
//
// Each file is a concatenation of framed records (see package codec),
// named tlv00000001.fsc, tlv00000002.fsc, and so on. The index maps a key
// to the file, offset, and combined key+value byte length of its most
// recent record; it is rebuilt at Open by a forward replay of every
// accepted file in ascending number order.
package fscache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvtier/tiercache/codec"
	"github.com/kvtier/tiercache/internal/telemetry"
	"github.com/kvtier/tiercache/settings"
	"github.com/kvtier/tiercache/tiererr"
)

const fileNamePattern = "tlv%08d.fsc"

const queueCapacity = 100

var fileNameRe = regexp.MustCompile(`^tlv(\d{8})\.fsc$`)

// Serializer turns an opaque L1 value into durable bytes. Put silently
// drops values the Serializer refuses, logging tiererr.NotSerializableError.
type Serializer interface {
	Serialize(v any) ([]byte, bool)
}

// ByteSerializer is the default Serializer: only []byte values are
// durable. L1 holds opaque any values; only the byte slices an eviction
// sink hands down are guaranteed round-trippable.
type ByteSerializer struct{}

// Serialize implements Serializer.
func (ByteSerializer) Serialize(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

type position struct {
	file   int
	offset int64
	size   int
}

type logFile struct {
	number int
	path   string
	handle *os.File
	size   int64
	keys   map[string]struct{}
}

// Cache is tiercache's L2 FilesystemCache.
//
// The zero value is not usable; create instances with Open.
type Cache struct {
	mu sync.Mutex

	dir     string
	fsMax   int64
	fsFiles int
	fileMax int64

	files       map[int]*logFile
	writableNum int
	index       map[string]position

	serializer Serializer
	log        *telemetry.Logger

	queue      chan func()
	stopping   atomic.Bool
	workerDone chan struct{}
}

// Open replays fsDir, reconstructing the position index, then starts the
// persistence executor. Returns *tiererr.StartError if replay cannot
// proceed at all (directory unreadable, writable file cannot be opened).
// Per-file corruption during replay is not fatal: the offending file and
// any files after it are dropped and the index collected so far is
// wiped, but Open still succeeds.
func Open(s settings.Settings, log *telemetry.Logger, serializer Serializer) (*Cache, error) {
	if serializer == nil {
		serializer = ByteSerializer{}
	}

	c := &Cache{
		dir:        s.FsDir,
		fsMax:      s.FsMax,
		fsFiles:    s.FsFiles,
		fileMax:    s.FileMax(),
		files:      make(map[int]*logFile),
		index:      make(map[string]position),
		serializer: serializer,
		log:        log,
		queue:      make(chan func(), queueCapacity),
		workerDone: make(chan struct{}),
	}

	if err := c.replay(); err != nil {
		return nil, &tiererr.StartError{Cause: err}
	}

	go c.worker()

	return c, nil
}

func (c *Cache) pathFor(n int) string {
	return filepath.Join(c.dir, fmt.Sprintf(fileNamePattern, n))
}

func (c *Cache) replay() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	var nums []int

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		nums = append(nums, n)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(nums)))

	var accepted, rejected []int

	var cumulative int64

	stillAccepting := true

	for _, n := range nums {
		info, err := os.Stat(c.pathFor(n))
		if err != nil {
			rejected = append(rejected, n)
			continue
		}

		if stillAccepting && cumulative+info.Size() <= c.fsMax {
			cumulative += info.Size()
			accepted = append(accepted, n)

			continue
		}

		stillAccepting = false
		rejected = append(rejected, n)
	}

	sort.Ints(accepted)

	for i, n := range accepted {
		if err := c.replayFileLocked(n); err != nil {
			c.log.Error("replay", "file failed, dropping all indexed entries", "file", n, "err", err)
			c.index = make(map[string]position)

			for _, bad := range accepted[i:] {
				if f, ok := c.files[bad]; ok {
					f.handle.Close()
					delete(c.files, bad)
				}

				rejected = append(rejected, bad)
			}

			accepted = accepted[:i]

			break
		}
	}

	for _, n := range rejected {
		os.Remove(c.pathFor(n))
	}

	if len(accepted) == 0 {
		f, err := c.createFileLocked(1)
		if err != nil {
			return err
		}

		c.files[1] = f
		c.writableNum = 1

		return nil
	}

	c.writableNum = accepted[len(accepted)-1]

	return nil
}

// replayFileLocked opens file n and replays its records into c.index,
// truncating away any trailing partial record so the handle's position
// (and the recorded size) reflect only well-framed bytes.
func (c *Cache) replayFileLocked(n int) error {
	f, err := os.OpenFile(c.pathFor(n), os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	keys := make(map[string]struct{})

	var consumed int64

	for {
		keyLen, valueLen, err := codec.DecodeHeader(f)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			f.Close()

			return err
		}

		body := make([]byte, int(keyLen)+int(valueLen))
		if _, err := io.ReadFull(f, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			f.Close()

			return err
		}

		key := codec.DecodeKey(body[:keyLen])
		value := codec.DecodeValue(body[keyLen:])

		if len(value) > 0 {
			c.index[key] = position{file: n, offset: consumed + codec.HeaderLen, size: int(keyLen) + int(valueLen)}
		} else {
			delete(c.index, key)
		}

		keys[key] = struct{}{}
		consumed += int64(codec.HeaderLen) + int64(keyLen) + int64(valueLen)
	}

	if err := f.Truncate(consumed); err != nil {
		f.Close()
		return err
	}

	if _, err := f.Seek(consumed, io.SeekStart); err != nil {
		f.Close()
		return err
	}

	c.files[n] = &logFile{number: n, path: c.pathFor(n), handle: f, size: consumed, keys: keys}

	return nil
}

func (c *Cache) createFileLocked(n int) (*logFile, error) {
	path := c.pathFor(n)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	return &logFile{number: n, path: path, handle: f, keys: make(map[string]struct{})}, nil
}

func (c *Cache) worker() {
	defer close(c.workerDone)

	for task := range c.queue {
		task()
	}
}

// enqueue submits task to the persistence executor. While Working, a
// full queue blocks the caller (default bounded-queue behavior). Once
// Stop has been called, the overflow policy flips to discard-oldest so a
// full queue can never block the final flush.
func (c *Cache) enqueue(task func()) {
	if !c.stopping.Load() {
		c.queue <- task
		return
	}

	for {
		select {
		case c.queue <- task:
			return
		default:
			select {
			case <-c.queue:
			default:
			}
		}
	}
}

// Put enqueues value for asynchronous append under key. Non-serializable
// values are logged and dropped without being enqueued.
func (c *Cache) Put(key string, value any) {
	payload, ok := c.serializer.Serialize(value)
	if !ok {
		c.log.Warn("put", "value not serializable, dropped", "err", &tiererr.NotSerializableError{Key: key})
		return
	}

	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.appendLocked(key, payload); err != nil {
			c.log.Error("put", "append failed", "key", key, "err", err)
		}
	})
}

// Get looks up key synchronously. Concurrent reads are serialized against
// writers by the same mutex that guards appends.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.index[key]
	if !ok {
		return nil, false
	}

	f, ok := c.files[pos.file]
	if !ok {
		return nil, false
	}

	buf := make([]byte, pos.size)
	if _, err := f.handle.ReadAt(buf, pos.offset); err != nil {
		c.log.Error("get", "read failed", "key", key, "file", f.path, "err", err)
		return nil, false
	}

	if len(key) > len(buf) {
		return nil, false
	}

	return codec.DecodeValue(buf[len(key):]), true
}

// Remove deletes key synchronously, appending a tombstone. A remove for a
// key not currently indexed is a no-op; no tombstone is written.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; !ok {
		return
	}

	if err := c.appendLocked(key, nil); err != nil {
		c.log.Error("remove", "tombstone append failed", "key", key, "err", err)
	}
}

// appendLocked encodes and appends one record to the writable file,
// rotating first if necessary, then updates the index. Must be called
// with mu held. A nil value encodes a tombstone.
func (c *Cache) appendLocked(key string, value []byte) error {
	rec, err := codec.Encode(key, value, int(c.fileMax))
	if err != nil {
		var tooBig *codec.TooBigError
		if errors.As(err, &tooBig) {
			wrapped := &tiererr.TooBigError{Size: tooBig.KeyLen + tooBig.ValueLen + codec.HeaderLen, Limit: tooBig.Limit}
			c.log.Warn("append", "record too big, dropped", "key", key, "err", wrapped)

			return nil
		}

		return err
	}

	if err := c.rotateIfNeededLocked(int64(len(rec))); err != nil {
		return err
	}

	wf := c.files[c.writableNum]
	offset := wf.size + codec.HeaderLen

	if _, err := wf.handle.Write(rec); err != nil {
		return &tiererr.IoError{Kind: tiererr.IoWrite, Path: wf.path, Cause: err}
	}

	if err := wf.handle.Sync(); err != nil {
		return &tiererr.IoError{Kind: tiererr.IoWrite, Path: wf.path, Cause: err}
	}

	wf.size += int64(len(rec))
	wf.keys[key] = struct{}{}

	if len(value) > 0 {
		c.index[key] = position{file: c.writableNum, offset: offset, size: len(key) + len(value)}
	} else {
		delete(c.index, key)
	}

	return nil
}

// rotateIfNeededLocked ensures the writable file has room for a record of
// recordLen bytes, retiring oldest non-writable files and opening a new
// writable file if not. Must be called with mu held.
func (c *Cache) rotateIfNeededLocked(recordLen int64) error {
	wf, ok := c.files[c.writableNum]
	if ok && wf.size+recordLen <= c.fileMax {
		return nil
	}

	for {
		if c.totalBytesLocked()+c.fileMax <= c.fsMax && len(c.files) < c.fsFiles {
			break
		}

		oldest := c.oldestNonWritableLocked()
		if oldest == nil {
			break
		}

		c.retireFileLocked(oldest)
	}

	newNum := c.nextFileNumberLocked()

	f, err := c.createFileLocked(newNum)
	if err != nil {
		return err
	}

	c.files[newNum] = f
	c.writableNum = newNum

	return nil
}

func (c *Cache) totalBytesLocked() int64 {
	var total int64
	for _, f := range c.files {
		total += f.size
	}

	return total
}

// oldestNonWritableLocked returns the lowest-numbered file other than the
// current writable file, or nil if none remains (the writable-file
// protection guard).
func (c *Cache) oldestNonWritableLocked() *logFile {
	var oldest *logFile

	for n, f := range c.files {
		if n == c.writableNum {
			continue
		}

		if oldest == nil || n < oldest.number {
			oldest = f
		}
	}

	return oldest
}

func (c *Cache) retireFileLocked(f *logFile) {
	f.handle.Close()
	os.Remove(f.path)
	delete(c.files, f.number)

	for k := range f.keys {
		if pos, ok := c.index[k]; ok && pos.file == f.number {
			delete(c.index, k)
		}
	}
}

func (c *Cache) nextFileNumberLocked() int {
	max := 0
	for n := range c.files {
		if n > max {
			max = n
		}
	}

	return max + 1
}

// Snapshot returns a debug view of every currently indexed key decoded to
// its raw value bytes.
func (c *Cache) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any, len(c.index))

	for k, pos := range c.index {
		f, ok := c.files[pos.file]
		if !ok {
			continue
		}

		buf := make([]byte, pos.size)
		if _, err := f.handle.ReadAt(buf, pos.offset); err != nil {
			continue
		}

		if len(k) > len(buf) {
			continue
		}

		out[k] = codec.DecodeValue(buf[len(k):])
	}

	return out
}

// Describe returns a one-line summary.
func (c *Cache) Describe() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf("fscache(files=%d, keys=%d, writable=%d)", len(c.files), len(c.index), c.writableNum)
}

// Stop performs an orderly shutdown: it flips the queue's overflow policy
// to discard-oldest, submits one final flush task that best-effort
// persists every entry of snapshot (skipping non-serializable and
// too-big entries), closes every file handle, runs onStopped (on the
// persistence executor's goroutine, once the queue has fully drained),
// and then refuses further submissions.
func (c *Cache) Stop(snapshot map[string]any, onStopped func()) {
	c.stopping.Store(true)

	c.enqueue(func() {
		c.mu.Lock()

		for k, v := range snapshot {
			payload, ok := c.serializer.Serialize(v)
			if !ok {
				c.log.Warn("stop-flush", "value not serializable, skipped", "err", &tiererr.NotSerializableError{Key: k})
				continue
			}

			if err := c.appendLocked(k, payload); err != nil {
				c.log.Warn("stop-flush", "flush entry failed", "key", k, "err", err)
			}
		}

		for _, f := range c.files {
			f.handle.Close()
		}

		c.mu.Unlock()

		if onStopped != nil {
			onStopped()
		}
	})

	close(c.queue)
}

// Shutdown interrupts the persistence executor without flushing, closes
// every file handle immediately, and waits up to timeout for the worker
// to drain whatever was already queued. Returns whether that happened in
// time.
func (c *Cache) Shutdown(timeout time.Duration) bool {
	c.mu.Lock()

	for _, f := range c.files {
		f.handle.Close()
	}

	c.mu.Unlock()

	close(c.queue)

	select {
	case <-c.workerDone:
		return true
	case <-time.After(timeout):
		return false
	}
}
