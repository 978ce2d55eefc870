// Package cache is a two-tier keyed blob cache.
//
// The memory tier is an LRU bounded by entry count and total bytes. The disk
// tier stores one file per key under Dir and is only ever mutated by a single
// write-behind goroutine, which applies writes, deletes and clears in the
// order they were requested. Reads of a key whose write is still queued are
// served from the queue.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/tunez/coverart/internal/aio"
	"github.com/tunez/coverart/internal/dispatch"
	"github.com/tunez/coverart/internal/metrics"
	"github.com/tunez/coverart/internal/pool"
)

var (
	ErrMiss       = errors.New("cache: miss")
	ErrInvalidKey = errors.New("cache: invalid key")
	ErrClosed     = errors.New("cache: closed")
)

const (
	DefaultMaxMemoryBytes   = 64 << 20
	DefaultMaxMemoryEntries = 512

	fileExt   = ".cache"
	indexName = "index.db"
)

// Options configures a Cache. Dir, Engine and Pool are required.
type Options struct {
	Dir    string
	Engine *aio.Engine
	Pool   *pool.Pool
	// Executor receives every callback. Default: dispatch.Inline.
	Executor dispatch.Executor

	MaxMemoryBytes   int64
	MaxMemoryEntries int
	// MaxDiskBytes bounds the disk tier; 0 means unbounded.
	MaxDiskBytes int64
	// MaxAge expires disk entries; 0 means never.
	MaxAge time.Duration

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int
	Dirty         int
	Bytes         int64
	Hits          uint64
	DiskHits      uint64
	Misses        uint64
	PendingWrites int
}

type entry struct {
	data     []byte
	accessed time.Time
	// op is the queued write that will persist data; nil once on disk.
	op *writeOp
}

func (e *entry) dirty() bool { return e.op != nil }

// Cache is safe for concurrent use.
type Cache struct {
	opts    Options
	metrics metrics.Metrics
	idx     *index

	mu       sync.Mutex
	mem      *simplelru.LRU[string, *entry]
	memBytes int64
	hits     uint64
	diskHits uint64
	misses   uint64
	closed   bool

	// write-behind state, guarded by mu
	queue    []*writeOp
	pending  map[string]*writeOp
	clearing int
	busy     bool
	stopping bool
	work     *sync.Cond
	idle     *sync.Cond

	// Disk reads started before a Remove or Clear of their key must not
	// promote what they read.
	seq       uint64
	reads     int
	tombs     map[string]uint64
	clearedAt uint64

	writerDone chan struct{}
	closeOnce  sync.Once
}

// New opens the cache directory and its index and starts the writer.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache: directory required")
	}
	if opts.Engine == nil || opts.Pool == nil {
		return nil, errors.New("cache: engine and pool required")
	}
	if opts.Executor == nil {
		opts.Executor = dispatch.Inline
	}
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if opts.MaxMemoryEntries <= 0 {
		opts.MaxMemoryEntries = DefaultMaxMemoryEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	idx, err := openIndex(filepath.Join(opts.Dir, indexName))
	if err != nil {
		return nil, err
	}

	c := &Cache{
		opts:       opts,
		metrics:    metrics.OrNop(opts.Metrics),
		idx:        idx,
		pending:    make(map[string]*writeOp),
		tombs:      make(map[string]uint64),
		writerDone: make(chan struct{}),
	}
	c.mem, err = simplelru.NewLRU[string, *entry](opts.MaxMemoryEntries, c.onEvict)
	if err != nil {
		idx.close()
		return nil, fmt.Errorf("create memory tier: %w", err)
	}
	c.work = sync.NewCond(&c.mu)
	c.idle = sync.NewCond(&c.mu)

	go c.writer()
	if opts.MaxAge > 0 {
		c.mu.Lock()
		c.enqueueLocked(&writeOp{kind: opSweep})
		c.mu.Unlock()
	}
	return c, nil
}

// Get looks key up in memory, then in the write-behind queue, then on disk.
// cb receives a private copy of the bytes, or an error wrapping ErrMiss.
// A non-nil return means cb will not be called.
func (c *Cache) Get(key string, cb func([]byte, error)) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if e, ok := c.mem.Get(key); ok {
		e.accessed = time.Now()
		data := clone(e.data)
		c.hits++
		c.mu.Unlock()
		c.metrics.CacheLookup("memory", true)
		c.post(func() { cb(data, nil) })
		return nil
	}
	if op, ok := c.pending[key]; ok {
		if op.kind == opWrite {
			c.promoteLocked(key, op.data, op)
			data := clone(op.data)
			c.hits++
			c.mu.Unlock()
			c.metrics.CacheLookup("pending", true)
			c.post(func() { cb(data, nil) })
			return nil
		}
		c.misses++
		c.mu.Unlock()
		c.metrics.CacheLookup("pending", false)
		c.post(func() { cb(nil, fmt.Errorf("%w: %s removed", ErrMiss, key)) })
		return nil
	}
	if c.clearing > 0 {
		c.misses++
		c.mu.Unlock()
		c.metrics.CacheLookup("pending", false)
		c.post(func() { cb(nil, fmt.Errorf("%w: %s cleared", ErrMiss, key)) })
		return nil
	}
	start := c.seq
	c.reads++
	c.mu.Unlock()

	if !c.opts.Pool.Go(func() { c.loadFromDisk(key, start, cb) }) {
		c.finishRead(key, start, nil, pool.ErrStopped, cb)
	}
	return nil
}

func (c *Cache) loadFromDisk(key string, start uint64, cb func([]byte, error)) {
	if c.opts.MaxAge > 0 {
		e, ok, err := c.idx.lookup(context.Background(), key)
		if err != nil {
			c.opts.Logger.Warn("cache index lookup failed", slog.String("key", key), slog.Any("err", err))
		} else if ok && time.Since(e.StoredAt) > c.opts.MaxAge {
			c.expire(key, start)
			c.finishRead(key, start, nil, fmt.Errorf("%s expired", key), cb)
			return
		}
	}
	c.opts.Engine.Read(c.path(key)).Then(dispatch.Inline, func(data []byte, err error) {
		c.finishRead(key, start, data, err, cb)
	})
}

// expire queues removal of a stale disk entry unless key changed since start.
func (c *Cache) expire(key string, start uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.changedSince(key, start) {
		return
	}
	if _, ok := c.pending[key]; ok || c.mem.Contains(key) {
		return
	}
	c.enqueueLocked(&writeOp{kind: opDelete, key: key})
}

func (c *Cache) changedSince(key string, start uint64) bool {
	return c.tombs[key] > start || c.clearedAt > start
}

func (c *Cache) finishRead(key string, start uint64, data []byte, readErr error, cb func([]byte, error)) {
	var (
		out  []byte
		err  error
		tier = "disk"
		hit  bool
	)

	c.mu.Lock()
	c.reads--
	stale := c.changedSince(key, start)
	if c.reads == 0 {
		clear(c.tombs)
	}
	switch {
	case c.mem.Contains(key):
		// A newer value arrived while the read was in flight.
		e, _ := c.mem.Get(key)
		e.accessed = time.Now()
		out, hit, tier = clone(e.data), true, "memory"
		c.hits++
	case c.pending[key] != nil && c.pending[key].kind == opWrite:
		out, hit, tier = clone(c.pending[key].data), true, "pending"
		c.hits++
	case readErr != nil:
		err = fmt.Errorf("%w: %w", ErrMiss, readErr)
		c.misses++
	case len(data) == 0:
		err = fmt.Errorf("%w: %s is empty", ErrMiss, key)
		c.misses++
	case stale:
		err = fmt.Errorf("%w: %s removed during load", ErrMiss, key)
		c.misses++
	default:
		c.promoteLocked(key, data, nil)
		out, hit = clone(data), true
		c.hits++
		c.diskHits++
		if !c.closed {
			c.enqueueLocked(&writeOp{kind: opTouch, key: key})
		}
	}
	c.mu.Unlock()

	c.metrics.CacheLookup(tier, hit)
	c.post(func() { cb(out, err) })
}

// Set stores a copy of data in memory immediately and queues the disk write.
// cb, if non-nil, fires without waiting for disk.
func (c *Cache) Set(key string, data []byte, cb func(error)) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	buf := clone(data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	op := &writeOp{kind: opWrite, key: key, data: buf}
	c.promoteLocked(key, buf, op)
	c.enqueueLocked(op)
	c.mu.Unlock()

	if cb != nil {
		c.post(func() { cb(nil) })
	}
	return nil
}

// Remove drops key from memory and queues its deletion from disk. cb fires
// once the file and index row are gone.
func (c *Cache) Remove(key string, cb func(error)) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	c.tombs[key] = c.seq
	c.mem.Remove(key)
	c.enqueueLocked(&writeOp{kind: opDelete, key: key, done: c.callback(cb)})
	c.mu.Unlock()
	return nil
}

// Clear drops every memory entry and queued write and queues removal of every
// disk entry. cb fires after the disk tier is empty.
func (c *Cache) Clear(cb func(error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	c.clearedAt = c.seq
	c.mem.Purge()

	var superseded []func(error)
	kept := c.queue[:0]
	for _, op := range c.queue {
		switch op.kind {
		case opClear, opSweep:
			kept = append(kept, op)
		default:
			if op.done != nil {
				superseded = append(superseded, op.done)
			}
		}
	}
	clear(c.queue[len(kept):])
	c.queue = kept
	clear(c.pending)
	c.clearing++
	c.enqueueLocked(&writeOp{kind: opClear, done: c.callback(cb)})
	c.mu.Unlock()

	for _, done := range superseded {
		done(nil)
	}
	c.metrics.CacheSize("memory", 0)
	return nil
}

// Flush blocks until every queued disk operation has been applied.
func (c *Cache) Flush() {
	c.mu.Lock()
	for len(c.queue) > 0 || c.busy {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close refuses further operations, drains the write-behind queue and closes
// the index. Safe to call repeatedly.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopping = true
		pending := len(c.queue)
		c.mu.Unlock()
		c.work.Broadcast()

		c.opts.Logger.Debug("cache closing", slog.Int("pending", pending))
		<-c.writerDone
		err = c.idx.close()
	})
	return err
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirty := 0
	for _, e := range c.mem.Values() {
		if e.dirty() {
			dirty++
		}
	}
	return Stats{
		Entries:       c.mem.Len(),
		Dirty:         dirty,
		Bytes:         c.memBytes,
		Hits:          c.hits,
		DiskHits:      c.diskHits,
		Misses:        c.misses,
		PendingWrites: len(c.queue),
	}
}

// DiskUsage reports the number and total size of entries in the disk tier.
// It blocks on the index and must not be called on the main goroutine.
func (c *Cache) DiskUsage(ctx context.Context) (int, int64, error) {
	if l, ok := c.opts.Executor.(*dispatch.Loop); ok {
		l.AssertBackground("cache.DiskUsage")
	}
	return c.idx.totals(ctx)
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.opts.Dir
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.opts.Dir, key+fileExt)
}

// promoteLocked stores data under key. Entries larger than the memory budget
// are not kept in memory.
func (c *Cache) promoteLocked(key string, data []byte, op *writeOp) {
	c.mem.Remove(key)
	if int64(len(data)) > c.opts.MaxMemoryBytes {
		return
	}
	evicted := 0
	if c.mem.Add(key, &entry{data: data, accessed: time.Now(), op: op}) {
		evicted++
	}
	c.memBytes += int64(len(data))
	for c.memBytes > c.opts.MaxMemoryBytes && c.mem.Len() > 1 {
		c.mem.RemoveOldest()
		evicted++
	}
	if evicted > 0 {
		c.metrics.CacheEvicted("memory", evicted)
	}
	c.metrics.CacheSize("memory", c.memBytes)
}

func (c *Cache) onEvict(_ string, e *entry) {
	c.memBytes -= int64(len(e.data))
}

func (c *Cache) post(fn func()) {
	if !c.opts.Executor.Post(fn) {
		c.opts.Logger.Warn("cache callback dropped: executor closed")
	}
}

func (c *Cache) callback(cb func(error)) func(error) {
	if cb == nil {
		return nil
	}
	return func(err error) {
		c.post(func() { cb(err) })
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
