package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type opKind int

const (
	opWrite opKind = iota
	opDelete
	opClear
	opTouch
	opSweep
)

func (k opKind) String() string {
	switch k {
	case opWrite:
		return "write"
	case opDelete:
		return "delete"
	case opClear:
		return "clear"
	case opTouch:
		return "touch"
	case opSweep:
		return "sweep"
	}
	return "unknown"
}

// writeOp is one entry of the write-behind queue.
type writeOp struct {
	kind opKind
	key  string
	data []byte
	done func(error)
}

// enqueueLocked appends op and records it as the latest pending state of its
// key. Caller holds c.mu.
func (c *Cache) enqueueLocked(op *writeOp) {
	c.queue = append(c.queue, op)
	if op.kind == opWrite || op.kind == opDelete {
		c.pending[op.key] = op
	}
	c.work.Signal()
	c.metrics.QueueDepth("cache", len(c.queue))
}

// writer is the only goroutine that mutates the disk tier.
func (c *Cache) writer() {
	defer close(c.writerDone)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopping {
			c.work.Wait()
		}
		if len(c.queue) == 0 {
			c.idle.Broadcast()
			c.mu.Unlock()
			return
		}
		op := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.busy = true
		c.mu.Unlock()

		err := c.apply(op)

		c.mu.Lock()
		if c.pending[op.key] == op {
			delete(c.pending, op.key)
		}
		if op.kind == opWrite && err == nil {
			if e, ok := c.mem.Peek(op.key); ok && e.op == op {
				e.op = nil
			}
		}
		if op.kind == opClear {
			c.clearing--
		}
		c.busy = false
		depth := len(c.queue)
		if depth == 0 {
			c.idle.Broadcast()
		}
		c.mu.Unlock()

		c.metrics.QueueDepth("cache", depth)
		if err != nil {
			c.opts.Logger.Error("cache write-behind failed",
				slog.String("op", op.kind.String()),
				slog.String("key", op.key),
				slog.Any("err", err))
		}
		if op.done != nil {
			op.done(err)
		}
	}
}

func (c *Cache) apply(op *writeOp) error {
	ctx := context.Background()
	switch op.kind {
	case opWrite:
		w := c.opts.Engine.Write(c.path(op.key), op.data)
		<-w.Done()
		if _, err := w.Result(); err != nil {
			return err
		}
		if err := c.idx.put(ctx, op.key, int64(len(op.data)), time.Now()); err != nil {
			return err
		}
		return c.enforceLimits(ctx)
	case opDelete:
		return c.removeEntry(ctx, op.key)
	case opClear:
		return c.removeAll(ctx)
	case opTouch:
		return c.idx.touch(ctx, op.key, time.Now())
	case opSweep:
		return c.sweep(ctx)
	}
	return fmt.Errorf("unknown write-behind op %d", op.kind)
}

func (c *Cache) removeEntry(ctx context.Context, key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return c.idx.remove(ctx, key)
}

func (c *Cache) removeAll(ctx context.Context) error {
	files, err := filepath.Glob(filepath.Join(c.opts.Dir, "*"+fileExt))
	if err != nil {
		return fmt.Errorf("list cache files: %w", err)
	}
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := c.idx.clear(ctx); err != nil {
		errs = append(errs, err)
	}
	c.metrics.CacheSize("disk", 0)
	return errors.Join(errs...)
}

// enforceLimits evicts the least recently accessed disk entries until the
// tier fits in MaxDiskBytes, then expires entries older than MaxAge.
func (c *Cache) enforceLimits(ctx context.Context) error {
	if c.opts.MaxDiskBytes > 0 {
		_, total, err := c.idx.totals(ctx)
		if err != nil {
			return err
		}
		if total > c.opts.MaxDiskBytes {
			victims, err := c.idx.lru(ctx, total-c.opts.MaxDiskBytes)
			if err != nil {
				return err
			}
			for _, v := range victims {
				if err := c.removeEntry(ctx, v.Key); err != nil {
					return err
				}
				total -= v.Size
			}
			c.metrics.CacheEvicted("disk", len(victims))
			c.opts.Logger.Debug("cache evicted", slog.Int("entries", len(victims)), slog.Int64("bytes", total))
		}
		c.metrics.CacheSize("disk", total)
	}
	if c.opts.MaxAge > 0 {
		return c.sweep(ctx)
	}
	return nil
}

func (c *Cache) sweep(ctx context.Context) error {
	if c.opts.MaxAge <= 0 {
		return nil
	}
	keys, err := c.idx.expired(ctx, time.Now().Add(-c.opts.MaxAge))
	if err != nil {
		return err
	}
	for _, k := range keys {
		c.mu.Lock()
		_, queued := c.pending[k]
		c.mu.Unlock()
		if queued {
			continue
		}
		if err := c.removeEntry(ctx, k); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		c.metrics.CacheEvicted("disk", len(keys))
	}
	return nil
}
