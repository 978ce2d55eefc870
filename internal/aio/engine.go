// Package aio performs file reads and writes off the calling goroutine.
//
// An operation is issued on the worker pool (open, size check, registration)
// and then handed to a shared completion queue. A small, fixed set of poller
// goroutines pulls from that queue, performs the transfer and resolves the
// Op. Failures before the hand-off resolve the Op directly.
package aio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tunez/coverart/internal/metrics"
	"github.com/tunez/coverart/internal/pool"
)

const (
	DefaultPollers     = 2
	DefaultMaxReadSize = 50 << 20
	DefaultQueueSize   = 64
	livenessInterval   = 100 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	Pool        *pool.Pool
	Pollers     int
	MaxReadSize int64
	// QueueSize bounds the completion queue. Issuers block while it is full.
	QueueSize int
	Logger    *slog.Logger
	Metrics   metrics.Metrics
}

// Engine owns the completion queue and its pollers.
type Engine struct {
	opts    Options
	metrics metrics.Metrics

	queue chan *Op
	stop  chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	pollers  sync.WaitGroup

	closeOnce sync.Once
}

// New starts the pollers. opts.Pool is required.
func New(opts Options) *Engine {
	if opts.Pool == nil {
		panic("aio: nil pool")
	}
	if opts.Pollers <= 0 {
		opts.Pollers = DefaultPollers
	}
	if opts.MaxReadSize <= 0 {
		opts.MaxReadSize = DefaultMaxReadSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		opts:    opts,
		metrics: metrics.OrNop(opts.Metrics),
		queue:   make(chan *Op, opts.QueueSize),
		stop:    make(chan struct{}),
	}
	for i := 0; i < opts.Pollers; i++ {
		e.pollers.Add(1)
		go e.poll(i)
	}
	return e
}

// Read loads the whole file at path.
func (e *Engine) Read(path string) *Op {
	op := newOp(KindRead, path, nil)
	if !e.opts.Pool.Go(func() { e.issueRead(op) }) {
		e.fail(op, fmt.Errorf("%w: %s: pool stopped", ErrIssue, path))
	}
	return op
}

// Write replaces the file at path with data, creating parent directories.
// data must not be modified until the Op completes.
func (e *Engine) Write(path string, data []byte) *Op {
	op := newOp(KindWrite, path, data)
	if !e.opts.Pool.Go(func() { e.issueWrite(op) }) {
		e.fail(op, fmt.Errorf("%w: %s: pool stopped", ErrIssue, path))
	}
	return op
}

func (e *Engine) issueRead(op *Op) {
	f, err := os.Open(op.Path)
	if err != nil {
		e.fail(op, fmt.Errorf("%w: %s: %w", ErrOpen, op.Path, err))
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		e.fail(op, fmt.Errorf("%w: %s: %w", ErrStat, op.Path, err))
		return
	}
	if info.Size() > e.opts.MaxReadSize {
		f.Close()
		e.fail(op, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, op.Path, info.Size(), e.opts.MaxReadSize))
		return
	}
	op.file = f
	op.size = info.Size()
	e.submit(op)
}

func (e *Engine) issueWrite(op *Op) {
	if dir := filepath.Dir(op.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			e.fail(op, fmt.Errorf("%w: %s: %w", ErrCreateDir, dir, err))
			return
		}
	}
	f, err := os.OpenFile(op.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		e.fail(op, fmt.Errorf("%w: %s: %w", ErrOpen, op.Path, err))
		return
	}
	op.file = f
	op.size = int64(len(op.buf))
	e.submit(op)
}

// submit registers op with the engine and pushes it to the pollers.
func (e *Engine) submit(op *Op) {
	f := op.file
	if !e.associate() {
		f.Close()
		e.fail(op, fmt.Errorf("%w: %s", ErrAssociate, op.Path))
		return
	}
	select {
	case e.queue <- op:
	case <-e.stop:
		// Unreachable while op is registered; kept so a bug cannot hang a worker.
		e.inflight.Done()
		f.Close()
		e.fail(op, fmt.Errorf("%w: %s: engine stopped", ErrIssue, op.Path))
	}
}

func (e *Engine) associate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

func (e *Engine) poll(id int) {
	defer e.pollers.Done()
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-e.queue:
			e.transfer(op)
			e.inflight.Done()
		case <-e.stop:
			return
		case <-ticker.C:
			// Liveness wake; the stop channel is checked on the next iteration.
		}
	}
}

func (e *Engine) transfer(op *Op) {
	f := op.file
	switch op.Kind {
	case KindRead:
		buf := make([]byte, op.size)
		n, err := io.ReadFull(f, buf)
		f.Close()
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			e.complete(op, nil, newCompletionError(op.Kind, op.Path, err))
			return
		}
		e.complete(op, buf[:n], nil)
	case KindWrite:
		_, err := f.Write(op.buf)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			e.complete(op, nil, newCompletionError(op.Kind, op.Path, err))
			return
		}
		e.complete(op, nil, nil)
	}
}

func (e *Engine) fail(op *Op, err error) {
	e.opts.Logger.Debug("io failed", slog.String("op", op.ID.String()), slog.String("kind", string(op.Kind)), slog.Any("err", err))
	e.complete(op, nil, err)
}

func (e *Engine) complete(op *Op, data []byte, err error) {
	n := len(data)
	if op.Kind == KindWrite && err == nil {
		n = int(op.size)
	}
	e.metrics.IODone(string(op.Kind), err == nil, n)
	op.complete(data, err)
}

// Close stops accepting operations, lets the pollers finish everything already
// registered, then stops them. Safe to call repeatedly.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.inflight.Wait()
		close(e.stop)
		e.pollers.Wait()
		e.opts.Logger.Debug("io engine stopped")
	})
}
