// Package pool runs units of work on a fixed set of long-lived workers.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/tunez/coverart/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by helpers when the pool no longer accepts work.
var ErrStopped = errors.New("pool: stopped")

// Task is a unit of work. A returned error is logged by the worker; it never
// stops the worker.
type Task func() error

// Options configures a Pool.
type Options struct {
	// Workers is the number of worker goroutines. Default: runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Panicked  int
}

// Pool is a fixed-size worker pool fed by an unbounded FIFO queue.
type Pool struct {
	opts    Options
	metrics metrics.Metrics
	group   errgroup.Group

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	stopping bool
	stats    Stats

	shutdownOnce sync.Once
}

// New starts a pool with opts.Workers workers.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pool{
		opts:    opts,
		metrics: metrics.OrNop(opts.Metrics),
	}
	p.cond = sync.NewCond(&p.mu)
	p.stats.Workers = opts.Workers

	for i := 0; i < opts.Workers; i++ {
		id := i
		p.group.Go(func() error {
			p.worker(id)
			return nil
		})
	}
	opts.Logger.Debug("pool started", slog.Int("workers", opts.Workers))
	return p
}

// Enqueue schedules task and returns immediately. After Shutdown has begun
// the task is dropped and Enqueue reports false.
func (p *Pool) Enqueue(task Task) bool {
	if task == nil {
		return false
	}
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, task)
	depth := len(p.queue)
	p.mu.Unlock()

	p.cond.Signal()
	p.metrics.QueueDepth("pool", depth)
	return true
}

// Go is Enqueue for tasks that cannot fail.
func (p *Pool) Go(fn func()) bool {
	return p.Enqueue(func() error {
		fn()
		return nil
	})
}

func (p *Pool) worker(id int) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// Stopping and drained.
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.stats.Running++
		depth := len(p.queue)
		p.mu.Unlock()

		p.metrics.QueueDepth("pool", depth)
		panicked, err := p.execute(task)

		p.mu.Lock()
		p.stats.Running--
		p.stats.Completed++
		if err != nil {
			p.stats.Failed++
		}
		if panicked {
			p.stats.Panicked++
		}
		p.mu.Unlock()

		if err != nil {
			p.opts.Logger.Error("task failed", slog.Int("worker", id), slog.Any("err", err))
		}
		p.metrics.TaskDone("pool", err != nil)
	}
}

// execute runs task inside the fault boundary.
func (p *Pool) execute(task Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("task panicked: %v", r)
			p.metrics.TaskPanicked("pool")
			p.opts.Logger.Error("task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	return false, task()
}

// Shutdown stops accepting tasks, lets the workers finish everything already
// queued and blocks until all of them have exited. Safe to call repeatedly.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.stopping = true
		pending := len(p.queue)
		p.mu.Unlock()

		p.opts.Logger.Debug("pool stopping", slog.Int("pending", pending))
		p.cond.Broadcast()
		_ = p.group.Wait()
		p.opts.Logger.Debug("pool stopped")
	})
}

// Stopped reports whether Shutdown has begun.
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Pending = len(p.queue)
	return s
}
