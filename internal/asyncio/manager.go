// Package asyncio composes the worker pool, the file I/O engine, the blob
// cache and the HTTP client behind one facade whose callbacks always run on
// the main goroutine.
//
// A Manager is constructed explicitly and passed to whatever needs it. Every
// *Async method either returns an error, in which case its callback never
// runs, or returns nil and later runs its callback exactly once on main.
package asyncio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunez/coverart/internal/aio"
	"github.com/tunez/coverart/internal/cache"
	"github.com/tunez/coverart/internal/dispatch"
	"github.com/tunez/coverart/internal/fetch"
	"github.com/tunez/coverart/internal/library"
	"github.com/tunez/coverart/internal/metrics"
	"github.com/tunez/coverart/internal/pool"
	"github.com/tunez/coverart/internal/progressive"
)

// ErrShutdown is returned by operations issued after Shutdown began.
var ErrShutdown = errors.New("asyncio: shut down")

// Options configures a Manager. Zero values take the component defaults;
// CacheDir is required.
type Options struct {
	Workers     int
	Pollers     int
	MaxReadSize int64

	CacheDir         string
	MaxMemoryBytes   int64
	MaxMemoryEntries int
	MaxDiskBytes     int64
	MaxAge           time.Duration

	HTTP fetch.Options

	// StrictThreadChecks makes thread-affinity violations panic.
	StrictThreadChecks bool

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Stats aggregates component counters.
type Stats struct {
	Pool      pool.Stats
	Cache     cache.Stats
	Callbacks int
}

// Manager owns every background resource. Use New on the goroutine that will
// drain callbacks and Shutdown on the same goroutine.
type Manager struct {
	log    *slog.Logger
	loop   *dispatch.Loop
	pool   *pool.Pool
	engine *aio.Engine
	cache  *cache.Cache
	http   *fetch.Client

	// ctx is cancelled at Shutdown to abort in-flight requests.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	shutdownOnce sync.Once
}

// New starts every component. The calling goroutine becomes main.
func New(opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger

	loop := dispatch.New(dispatch.Options{
		Logger:  log.With(slog.String("component", "dispatch")),
		Metrics: opts.Metrics,
		Strict:  opts.StrictThreadChecks,
	})
	p := pool.New(pool.Options{
		Workers: opts.Workers,
		Logger:  log.With(slog.String("component", "pool")),
		Metrics: opts.Metrics,
	})
	engine := aio.New(aio.Options{
		Pool:        p,
		Pollers:     opts.Pollers,
		MaxReadSize: opts.MaxReadSize,
		Logger:      log.With(slog.String("component", "aio")),
		Metrics:     opts.Metrics,
	})
	c, err := cache.New(cache.Options{
		Dir:              opts.CacheDir,
		Engine:           engine,
		Pool:             p,
		Executor:         loop,
		MaxMemoryBytes:   opts.MaxMemoryBytes,
		MaxMemoryEntries: opts.MaxMemoryEntries,
		MaxDiskBytes:     opts.MaxDiskBytes,
		MaxAge:           opts.MaxAge,
		Logger:           log.With(slog.String("component", "cache")),
		Metrics:          opts.Metrics,
	})
	if err != nil {
		engine.Close()
		p.Shutdown()
		loop.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	httpOpts := opts.HTTP
	httpOpts.Logger = log.With(slog.String("component", "fetch"))
	httpOpts.Metrics = opts.Metrics

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:    log,
		loop:   loop,
		pool:   p,
		engine: engine,
		cache:  c,
		http:   fetch.New(httpOpts),
		ctx:    ctx,
		cancel: cancel,
	}
	log.Info("async io started",
		slog.Int("workers", p.Stats().Workers),
		slog.String("cache", opts.CacheDir))
	return m, nil
}

// accept runs issue under the lock Shutdown takes before stopping anything,
// so an operation is either refused or fully handed off in time to be
// drained. issue must not block.
func (m *Manager) accept(issue func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}
	return issue()
}

// submit queues fn on the pool.
func (m *Manager) submit(fn func()) error {
	return m.accept(func() error {
		if !m.pool.Go(fn) {
			return ErrShutdown
		}
		return nil
	})
}

// post delivers fn to main. Only called for accepted operations, whose
// producers all finish before the loop closes.
func (m *Manager) post(fn func()) {
	if !m.loop.Post(fn) {
		m.log.Error("callback dropped: loop closed")
	}
}

// ReadFileAsync reads the whole file at path.
func (m *Manager) ReadFileAsync(path string, cb func([]byte, error)) error {
	return m.accept(func() error {
		m.engine.Read(path).Then(m.loop, cb)
		return nil
	})
}

// WriteFileAsync replaces the file at path with a copy of data, creating
// parent directories.
func (m *Manager) WriteFileAsync(path string, data []byte, cb func(error)) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return m.accept(func() error {
		m.engine.Write(path, buf).Then(m.loop, func(_ []byte, err error) { cb(err) })
		return nil
	})
}

// ScanDirAsync lists the files under root with one of exts (audio files when
// empty).
func (m *Manager) ScanDirAsync(root string, exts []string, cb func([]string, error)) error {
	return m.submit(func() {
		paths, err := library.Scan(m.ctx, root, exts)
		m.post(func() { cb(paths, err) })
	})
}

// GetBytesAsync fetches url. A nil error with a Truncated outcome carries a
// partial body.
func (m *Manager) GetBytesAsync(url string, cb func(fetch.Result, error)) error {
	return m.submit(func() {
		res, err := m.http.Get(m.ctx, url)
		m.post(func() { cb(res, err) })
	})
}

// GetTextAsync fetches url and decodes the body as text.
func (m *Manager) GetTextAsync(url string, cb func(string, fetch.Outcome, error)) error {
	return m.submit(func() {
		res, err := m.http.Get(m.ctx, url)
		var text string
		if err == nil {
			text = res.Text()
		}
		m.post(func() { cb(text, res.Outcome, err) })
	})
}

// CacheGetAsync looks key up in the cache.
func (m *Manager) CacheGetAsync(key string, cb func([]byte, error)) error {
	return m.accept(func() error { return m.cacheErr(m.cache.Get(key, cb)) })
}

// CacheSetAsync stores data under key. cb may be nil.
func (m *Manager) CacheSetAsync(key string, data []byte, cb func(error)) error {
	return m.accept(func() error { return m.cacheErr(m.cache.Set(key, data, cb)) })
}

// CacheRemoveAsync removes key from both tiers.
func (m *Manager) CacheRemoveAsync(key string, cb func(error)) error {
	return m.accept(func() error { return m.cacheErr(m.cache.Remove(key, cb)) })
}

// CacheClearAsync empties the cache.
func (m *Manager) CacheClearAsync(cb func(error)) error {
	return m.accept(func() error { return m.cacheErr(m.cache.Clear(cb)) })
}

func (m *Manager) cacheErr(err error) error {
	if errors.Is(err, cache.ErrClosed) {
		return ErrShutdown
	}
	return err
}

// Submit runs task on the pool. Its outcome is only logged.
func (m *Manager) Submit(task func() error) error {
	return m.accept(func() error {
		if !m.pool.Enqueue(task) {
			return ErrShutdown
		}
		return nil
	})
}

// SubmitWithResult runs fn on the pool and delivers its result to cb on main.
func SubmitWithResult[T any](m *Manager, fn func() (T, error), cb func(T, error)) error {
	return m.submit(func() {
		v, err := run(fn)
		m.post(func() { cb(v, err) })
	})
}

// run keeps a panicking fn from swallowing the callback.
func run[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}

// LoadProgressive processes data in chunks on the pool with progress on main.
func (m *Manager) LoadProgressive(data []byte, opts progressive.Options, onProgress func(float64), onDone func(error)) error {
	return m.accept(func() error {
		progressive.Load(m.pool, m.loop, data, opts, onProgress, onDone)
		return nil
	})
}

// PostToMain queues fn for the main goroutine.
func (m *Manager) PostToMain(fn func()) error {
	return m.accept(func() error {
		if !m.loop.Post(fn) {
			return ErrShutdown
		}
		return nil
	})
}

// IsMainThread reports whether the caller is the main goroutine.
func (m *Manager) IsMainThread() bool {
	return m.loop.OnMain()
}

// AssertMainThread logs, or panics in strict mode, when called off main.
func (m *Manager) AssertMainThread(where string) {
	m.loop.AssertMain(where)
}

// Loop returns the dispatcher, for event loops that drain it themselves.
func (m *Manager) Loop() *dispatch.Loop {
	return m.loop
}

// Cache returns the underlying cache.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// Run drains callbacks on main until ctx is done or Shutdown completes.
func (m *Manager) Run(ctx context.Context) error {
	return m.loop.Run(ctx)
}

// Stats returns a snapshot of the component counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Pool:      m.pool.Stats(),
		Cache:     m.cache.Stats(),
		Callbacks: m.loop.Len(),
	}
}

// Shutdown stops accepting work, persists the cache, lets every accepted
// operation finish and runs the remaining callbacks. No callback runs after
// it returns. Safe to call repeatedly; call it on main.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.loop.AssertMain("asyncio.Shutdown")
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.log.Info("async io stopping", slog.Int("pending_writes", m.cache.Stats().PendingWrites))
		m.cancel()
		if err := m.cache.Close(); err != nil {
			m.log.Error("close cache", slog.Any("err", err))
		}
		m.pool.Shutdown()
		m.engine.Close()
		m.http.Close()
		m.loop.Close()
		n := m.loop.Drain()
		m.log.Info("async io stopped", slog.Int("final_callbacks", n))
	})
}
