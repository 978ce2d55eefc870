// Package dispatch delivers callbacks onto one designated goroutine.
//
// Background goroutines never touch caller-owned state directly: they hand
// a closure to an Executor and the owner of that executor runs it. Loop is
// the executor for the "main" goroutine; Inline runs closures immediately
// and is only used by internal plumbing that is already thread-safe.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tunez/coverart/internal/metrics"
)

var (
	ErrClosed      = errors.New("dispatch: loop closed")
	ErrWrongThread = errors.New("dispatch: not on main goroutine")
)

// Executor runs closures on the goroutine it owns. Post reports false when
// the closure was not accepted.
type Executor interface {
	Post(fn func()) bool
}

// Inline executes closures on the calling goroutine.
var Inline Executor = inline{}

type inline struct{}

func (inline) Post(fn func()) bool {
	fn()
	return true
}

// Options configures a Loop.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Metrics
	// Strict makes AssertMain panic instead of logging.
	Strict bool
	// Notify is invoked once per Post, after the callback is queued. It lets a
	// foreign event loop schedule a Drain on the main goroutine.
	Notify func()
}

// Loop is a mutex-guarded FIFO of callbacks drained by the goroutine that
// created it.
type Loop struct {
	opts    Options
	metrics metrics.Metrics
	owner   int64

	mu      sync.Mutex
	pending []func()
	closed  bool
	notify  func()

	wake chan struct{}
}

// New creates a Loop owned by the calling goroutine.
func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		opts:    opts,
		metrics: metrics.OrNop(opts.Metrics),
		owner:   goid(),
		notify:  opts.Notify,
		wake:    make(chan struct{}, 1),
	}
}

// SetNotify replaces the Notify hook. Used when the event loop that drains
// callbacks is created after the Loop.
func (l *Loop) SetNotify(fn func()) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// Post queues fn for the main goroutine and signals the loop. The callback
// itself only travels through the queue; the signal carries no payload.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	depth := len(l.pending)
	notify := l.notify
	l.mu.Unlock()

	l.metrics.QueueDepth("dispatch", depth)
	select {
	case l.wake <- struct{}{}:
	default:
		// A wake is already pending; the next Drain picks this callback up.
	}
	if notify != nil {
		notify()
	}
	return true
}

// Wake returns the channel signalled after every Post. Custom event loops
// select on it and call Drain.
func (l *Loop) Wake() <-chan struct{} {
	return l.wake
}

// Drain runs every queued callback in FIFO order and returns how many ran.
// The queue is swapped out under the lock, so callbacks may Post again; those
// run on the next Drain.
func (l *Loop) Drain() int {
	l.AssertMain("dispatch.Drain")

	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.run(fn)
	}
	if len(batch) > 0 {
		l.metrics.QueueDepth("dispatch", l.Len())
	}
	return len(batch)
}

func (l *Loop) run(fn func()) {
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			l.metrics.TaskPanicked("dispatch")
			l.opts.Logger.Error("callback panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		l.metrics.TaskDone("dispatch", failed)
	}()
	fn()
}

// Run locks the calling goroutine to its OS thread and drains callbacks until
// ctx is done or the loop is closed. It must be called on the owner goroutine.
func (l *Loop) Run(ctx context.Context) error {
	if !l.OnMain() {
		return ErrWrongThread
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		l.Drain()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.isClosed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Len returns the number of queued callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close refuses further posts and wakes Run. Callbacks already queued stay
// queued until the next Drain.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// OnMain reports whether the caller runs on the goroutine that owns the loop.
func (l *Loop) OnMain() bool {
	return goid() == l.owner
}

// AssertMain logs, or panics in strict mode, when called off the main goroutine.
func (l *Loop) AssertMain(where string) {
	if l.OnMain() {
		return
	}
	if l.opts.Strict {
		panic(fmt.Errorf("%w: %s", ErrWrongThread, where))
	}
	l.opts.Logger.Error("thread affinity violated", slog.String("where", where))
}

// AssertBackground is the inverse of AssertMain: blocking work must not run on main.
func (l *Loop) AssertBackground(where string) {
	if !l.OnMain() {
		return
	}
	if l.opts.Strict {
		panic(fmt.Errorf("dispatch: blocking call on main goroutine: %s", where))
	}
	l.opts.Logger.Warn("blocking call on main goroutine", slog.String("where", where))
}

// TeaWake is sent to a bubbletea program when callbacks are waiting. The
// model's Update calls Drain, so Program.Run must be called on main.
type TeaWake struct{}

// TeaNotify returns a Notify hook that wakes p.
func TeaNotify(p *tea.Program) func() {
	return func() {
		go p.Send(TeaWake{})
	}
}
