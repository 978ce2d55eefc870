package aio

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/tunez/coverart/internal/dispatch"
)

// Kind is the direction of an Op.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// Op is one in-flight file operation. It is owned by the Engine until it
// completes, after which its result is immutable.
type Op struct {
	ID   uuid.UUID
	Kind Kind
	Path string

	// set by the issuing goroutine, consumed by the poller
	file *os.File
	size int64
	buf  []byte

	done chan struct{}

	mu       sync.Mutex
	finished bool
	data     []byte
	err      error
	waiters  []waiter
}

type waiter struct {
	exec dispatch.Executor
	fn   func([]byte, error)
}

func newOp(kind Kind, path string, buf []byte) *Op {
	return &Op{
		ID:   uuid.New(),
		Kind: kind,
		Path: path,
		buf:  buf,
		done: make(chan struct{}),
	}
}

// Then registers fn to receive the result on exec. fn runs exactly once,
// whether registered before or after completion.
func (o *Op) Then(exec dispatch.Executor, fn func([]byte, error)) {
	o.mu.Lock()
	if !o.finished {
		o.waiters = append(o.waiters, waiter{exec: exec, fn: fn})
		o.mu.Unlock()
		return
	}
	data, err := o.data, o.err
	o.mu.Unlock()
	deliver(waiter{exec: exec, fn: fn}, data, err)
}

// Done is closed when the Op has completed.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Result returns the outcome. Only meaningful after Done is closed.
func (o *Op) Result() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data, o.err
}

// Wait blocks until the Op completes or ctx is done. It must not be called on
// the goroutine that drains the executor the Op reports to.
func (o *Op) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-o.done:
		return o.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Op) complete(data []byte, err error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.finished = true
	o.data, o.err = data, err
	o.buf, o.file = nil, nil
	waiters := o.waiters
	o.waiters = nil
	close(o.done)
	o.mu.Unlock()

	for _, w := range waiters {
		deliver(w, data, err)
	}
}

func deliver(w waiter, data []byte, err error) {
	exec := w.exec
	if exec == nil {
		exec = dispatch.Inline
	}
	exec.Post(func() { w.fn(data, err) })
}
