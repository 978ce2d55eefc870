// Package progressive processes a byte buffer in fixed-size chunks, one pool
// task per chunk, reporting progress between chunks.
package progressive

import (
	"errors"
	"fmt"
	"hash"

	"github.com/tunez/coverart/internal/dispatch"
	"github.com/tunez/coverart/internal/pool"
)

const DefaultChunkSize = 64 << 10

var (
	ErrNoData  = errors.New("progressive: no data")
	ErrStopped = errors.New("progressive: pool stopped")
)

// ChunkFunc handles one chunk. offset is the chunk's position in the buffer.
type ChunkFunc func(offset int, chunk []byte) error

// Options configures Load.
type Options struct {
	ChunkSize int
	// Process is called for every chunk in order. Nil only reports progress.
	Process ChunkFunc
}

// Load walks data chunk by chunk on p. After each chunk onProgress receives
// the fraction processed so far on exec. onDone is posted exactly once with
// nil after the final chunk or with the first error. Either callback may be
// nil. The caller must not modify data until onDone has run.
func Load(p *pool.Pool, exec dispatch.Executor, data []byte, opts Options, onProgress func(float64), onDone func(error)) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if exec == nil {
		exec = dispatch.Inline
	}
	l := &loader{pool: p, exec: exec, data: data, opts: opts, onProgress: onProgress, onDone: onDone}
	if len(data) == 0 {
		l.done(ErrNoData)
		return
	}
	l.schedule(0)
}

type loader struct {
	pool       *pool.Pool
	exec       dispatch.Executor
	data       []byte
	opts       Options
	onProgress func(float64)
	onDone     func(error)
}

func (l *loader) schedule(offset int) {
	if !l.pool.Go(func() { l.step(offset) }) {
		l.done(fmt.Errorf("%w at offset %d", ErrStopped, offset))
	}
}

func (l *loader) step(offset int) {
	end := min(offset+l.opts.ChunkSize, len(l.data))
	if l.opts.Process != nil {
		if err := l.process(offset, l.data[offset:end]); err != nil {
			l.done(fmt.Errorf("chunk at offset %d: %w", offset, err))
			return
		}
	}
	if l.onProgress != nil {
		progress := float64(end) / float64(len(l.data))
		l.exec.Post(func() { l.onProgress(progress) })
	}
	if end == len(l.data) {
		l.done(nil)
		return
	}
	l.schedule(end)
}

// process keeps a panicking ChunkFunc from skipping onDone.
func (l *loader) process(offset int, chunk []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.opts.Process(offset, chunk)
}

func (l *loader) done(err error) {
	if l.onDone == nil {
		return
	}
	l.exec.Post(func() { l.onDone(err) })
}

// HashChunks returns a ChunkFunc that feeds every chunk into h.
func HashChunks(h hash.Hash) ChunkFunc {
	return func(_ int, chunk []byte) error {
		_, err := h.Write(chunk)
		return err
	}
}
