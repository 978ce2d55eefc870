// Package nowplaying follows a text file that a host player rewrites with the
// title it is playing, and reports each new track on the main goroutine.
//
// The file holds the title on its first non-empty line, either bare
// ("Artist - Title") or in ICY form (StreamTitle='Artist - Title';). An
// optional line starting with http:// or https:// names the stream.
package nowplaying

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/library"
)

// DefaultDebounce collapses bursts of write events into one read.
const DefaultDebounce = 100 * time.Millisecond

var ErrClosed = errors.New("nowplaying: watcher closed")

// Options configures a Watcher.
type Options struct {
	Manager *asyncio.Manager
	Path    string
	// Delay holds a new title back before it is reported, to line it up with
	// buffered stream audio. A newer title arriving during the delay replaces
	// the pending one.
	Delay    time.Duration
	Debounce time.Duration
	// OnTrack runs on main for every title that differs from the previous one.
	OnTrack func(library.Track)
	Logger  *slog.Logger
}

// Watcher reports track changes written to a now-playing file.
type Watcher struct {
	opts Options
	m    *asyncio.Manager
	log  *slog.Logger
	fsw  *fsnotify.Watcher
	name string

	mu       sync.Mutex
	closed   bool
	debounce *time.Timer
	delay    *time.Timer

	// Owned by main.
	last string
	gen  uint64

	done chan struct{}
}

// Start watches opts.Path and reads it once immediately. The file does not
// need to exist yet; its directory does.
func Start(opts Options) (*Watcher, error) {
	if opts.Manager == nil {
		return nil, errors.New("nowplaying: Manager is required")
	}
	if opts.Path == "" {
		return nil, errors.New("nowplaying: Path is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", opts.Path, err)
	}
	opts.Path = path

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory so atomic replace-by-rename is seen.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		opts: opts,
		m:    opts.Manager,
		log:  opts.Logger,
		fsw:  fsw,
		name: filepath.Base(path),
		done: make(chan struct{}),
	}
	go w.loop()
	w.reload()
	w.log.Info("watching now playing file", slog.String("path", path))
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", slog.Any("err", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.opts.Debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.m.ReadFileAsync(w.opts.Path, func(data []byte, err error) {
		if err != nil {
			w.log.Debug("now playing file unreadable", slog.Any("err", err))
			return
		}
		w.update(string(data))
	})
	if err != nil && !errors.Is(err, asyncio.ErrShutdown) {
		w.log.Warn("now playing read refused", slog.Any("err", err))
	}
}

// update runs on main with the file contents.
func (w *Watcher) update(contents string) {
	title, url := Parse(contents)
	if title == "" || title+"\n"+url == w.last {
		return
	}
	w.last = title + "\n" + url
	w.gen++
	gen := w.gen
	track := library.FromStreamTitle(title, url)

	emit := func() {
		if gen != w.gen || w.isClosed() {
			return
		}
		w.log.Info("now playing", slog.String("track", track.String()))
		if w.opts.OnTrack != nil {
			w.opts.OnTrack(track)
		}
	}
	if w.opts.Delay <= 0 {
		emit()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.delay != nil {
		w.delay.Stop()
	}
	w.delay = time.AfterFunc(w.opts.Delay, func() {
		if err := w.m.PostToMain(emit); err != nil {
			w.log.Debug("delayed title dropped", slog.Any("err", err))
		}
	})
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close stops watching. Titles still held back by the delay are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
	}
	if w.delay != nil {
		w.delay.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

// Parse extracts the raw title and the optional stream URL from the file
// contents.
func Parse(contents string) (title, url string) {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "http://"), strings.HasPrefix(line, "https://"):
			if url == "" {
				url = line
			}
		case title == "":
			title = line
		}
	}
	return title, url
}
