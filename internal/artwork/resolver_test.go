package artwork

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/config"
	"github.com/tunez/coverart/internal/library"
	"github.com/tunez/coverart/internal/logging"
)

func newManager(t *testing.T) *asyncio.Manager {
	t.Helper()
	m, err := asyncio.New(asyncio.Options{
		Workers:            2,
		CacheDir:           t.TempDir(),
		StrictThreadChecks: true,
		Logger:             logging.Discard(),
	})
	if err != nil {
		t.Fatalf("asyncio.New: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

// resolve runs one resolution to completion on the test goroutine.
func resolve(t *testing.T, m *asyncio.Manager, r *Resolver, tr library.Track) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var (
		got    Result
		gotErr error
		calls  int
	)
	if err := r.Resolve(tr, func(res Result, err error) {
		calls++
		got, gotErr = res, err
		cancel()
	}); err != nil {
		t.Fatalf("Resolve refused: %v", err)
	}
	m.Run(ctx)
	if calls != 1 {
		t.Fatalf("callback ran %d times", calls)
	}
	return got, gotErr
}

func testTrack(dir string) library.Track {
	return library.Track{
		Path:   filepath.Join(dir, "01 One More Time.mp3"),
		Artist: "Daft Punk",
		Album:  "Discovery",
		Title:  "One More Time",
	}
}

func TestResolveFromFolderThenCache(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	art := pngBytes(t, 8, 8, color.RGBA{0, 128, 0, 255})
	if err := os.WriteFile(filepath.Join(dir, "cover.png"), art, 0o644); err != nil {
		t.Fatal(err)
	}
	tr := testTrack(dir)

	r := NewResolver(ResolverOptions{Manager: m, Logger: logging.Discard()})
	res, err := resolve(t, m, r, tr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != config.SourceFolder || res.MIME != "image/png" || !bytes.Equal(res.Data, art) {
		t.Fatalf("unexpected result source=%s mime=%s len=%d", res.Source, res.MIME, len(res.Data))
	}
	if res.Key != "daft punk_discovery" {
		t.Fatalf("unexpected key %q", res.Key)
	}

	cacheOnly := NewResolver(ResolverOptions{
		Manager: m,
		Sources: []string{config.SourceCache},
		Logger:  logging.Discard(),
	})
	res, err = resolve(t, m, cacheOnly, tr)
	if err != nil || res.Source != config.SourceCache || !bytes.Equal(res.Data, art) {
		t.Fatalf("expected cached artwork, got source=%s err=%v", res.Source, err)
	}
}

func TestResolveFromURL(t *testing.T) {
	art := pngBytes(t, 4, 4, color.White)
	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.Path:
		default:
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(art)
	}))
	defer server.Close()

	m := newManager(t)
	r := NewResolver(ResolverOptions{
		Manager:     m,
		Sources:     []string{config.SourceEmbedded, config.SourceURL},
		URLTemplate: server.URL + "/art/{artist}/{album}",
		Logger:      logging.Discard(),
	})
	res, err := resolve(t, m, r, testTrack(t.TempDir()))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != config.SourceURL || !bytes.Equal(res.Data, art) {
		t.Fatalf("unexpected result source=%s len=%d", res.Source, len(res.Data))
	}
	if got := <-paths; got != "/art/Daft Punk/Discovery" {
		t.Fatalf("unexpected request path %q", got)
	}
}

func TestResolveSkipsNonImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no art here</html>"))
	}))
	defer server.Close()

	m := newManager(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "folder.jpg"), []byte("not really a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(ResolverOptions{
		Manager:     m,
		URLTemplate: server.URL + "/{artist}",
		Logger:      logging.Discard(),
	})
	_, err := resolve(t, m, r, testTrack(dir))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRefusals(t *testing.T) {
	m := newManager(t)
	r := NewResolver(ResolverOptions{Manager: m, Logger: logging.Discard()})
	if err := r.Resolve(library.Track{}, func(Result, error) { t.Error("callback ran") }); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}

	m.Shutdown()
	if err := r.Resolve(testTrack(t.TempDir()), func(Result, error) { t.Error("callback ran") }); !errors.Is(err, asyncio.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	m.Loop().Drain()
}

func TestResolveSkipsEmbeddedWithoutPicture(t *testing.T) {
	m := newManager(t)
	r := NewResolver(ResolverOptions{
		Manager: m,
		Sources: []string{config.SourceEmbedded},
		Logger:  logging.Discard(),
	})
	tr := testTrack(t.TempDir())
	tr.Format, tr.HasPicture = "MP3", false

	// Tags were read and hold no picture, so nothing is submitted and the
	// miss is reported before Resolve returns.
	var gotErr error
	calls := 0
	if err := r.Resolve(tr, func(_ Result, err error) {
		calls++
		gotErr = err
	}); err != nil {
		t.Fatalf("Resolve refused: %v", err)
	}
	if calls != 1 || !errors.Is(gotErr, ErrNotFound) {
		t.Fatalf("expected an immediate ErrNotFound, got %d calls, %v", calls, gotErr)
	}

	// Unread tags still get a look.
	tr.Format = ""
	pending := true
	if err := r.Resolve(tr, func(Result, error) { pending = false }); err != nil {
		t.Fatalf("Resolve refused: %v", err)
	}
	if !pending {
		t.Fatal("embedded source skipped for a track whose tags were never read")
	}
	if _, err := resolve(t, m, r, tr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
