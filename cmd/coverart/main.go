package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tunez/coverart/internal/artwork"
	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/config"
	"github.com/tunez/coverart/internal/dispatch"
	"github.com/tunez/coverart/internal/fetch"
	"github.com/tunez/coverart/internal/library"
	"github.com/tunez/coverart/internal/logging"
	"github.com/tunez/coverart/internal/metadata"
	"github.com/tunez/coverart/internal/metrics"
	"github.com/tunez/coverart/internal/nowplaying"
	"github.com/tunez/coverart/internal/ui"
	"github.com/tunez/coverart/internal/viewer"
)

var version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `coverart - album artwork for what is playing

Usage: coverart [options]

Options:
  -config string
        Path to config file (default: ~/.config/coverart/config.toml)
  -version
        Print version and exit

Diagnostics:
  -doctor
        Check configuration and the cache directory
  -clean string
        Show how a raw title is cleaned for lookups

Library:
  -scan string
        List the audio files under a directory with their artwork keys
  -filter string
        Fuzzy filter for -scan results
  -show string
        Resolve and print the artwork of an audio file
  -clear-cache
        Remove every cached image

Viewer:
  -watch string
        Follow a now playing file in the terminal viewer
        (default: stream.now_playing_file from the config)

Examples:
  coverart --clean "Now Playing: Artist feat. Guest - Song (Live) [3:45]"
  coverart --show ~/Music/album/01.flac
  coverart --watch /tmp/nowplaying.txt

`)
	}

	cfgPath := flag.String("config", "", "")
	showVersion := flag.Bool("version", false, "")
	doctor := flag.Bool("doctor", false, "")
	clean := flag.String("clean", "", "")
	scan := flag.String("scan", "", "")
	filter := flag.String("filter", "", "")
	show := flag.String("show", "", "")
	clearCache := flag.Bool("clear-cache", false, "")
	watch := flag.String("watch", "", "")
	flag.Parse()

	if *showVersion {
		fmt.Println("coverart", version)
		return
	}
	if *clean != "" {
		runClean(*clean)
		return
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logFile, err := logging.Setup(logging.ParseLevel(cfg.Log.Level))
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer logFile.Close()
	logger.Info("starting coverart", slog.String("config", resolvedPath), slog.String("version", version))

	met, stopMetrics := startMetrics(cfg, logger)
	defer stopMetrics()

	mgr, err := asyncio.New(managerOptions(cfg, logger, met))
	if err != nil {
		logger.Error("start async io", slog.Any("err", err))
		log.Fatalf("start: %v", err)
	}
	defer mgr.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *doctor:
		err = runDoctor(ctx, cfg, resolvedPath, mgr)
	case *clearCache:
		err = runClearCache(ctx, mgr)
	case *scan != "":
		err = runScan(ctx, mgr, *scan, *filter)
	case *show != "":
		err = runShow(ctx, cfg, mgr, logger, *show)
	default:
		path := *watch
		if path == "" {
			path = cfg.Stream.NowPlayingFile
		}
		if path == "" {
			flag.Usage()
			mgr.Shutdown()
			os.Exit(2)
		}
		err = runWatch(cfg, mgr, logger, path)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command failed", slog.Any("err", err))
		mgr.Shutdown()
		log.Fatal(err)
	}
}

func managerOptions(cfg *config.Config, logger *slog.Logger, met metrics.Metrics) asyncio.Options {
	return asyncio.Options{
		Workers:          cfg.Pool.Workers,
		Pollers:          cfg.IO.Pollers,
		MaxReadSize:      int64(cfg.IO.MaxReadSize),
		CacheDir:         cfg.Cache.Dir,
		MaxMemoryBytes:   int64(cfg.Cache.MemorySize),
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
		MaxDiskBytes:     int64(cfg.Cache.DiskSize),
		MaxAge:           cfg.Cache.MaxAge(),
		HTTP: fetch.Options{
			ConnectTimeout:       cfg.HTTP.ConnectTimeout(),
			SendTimeout:          cfg.HTTP.SendTimeout(),
			ReceiveHeaderTimeout: cfg.HTTP.ReceiveHeaderTimeout(),
			ReceiveTimeout:       cfg.HTTP.ReceiveTimeout(),
			MaxBodyBytes:         int64(cfg.HTTP.MaxBodySize),
			UserAgent:            cfg.HTTP.UserAgent,
		},
		StrictThreadChecks: cfg.Debug.StrictThreadChecks,
		Logger:             logger,
		Metrics:            met,
	}
}

// newResolver returns nil when artwork is turned off in the config.
func newResolver(cfg *config.Config, mgr *asyncio.Manager, logger *slog.Logger) *artwork.Resolver {
	if !cfg.Artwork.Enabled {
		return nil
	}
	return artwork.NewResolver(artwork.ResolverOptions{
		Manager:     mgr,
		Sources:     cfg.Artwork.Sources,
		FolderNames: cfg.Artwork.FolderNames,
		URLTemplate: cfg.Artwork.URLTemplate,
		Logger:      logger.With(slog.String("component", "artwork")),
	})
}

// startMetrics serves Prometheus metrics when enabled. The returned func stops
// the server.
func startMetrics(cfg *config.Config, logger *slog.Logger) (metrics.Metrics, func()) {
	if !cfg.Metrics.Enabled {
		return nil, func() {}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.NewPrometheus(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("err", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", cfg.Metrics.Addr))
	return met, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func runClean(raw string) {
	cleaned := metadata.Clean(raw)
	q := metadata.ParseStreamTitle(raw)
	fmt.Printf("cleaned:      %s\n", cleaned)
	fmt.Printf("artist:       %s\n", q.Artist)
	fmt.Printf("title:        %s\n", q.Title)
	fmt.Printf("first artist: %s\n", metadata.ExtractFirstArtist(q.Artist))
	fmt.Printf("search key:   %s\n", metadata.SearchKey(q.Artist, q.Title))
}

func runDoctor(ctx context.Context, cfg *config.Config, cfgPath string, mgr *asyncio.Manager) error {
	fmt.Println("coverart doctor")
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Printf("Config file (%s): not found, using defaults\n", cfgPath)
	} else {
		fmt.Printf("Config file: OK (%s)\n", cfgPath)
	}

	marker := filepath.Join(cfg.Cache.Dir, ".doctor")
	done := make(chan error, 1)
	if err := mgr.WriteFileAsync(marker, []byte("ok"), func(err error) { done <- err }); err != nil {
		return err
	}
	if err := wait(ctx, mgr, done); err != nil {
		fmt.Printf("Cache dir (%s): NOT WRITABLE - %v\n", cfg.Cache.Dir, err)
	} else {
		os.Remove(marker)
		fmt.Printf("Cache dir: OK (%s)\n", cfg.Cache.Dir)
	}

	type diskUsage struct {
		files int
		bytes int64
		err   error
	}
	usage := make(chan diskUsage, 1)
	if err := asyncio.SubmitWithResult(mgr, func() (diskUsage, error) {
		files, bytes, err := mgr.Cache().DiskUsage(ctx)
		return diskUsage{files, bytes, err}, nil
	}, func(u diskUsage, err error) {
		if err != nil {
			u.err = err
		}
		usage <- u
	}); err != nil {
		return err
	}
	var u diskUsage
	if err := wait(ctx, mgr, usage, func(v diskUsage) { u = v }); err != nil {
		return err
	}
	if u.err != nil {
		fmt.Printf("Cache index: ERROR - %v\n", u.err)
	} else {
		limit := "unbounded"
		if cfg.Cache.DiskSize > 0 {
			limit = cfg.Cache.DiskSize.String()
		}
		fmt.Printf("Cache index: OK (%d files, %s used, limit %s)\n", u.files, humanize.IBytes(uint64(u.bytes)), limit)
	}
	if cfg.Artwork.Enabled {
		fmt.Printf("Artwork sources: %v\n", cfg.Artwork.Sources)
	} else {
		fmt.Println("Artwork: turned off")
	}

	if !ui.ValidTheme(cfg.UI.Theme) {
		fmt.Printf("Theme (%s): unknown, using rainbow\n", cfg.UI.Theme)
	}
	if p := cfg.Stream.NowPlayingFile; p != "" {
		if _, err := os.Stat(filepath.Dir(p)); err != nil {
			fmt.Printf("Now playing file (%s): directory missing\n", p)
		} else {
			fmt.Printf("Now playing file: OK (%s)\n", p)
		}
	}
	return nil
}

func runClearCache(ctx context.Context, mgr *asyncio.Manager) error {
	done := make(chan error, 1)
	if err := mgr.CacheClearAsync(func(err error) { done <- err }); err != nil {
		return err
	}
	if err := wait(ctx, mgr, done); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Println("Cache cleared")
	return nil
}

func runScan(ctx context.Context, mgr *asyncio.Manager, root, filter string) error {
	start := time.Now()
	type scanned struct {
		paths []string
		err   error
	}
	found := make(chan scanned, 1)
	if err := mgr.ScanDirAsync(root, nil, func(paths []string, err error) {
		found <- scanned{paths, err}
	}); err != nil {
		return err
	}
	var res scanned
	if err := wait(ctx, mgr, found, func(s scanned) { res = s }); err != nil {
		return err
	}
	if res.err != nil {
		return fmt.Errorf("scan %s: %w", root, res.err)
	}

	tracks := make(chan library.Track, len(res.paths))
	for _, p := range res.paths {
		if err := asyncio.SubmitWithResult(mgr, func() (library.Track, error) {
			t, err := library.ReadTrack(p)
			if errors.Is(err, library.ErrNoTags) {
				err = nil
			}
			return t, err
		}, func(t library.Track, err error) {
			if err != nil {
				t = library.Track{Path: p}
			}
			tracks <- t
		}); err != nil {
			return err
		}
	}
	all := make([]library.Track, 0, len(res.paths))
	for range res.paths {
		if err := wait(ctx, mgr, tracks, func(t library.Track) { all = append(all, t) }); err != nil {
			return err
		}
	}
	library.SortTracks(all)
	shown := library.Filter(all, filter)
	for _, t := range shown {
		fmt.Printf("%-50s  %s\n", t.String(), artwork.Key(t))
	}
	fmt.Printf("%d of %d tracks in %s\n", len(shown), len(all), time.Since(start).Round(time.Millisecond))
	return nil
}

func runShow(ctx context.Context, cfg *config.Config, mgr *asyncio.Manager, logger *slog.Logger, path string) error {
	tracks := make(chan library.Track, 1)
	if err := asyncio.SubmitWithResult(mgr, func() (library.Track, error) {
		return library.ReadTrack(path)
	}, func(t library.Track, err error) {
		if err != nil && !errors.Is(err, library.ErrNoTags) {
			logger.Warn("read track", slog.Any("err", err))
		}
		tracks <- t
	}); err != nil {
		return err
	}
	var track library.Track
	if err := wait(ctx, mgr, tracks, func(t library.Track) { track = t }); err != nil {
		return err
	}
	fmt.Println(track.String())

	resolver := newResolver(cfg, mgr, logger)
	if resolver == nil {
		fmt.Println(artwork.Placeholder(cfg.Artwork.Width, cfg.Artwork.Height/2))
		fmt.Println("artwork is turned off")
		return nil
	}
	type resolved struct {
		res artwork.Result
		err error
	}
	results := make(chan resolved, 1)
	if err := resolver.Resolve(track, func(res artwork.Result, err error) {
		results <- resolved{res, err}
	}); err != nil {
		return err
	}
	var r resolved
	if err := wait(ctx, mgr, results, func(v resolved) { r = v }); err != nil {
		return err
	}
	if r.err != nil {
		fmt.Println(artwork.Placeholder(cfg.Artwork.Width, cfg.Artwork.Height/2))
		return r.err
	}
	art, err := artwork.ConvertToANSI(ctx, r.res.Data, cfg.Artwork.Width, cfg.Artwork.Height)
	if err != nil {
		return err
	}
	fmt.Println(art)
	fmt.Printf("%s, %s from %s\n", r.res.MIME, humanize.IBytes(uint64(len(r.res.Data))), r.res.Source)
	return nil
}

func runWatch(cfg *config.Config, mgr *asyncio.Manager, logger *slog.Logger, path string) error {
	noColor := os.Getenv("NO_COLOR") != "" || cfg.UI.NoEmoji
	model := viewer.New(viewer.Options{
		Manager:   mgr,
		Resolver:  newResolver(cfg, mgr, logger),
		Theme:     ui.GetTheme(cfg.UI.Theme, noColor),
		ArtWidth:  cfg.Artwork.Width,
		ArtHeight: cfg.Artwork.Height,
		Logger:    logger.With(slog.String("component", "viewer")),
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	mgr.Loop().SetNotify(dispatch.TeaNotify(p))

	w, err := nowplaying.Start(nowplaying.Options{
		Manager: mgr,
		Path:    path,
		Delay:   cfg.Stream.Delay(),
		OnTrack: model.Show,
		Logger:  logger.With(slog.String("component", "nowplaying")),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	mgr.Loop().SetNotify(nil)
	return nil
}

// wait drains callbacks on main until ch delivers or ctx ends. The optional
// sink receives the value.
func wait[T any](ctx context.Context, mgr *asyncio.Manager, ch chan T, sink ...func(T)) error {
	loop := mgr.Loop()
	for {
		loop.Drain()
		select {
		case v := <-ch:
			for _, fn := range sink {
				fn(v)
			}
			if err, ok := any(v).(error); ok {
				return err
			}
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loop.Wake():
		}
	}
}
