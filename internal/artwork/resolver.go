package artwork

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tunez/coverart/internal/asyncio"
	"github.com/tunez/coverart/internal/cache"
	"github.com/tunez/coverart/internal/config"
	"github.com/tunez/coverart/internal/fetch"
	"github.com/tunez/coverart/internal/library"
)

// ErrNoKey is returned when a track has neither artist nor album nor title.
var ErrNoKey = errors.New("artwork: track has nothing to look up")

// DefaultSources is the lookup order used when none is configured.
var DefaultSources = []string{config.SourceCache, config.SourceEmbedded, config.SourceFolder, config.SourceURL}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Manager     *asyncio.Manager
	Sources     []string
	FolderNames []string
	// URLTemplate is expanded with {artist}, {album} and {title}. The url
	// source is skipped when it is empty.
	URLTemplate string
	Logger      *slog.Logger
}

// Result is a resolved image.
type Result struct {
	Track  library.Track
	Key    string
	Source string
	MIME   string
	Data   []byte
}

// Resolver finds artwork for tracks by trying each source in order. All of
// its work goes through the manager; callbacks run on main.
type Resolver struct {
	opts ResolverOptions
	m    *asyncio.Manager
	log  *slog.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Manager == nil {
		panic("artwork: ResolverOptions.Manager is required")
	}
	if len(opts.Sources) == 0 {
		opts.Sources = DefaultSources
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{opts: opts, m: opts.Manager, log: opts.Logger}
}

// Key returns the cache key artwork for t is stored under.
func Key(t library.Track) string {
	return cache.SanitizeKey(t.Key())
}

// Resolve looks up artwork for t. A nil return means cb runs exactly once on
// main, with ErrNotFound when every source came up empty. Images found outside
// the cache are stored in it. Call on main.
func (r *Resolver) Resolve(t library.Track, cb func(Result, error)) error {
	key := Key(t)
	if key == "" {
		return ErrNoKey
	}
	res := &resolution{r: r, track: t, key: key, cb: cb}
	return res.step(0)
}

type resolution struct {
	r     *Resolver
	track library.Track
	key   string
	cb    func(Result, error)
}

// step starts source i. A refusal from the manager is returned to the caller
// for the first source and delivered through cb afterwards.
func (s *resolution) step(i int) error {
	for ; i < len(s.r.opts.Sources); i++ {
		started, err := s.try(i)
		if err != nil {
			return err
		}
		if started {
			return nil
		}
	}
	s.cb(Result{Track: s.track, Key: s.key}, fmt.Errorf("%w: %s", ErrNotFound, s.key))
	return nil
}

// next continues with the source after i from inside a callback.
func (s *resolution) next(i int) {
	if err := s.step(i + 1); err != nil {
		s.cb(Result{Track: s.track, Key: s.key}, err)
	}
}

// try issues source i and reports whether a callback is pending.
func (s *resolution) try(i int) (bool, error) {
	m := s.r.m
	source := s.r.opts.Sources[i]
	switch source {
	case config.SourceCache:
		return true, m.CacheGetAsync(s.key, func(data []byte, err error) {
			if err != nil && !errors.Is(err, cache.ErrMiss) {
				s.r.log.Warn("artwork cache read failed", slog.String("key", s.key), slog.Any("err", err))
			}
			s.found(i, source, data)
		})

	case config.SourceEmbedded:
		if s.track.Path == "" || !s.track.MayHavePicture() {
			return false, nil
		}
		path := s.track.Path
		return true, asyncio.SubmitWithResult(m, func() ([]byte, error) {
			data, _, err := library.EmbeddedPicture(path)
			return data, err
		}, func(data []byte, err error) {
			if err != nil && !errors.Is(err, library.ErrNoPicture) && !errors.Is(err, library.ErrNoTags) {
				s.r.log.Debug("embedded artwork unavailable", slog.String("path", path), slog.Any("err", err))
			}
			s.found(i, source, data)
		})

	case config.SourceFolder:
		if s.track.Path == "" {
			return false, nil
		}
		dir := filepath.Dir(s.track.Path)
		names := s.r.opts.FolderNames
		return true, asyncio.SubmitWithResult(m, func() (string, error) {
			p, ok := library.FindFolderArt(dir, names)
			if !ok {
				return "", ErrNotFound
			}
			return p, nil
		}, func(p string, err error) {
			if err != nil {
				s.next(i)
				return
			}
			if err := m.ReadFileAsync(p, func(data []byte, err error) {
				if err != nil {
					s.r.log.Warn("folder artwork read failed", slog.String("path", p), slog.Any("err", err))
				}
				s.found(i, source, data)
			}); err != nil {
				s.cb(Result{Track: s.track, Key: s.key}, err)
			}
		})

	case config.SourceURL:
		u := s.url()
		if u == "" {
			return false, nil
		}
		return true, m.GetBytesAsync(u, func(res fetch.Result, err error) {
			if err != nil || res.Outcome != fetch.Complete {
				s.r.log.Debug("artwork fetch failed", slog.String("url", u),
					slog.String("outcome", res.Outcome.String()), slog.Any("err", err))
				s.next(i)
				return
			}
			s.found(i, source, res.Body)
		})
	}
	s.r.log.Warn("unknown artwork source", slog.String("source", source))
	return false, nil
}

// found finishes with data when it is an image, else moves on.
func (s *resolution) found(i int, source string, data []byte) {
	mime := Sniff(data)
	if mime == "" {
		s.next(i)
		return
	}
	if source != config.SourceCache {
		if err := s.r.m.CacheSetAsync(s.key, data, nil); err != nil {
			s.r.log.Warn("artwork not cached", slog.String("key", s.key), slog.Any("err", err))
		}
	}
	s.r.log.Debug("artwork resolved", slog.String("key", s.key), slog.String("source", source))
	s.cb(Result{Track: s.track, Key: s.key, Source: source, MIME: mime, Data: data}, nil)
}

func (s *resolution) url() string {
	tmpl := s.r.opts.URLTemplate
	if tmpl == "" {
		return ""
	}
	q := s.track.Query()
	if q.Empty() {
		return ""
	}
	return strings.NewReplacer(
		"{artist}", url.PathEscape(q.Artist),
		"{album}", url.PathEscape(q.Album),
		"{title}", url.PathEscape(q.Title),
	).Replace(tmpl)
}
