// Package library reads what the artwork resolver needs to know about a
// track: its tags, its embedded picture and the folder it lives in.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"
	"github.com/sahilm/fuzzy"
	"github.com/tunez/coverart/internal/metadata"
)

var (
	ErrNoPicture = errors.New("library: no embedded picture")
	ErrNoTags    = errors.New("library: no readable tags")
)

// DefaultExtensions are the audio files Scan picks up.
var DefaultExtensions = []string{".mp3", ".flac", ".m4a", ".ogg", ".wav", ".opus"}

// DefaultFolderNames are checked, case-insensitively, for folder artwork.
var DefaultFolderNames = []string{"cover", "folder", "front", "album", "albumart"}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Track is a playing item: a local file, a stream, or both.
type Track struct {
	Path        string
	URL         string
	Artist      string
	AlbumArtist string
	Album       string
	Title       string
	TrackNo     int
	DiscNo      int
	Format      string
	HasPicture  bool
}

// LeadArtist is the artist used for album-level lookups.
func (t Track) LeadArtist() string {
	if t.AlbumArtist != "" {
		return t.AlbumArtist
	}
	return t.Artist
}

// Query returns the cleaned lookup request for t.
func (t Track) Query() metadata.Query {
	return metadata.Query{
		Artist: metadata.ExtractFirstArtist(metadata.Clean(t.LeadArtist())),
		Title:  metadata.Clean(t.Title),
		Album:  metadata.Clean(t.Album),
	}
}

// MayHavePicture reports whether an embedded picture is worth looking for:
// either the tags were never read or they carry one.
func (t Track) MayHavePicture() bool {
	return t.Format == "" || t.HasPicture
}

// Key is the cache key for t's album artwork. Tracks without an album fall
// back to their title.
func (t Track) Key() string {
	album := t.Album
	if album == "" {
		album = t.Title
	}
	return metadata.SearchKey(t.LeadArtist(), album)
}

func (t Track) String() string {
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	case t.Path != "":
		return filepath.Base(t.Path)
	}
	return t.URL
}

// ReadTrack reads the tags of the audio file at path. Missing fields fall back
// to the file and directory names, so a Track is returned even when the file
// carries no tags; the error then wraps ErrNoTags.
func ReadTrack(path string) (Track, error) {
	t := Track{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return t, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, tagErr := tag.ReadFrom(f)
	if tagErr == nil {
		t.Artist = strings.TrimSpace(m.Artist())
		t.AlbumArtist = strings.TrimSpace(m.AlbumArtist())
		t.Album = strings.TrimSpace(m.Album())
		t.Title = strings.TrimSpace(m.Title())
		t.TrackNo, _ = m.Track()
		t.DiscNo, _ = m.Disc()
		t.Format = string(m.FileType())
		t.HasPicture = m.Picture() != nil
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if t.Title == "" {
		if artist, title, ok := metadata.SplitArtistTitle(stem); ok {
			t.Title = title
			if t.Artist == "" {
				t.Artist = artist
			}
		} else {
			t.Title = stem
		}
	}
	if t.Album == "" {
		album := filepath.Base(filepath.Dir(path))
		if album != "." && album != string(filepath.Separator) {
			t.Album = album
		}
	}
	if tagErr != nil {
		return t, fmt.Errorf("%w: %s: %w", ErrNoTags, path, tagErr)
	}
	return t, nil
}

// EmbeddedPicture returns the picture stored in the tags of path and its
// MIME type.
func EmbeddedPicture(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrNoTags, path, err)
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNoPicture, path)
	}
	return pic.Data, pic.MIMEType, nil
}

// FindFolderArt looks in dir for an image whose stem matches one of names.
// Earlier names win.
func FindFolderArt(dir string, names []string) (string, bool) {
	if len(names) == 0 {
		names = DefaultFolderNames
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	found := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !imageExtensions[ext] {
			continue
		}
		stem := strings.ToLower(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if _, ok := found[stem]; !ok {
			found[stem] = filepath.Join(dir, e.Name())
		}
	}
	for _, n := range names {
		if p, ok := found[strings.ToLower(n)]; ok {
			return p, true
		}
	}
	return "", false
}

// Scan walks root and returns every file whose extension is in exts, sorted.
// Unreadable entries are skipped.
func Scan(ctx context.Context, root string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() || !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// FromStreamTitle builds a Track from a stream's now-playing title.
func FromStreamTitle(raw, url string) Track {
	artist, title, _ := metadata.SplitStreamTitle(raw)
	return Track{URL: url, Artist: artist, Title: title}
}

// SortTracks orders tracks by directory, then disc and track number, then
// path.
func SortTracks(tracks []Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if da, db := filepath.Dir(a.Path), filepath.Dir(b.Path); da != db {
			return da < db
		}
		if a.DiscNo != b.DiscNo {
			return a.DiscNo < b.DiscNo
		}
		if a.TrackNo != b.TrackNo {
			return a.TrackNo < b.TrackNo
		}
		return a.Path < b.Path
	})
}

type trackSource []Track

func (s trackSource) String(i int) string { return s[i].String() + " " + s[i].Album }
func (s trackSource) Len() int            { return len(s) }

// Filter returns the tracks that fuzzy-match pattern, best match first. An
// empty pattern keeps every track.
func Filter(tracks []Track, pattern string) []Track {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return tracks
	}
	matches := fuzzy.FindFrom(pattern, trackSource(tracks))
	out := make([]Track, 0, len(matches))
	for _, m := range matches {
		out = append(out, tracks[m.Index])
	}
	return out
}
