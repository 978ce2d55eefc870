package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "02.flac"), "x")
	writeFile(t, filepath.Join(dir, "a", "01.MP3"), "x")
	writeFile(t, filepath.Join(dir, "a", "cover.jpg"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	paths, err := Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{filepath.Join(dir, "a", "01.MP3"), filepath.Join(dir, "b", "02.flac")}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}

	only, err := Scan(context.Background(), dir, []string{"flac"})
	if err != nil || len(only) != 1 {
		t.Fatalf("extension filter: %v %v", only, err)
	}
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp3"), "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, dir, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScanMissingRoot(t *testing.T) {
	if _, err := Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestReadTrackFallsBackToNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Discovery", "Daft Punk - One More Time.mp3")
	writeFile(t, path, "fake audio")

	tr, err := ReadTrack(path)
	if !errors.Is(err, ErrNoTags) {
		t.Fatalf("expected ErrNoTags, got %v", err)
	}
	if tr.Artist != "Daft Punk" || tr.Title != "One More Time" || tr.Album != "Discovery" {
		t.Fatalf("unexpected fallback track %+v", tr)
	}
	if tr.Key() != "daft punk_discovery" {
		t.Fatalf("unexpected key %q", tr.Key())
	}
}

func TestEmbeddedPictureWithoutTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.mp3")
	writeFile(t, path, "fake audio")
	if _, _, err := EmbeddedPicture(path); err == nil {
		t.Fatal("expected an error for an untagged file")
	}
}

func TestFindFolderArt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Front.PNG"), "x")
	writeFile(t, filepath.Join(dir, "folder.jpg"), "x")
	writeFile(t, filepath.Join(dir, "cover.txt"), "x")

	got, ok := FindFolderArt(dir, nil)
	if !ok || filepath.Base(got) != "folder.jpg" {
		t.Fatalf("expected folder.jpg, got %q %v", got, ok)
	}
	got, ok = FindFolderArt(dir, []string{"front"})
	if !ok || filepath.Base(got) != "Front.PNG" {
		t.Fatalf("expected Front.PNG, got %q %v", got, ok)
	}
	if _, ok := FindFolderArt(filepath.Join(dir, "missing"), nil); ok {
		t.Fatal("found art in a missing directory")
	}
}

func TestFromStreamTitle(t *testing.T) {
	tr := FromStreamTitle("StreamTitle='Artist A feat. B - Song [Explicit]';", "http://radio.example/stream")
	if tr.Artist != "Artist A" || tr.Title != "Song" || tr.URL == "" {
		t.Fatalf("unexpected track %+v", tr)
	}
	if tr.String() != "Artist A - Song" {
		t.Fatalf("unexpected String() %q", tr.String())
	}

	duo := FromStreamTitle("Simon & Garfunkel - The Boxer", "")
	solo := FromStreamTitle("Simon - The Boxer", "")
	if duo.Artist != "Simon & Garfunkel" {
		t.Fatalf("act name was split: %q", duo.Artist)
	}
	if duo.Key() == solo.Key() {
		t.Fatalf("different acts share key %q", duo.Key())
	}
	if duo.Query().Artist != "Simon" {
		t.Errorf("lookup query should carry the first artist, got %q", duo.Query().Artist)
	}
}

func TestFilter(t *testing.T) {
	tracks := []Track{
		{Artist: "Daft Punk", Title: "One More Time", Album: "Discovery"},
		{Artist: "Boards of Canada", Title: "Roygbiv", Album: "Music Has the Right to Children"},
		{Artist: "Aphex Twin", Title: "Xtal", Album: "Selected Ambient Works 85-92"},
	}
	got := Filter(tracks, "boc roy")
	if len(got) != 1 || got[0].Title != "Roygbiv" {
		t.Fatalf("unexpected matches %+v", got)
	}
	if got := Filter(tracks, "discovery"); len(got) != 1 || got[0].Artist != "Daft Punk" {
		t.Fatalf("album should be searchable, got %+v", got)
	}
	if got := Filter(tracks, "  "); len(got) != 3 {
		t.Fatalf("empty pattern should keep everything, got %d", len(got))
	}
	if got := Filter(tracks, "zzzz"); len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestMayHavePicture(t *testing.T) {
	tests := []struct {
		name string
		tr   Track
		want bool
	}{
		{"tags not read", Track{Path: "a.mp3"}, true},
		{"tags with picture", Track{Format: "MP3", HasPicture: true}, true},
		{"tags without picture", Track{Format: "FLAC"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.MayHavePicture(); got != tt.want {
				t.Errorf("MayHavePicture() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortTracks(t *testing.T) {
	tracks := []Track{
		{Path: "/m/b/01.mp3", TrackNo: 1},
		{Path: "/m/a/z.mp3", DiscNo: 2, TrackNo: 1},
		{Path: "/m/a/y.mp3", DiscNo: 1, TrackNo: 10},
		{Path: "/m/a/x.mp3", DiscNo: 1, TrackNo: 2},
	}
	SortTracks(tracks)
	want := []string{"/m/a/x.mp3", "/m/a/y.mp3", "/m/a/z.mp3", "/m/b/01.mp3"}
	for i, w := range want {
		if tracks[i].Path != w {
			t.Fatalf("position %d: got %s, want %s", i, tracks[i].Path, w)
		}
	}
}
