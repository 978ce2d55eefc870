package metadata

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Artist - Song (Live) [Remastered]", "Artist - Song"},
		{"Now Playing: Artist - Title - 3:45", "Artist - Title"},
		{"NOW PLAYING - Artist - Title", "Artist - Title"},
		{"[03:12] Artist - Title", "Artist - Title"},
		{"Artist - Title (1:02:03)", "Artist - Title"},
		{"Artist - Title {Radio Edit} (feat. X (Remix))", "Artist - Title"},
		{"  Artist\t-\tTitle  ", "Artist - Title"},
		{"Artist – – Title", "Artist – Title"},
		{"‘Quoted’ “Title”", `'Quoted' "Title"`},
		{"Ｆｕｌｌｗｉｄｔｈ - Title", "Fullwidth - Title"},
		{"- Title -", "Title"},
		{"", ""},
		{"(Live)", ""},
		{"Playing With Fire", "Playing With Fire"},
		{"Artist - 9:30 Blues", "Artist - 9:30 Blues"},
		{"3:45 Artist - Title", "Artist - Title"},
		{"Artist - Title 3:45 (Live)", "Artist - Title"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractFirstArtist(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Artist A feat. Artist B", "Artist A"},
		{"Artist A ft. Artist B", "Artist A"},
		{"Artist A Featuring Artist B", "Artist A"},
		{"Artist A vs. Artist B", "Artist A"},
		{"Artist A & Artist B", "Artist A"},
		{"Artist A, Artist B", "Artist A"},
		{"Artist A / Artist B", "Artist A"},
		{"Artist A; Artist B", "Artist A"},
		{"AC/DC", "AC/DC"},
		{"Daft Punk", "Daft Punk"},
		{"& Artist", "& Artist"},
	}
	for _, tt := range tests {
		if got := ExtractFirstArtist(tt.in); got != tt.want {
			t.Errorf("ExtractFirstArtist(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitArtistTitle(t *testing.T) {
	tests := []struct {
		in            string
		artist, title string
		ok            bool
	}{
		{"Artist - Title", "Artist", "Title", true},
		{"Artist — Title - Part 2", "Artist", "Title - Part 2", true},
		{"Artist – Title", "Artist", "Title", true},
		{"No Separator", "", "No Separator", false},
		{"Hyphen-ated - Title", "Hyphen-ated", "Title", true},
		{" - Title", "", "- Title", false},
	}
	for _, tt := range tests {
		artist, title, ok := SplitArtistTitle(tt.in)
		if artist != tt.artist || title != tt.title || ok != tt.ok {
			t.Errorf("SplitArtistTitle(%q) = %q, %q, %v; want %q, %q, %v",
				tt.in, artist, title, ok, tt.artist, tt.title, tt.ok)
		}
	}
}

func TestParseStreamTitle(t *testing.T) {
	tests := []struct {
		in   string
		want Query
	}{
		{"StreamTitle='Artist A feat. B - Song (Live)';StreamUrl='';", Query{Artist: "Artist A", Title: "Song"}},
		{"Now Playing: Artist - Title - 3:45", Query{Artist: "Artist", Title: "Title"}},
		{"Station Jingle", Query{Title: "Station Jingle"}},
		{"", Query{}},
	}
	for _, tt := range tests {
		if got := ParseStreamTitle(tt.in); got != tt.want {
			t.Errorf("ParseStreamTitle(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if !ParseStreamTitle("").Empty() {
		t.Error("empty input produced a non-empty query")
	}
}

func TestSearchKey(t *testing.T) {
	tests := []struct {
		artist, album string
		want          string
	}{
		{"Björk", "Homogenic", "bjork_homogenic"},
		{"Daft Punk feat. Pharrell", "Random Access Memories (Deluxe)", "daft punk_random access memories"},
		{"AC/DC", "Back in Black", "ac dc_back in black"},
		{"", "Album", "album"},
		{"Simon & Garfunkel", "Greatest Hits", "simon garfunkel_greatest hits"},
		{"Earth, Wind & Fire", "Greatest Hits", "earth wind fire_greatest hits"},
		{"Crosby, Stills, Nash & Young ft. Guest", "Déjà Vu", "crosby stills nash young_deja vu"},
	}
	for _, tt := range tests {
		if got := SearchKey(tt.artist, tt.album); got != tt.want {
			t.Errorf("SearchKey(%q, %q) = %q, want %q", tt.artist, tt.album, got, tt.want)
		}
	}
}

func TestSearchKeyKeepsActsApart(t *testing.T) {
	pairs := [][2]string{
		{"Simon", "Simon & Garfunkel"},
		{"Earth", "Earth, Wind & Fire"},
		{"Crosby", "Crosby, Stills, Nash & Young"},
	}
	for _, p := range pairs {
		if a, b := SearchKey(p[0], "Greatest Hits"), SearchKey(p[1], "Greatest Hits"); a == b {
			t.Errorf("%q and %q share key %q", p[0], p[1], a)
		}
	}
	if a, b := SearchKey("Simon & Garfunkel", "X"), SearchKey("Simon & Garfunkel feat. Guest", "X"); a != b {
		t.Errorf("guest credit changed the key: %q != %q", a, b)
	}
}

func TestStripCredits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Artist A feat. Artist B", "Artist A"},
		{"Artist A ft Artist B", "Artist A"},
		{"Artist A vs. Artist B", "Artist A"},
		{"Simon & Garfunkel", "Simon & Garfunkel"},
		{"Earth, Wind & Fire", "Earth, Wind & Fire"},
		{"AC/DC", "AC/DC"},
	}
	for _, tt := range tests {
		if got := StripCredits(tt.in); got != tt.want {
			t.Errorf("StripCredits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitStreamTitle(t *testing.T) {
	artist, title, ok := SplitStreamTitle("StreamTitle='Simon & Garfunkel feat. Guest - The Boxer (Live)';")
	if !ok || artist != "Simon & Garfunkel" || title != "The Boxer" {
		t.Fatalf("SplitStreamTitle = %q, %q, %v", artist, title, ok)
	}
	if q := ParseStreamTitle("Simon & Garfunkel - The Boxer"); q.Artist != "Simon" {
		t.Errorf("ParseStreamTitle artist = %q, want first artist", q.Artist)
	}
	if _, title, ok := SplitStreamTitle("Station Jingle"); ok || title != "Station Jingle" {
		t.Errorf("SplitStreamTitle without separator = %q, %v", title, ok)
	}
}
