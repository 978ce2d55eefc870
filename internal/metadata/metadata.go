// Package metadata turns noisy stream and track titles into clean artist and
// title strings suitable for artwork lookups.
package metadata

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	prefixRe    = regexp.MustCompile(`(?i)^\s*(?:now\s+playing|currently\s+playing|playing\s+now|playing|on\s+air|np)\s*[:\-–—|>]+\s*`)
	timestampRe = regexp.MustCompile(`^\d{1,2}:\d{2}(?::\d{2})?\b|\b\d{1,2}:\d{2}(?::\d{2})?$`)
	bracketRe   = regexp.MustCompile(`\([^()]*\)|\[[^\[\]]*\]|\{[^{}]*\}`)
	repeatSepRe = regexp.MustCompile(`\s+([-–—|])(?:\s*[-–—|])+\s+`)
	streamRe    = regexp.MustCompile(`(?i)StreamTitle='(.*?)';`)

	// featuring separators; "/" only counts when spaced so "AC/DC" survives
	artistSepRe = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring|vs\.?)\s+|\s*[&,;]\s*|\s+/\s+`)
	creditRe    = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring|vs\.?)\s+`)
)

const separators = "-–—|:/,;~>"

var quotes = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "`", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`, "«", `"`, "»", `"`,
)

// Clean normalizes s and strips decorations that are not part of the artist or
// title: "Now Playing:" prefixes, timestamps, bracketed qualifiers, dangling
// separators and redundant whitespace.
func Clean(s string) string {
	s = norm.NFKC.String(s)
	s = quotes.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)

	s = prefixRe.ReplaceAllString(s, "")
	for {
		next := bracketRe.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}
	// Timestamps are only noise at either end; "9:30 Blues" inside a title stays.
	s = trimSeparators(collapse(s))
	s = timestampRe.ReplaceAllString(s, "")
	s = collapse(s)
	s = repeatSepRe.ReplaceAllString(s, " $1 ")
	return trimSeparators(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimSeparators(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(separators, r)
	})
}

// ExtractFirstArtist returns the primary artist of a credit such as
// "A feat. B" or "A & B".
func ExtractFirstArtist(s string) string {
	s = collapse(s)
	if loc := artistSepRe.FindStringIndex(s); loc != nil {
		if first := trimSeparators(s[:loc[0]]); first != "" {
			return first
		}
	}
	return trimSeparators(s)
}

// StripCredits drops guest credits ("feat.", "ft.", "featuring", "vs.") but
// keeps the full name of acts such as "Simon & Garfunkel".
func StripCredits(s string) string {
	s = collapse(s)
	if loc := creditRe.FindStringIndex(s); loc != nil {
		if first := trimSeparators(s[:loc[0]]); first != "" {
			return first
		}
	}
	return trimSeparators(s)
}

var titleSeparators = []string{" - ", " – ", " — "}

// SplitArtistTitle splits "Artist - Title" on the first dash separator.
func SplitArtistTitle(s string) (artist, title string, ok bool) {
	best := -1
	width := 0
	for _, sep := range titleSeparators {
		if i := strings.Index(s, sep); i >= 0 && (best < 0 || i < best) {
			best, width = i, len(sep)
		}
	}
	if best < 0 {
		return "", strings.TrimSpace(s), false
	}
	artist = strings.TrimSpace(s[:best])
	title = strings.TrimSpace(s[best+width:])
	if artist == "" || title == "" {
		return "", strings.TrimSpace(s), false
	}
	return artist, title, true
}

// Query is a cleaned lookup request.
type Query struct {
	Artist string
	Title  string
	Album  string
}

// Empty reports whether q carries nothing to search for.
func (q Query) Empty() bool {
	return q.Artist == "" && q.Title == "" && q.Album == ""
}

// ParseStreamTitle parses a stream title, either bare ("Artist - Title") or as
// an ICY metadata block ("StreamTitle='Artist - Title';").
// The query carries the first artist only.
func ParseStreamTitle(raw string) Query {
	artist, title, ok := SplitStreamTitle(raw)
	if !ok {
		return Query{Title: title}
	}
	return Query{Artist: ExtractFirstArtist(artist), Title: title}
}

// SplitStreamTitle cleans a stream title and splits it into the artist credit,
// with guest credits stripped, and the title. Without a separator the whole
// cleaned string is the title and ok is false.
func SplitStreamTitle(raw string) (artist, title string, ok bool) {
	if m := streamRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	artist, title, ok = SplitArtistTitle(Clean(raw))
	if !ok {
		return "", title, false
	}
	return StripCredits(artist), title, true
}

// SearchKey builds a lowercase, accent-free key from artist and album that is
// stable across spelling noise and safe to use as a file name. Guest credits
// are dropped but the artist is otherwise kept whole, so "Simon" and
// "Simon & Garfunkel" never share a key.
func SearchKey(artist, album string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{StripCredits(Clean(artist)), Clean(album)} {
		if k := keyPart(p); k != "" {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, "_")
}

func keyPart(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return collapse(b.String())
}
