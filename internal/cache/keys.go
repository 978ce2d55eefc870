package cache

import (
	"strings"
	"unicode"
)

const maxKeyLen = 200

const forbidden = `<>:"/\|?*`

// SanitizeKey builds a cache key from free-form parts such as artist and
// album names. Parts are lowercased, stripped of characters that are not
// valid in file names and joined with "_". Empty parts are skipped.
func SanitizeKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		var b strings.Builder
		for _, r := range strings.ToLower(p) {
			switch {
			case unicode.IsSpace(r):
				b.WriteRune(' ')
			case unicode.IsControl(r), strings.ContainsRune(forbidden, r):
			default:
				b.WriteRune(r)
			}
		}
		s := strings.Join(strings.Fields(b.String()), " ")
		s = strings.Trim(s, ". ")
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	key := strings.Join(cleaned, "_")
	if len(key) > maxKeyLen {
		key = strings.ToValidUTF8(key[:maxKeyLen], "")
	}
	return key
}

// ValidKey reports whether key can be used as a file name stem.
func ValidKey(key string) bool {
	if key == "" || len(key) > maxKeyLen || key == "." || key == ".." {
		return false
	}
	for _, r := range key {
		if unicode.IsControl(r) || strings.ContainsRune(forbidden, r) {
			return false
		}
	}
	return true
}
