package auth

import (
	"strings"
	"unicode"
)

// NormalizeUsername returns the canonical account key: surrounding
// whitespace removed, lowercased. Callers reject an empty result.
func NormalizeUsername(s string) string {
	return strings.ToLower(trim(s))
}

// NormalizePassword only trims; passwords stay case-sensitive.
func NormalizePassword(s string) string {
	return trim(s)
}

func trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}
