// Package extract pulls verification codes out of free-text mail bodies.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// A run of 4 to 8 ASCII digits with a non-digit or the text boundary on each
// side. Longer runs never match, not even their prefix.
var codePattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{4,8})(?:[^0-9]|$)`)

// Code returns the first qualifying digit run in text.
func Code(text string) (string, bool) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Truncate shortens text to at most limit runes, marking the cut with "…".
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	return string(runes[:limit]) + "…"
}
