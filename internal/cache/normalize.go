package cache

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	disallowRe = regexp.MustCompile(`[^a-z0-9äöüß\s]`)
)

// NormalizeForSearch lowercases text, collapses whitespace and strips every
// character outside a-z, 0-9, German umlauts and ß. The same function is
// applied to stored artist/title columns and to queries.
func NormalizeForSearch(text string) string {
	s := strings.ToLower(norm.NFC.String(text))
	s = spaceRe.ReplaceAllString(s, " ")
	s = disallowRe.ReplaceAllString(s, "")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// searchWords splits a normalized query into words of at least two runes.
func searchWords(normalized string) []string {
	var words []string
	for _, w := range strings.Fields(normalized) {
		if len([]rune(w)) >= 2 {
			words = append(words, w)
		}
	}
	return words
}
