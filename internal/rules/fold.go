package rules

import (
	"unicode"
	"unicode/utf8"
)

// The helpers below match under simple Unicode case folding and report byte
// offsets into the original string, so a case-insensitive match can be cut
// out of the text without lowercasing it first.

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// matchFoldAt reports whether sub matches s starting at byte i and returns
// the byte offset just past the match.
func matchFoldAt(s string, i int, sub string) (int, bool) {
	j := i
	for _, want := range sub {
		if j >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[j:])
		if !equalFoldRune(got, want) {
			return 0, false
		}
		j += size
	}
	return j, true
}

// indexFold finds the first case-insensitive occurrence of sub in s.
func indexFold(s, sub string) (start, end int, ok bool) {
	for i := range s {
		if e, ok := matchFoldAt(s, i, sub); ok {
			return i, e, true
		}
	}
	return 0, 0, false
}

// suffixFold finds the start of a case-insensitive occurrence of sub that
// ends exactly at the end of s.
func suffixFold(s, sub string) (int, bool) {
	n := utf8.RuneCountInString(sub)
	i := len(s)
	for k := 0; k < n; k++ {
		if i == 0 {
			return 0, false
		}
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	if e, ok := matchFoldAt(s, i, sub); ok && e == len(s) {
		return i, true
	}
	return 0, false
}
