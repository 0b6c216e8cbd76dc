package remote

import (
	"regexp"
	"strings"
)

// Bracketed parts such as "(Radio Edit)" or "[Live]".
var bracketPattern = regexp.MustCompile(`\(.*?\)|\[.*?\]`)

// Featuring tails in free text.
var queryTailPattern = regexp.MustCompile(`(?i)feat\..*|ft\..*|&.*`)

// Collaboration tails in an artist field: "A x B", "A & B", "A feat. B", "A vs. B".
var artistTailPattern = regexp.MustCompile(`(?i)\s+x\s+.*|\s+&\s+.*|\s+feat\..*|\s+ft\..*|\s+vs\..*`)

// Separators between collaborating artists.
var artistSplitPattern = regexp.MustCompile(`(?i)\s+x\s+|\s+&\s+|\s+feat\.\s*|\s+ft\.\s*`)

var spacePattern = regexp.MustCompile(`\s+`)

// CleanQuery strips bracketed parts and featuring tails from free text.
func CleanQuery(s string) string {
	s = bracketPattern.ReplaceAllString(s, "")
	s = queryTailPattern.ReplaceAllString(s, "")
	return collapse(s)
}

// CleanArtist keeps only the lead artist of a collaboration.
func CleanArtist(s string) string {
	return collapse(artistTailPattern.ReplaceAllString(s, ""))
}

// CleanTitle strips bracketed parts from a title.
func CleanTitle(s string) string {
	return collapse(bracketPattern.ReplaceAllString(s, ""))
}

// SecondArtist returns the second name of a collaboration, or "".
func SecondArtist(s string) string {
	parts := artistSplitPattern.Split(s, -1)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func collapse(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
