// Package track defines the resolved track record shared by the cache,
// the remote resolvers and the resolution pipeline.
package track

import (
	"strings"
)

// Record contains metadata for a single resolved track.
type Record struct {
	ID          string   `json:"id"`
	Artist      string   `json:"artist"`
	AllArtists  []string `json:"all_artists,omitempty"`
	Title       string   `json:"title"`
	Album       string   `json:"album,omitempty"`
	AlbumID     string   `json:"album_id,omitempty"`
	DurationMs  int64    `json:"duration_ms,omitempty"`
	Popularity  int      `json:"popularity,omitempty"`
	Explicit    bool     `json:"explicit,omitempty"`
	TrackNumber int      `json:"track_number,omitempty"`
	DiscNumber  int      `json:"disc_number,omitempty"`
	ISRC        string   `json:"isrc,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"` // "2020-03-20", "2020-03" or "2020"

	CoverURL       string `json:"cover_url,omitempty"`
	LocalCoverPath string `json:"local_cover_path,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
}

// Key returns the natural key of the record. When the remote source did not
// supply an id, a stable key is synthesized from artist and title.
func (r Record) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return SyntheticKey(r.Artist, r.Title)
}

// SyntheticKey builds the fallback key "artist|title" in lower case.
func SyntheticKey(artist, title string) string {
	return strings.ToLower(artist) + "|" + strings.ToLower(title)
}

// Format renders the public "Artist - Title" form.
func (r Record) Format() string {
	return r.Artist + " - " + r.Title
}

// Year extracts the year from ReleaseDate, or 0.
func (r Record) Year() int {
	if len(r.ReleaseDate) < 4 {
		return 0
	}
	y := 0
	for _, c := range r.ReleaseDate[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		y = y*10 + int(c-'0')
	}
	return y
}
