// Package tagger writes resolved track metadata and cover art into audio
// files, for users who record broadcasts.
package tagger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.senan.xyz/taglib"

	"rdstrack/internal/logger"
	"rdstrack/internal/track"
)

const maxCoverBytes = 10 << 20

// Tagger writes tags and embeds covers.
type Tagger struct {
	client *http.Client
	log    *logger.Logger
}

// New creates a Tagger. A nil client uses one with a 10 second timeout.
func New(client *http.Client, log *logger.Logger) *Tagger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Tagger{client: client, log: log}
}

// Tag writes rec's metadata into the file at path and embeds its cover.
// The cached cover file is preferred over downloading CoverURL. A missing
// cover is logged, not returned.
func (t *Tagger) Tag(ctx context.Context, path string, rec track.Record) error {
	if err := WriteTags(path, rec); err != nil {
		return err
	}
	img, err := t.cover(ctx, rec)
	if err != nil {
		t.log.Warn("cover for %s: %v", rec.Format(), err)
		return nil
	}
	return WriteArtwork(path, img)
}

func (t *Tagger) cover(ctx context.Context, rec track.Record) ([]byte, error) {
	if rec.LocalCoverPath != "" {
		data, err := os.ReadFile(rec.LocalCoverPath)
		if err == nil {
			return data, nil
		}
		t.log.Debug("cached cover %s unreadable: %v", rec.LocalCoverPath, err)
	}
	if rec.CoverURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.CoverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cover download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
}

// WriteTags writes the given record to an audio file.
func WriteTags(path string, rec track.Record) error {
	tags := make(map[string][]string)

	if rec.Title != "" {
		tags[taglib.Title] = []string{rec.Title}
	}
	if len(rec.AllArtists) > 1 {
		tags[taglib.Artist] = []string{strings.Join(rec.AllArtists, ", ")}
		tags[taglib.AlbumArtist] = []string{rec.Artist}
	} else if rec.Artist != "" {
		tags[taglib.Artist] = []string{rec.Artist}
	}
	if rec.Album != "" {
		tags[taglib.Album] = []string{rec.Album}
	}
	if rec.TrackNumber > 0 {
		tags[taglib.TrackNumber] = []string{strconv.Itoa(rec.TrackNumber)}
	}
	if rec.DiscNumber > 0 {
		tags[taglib.DiscNumber] = []string{strconv.Itoa(rec.DiscNumber)}
	}
	if rec.ReleaseDate != "" {
		tags[taglib.Date] = []string{rec.ReleaseDate}
	}
	if rec.ISRC != "" {
		tags[taglib.ISRC] = []string{rec.ISRC}
	}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("failed to write tags to %s: %w", path, err)
	}
	return nil
}

// WriteArtwork embeds artwork image data into an audio file.
func WriteArtwork(path string, imageData []byte) error {
	if len(imageData) == 0 {
		return nil
	}
	if err := taglib.WriteImage(path, imageData); err != nil {
		return fmt.Errorf("failed to write artwork to %s: %w", path, err)
	}
	return nil
}

// RTFromTags rebuilds an "Artist - Title" Radio Text from a file's existing
// tags, for files that were tagged by the recorder with the raw RT. When
// only the title is set it is returned as is. Returns "" when nothing
// usable is found.
func RTFromTags(path string) (string, error) {
	tags, err := taglib.ReadTags(path)
	if err != nil {
		return "", fmt.Errorf("failed to read tags from %s: %w", path, err)
	}
	artist := firstTag(tags, taglib.Artist)
	title := firstTag(tags, taglib.Title)
	switch {
	case artist != "" && title != "":
		return artist + " - " + title, nil
	case title != "":
		return title, nil
	default:
		return firstTag(tags, taglib.Comment), nil
	}
}

// SubDir returns an "Artist/Album" path for organizing tagged files.
func SubDir(rec track.Record) string {
	artist := rec.Artist
	if artist == "" {
		artist = "Unknown Artist"
	}
	album := rec.Album
	if album == "" {
		album = "Unknown Album"
	}
	return filepath.Join(sanitizePath(artist), sanitizePath(album))
}

// sanitizePath removes or replaces characters that are problematic in file paths.
func sanitizePath(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(s)
}

func firstTag(tags map[string][]string, key string) string {
	if vals := tags[key]; len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
