// Package corrections stores user overrides for Radio Text: RTs that must
// never be resolved, and tracks that were resolved for an RT but are wrong.
package corrections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when removing an unknown correction.
var ErrNotFound = errors.New("correction not found")

// Kind distinguishes the two correction types.
type Kind string

const (
	// KindIgnored suppresses resolution of an RT entirely.
	KindIgnored Kind = "IGNORED"
	// KindSkipTrack excludes one track id for an RT. Several may accumulate.
	KindSkipTrack Kind = "SKIP_TRACK"
)

// Correction is one stored override.
type Correction struct {
	ID           int64     `json:"id"`
	RtNormalized string    `json:"rt_normalized"`
	RtOriginal   string    `json:"rt_original"`
	Kind         Kind      `json:"kind"`
	SkipTrackID  string    `json:"skip_track_id,omitempty"`
	SkipArtist   string    `json:"skip_artist,omitempty"`
	SkipTitle    string    `json:"skip_title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Normalize is the key every correction is stored and looked up under.
func Normalize(rt string) string {
	return strings.ToLower(strings.TrimSpace(rt))
}

// Store reads and writes the rt_corrections table.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database that already carries the rt_corrections table.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsIgnored reports whether the normalized RT is marked IGNORED.
func (s *Store) IsIgnored(ctx context.Context, rtNormalized string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rt_corrections WHERE rt_normalized = ? AND kind = ?)`,
		rtNormalized, string(KindIgnored),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check ignored: %w", err)
	}
	return ok, nil
}

// SkippedTrackIDs returns every track id excluded for the normalized RT.
func (s *Store) SkippedTrackIDs(ctx context.Context, rtNormalized string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skip_track_id FROM rt_corrections
		 WHERE rt_normalized = ? AND kind = ? AND skip_track_id IS NOT NULL`,
		rtNormalized, string(KindSkipTrack),
	)
	if err != nil {
		return nil, fmt.Errorf("query skipped tracks: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// IsTrackSkipped reports whether trackID is excluded for the normalized RT.
func (s *Store) IsTrackSkipped(ctx context.Context, rtNormalized, trackID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rt_corrections WHERE rt_normalized = ? AND kind = ? AND skip_track_id = ?)`,
		rtNormalized, string(KindSkipTrack), trackID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check skipped track: %w", err)
	}
	return ok, nil
}

// AddIgnored marks rt as ignored. Adding the same RT twice is a no-op.
func (s *Store) AddIgnored(ctx context.Context, rt string) (Correction, error) {
	return s.insert(ctx, Correction{
		RtNormalized: Normalize(rt),
		RtOriginal:   strings.TrimSpace(rt),
		Kind:         KindIgnored,
	})
}

// AddSkipTrack excludes trackID for rt. artist and title are kept for display.
func (s *Store) AddSkipTrack(ctx context.Context, rt, trackID, artist, title string) (Correction, error) {
	if trackID == "" {
		return Correction{}, fmt.Errorf("skip correction needs a track id")
	}
	return s.insert(ctx, Correction{
		RtNormalized: Normalize(rt),
		RtOriginal:   strings.TrimSpace(rt),
		Kind:         KindSkipTrack,
		SkipTrackID:  trackID,
		SkipArtist:   artist,
		SkipTitle:    title,
	})
}

func (s *Store) insert(ctx context.Context, c Correction) (Correction, error) {
	if c.RtNormalized == "" {
		return c, fmt.Errorf("correction needs a non-blank RT")
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rt_corrections (rt_normalized, rt_original, kind, skip_track_id, skip_artist, skip_title, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		c.RtNormalized, c.RtOriginal, string(c.Kind),
		nullString(c.SkipTrackID), nullString(c.SkipArtist), nullString(c.SkipTitle),
		c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return c, fmt.Errorf("insert correction: %w", err)
	}
	var createdAt int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM rt_corrections
		 WHERE rt_normalized = ? AND kind = ? AND IFNULL(skip_track_id, '') = ?`,
		c.RtNormalized, string(c.Kind), c.SkipTrackID,
	).Scan(&c.ID, &createdAt)
	if err != nil {
		return c, fmt.Errorf("reload correction: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	return c, nil
}

// Remove deletes a correction by id.
func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rt_corrections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete correction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every correction and returns how many there were.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rt_corrections`)
	if err != nil {
		return 0, fmt.Errorf("delete corrections: %w", err)
	}
	return res.RowsAffected()
}

// List returns corrections newest first. An empty kind lists both kinds.
func (s *Store) List(ctx context.Context, kind Kind) ([]Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rt_normalized, rt_original, kind, skip_track_id, skip_artist, skip_title, created_at
		 FROM rt_corrections
		 WHERE (? = '' OR kind = ?)
		 ORDER BY created_at DESC, id DESC`,
		string(kind), string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var (
			c                      Correction
			k                      string
			trackID, artist, title sql.NullString
			createdAt              int64
		)
		if err := rows.Scan(&c.ID, &c.RtNormalized, &c.RtOriginal, &k, &trackID, &artist, &title, &createdAt); err != nil {
			return nil, err
		}
		c.Kind = Kind(k)
		c.SkipTrackID = trackID.String
		c.SkipArtist = artist.String
		c.SkipTitle = title.String
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
