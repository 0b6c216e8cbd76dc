// Package cache is the local, persistent store of resolved tracks. It is the
// first resolution path: every track found remotely is written here and
// later Radio Text is matched against it before any network lookup.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"rdstrack/internal/logger"
	"rdstrack/internal/track"
	"rdstrack/pkg/utils"
)

const (
	dbFileName  = "tracks.db"
	coverDir    = "covers"
	lockStripes = 64
)

// ErrNotFound is returned by Get and Delete for an unknown id.
var ErrNotFound = errors.New("track not in cache")

const trackColumns = `id, artist, title, all_artists, album, album_id, duration_ms, popularity,
	explicit, track_number, disc_number, isrc, release_date, cover_url, cover_file, source_url`

// TrackCache stores track records in SQLite and cover images next to it.
type TrackCache struct {
	dir       string
	dbPath    string
	coversDir string
	log       *logger.Logger
	now       func() time.Time

	// mu guards db itself. Import swaps the handle under the write lock;
	// every query holds the read lock.
	mu sync.RWMutex
	db *sql.DB

	// Put is serialized per id through these stripes.
	locks [lockStripes]sync.Mutex

	covers   *coverFetcher
	coverSem chan struct{}
	coverWG  sync.WaitGroup
}

// Option customizes a TrackCache.
type Option func(*TrackCache)

// WithCoverDownloads enables lazy cover fetching with the given client.
// A nil client uses a client with a 10 second timeout.
func WithCoverDownloads(client *http.Client) Option {
	return func(c *TrackCache) {
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		c.covers = &coverFetcher{client: client, dir: c.coversDir}
	}
}

// WithClock replaces time.Now for cached_at stamps, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TrackCache) { c.now = now }
}

// Open opens or creates the cache under dir.
func Open(dir string, log *logger.Logger, opts ...Option) (*TrackCache, error) {
	c := &TrackCache{
		dir:       dir,
		dbPath:    filepath.Join(dir, dbFileName),
		coversDir: filepath.Join(dir, coverDir),
		log:       log,
		now:       time.Now,
		coverSem:  make(chan struct{}, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(c.coversDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := openDB(c.dbPath)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			all_artists TEXT,
			album TEXT,
			album_id TEXT,
			duration_ms INTEGER DEFAULT 0,
			popularity INTEGER DEFAULT 0,
			explicit INTEGER DEFAULT 0,
			track_number INTEGER DEFAULT 0,
			disc_number INTEGER DEFAULT 0,
			isrc TEXT,
			release_date TEXT,
			cover_url TEXT,
			cover_file TEXT,
			source_url TEXT,
			norm_artist TEXT NOT NULL,
			norm_title TEXT NOT NULL,
			norm_full TEXT NOT NULL,
			cached_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_popularity ON tracks(popularity DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_cached_at ON tracks(cached_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate %s: %w", path, err)
		}
	}
	return db, nil
}

// Close waits for pending cover downloads and closes the database.
func (c *TrackCache) Close() error {
	c.coverWG.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Dir returns the directory the cache lives in.
func (c *TrackCache) Dir() string {
	return c.dir
}

func (c *TrackCache) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.locks[h.Sum32()%lockStripes]
}

// Put upserts a record by its key. A record without an id gets the
// synthetic artist|title key. The cover file of an existing row is kept.
func (c *TrackCache) Put(ctx context.Context, rec track.Record) error {
	rec.ID = rec.Key()
	if strings.TrimSpace(rec.Artist) == "" && strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("refusing to cache a track without artist and title")
	}

	lock := c.stripe(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	allArtists, err := json.Marshal(rec.AllArtists)
	if err != nil {
		return err
	}
	normArtist := NormalizeForSearch(rec.Artist)
	normTitle := NormalizeForSearch(rec.Title)

	c.mu.RLock()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO tracks (id, artist, title, all_artists, album, album_id, duration_ms, popularity,
			explicit, track_number, disc_number, isrc, release_date, cover_url, source_url,
			norm_artist, norm_title, norm_full, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			artist = excluded.artist, title = excluded.title, all_artists = excluded.all_artists,
			album = excluded.album, album_id = excluded.album_id, duration_ms = excluded.duration_ms,
			popularity = excluded.popularity, explicit = excluded.explicit,
			track_number = excluded.track_number, disc_number = excluded.disc_number,
			isrc = excluded.isrc, release_date = excluded.release_date, cover_url = excluded.cover_url,
			source_url = excluded.source_url, norm_artist = excluded.norm_artist,
			norm_title = excluded.norm_title, norm_full = excluded.norm_full, cached_at = excluded.cached_at`,
		rec.ID, rec.Artist, rec.Title, string(allArtists), rec.Album, rec.AlbumID, rec.DurationMs,
		rec.Popularity, rec.Explicit, rec.TrackNumber, rec.DiscNumber, rec.ISRC, rec.ReleaseDate,
		rec.CoverURL, rec.SourceURL, normArtist, normTitle, strings.TrimSpace(normArtist+" "+normTitle),
		c.now().UnixMilli(),
	)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("cache %s: %w", rec.ID, err)
	}
	c.log.Debug("cached %s (%s)", rec.Format(), rec.ID)

	if c.covers != nil && rec.CoverURL != "" {
		c.scheduleCover(rec.ID, rec.CoverURL)
	}
	return nil
}

// Get loads a record by id.
func (c *TrackCache) Get(ctx context.Context, id string) (*track.Record, error) {
	rec, err := c.first(ctx, `id = ?`, []any{id}, nil)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Contains reports whether a record with the same key is cached.
func (c *TrackCache) Contains(ctx context.Context, rec track.Record) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ok bool
	err := c.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tracks WHERE id = ?)`, rec.Key()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check cached: %w", err)
	}
	return ok, nil
}

// SearchByText matches a free-text query against "artist title". It first
// looks for the whole normalized query as a substring, then for every word
// of two or more characters. The most popular hit wins. Queries shorter
// than three characters never match. Ids in exclude are never returned.
func (c *TrackCache) SearchByText(ctx context.Context, query string, exclude map[string]struct{}) (*track.Record, error) {
	q := NormalizeForSearch(query)
	if len([]rune(q)) < 3 {
		return nil, nil
	}

	rec, err := c.first(ctx, `norm_full LIKE ?`, []any{"%" + q + "%"}, exclude)
	if err != nil || rec != nil {
		return rec, err
	}

	words := searchWords(q)
	if len(words) == 0 {
		return nil, nil
	}
	conds := make([]string, len(words))
	args := make([]any, len(words))
	for i, w := range words {
		conds[i] = `norm_full LIKE ?`
		args[i] = "%" + w + "%"
	}
	return c.first(ctx, strings.Join(conds, " AND "), args, exclude)
}

// SearchByParts matches artist and title separately. A field is only used
// when its normalized form has at least two characters; with neither
// usable the search returns nothing.
func (c *TrackCache) SearchByParts(ctx context.Context, artist, title string, exclude map[string]struct{}) (*track.Record, error) {
	var (
		conds []string
		args  []any
	)
	if a := NormalizeForSearch(artist); len([]rune(a)) >= 2 {
		conds = append(conds, `norm_artist LIKE ?`)
		args = append(args, "%"+a+"%")
	}
	if t := NormalizeForSearch(title); len([]rune(t)) >= 2 {
		conds = append(conds, `norm_title LIKE ?`)
		args = append(args, "%"+t+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return c.first(ctx, strings.Join(conds, " AND "), args, exclude)
}

// All returns every cached track, most recently cached first.
func (c *TrackCache) All(ctx context.Context) ([]track.Record, error) {
	return c.query(ctx, `SELECT `+trackColumns+` FROM tracks ORDER BY cached_at DESC, id`)
}

// Delete invalidates one track and its cover file.
func (c *TrackCache) Delete(ctx context.Context, id string) error {
	lock := c.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var cover sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT cover_file FROM tracks WHERE id = ?`, id).Scan(&cover)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("look up %s: %w", id, err)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if cover.Valid && cover.String != "" {
		if err := os.Remove(filepath.Join(c.coversDir, cover.String)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("remove cover %s: %v", cover.String, err)
		}
	}
	return nil
}

// Clear deletes every track and cover.
func (c *TrackCache) Clear(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM tracks`); err != nil {
		return fmt.Errorf("clear tracks: %w", err)
	}
	if err := os.RemoveAll(c.coversDir); err != nil {
		return fmt.Errorf("clear covers: %w", err)
	}
	return os.MkdirAll(c.coversDir, 0o755)
}

// first returns the most popular record matching where, skipping excluded ids.
func (c *TrackCache) first(ctx context.Context, where string, args []any, exclude map[string]struct{}) (*track.Record, error) {
	q := `SELECT ` + trackColumns + ` FROM tracks WHERE (` + where + `)`
	if len(exclude) > 0 {
		marks := make([]string, 0, len(exclude))
		for id := range exclude {
			marks = append(marks, "?")
			args = append(args, id)
		}
		q += ` AND id NOT IN (` + strings.Join(marks, ", ") + `)`
	}
	q += ` ORDER BY popularity DESC, cached_at DESC LIMIT 1`

	recs, err := c.query(ctx, q, args...)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (c *TrackCache) query(ctx context.Context, q string, args ...any) ([]track.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []track.Record
	for rows.Next() {
		var (
			r                                       track.Record
			allArtists, album, albumID, isrc        sql.NullString
			releaseDate, coverURL, cover, sourceURL sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Artist, &r.Title, &allArtists, &album, &albumID, &r.DurationMs,
			&r.Popularity, &r.Explicit, &r.TrackNumber, &r.DiscNumber, &isrc, &releaseDate,
			&coverURL, &cover, &sourceURL); err != nil {
			return nil, err
		}
		if allArtists.String != "" {
			if err := json.Unmarshal([]byte(allArtists.String), &r.AllArtists); err != nil {
				c.log.Debug("bad all_artists for %s: %v", r.ID, err)
			}
		}
		r.Album = album.String
		r.AlbumID = albumID.String
		r.ISRC = isrc.String
		r.ReleaseDate = releaseDate.String
		r.CoverURL = coverURL.String
		r.SourceURL = sourceURL.String
		if cover.String != "" {
			r.LocalCoverPath = filepath.Join(c.coversDir, cover.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the cache contents.
type Stats struct {
	Tracks     int   `json:"tracks"`
	CoverFiles int   `json:"cover_files"`
	CoverBytes int64 `json:"cover_bytes"`
}

// Stats counts tracks and cover bytes.
func (c *TrackCache) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	c.mu.RLock()
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&st.Tracks)
	c.mu.RUnlock()
	if err != nil {
		return st, fmt.Errorf("count tracks: %w", err)
	}
	st.CoverFiles, st.CoverBytes, err = utils.DirSize(c.coversDir)
	return st, err
}
