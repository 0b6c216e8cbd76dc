// Package rdslog records the Radio Text and station changes a tuner reports,
// so they can be browsed later or replayed through a pipeline.
package rdslog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"rdstrack/internal/logger"
)

// EventType tells an RT change from a station change.
type EventType string

const (
	EventRT            EventType = "RT"
	EventStationChange EventType = "STATION_CHANGE"
)

// frequencyTolerance is the window, in MHz, used by ByFrequency.
const frequencyTolerance = 0.05

// Entry is one logged event.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Frequency float64   `json:"frequency"`
	AM        bool      `json:"am"`
	PI        uint16    `json:"pi"`
	PS        string    `json:"ps,omitempty"`
	RT        string    `json:"rt,omitempty"`
	EventType EventType `json:"event_type"`
}

// FrequencyStats counts entries per frequency.
type FrequencyStats struct {
	Frequency float64 `json:"frequency"`
	Count     int     `json:"count"`
}

type tuner struct {
	frequency float64
	am        bool
	ps        string
	lastRT    string
}

// Log writes to the rds_log table. It tracks the last RT per PI so that
// repeated transmissions of the same text are stored once.
type Log struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time

	mu       sync.Mutex
	enabled  bool
	stations map[uint16]*tuner
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New wraps a database that already carries the rds_log table.
func New(db *sql.DB, log *logger.Logger, opts ...Option) *Log {
	if log == nil {
		log = logger.Discard()
	}
	l := &Log{
		db:       db,
		log:      log,
		now:      time.Now,
		enabled:  true,
		stations: make(map[uint16]*tuner),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetEnabled switches recording on or off. Queries keep working either way.
func (l *Log) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Enabled reports whether events are being recorded.
func (l *Log) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *Log) tuner(pi uint16) *tuner {
	t, ok := l.stations[pi]
	if !ok {
		t = &tuner{}
		l.stations[pi] = t
	}
	return t
}

// OnStationChange records a tune to frequency for pi. Retuning to the
// frequency already known for pi is not logged. The RT memory of pi is
// reset either way.
func (l *Log) OnStationChange(ctx context.Context, pi uint16, frequency float64, am bool) (bool, error) {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return false, nil
	}
	t := l.tuner(pi)
	changed := t.frequency != frequency || t.am != am
	e := Entry{
		Timestamp: l.now(),
		Frequency: frequency,
		AM:        am,
		PI:        pi,
		PS:        t.ps,
		RT:        t.lastRT,
		EventType: EventStationChange,
	}
	t.frequency, t.am, t.lastRT = frequency, am, ""
	l.mu.Unlock()

	if !changed {
		return false, nil
	}
	if err := l.insert(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// OnRT records rt for pi unless it equals the last RT logged for pi.
// Blank texts are never logged. ps is remembered when non-blank.
func (l *Log) OnRT(ctx context.Context, pi uint16, ps, rt string) (bool, error) {
	rt = strings.TrimSpace(rt)

	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return false, nil
	}
	t := l.tuner(pi)
	if ps = strings.TrimSpace(ps); ps != "" {
		t.ps = ps
	}
	if rt == "" || rt == t.lastRT {
		l.mu.Unlock()
		return false, nil
	}
	t.lastRT = rt
	e := Entry{
		Timestamp: l.now(),
		Frequency: t.frequency,
		AM:        t.am,
		PI:        pi,
		PS:        t.ps,
		RT:        rt,
		EventType: EventRT,
	}
	l.mu.Unlock()

	if err := l.insert(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Log) insert(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO rds_log (ts, frequency, am, pi, ps, rt, event_type) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Frequency, e.AM, int64(e.PI), e.PS, e.RT, string(e.EventType),
	)
	if err != nil {
		return fmt.Errorf("insert rds log entry: %w", err)
	}
	return nil
}

const selectEntries = `SELECT id, ts, frequency, am, pi, ps, rt, event_type FROM rds_log`

// All returns up to limit entries, newest first. A limit <= 0 means no limit.
func (l *Log) All(ctx context.Context, limit int) ([]Entry, error) {
	return l.query(ctx, selectEntries+` ORDER BY ts DESC, id DESC LIMIT ?`, sqlLimit(limit))
}

// ByPI returns entries for one station, newest first.
func (l *Log) ByPI(ctx context.Context, pi uint16, limit int) ([]Entry, error) {
	return l.query(ctx, selectEntries+` WHERE pi = ? ORDER BY ts DESC, id DESC LIMIT ?`, int64(pi), sqlLimit(limit))
}

// ByFrequency returns entries logged within 0.05 MHz of frequency, newest first.
func (l *Log) ByFrequency(ctx context.Context, frequency float64, limit int) ([]Entry, error) {
	return l.query(ctx,
		selectEntries+` WHERE frequency BETWEEN ? AND ? ORDER BY ts DESC, id DESC LIMIT ?`,
		frequency-frequencyTolerance, frequency+frequencyTolerance, sqlLimit(limit),
	)
}

// Search returns entries whose RT or PS contains text, ignoring ASCII case.
func (l *Log) Search(ctx context.Context, text string, limit int) ([]Entry, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(text)) + "%"
	return l.query(ctx,
		selectEntries+` WHERE rt LIKE ? ESCAPE '\' OR ps LIKE ? ESCAPE '\' ORDER BY ts DESC, id DESC LIMIT ?`,
		pattern, pattern, sqlLimit(limit),
	)
}

// Since returns every entry logged at or after t, oldest first, optionally
// restricted to one PI. This is the order replay needs.
func (l *Log) Since(ctx context.Context, t time.Time, pi *uint16) ([]Entry, error) {
	if pi != nil {
		return l.query(ctx, selectEntries+` WHERE ts >= ? AND pi = ? ORDER BY ts, id`, t.UnixMilli(), int64(*pi))
	}
	return l.query(ctx, selectEntries+` WHERE ts >= ? ORDER BY ts, id`, t.UnixMilli())
}

// Frequencies lists every logged frequency with its entry count, most used first.
func (l *Log) Frequencies(ctx context.Context) ([]FrequencyStats, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT frequency, COUNT(*) AS n FROM rds_log GROUP BY frequency ORDER BY n DESC, frequency`)
	if err != nil {
		return nil, fmt.Errorf("query frequencies: %w", err)
	}
	defer rows.Close()

	var out []FrequencyStats
	for rows.Next() {
		var s FrequencyStats
		if err := rows.Scan(&s.Frequency, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the number of stored entries.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rds_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rds log: %w", err)
	}
	return n, nil
}

// Cleanup removes entries older than retention and returns how many went.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM rds_log WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean rds log: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll empties the log and forgets the per-station RT memory.
func (l *Log) DeleteAll(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM rds_log`)
	if err != nil {
		return 0, fmt.Errorf("clear rds log: %w", err)
	}
	l.mu.Lock()
	for _, t := range l.stations {
		t.lastRT = ""
	}
	l.mu.Unlock()
	return res.RowsAffected()
}

// StartCleanup runs Cleanup once now and then every interval until ctx is
// cancelled.
func (l *Log) StartCleanup(ctx context.Context, retention, interval time.Duration) {
	run := func() {
		n, err := l.Cleanup(ctx, retention)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				l.log.Warn("rds log cleanup: %v", err)
			}
		case n > 0:
			l.log.Debug("rds log cleanup removed %d entries", n)
		}
	}
	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func (l *Log) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rds log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			ts   int64
			pi   int64
			kind string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Frequency, &e.AM, &pi, &e.PS, &e.RT, &kind); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.PI = uint16(pi)
		e.EventType = EventType(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
