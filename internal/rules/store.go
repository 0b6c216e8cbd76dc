package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrDuplicateRule is returned when an enabled immediate rule with the
	// same normalized find text already exists.
	ErrDuplicateRule = errors.New("an enabled immediate rule with this find text already exists")
	// ErrNotFound is returned for an unknown rule id.
	ErrNotFound = errors.New("rule not found")
)

const ruleColumns = `id, find_text, find_normalized, replace_with, position, only_if_not_found,
	condition_contains, case_sensitive_find, case_sensitive_condition, scope_frequency, enabled, created_at`

// Store persists rules in the edit_rules table.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers []func()
}

// NewStore wraps a database that already carries the edit_rules table.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Watch registers fn to run after every successful write.
func (s *Store) Watch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) changed() {
	s.mu.Lock()
	ws := append([]func(){}, s.watchers...)
	s.mu.Unlock()
	for _, fn := range ws {
		fn()
	}
}

// Add inserts a rule and returns it with its id.
func (s *Store) Add(ctx context.Context, r Rule) (Rule, error) {
	r.FindText = strings.TrimSpace(r.FindText)
	if err := r.validate(); err != nil {
		return r, err
	}
	r.FindNormalized = NormalizeFind(r.FindText)
	if err := s.checkDuplicate(ctx, r); err != nil {
		return r, err
	}
	r.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO edit_rules (find_text, find_normalized, replace_with, position, only_if_not_found,
			condition_contains, case_sensitive_find, case_sensitive_condition, scope_frequency, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FindText, r.FindNormalized, r.ReplaceWith, string(r.Position), r.OnlyIfNotFound,
		nullString(r.ConditionContains), r.CaseSensitiveFind, r.CaseSensitiveCondition,
		nullFloat(r.ScopeFrequency), r.Enabled, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return r, fmt.Errorf("insert rule: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return r, err
	}
	s.changed()
	return r, nil
}

// Update overwrites every field of an existing rule.
func (s *Store) Update(ctx context.Context, r Rule) error {
	r.FindText = strings.TrimSpace(r.FindText)
	if err := r.validate(); err != nil {
		return err
	}
	r.FindNormalized = NormalizeFind(r.FindText)
	if err := s.checkDuplicate(ctx, r); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE edit_rules SET find_text = ?, find_normalized = ?, replace_with = ?, position = ?,
			only_if_not_found = ?, condition_contains = ?, case_sensitive_find = ?,
			case_sensitive_condition = ?, scope_frequency = ?, enabled = ?
		 WHERE id = ?`,
		r.FindText, r.FindNormalized, r.ReplaceWith, string(r.Position), r.OnlyIfNotFound,
		nullString(r.ConditionContains), r.CaseSensitiveFind, r.CaseSensitiveCondition,
		nullFloat(r.ScopeFrequency), r.Enabled, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	s.changed()
	return nil
}

// SetEnabled toggles a rule. Enabling re-checks the duplicate invariant.
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if enabled && !r.Enabled {
		r.Enabled = true
		if err := s.checkDuplicate(ctx, r); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE edit_rules SET enabled = ? WHERE id = ?`, enabled, id); err != nil {
		return fmt.Errorf("toggle rule %d: %w", id, err)
	}
	s.changed()
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM edit_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	s.changed()
	return nil
}

// DeleteAll empties the table.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edit_rules`); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}
	s.changed()
	return nil
}

// Get loads one rule.
func (s *Store) Get(ctx context.Context, id int64) (Rule, error) {
	rows, err := s.query(ctx, `SELECT `+ruleColumns+` FROM edit_rules WHERE id = ?`, id)
	if err != nil {
		return Rule{}, err
	}
	if len(rows) == 0 {
		return Rule{}, ErrNotFound
	}
	return rows[0], nil
}

// List returns every rule in insertion order.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM edit_rules ORDER BY id`)
}

// Immediate returns the enabled first-pass rules in insertion order.
func (s *Store) Immediate(ctx context.Context) ([]Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM edit_rules WHERE enabled = 1 AND only_if_not_found = 0 ORDER BY id`)
}

// Fallback returns the enabled fallback rules in insertion order.
func (s *Store) Fallback(ctx context.Context) ([]Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM edit_rules WHERE enabled = 1 AND only_if_not_found = 1 ORDER BY id`)
}

// Ruleset loads both passes.
func (s *Store) Ruleset(ctx context.Context) (Ruleset, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Ruleset{}, err
	}
	return Split(all), nil
}

// Version reports SQLite's data_version for the store's connection. It
// changes whenever another connection, possibly in another process, commits
// to the database.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read data version: %w", err)
	}
	return v, nil
}

type exportFile struct {
	Rules []Rule `yaml:"rules"`
}

// Export writes all rules as YAML.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(exportFile{Rules: all}); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return enc.Close()
}

// Import reads rules written by Export. With replace set the table is
// emptied first. Rules that would violate the duplicate invariant are
// skipped. Returns the number of rules added.
func (s *Store) Import(ctx context.Context, r io.Reader, replace bool) (int, error) {
	var f exportFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode rules: %w", err)
	}
	if replace {
		if err := s.DeleteAll(ctx); err != nil {
			return 0, err
		}
	}
	added := 0
	for _, rule := range f.Rules {
		if rule.Position == "" {
			rule.Position = PositionAnywhere
		}
		if _, err := s.Add(ctx, rule); err != nil {
			if errors.Is(err, ErrDuplicateRule) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}

func (s *Store) checkDuplicate(ctx context.Context, r Rule) error {
	if !r.Enabled || r.OnlyIfNotFound {
		return nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edit_rules
		 WHERE enabled = 1 AND only_if_not_found = 0 AND find_normalized = ? AND id != ?`,
		r.FindNormalized, r.ID,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check duplicate rule: %w", err)
	}
	if n > 0 {
		return ErrDuplicateRule
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var (
			r         Rule
			pos       string
			cond      sql.NullString
			freq      sql.NullFloat64
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.FindText, &r.FindNormalized, &r.ReplaceWith, &pos,
			&r.OnlyIfNotFound, &cond, &r.CaseSensitiveFind, &r.CaseSensitiveCondition,
			&freq, &r.Enabled, &createdAt); err != nil {
			return nil, err
		}
		r.Position = Position(pos)
		r.ConditionContains = cond.String
		if freq.Valid {
			f := freq.Float64
			r.ScopeFrequency = &f
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
