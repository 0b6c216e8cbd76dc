// Package rules implements the find/replace rewrite engine applied to raw
// Radio Text before any lookup, and the SQLite table the rules live in.
package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Position says where FindText has to occur for a rule to fire.
type Position string

const (
	PositionPrefix   Position = "PREFIX"
	PositionSuffix   Position = "SUFFIX"
	PositionEither   Position = "EITHER"
	PositionAnywhere Position = "ANYWHERE"
)

// ParsePosition accepts a position name in any case.
func ParsePosition(s string) (Position, error) {
	p := Position(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PositionPrefix, PositionSuffix, PositionEither, PositionAnywhere:
		return p, nil
	}
	return "", fmt.Errorf("unknown position %q (want PREFIX, SUFFIX, EITHER or ANYWHERE)", s)
}

// FrequencyTolerance is the MHz distance within which a frequency-scoped
// rule still applies.
const FrequencyTolerance = 0.05

// Rule is a single user-authored rewrite.
type Rule struct {
	ID                     int64     `yaml:"-" json:"id"`
	FindText               string    `yaml:"find" json:"find"`
	FindNormalized         string    `yaml:"-" json:"find_normalized"`
	ReplaceWith            string    `yaml:"replace,omitempty" json:"replace"`
	Position               Position  `yaml:"position" json:"position"`
	OnlyIfNotFound         bool      `yaml:"only_if_not_found,omitempty" json:"only_if_not_found"`
	ConditionContains      string    `yaml:"condition_contains,omitempty" json:"condition_contains,omitempty"`
	CaseSensitiveFind      bool      `yaml:"case_sensitive_find,omitempty" json:"case_sensitive_find"`
	CaseSensitiveCondition bool      `yaml:"case_sensitive_condition,omitempty" json:"case_sensitive_condition"`
	ScopeFrequency         *float64  `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Enabled                bool      `yaml:"enabled" json:"enabled"`
	CreatedAt              time.Time `yaml:"-" json:"created_at"`
}

// NormalizeFind returns the case-folded form of a find text, used both for
// case-insensitive matching and as the duplicate key.
func NormalizeFind(s string) string {
	return cases.Fold().String(s)
}

// Immediate reports whether the rule belongs to the first pass.
func (r Rule) Immediate() bool {
	return !r.OnlyIfNotFound
}

func (r Rule) validate() error {
	if r.FindText == "" {
		return fmt.Errorf("find text cannot be empty")
	}
	if _, err := ParsePosition(string(r.Position)); err != nil {
		return err
	}
	return nil
}

// Ruleset holds the enabled rules of both passes, each in persisted order.
type Ruleset struct {
	Immediate []Rule
	Fallback  []Rule
}

// Split partitions rules into a Ruleset, dropping disabled ones. Order is kept.
func Split(all []Rule) Ruleset {
	var set Ruleset
	for _, r := range all {
		if !r.Enabled {
			continue
		}
		if r.OnlyIfNotFound {
			set.Fallback = append(set.Fallback, r)
		} else {
			set.Immediate = append(set.Immediate, r)
		}
	}
	return set
}

// Apply rewrites input with the immediate rules and, if they left the text
// unchanged, with the fallback rules. frequency <= 0 means unknown; a
// frequency-scoped rule applies when the frequency is unknown.
func (s Ruleset) Apply(input string, frequency float64) string {
	original := strings.TrimSpace(input)
	out := applyAll(s.Immediate, original, original, frequency)
	if out == original {
		out = applyAll(s.Fallback, original, original, frequency)
	}
	return out
}

func applyAll(rules []Rule, text, original string, frequency float64) string {
	for _, r := range rules {
		text = r.apply(text, original, frequency)
	}
	return text
}

// apply runs a single rule. The condition is evaluated against the original
// input; the find text against the current, possibly rewritten, text.
func (r Rule) apply(text, original string, frequency float64) string {
	if r.ScopeFrequency != nil && frequency > 0 {
		if math.Abs(*r.ScopeFrequency-frequency) > FrequencyTolerance+1e-9 {
			return text
		}
	}
	if r.ConditionContains != "" && !r.conditionHolds(original) {
		return text
	}

	start, end, ok := r.locate(text)
	if !ok {
		return text
	}
	return strings.TrimSpace(text[:start] + r.ReplaceWith + text[end:])
}

func (r Rule) conditionHolds(original string) bool {
	if r.CaseSensitiveCondition {
		return strings.Contains(original, r.ConditionContains)
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(original), fold.String(r.ConditionContains))
}

// locate returns the byte range in text matched by the rule's position.
func (r Rule) locate(text string) (start, end int, ok bool) {
	find := r.FindText
	if find == "" {
		return 0, 0, false
	}
	switch r.Position {
	case PositionPrefix:
		return r.prefix(text, find)
	case PositionSuffix:
		return r.suffix(text, find)
	case PositionEither:
		if s, e, ok := r.prefix(text, find); ok {
			return s, e, true
		}
		return r.suffix(text, find)
	case PositionAnywhere:
		if r.CaseSensitiveFind {
			i := strings.Index(text, find)
			if i < 0 {
				return 0, 0, false
			}
			return i, i + len(find), true
		}
		return indexFold(text, find)
	}
	return 0, 0, false
}

func (r Rule) prefix(text, find string) (int, int, bool) {
	if r.CaseSensitiveFind {
		if strings.HasPrefix(text, find) {
			return 0, len(find), true
		}
		return 0, 0, false
	}
	if end, ok := matchFoldAt(text, 0, find); ok {
		return 0, end, true
	}
	return 0, 0, false
}

func (r Rule) suffix(text, find string) (int, int, bool) {
	if r.CaseSensitiveFind {
		if strings.HasSuffix(text, find) {
			return len(text) - len(find), len(text), true
		}
		return 0, 0, false
	}
	if start, ok := suffixFold(text, find); ok {
		return start, len(text), true
	}
	return 0, 0, false
}
