package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"rdstrack/internal/rules"
)

// RuleRequest is the body of POST /api/rules and PUT /api/rules/{id}.
type RuleRequest struct {
	Find                   string   `json:"find"`
	Replace                string   `json:"replace"`
	Position               string   `json:"position"`
	OnlyIfNotFound         bool     `json:"only_if_not_found"`
	ConditionContains      string   `json:"condition_contains"`
	CaseSensitiveFind      bool     `json:"case_sensitive_find"`
	CaseSensitiveCondition bool     `json:"case_sensitive_condition"`
	Frequency              *float64 `json:"frequency"`
	Enabled                *bool    `json:"enabled"`
}

func (req RuleRequest) rule() (rules.Rule, error) {
	if strings.TrimSpace(req.Find) == "" {
		return rules.Rule{}, errors.New("find text cannot be empty")
	}
	pos := rules.PositionAnywhere
	if req.Position != "" {
		p, err := rules.ParsePosition(req.Position)
		if err != nil {
			return rules.Rule{}, err
		}
		pos = p
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return rules.Rule{
		FindText:               req.Find,
		ReplaceWith:            req.Replace,
		Position:               pos,
		OnlyIfNotFound:         req.OnlyIfNotFound,
		ConditionContains:      req.ConditionContains,
		CaseSensitiveFind:      req.CaseSensitiveFind,
		CaseSensitiveCondition: req.CaseSensitiveCondition,
		ScopeFrequency:         req.Frequency,
		Enabled:                enabled,
	}, nil
}

func (s *Server) rulesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrDuplicateRule):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, rules.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("rules: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) pathRuleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeRule reads and checks a RuleRequest, answering 400 on bad input.
func decodeRule(w http.ResponseWriter, r *http.Request) (rules.Rule, bool) {
	var req RuleRequest
	if !decode(w, r, &req) {
		return rules.Rule{}, false
	}
	rule, err := req.rule()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return rules.Rule{}, false
	}
	return rule, true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		http.Error(w, "rules disabled", http.StatusNotFound)
		return
	}
	all, err := s.rules.List(r.Context())
	if err != nil {
		s.rulesError(w, err)
		return
	}
	if all == nil {
		all = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		http.Error(w, "rules disabled", http.StatusNotFound)
		return
	}
	rule, ok := decodeRule(w, r)
	if !ok {
		return
	}
	rule, err := s.rules.Add(r.Context(), rule)
	if err != nil {
		s.rulesError(w, err)
		return
	}
	s.logger.Info("Added rule %d: %q (%s)", rule.ID, rule.FindText, rule.Position)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		http.Error(w, "rules disabled", http.StatusNotFound)
		return
	}
	id, ok := s.pathRuleID(w, r)
	if !ok {
		return
	}
	rule, ok := decodeRule(w, r)
	if !ok {
		return
	}
	rule.ID = id
	if err := s.rules.Update(r.Context(), rule); err != nil {
		s.rulesError(w, err)
		return
	}
	updated, err := s.rules.Get(r.Context(), id)
	if err != nil {
		s.rulesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		http.Error(w, "rules disabled", http.StatusNotFound)
		return
	}
	id, ok := s.pathRuleID(w, r)
	if !ok {
		return
	}
	if err := s.rules.Delete(r.Context(), id); err != nil {
		s.rulesError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
