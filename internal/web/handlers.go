package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"rdstrack/internal/cache"
	"rdstrack/internal/pipeline"
	"rdstrack/internal/rdslog"
	"rdstrack/internal/replay"
)

const defaultReplayWindow = 24 * time.Hour

// PICode is a PI code in JSON. It accepts a number or a hexadecimal
// string such as "D3C1" or "0xD3C1".
type PICode uint16

func (p *PICode) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		pi, err := parsePI(s)
		if err != nil {
			return err
		}
		*p = PICode(pi)
		return nil
	}
	var n uint16
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid pi: %w", err)
	}
	*p = PICode(n)
	return nil
}

// parsePI parses a hexadecimal PI code with an optional 0x prefix.
func parsePI(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pi %q", s)
	}
	return uint16(n), nil
}

type StationRequest struct {
	PI        PICode  `json:"pi"`
	Frequency float64 `json:"frequency"`
	AM        bool    `json:"am"`
}

type RTRequest struct {
	PI PICode `json:"pi"`
	RT string `json:"rt"`
	PS string `json:"ps"`
}

type ReplayRequest struct {
	Since *time.Time `json:"since"`
	PI    *PICode    `json:"pi"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// pipelineError maps pipeline failures onto status codes.
func (s *Server) pipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, pipeline.ErrNoCurrent):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		s.logger.Error("pipeline: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) pathPI(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	pi, err := parsePI(r.PathValue("pi"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return pi, true
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	var req StationRequest
	if !decode(w, r, &req) {
		return
	}
	pi := uint16(req.PI)

	if err := s.stations.OnStationChange(pi, req.Frequency, req.AM); err != nil {
		s.pipelineError(w, err)
		return
	}
	if s.rdslog != nil {
		if _, err := s.rdslog.OnStationChange(r.Context(), pi, req.Frequency, req.AM); err != nil {
			s.logger.Warn("rds log: %v", err)
		}
	}

	state, _ := s.stations.Snapshot(pi)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRT(w http.ResponseWriter, r *http.Request) {
	var req RTRequest
	if !decode(w, r, &req) {
		return
	}
	pi := uint16(req.PI)

	if s.rdslog != nil {
		if _, err := s.rdslog.OnRT(r.Context(), pi, req.PS, req.RT); err != nil {
			s.logger.Warn("rds log: %v", err)
		}
	}

	out, err := s.stations.OnRtUpdate(r.Context(), pi, req.RT)
	if err != nil {
		s.pipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	pis := s.stations.Stations()
	slices.Sort(pis)

	states := make([]pipeline.StationState, 0, len(pis))
	for _, pi := range pis {
		if st, ok := s.stations.Snapshot(pi); ok {
			states = append(states, st)
		}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	pi, ok := s.pathPI(w, r)
	if !ok {
		return
	}
	st, ok := s.stations.Snapshot(pi)
	if !ok {
		http.Error(w, fmt.Sprintf("station %04X not found", pi), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	pi, ok := s.pathPI(w, r)
	if !ok {
		return
	}
	c, err := s.stations.IgnoreCurrent(r.Context(), pi)
	if err != nil {
		s.pipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	pi, ok := s.pathPI(w, r)
	if !ok {
		return
	}
	c, err := s.stations.SkipCurrent(r.Context(), pi)
	if err != nil {
		s.pipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	if s.covers == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := s.covers.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, cache.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("cover lookup: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec.LocalCoverPath == "" {
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(rec.LocalCoverPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, "cover.jpg", time.Time{}, bytes.NewReader(data))
}

// handleLog serves the RDS log. Query parameters pick one filter: pi (hex),
// frequency (MHz) or q (text search). limit caps the result, default 100.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.rdslog == nil {
		http.Error(w, "RDS log disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		entries []rdslog.Entry
		err     error
	)
	switch {
	case q.Get("pi") != "":
		pi, perr := parsePI(q.Get("pi"))
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		entries, err = s.rdslog.ByPI(r.Context(), pi, limit)
	case q.Get("frequency") != "":
		f, perr := strconv.ParseFloat(q.Get("frequency"), 64)
		if perr != nil {
			http.Error(w, "invalid frequency", http.StatusBadRequest)
			return
		}
		entries, err = s.rdslog.ByFrequency(r.Context(), f, limit)
	case q.Get("q") != "":
		entries, err = s.rdslog.Search(r.Context(), q.Get("q"), limit)
	default:
		entries, err = s.rdslog.All(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("rds log query: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []rdslog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLogFrequencies(w http.ResponseWriter, r *http.Request) {
	if s.rdslog == nil {
		http.Error(w, "RDS log disabled", http.StatusNotFound)
		return
	}
	stats, err := s.rdslog.Frequencies(r.Context())
	if err != nil {
		s.logger.Error("rds log frequencies: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []rdslog.FrequencyStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.rdslog == nil || s.replay == nil {
		http.Error(w, "replay disabled", http.StatusNotFound)
		return
	}
	var req ReplayRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	since := time.Now().Add(-defaultReplayWindow)
	if req.Since != nil {
		since = *req.Since
	}
	var pi *uint16
	if req.PI != nil {
		v := uint16(*req.PI)
		pi = &v
	}

	job := s.jobMgr.CreateJob(since, pi)
	s.logger.Info("Created replay job %s since %s", job.ID, since.Format(time.RFC3339))

	go s.processJob(job)

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobMgr.ListJobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobMgr.GetJob(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobMgr.GetJob(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if job.Status.Finished() {
		writeJSON(w, http.StatusOK, job)
		return
	}

	if job.Cancel != nil {
		job.Cancel()
	}
	s.jobMgr.UpdateJob(id, func(j *Job) {
		j.Status = StatusCancelled
	})

	job, _ = s.jobMgr.GetJob(id)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) processJob(job Job) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	cancelled := false
	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Cancel = cancel
		if j.Status == StatusCancelled {
			cancelled = true
			return
		}
		j.Status = StatusRunning
	})
	if cancelled {
		return
	}

	fail := func(err error) {
		s.logger.Error("Replay job %s failed: %v", job.ID, err)
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			if j.Status != StatusCancelled {
				j.Status = StatusFailed
				j.Error = err.Error()
			}
		})
	}

	entries, err := s.rdslog.Since(ctx, job.Since, job.PI)
	if err != nil {
		fail(err)
		return
	}
	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Total = len(entries)
	})

	sum, err := replay.RunFresh(ctx, entries, s.replay, func(replay.Result) {
		s.jobMgr.UpdateJob(job.ID, func(j *Job) {
			j.Progress++
		})
	})
	if err != nil {
		fail(err)
		return
	}

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Summary = sum
		if j.Status != StatusCancelled {
			j.Status = StatusCompleted
		}
	})
	s.logger.Info("Replay job %s completed: %d resolved of %d entries", job.ID, sum.Resolved, sum.Entries)
}
