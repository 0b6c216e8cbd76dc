// Package web exposes the resolution pipeline over HTTP: tuner updates in,
// outcomes, station state, covers and a live event stream out.
package web

import (
	"context"
	"net/http"

	"rdstrack/internal/corrections"
	"rdstrack/internal/events"
	"rdstrack/internal/logger"
	"rdstrack/internal/metrics"
	"rdstrack/internal/pipeline"
	"rdstrack/internal/rdslog"
	"rdstrack/internal/replay"
	"rdstrack/internal/rules"
	"rdstrack/internal/track"
)

// Stations is the part of the pipeline the server drives.
type Stations interface {
	OnRtUpdate(ctx context.Context, pi uint16, rt string) (pipeline.Outcome, error)
	OnStationChange(pi uint16, frequency float64, am bool) error
	IgnoreCurrent(ctx context.Context, pi uint16) (corrections.Correction, error)
	SkipCurrent(ctx context.Context, pi uint16) (corrections.Correction, error)
	Snapshot(pi uint16) (pipeline.StationState, bool)
	Stations() []uint16
}

// CoverSource looks up cached tracks for their local cover file.
type CoverSource interface {
	Get(ctx context.Context, id string) (*track.Record, error)
}

type Server struct {
	ctx      context.Context
	stations Stations
	hub      *events.Hub
	covers   CoverSource
	rdslog   *rdslog.Log
	replay   replay.Factory
	rules    *rules.Store
	jobMgr   *JobManager
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// Option configures optional parts of the server.
type Option func(*Server)

// WithCovers enables GET /api/cover/{id}.
func WithCovers(c CoverSource) Option {
	return func(s *Server) { s.covers = c }
}

// WithRdsLog records every update in l and enables the /api/log routes.
func WithRdsLog(l *rdslog.Log) Option {
	return func(s *Server) { s.rdslog = l }
}

// WithReplay enables replay jobs; they need WithRdsLog as their source.
func WithReplay(f replay.Factory) Option {
	return func(s *Server) { s.replay = f }
}

// WithRules enables the /api/rules routes. Writes go through st, so a table
// built on it reloads before the next resolution.
func WithRules(st *rules.Store) Option {
	return func(s *Server) { s.rules = st }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server. ctx bounds long-lived connections and jobs.
func NewServer(ctx context.Context, stations Stations, hub *events.Hub, log *logger.Logger, opts ...Option) *Server {
	if hub == nil {
		hub = events.NewHub()
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		ctx:      ctx,
		stations: stations,
		hub:      hub,
		jobMgr:   NewJobManager(),
		logger:   log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Jobs returns the replay job manager.
func (s *Server) Jobs() *JobManager {
	return s.jobMgr
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Tuner input
	mux.HandleFunc("POST /api/station", s.handleStation)
	mux.HandleFunc("POST /api/rt", s.handleRT)

	// Station state and corrections
	mux.HandleFunc("GET /api/stations", s.handleListStations)
	mux.HandleFunc("GET /api/stations/{pi}", s.handleGetStation)
	mux.HandleFunc("POST /api/stations/{pi}/ignore", s.handleIgnore)
	mux.HandleFunc("POST /api/stations/{pi}/skip", s.handleSkip)
	mux.HandleFunc("GET /api/cover/{id}", s.handleCover)

	// Rewrite rules
	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleAddRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)

	// RDS log and replay
	mux.HandleFunc("GET /api/log", s.handleLog)
	mux.HandleFunc("GET /api/log/frequencies", s.handleLogFrequencies)
	mux.HandleFunc("POST /api/replay", s.handleReplay)
	mux.HandleFunc("GET /api/replay", s.handleListJobs)
	mux.HandleFunc("GET /api/replay/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/replay/{id}/cancel", s.handleCancelJob)

	mux.HandleFunc("GET /ws", s.handleEvents)
	mux.HandleFunc("GET /ws/replay", s.handleJobUpdates)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
