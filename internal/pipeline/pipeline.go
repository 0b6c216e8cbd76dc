// Package pipeline turns a stream of Radio Text updates into resolved tracks.
//
// Each station (PI code) gets its own worker goroutine fed through a FIFO
// mailbox, so updates for one station are applied in arrival order while
// different stations resolve concurrently. A station change bumps the
// station's epoch; a resolution that started under an older epoch still
// returns its answer to the caller but never writes into the reset state.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"rdstrack/internal/corrections"
	"rdstrack/internal/events"
	"rdstrack/internal/fragment"
	"rdstrack/internal/logger"
	"rdstrack/internal/metrics"
	"rdstrack/internal/netcheck"
	"rdstrack/internal/track"
)

var (
	// ErrNoCache is returned by New without a track cache.
	ErrNoCache = errors.New("pipeline needs a track cache")
	// ErrNoRules is returned by New without a rule table.
	ErrNoRules = errors.New("pipeline needs a rule table")
	// ErrNoCorrections is returned by New without a correction store.
	ErrNoCorrections = errors.New("pipeline needs a correction store")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("pipeline closed")
	// ErrNoCurrent is returned by the correction shortcuts when the station
	// has nothing to correct.
	ErrNoCurrent = errors.New("station has no current radio text")
)

// Cache is the local track store consulted before any remote lookup.
type Cache interface {
	SearchByParts(ctx context.Context, artist, title string, exclude map[string]struct{}) (*track.Record, error)
	SearchByText(ctx context.Context, query string, exclude map[string]struct{}) (*track.Record, error)
	Put(ctx context.Context, rec track.Record) error
}

// Resolver is the remote lookup of last resort. Blank arguments yield
// (nil, nil).
type Resolver interface {
	Resolve(ctx context.Context, query string) (*track.Record, error)
	ResolveByParts(ctx context.Context, artist, title string) (*track.Record, error)
	ResolveExcluding(ctx context.Context, query string, exclude map[string]struct{}) (*track.Record, error)
}

// Rewriter applies the user's text rules.
type Rewriter interface {
	Apply(input string, frequency float64) string
}

// Corrections reads and records user overrides.
type Corrections interface {
	IsIgnored(ctx context.Context, rtNormalized string) (bool, error)
	SkippedTrackIDs(ctx context.Context, rtNormalized string) (map[string]struct{}, error)
	AddIgnored(ctx context.Context, rt string) (corrections.Correction, error)
	AddSkipTrack(ctx context.Context, rt, trackID, artist, title string) (corrections.Correction, error)
}

// Status names the branch that produced an Outcome.
type Status string

const (
	StatusResolved  Status = "resolved"
	StatusIgnored   Status = "ignored"
	StatusNoMatch   Status = "no_match"
	StatusRejected  Status = "rejected"
	StatusDuplicate Status = "duplicate"
)

// Outcome is the answer to one RT update. Formatted is "Artist - Title"
// for a track, the rewritten text for an ignored RT, or the station's last
// known result.
type Outcome struct {
	Formatted string        `json:"formatted,omitempty"`
	Track     *track.Record `json:"track,omitempty"`
	Status    Status        `json:"status"`
}

// StationState is a read-only view of one station.
type StationState struct {
	PI        uint16        `json:"pi"`
	Frequency float64       `json:"frequency,omitempty"`
	AM        bool          `json:"am,omitempty"`
	LastRT    string        `json:"last_rt,omitempty"`
	Rewritten string        `json:"rewritten,omitempty"`
	Formatted string        `json:"formatted,omitempty"`
	Track     *track.Record `json:"track,omitempty"`
	Buffered  []string      `json:"buffered,omitempty"`
	Epoch     uint64        `json:"epoch"`
}

// Deps are the collaborators of a Pipeline. Cache, Rules and Corrections
// are required. A nil Remote makes the pipeline cache-only.
type Deps struct {
	Cache       Cache
	Rules       Rewriter
	Corrections Corrections
	Remote      Resolver
	Network     netcheck.Oracle
	Events      events.Publisher
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCacheWrites controls whether remote hits are stored in the cache.
func WithCacheWrites(enabled bool) Option {
	return func(p *Pipeline) { p.cacheWrites = enabled }
}

// WithBuffer replaces the default fragment buffer.
func WithBuffer(b *fragment.Buffer) Option {
	return func(p *Pipeline) { p.buffer = b }
}

const mailboxSize = 16

// Pipeline resolves RT updates for any number of stations.
type Pipeline struct {
	cache       Cache
	rules       Rewriter
	corrections Corrections
	remote      Resolver
	network     netcheck.Oracle
	events      events.Publisher
	metrics     *metrics.Metrics
	log         *logger.Logger
	buffer      *fragment.Buffer
	cacheWrites bool

	mu       sync.Mutex
	stations map[uint16]*station
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// job is one queued RT update. epoch is the station epoch at arrival.
type job struct {
	ctx   context.Context
	rt    string
	epoch uint64
	reply chan Outcome
}

// station holds per-PI state. Fields below mu are guarded by it.
type station struct {
	pi   uint16
	jobs chan job

	mu          sync.Mutex
	epoch       uint64
	frequency   float64
	am          bool
	hasLast     bool
	lastRT      string
	lastOutcome Outcome
	rewritten   string
	formatted   string
	track       *track.Record
}

// New creates a Pipeline.
func New(d Deps, opts ...Option) (*Pipeline, error) {
	if d.Cache == nil {
		return nil, ErrNoCache
	}
	if d.Rules == nil {
		return nil, ErrNoRules
	}
	if d.Corrections == nil {
		return nil, ErrNoCorrections
	}
	p := &Pipeline{
		cache:       d.Cache,
		rules:       d.Rules,
		corrections: d.Corrections,
		remote:      d.Remote,
		network:     d.Network,
		events:      d.Events,
		metrics:     d.Metrics,
		log:         d.Log,
		cacheWrites: true,
		stations:    make(map[uint16]*station),
		done:        make(chan struct{}),
	}
	if p.network == nil {
		p.network = netcheck.Static(true)
	}
	if p.events == nil {
		p.events = events.Discard{}
	}
	if p.log == nil {
		p.log = logger.Discard()
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer == nil {
		p.buffer = fragment.New(fragment.DefaultCapacity, fragment.DefaultLifetime)
	}
	return p, nil
}

// station returns the state for pi, starting its worker on first use.
func (p *Pipeline) station(pi uint16) (*station, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if st, ok := p.stations[pi]; ok {
		return st, nil
	}
	st := &station{pi: pi, jobs: make(chan job, mailboxSize)}
	p.stations[pi] = st
	p.wg.Add(1)
	go p.work(st)
	p.metrics.SetActiveStations(len(p.stations))
	return st, nil
}

func (p *Pipeline) work(st *station) {
	defer p.wg.Done()
	for {
		select {
		case j := <-st.jobs:
			if j.ctx.Err() != nil {
				// the caller gave up while the job was queued
				j.reply <- Outcome{}
				continue
			}
			// once started, a resolution runs to the end
			j.reply <- p.process(context.WithoutCancel(j.ctx), st, j)
		case <-p.done:
			return
		}
	}
}

// OnRtUpdate resolves one RT update for pi. It blocks until the station's
// worker has processed every earlier update and this one. The only errors
// are ErrClosed and ctx cancellation; lookup failures degrade to
// StatusNoMatch.
func (p *Pipeline) OnRtUpdate(ctx context.Context, pi uint16, rt string) (Outcome, error) {
	st, err := p.station(pi)
	if err != nil {
		return Outcome{}, err
	}
	st.mu.Lock()
	epoch := st.epoch
	st.mu.Unlock()
	reply := make(chan Outcome, 1)

	select {
	case st.jobs <- job{ctx: ctx, rt: rt, epoch: epoch, reply: reply}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-p.done:
		return Outcome{}, ErrClosed
	}

	select {
	case o := <-reply:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-p.done:
		return Outcome{}, ErrClosed
	}
}

// OnStationChange resets the state of pi and records its frequency in MHz
// (0 when unknown). It takes effect immediately, even while a resolution
// for pi is in flight. Updates queued before the change still answer their
// callers but leave the new state untouched.
func (p *Pipeline) OnStationChange(pi uint16, frequency float64, am bool) error {
	st, err := p.station(pi)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.epoch++
	st.frequency = frequency
	st.am = am
	st.hasLast = false
	st.lastRT = ""
	st.lastOutcome = Outcome{}
	st.rewritten = ""
	st.formatted = ""
	st.track = nil
	p.buffer.Clear(pi)
	st.mu.Unlock()

	p.metrics.RecordStationChange()
	p.events.Publish(events.New(pi, events.StatusStation))
	p.log.Debug("station %04X changed (%.2f MHz, am=%v)", pi, frequency, am)
	return nil
}

// ForceReprocess drops the duplicate memory and last result of pi so the
// next RT, even an identical one, is resolved again.
func (p *Pipeline) ForceReprocess(pi uint16) error {
	st, err := p.station(pi)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.hasLast = false
	st.lastOutcome = Outcome{}
	st.formatted = ""
	st.track = nil
	st.mu.Unlock()
	return nil
}

// IgnoreCurrent marks the current rewritten RT of pi as ignored.
func (p *Pipeline) IgnoreCurrent(ctx context.Context, pi uint16) (corrections.Correction, error) {
	snap, ok := p.Snapshot(pi)
	if !ok || snap.Rewritten == "" {
		return corrections.Correction{}, ErrNoCurrent
	}
	c, err := p.corrections.AddIgnored(ctx, snap.Rewritten)
	if err != nil {
		return c, err
	}
	p.log.Info("ignoring %q", snap.Rewritten)
	return c, p.ForceReprocess(pi)
}

// SkipCurrent records the track resolved for the current rewritten RT of
// pi as wrong and forces the next update to resolve again. The last RT must
// itself have resolved; a track kept from an earlier RT does not count.
func (p *Pipeline) SkipCurrent(ctx context.Context, pi uint16) (corrections.Correction, error) {
	p.mu.Lock()
	st, ok := p.stations[pi]
	p.mu.Unlock()
	if !ok {
		return corrections.Correction{}, ErrNoCurrent
	}
	st.mu.Lock()
	rewritten, last := st.rewritten, st.lastOutcome
	st.mu.Unlock()
	if rewritten == "" || last.Status != StatusResolved || last.Track == nil {
		return corrections.Correction{}, ErrNoCurrent
	}

	t := last.Track
	c, err := p.corrections.AddSkipTrack(ctx, rewritten, t.Key(), t.Artist, t.Title)
	if err != nil {
		return c, err
	}
	p.log.Info("skipping %s for %q", t.Format(), rewritten)
	return c, p.ForceReprocess(pi)
}

// Snapshot returns the state of pi, or false if pi was never seen.
func (p *Pipeline) Snapshot(pi uint16) (StationState, bool) {
	p.mu.Lock()
	st, ok := p.stations[pi]
	p.mu.Unlock()
	if !ok {
		return StationState{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return StationState{
		PI:        pi,
		Frequency: st.frequency,
		AM:        st.am,
		LastRT:    st.lastRT,
		Rewritten: st.rewritten,
		Formatted: st.formatted,
		Track:     st.track,
		Buffered:  p.buffer.Texts(pi),
		Epoch:     st.epoch,
	}, true
}

// Stations lists every known PI.
func (p *Pipeline) Stations() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint16, 0, len(p.stations))
	for pi := range p.stations {
		out = append(out, pi)
	}
	return out
}

// Close stops every station worker. Pending updates fail with ErrClosed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

// request carries what one resolution needs to know about its RT.
type request struct {
	pi        uint16
	epoch     uint64
	input     string
	rewritten string
	skipped   map[string]struct{}
}

// process runs on the station's worker. A job from an older epoch is
// resolved for its caller without reading or writing the station's state.
func (p *Pipeline) process(ctx context.Context, st *station, j job) Outcome {
	text := strings.TrimSpace(j.rt)
	if text == "" {
		p.metrics.RecordRtUpdate(string(StatusRejected))
		return Outcome{Status: StatusRejected}
	}

	st.mu.Lock()
	current := st.epoch == j.epoch
	if current && st.hasLast && st.lastRT == text {
		o := st.lastOutcome
		st.mu.Unlock()
		o.Status = StatusDuplicate
		e := events.New(st.pi, events.StatusCached)
		e.Input, e.Track = text, o.Track
		p.events.Publish(e)
		p.metrics.RecordRtUpdate(string(StatusDuplicate))
		return o
	}
	if current {
		st.hasLast = true
		st.lastRT = text
	}
	req := request{pi: st.pi, epoch: j.epoch, input: text}
	frequency := st.frequency
	st.mu.Unlock()

	req.rewritten = p.rules.Apply(text, frequency)
	p.apply(st, req.epoch, func() { st.rewritten = req.rewritten })

	e := events.New(req.pi, events.StatusProcessing)
	e.Input, e.Rewritten = text, req.rewritten
	p.events.Publish(e)
	if req.rewritten != text {
		p.log.Debug("[%04X] %q -> %q", req.pi, text, req.rewritten)
	}

	if req.rewritten == "" {
		return p.noMatch(st, req.epoch)
	}

	norm := corrections.Normalize(req.rewritten)
	ignored, err := p.corrections.IsIgnored(ctx, norm)
	if err != nil {
		p.log.Warn("correction lookup for %q: %v", norm, err)
	}
	if ignored {
		e := events.New(req.pi, events.StatusIgnored)
		e.Input, e.Rewritten = text, req.rewritten
		p.events.Publish(e)
		return p.finish(st, req.epoch, Outcome{Formatted: req.rewritten, Status: StatusIgnored})
	}

	req.skipped, err = p.corrections.SkippedTrackIDs(ctx, norm)
	if err != nil {
		p.log.Warn("skipped tracks for %q: %v", norm, err)
		req.skipped = nil
	}

	if artist, title, ok := strings.Cut(req.rewritten, " - "); ok {
		artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
		if artist != "" && title != "" {
			if rec := p.validate(ctx, req, artist, title, req.rewritten); rec != nil {
				p.apply(st, req.epoch, func() { p.buffer.Clear(req.pi) })
				return p.resolved(st, req.epoch, rec)
			}
		}
	}

	if !p.apply(st, req.epoch, func() { p.buffer.Add(req.pi, req.rewritten) }) {
		return p.noMatch(st, req.epoch)
	}

	if p.buffer.Len(req.pi) >= 2 {
		if rec := p.combine(ctx, st, req); rec != nil {
			p.apply(st, req.epoch, func() { p.buffer.Clear(req.pi) })
			return p.resolved(st, req.epoch, rec)
		}
	}

	return p.noMatch(st, req.epoch)
}

// combine tries every ordered pair of buffered fragments, then all of them
// joined together.
func (p *Pipeline) combine(ctx context.Context, st *station, req request) *track.Record {
	for artist, title := range p.buffer.Combinations(req.pi) {
		if p.stale(st, req.epoch) {
			return nil
		}
		if rec := p.validate(ctx, req, artist, title, artist+" "+title); rec != nil {
			return rec
		}
	}

	joined := p.buffer.Joined(req.pi)
	if joined == "" || p.stale(st, req.epoch) {
		return nil
	}
	e := events.New(req.pi, events.StatusCombined)
	e.Input, e.Rewritten, e.Query = req.input, req.rewritten, joined
	p.events.Publish(e)
	return p.validate(ctx, req, "", "", joined)
}

// apply runs fn under the station lock if the epoch is still current.
func (p *Pipeline) apply(st *station, epoch uint64, fn func()) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.epoch != epoch {
		return false
	}
	fn()
	return true
}

func (p *Pipeline) stale(st *station, epoch uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.epoch != epoch
}

func (p *Pipeline) resolved(st *station, epoch uint64, rec *track.Record) Outcome {
	return p.finish(st, epoch, Outcome{Formatted: rec.Format(), Track: rec, Status: StatusResolved})
}

func (p *Pipeline) noMatch(st *station, epoch uint64) Outcome {
	o := Outcome{Status: StatusNoMatch}
	st.mu.Lock()
	if st.epoch == epoch {
		o.Formatted, o.Track = st.formatted, st.track
	}
	st.mu.Unlock()
	return p.finish(st, epoch, o)
}

// finish records o as the answer for the station's last RT.
func (p *Pipeline) finish(st *station, epoch uint64, o Outcome) Outcome {
	p.apply(st, epoch, func() {
		st.lastOutcome = o
		if o.Status == StatusResolved {
			st.formatted = o.Formatted
			st.track = o.Track
		}
	})
	p.metrics.RecordRtUpdate(string(o.Status))
	return o
}
