package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdstrack/internal/cache"
	"rdstrack/internal/corrections"
	"rdstrack/internal/events"
	"rdstrack/internal/fragment"
	"rdstrack/internal/logger"
	"rdstrack/internal/netcheck"
	"rdstrack/internal/rules"
	"rdstrack/internal/store"
	"rdstrack/internal/track"
)

// stubResolver answers with a fixed record whenever the searched text
// mentions every one of its words, in any order.
type stubResolver struct {
	mu    sync.Mutex
	calls int
	words []string
	rec   track.Record
	alt   *track.Record // returned when rec is excluded
	err   error
	gate  chan struct{} // when set, lookups block until it is closed
	enter chan struct{} // signalled when a lookup starts
}

func (s *stubResolver) lookup(text string, exclude map[string]struct{}) (*track.Record, error) {
	s.mu.Lock()
	s.calls++
	gate, enter := s.gate, s.enter
	s.mu.Unlock()

	if enter != nil {
		select {
		case enter <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if s.err != nil {
		return nil, s.err
	}
	lower := strings.ToLower(text)
	for _, w := range s.words {
		if !strings.Contains(lower, w) {
			return nil, nil
		}
	}
	if _, skip := exclude[s.rec.Key()]; skip {
		return s.alt, nil
	}
	rec := s.rec
	return &rec, nil
}

func (s *stubResolver) Resolve(_ context.Context, q string) (*track.Record, error) {
	return s.lookup(q, nil)
}

func (s *stubResolver) ResolveByParts(_ context.Context, artist, title string) (*track.Record, error) {
	return s.lookup(artist+" "+title, nil)
}

func (s *stubResolver) ResolveExcluding(_ context.Context, q string, exclude map[string]struct{}) (*track.Record, error) {
	return s.lookup(q, exclude)
}

func (s *stubResolver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func coldplayYellow() *stubResolver {
	return &stubResolver{
		words: []string{"coldplay", "yellow"},
		rec:   track.Record{ID: "sp:yellow", Artist: "Coldplay", Title: "Yellow", Album: "Parachutes", Popularity: 80},
	}
}

type fixture struct {
	cache       *cache.TrackCache
	corrections *corrections.Store
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tc, err := cache.Open(filepath.Join(t.TempDir(), "cache"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { tc.Close() })

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		cache:       tc,
		corrections: corrections.NewStore(st.DB()),
		clock:       &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (f *fixture) pipeline(t *testing.T, d Deps, opts ...Option) *Pipeline {
	t.Helper()
	d.Cache = f.cache
	d.Corrections = f.corrections
	if d.Rules == nil {
		d.Rules = rules.StaticTable(nil)
	}
	opts = append([]Option{WithBuffer(fragment.New(3, 15*time.Second, fragment.WithClock(f.clock.Now)))}, opts...)
	p, err := New(d, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func update(t *testing.T, p *Pipeline, pi uint16, rt string) Outcome {
	t.Helper()
	o, err := p.OnRtUpdate(context.Background(), pi, rt)
	require.NoError(t, err)
	return o
}

func TestNewRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	table := rules.StaticTable(nil)

	_, err := New(Deps{Rules: table, Corrections: f.corrections})
	assert.ErrorIs(t, err, ErrNoCache)
	_, err = New(Deps{Cache: f.cache, Corrections: f.corrections})
	assert.ErrorIs(t, err, ErrNoRules)
	_, err = New(Deps{Cache: f.cache, Rules: table})
	assert.ErrorIs(t, err, ErrNoCorrections)

	p, err := New(Deps{Cache: f.cache, Rules: table, Corrections: f.corrections})
	require.NoError(t, err)
	p.Close()
}

func TestFragmentsCombineIntoTrack(t *testing.T) {
	for _, order := range [][2]string{{"Coldplay", "Yellow"}, {"Yellow", "Coldplay"}} {
		t.Run(order[0]+"_first", func(t *testing.T) {
			f := newFixture(t)
			remote := coldplayYellow()
			p := f.pipeline(t, Deps{Remote: remote})

			first := update(t, p, 0xA3E0, order[0])
			assert.Equal(t, StatusNoMatch, first.Status)
			assert.Empty(t, first.Formatted)
			assert.Nil(t, first.Track)

			f.clock.Advance(2 * time.Second)
			second := update(t, p, 0xA3E0, order[1])
			assert.Equal(t, StatusResolved, second.Status)
			assert.Equal(t, "Coldplay - Yellow", second.Formatted)
			require.NotNil(t, second.Track)

			ok, err := f.cache.Contains(context.Background(), *second.Track)
			require.NoError(t, err)
			assert.True(t, ok, "remote hit should be cached")

			snap, _ := p.Snapshot(0xA3E0)
			assert.Empty(t, snap.Buffered, "buffer is cleared after a hit")
			assert.Equal(t, "Coldplay - Yellow", snap.Formatted)
		})
	}
}

func TestExpiredFragmentsDoNotCombine(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	p := f.pipeline(t, Deps{Remote: remote})

	update(t, p, 0xA3E0, "Coldplay")
	f.clock.Advance(16 * time.Second)
	o := update(t, p, 0xA3E0, "Yellow")
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Zero(t, remote.count())
}

func TestOfflineUsesSeededCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, track.Record{ID: "mb:sandman", Artist: "Metallica", Title: "Enter Sandman"}))

	remote := &stubResolver{words: []string{"metallica"}, rec: track.Record{ID: "other", Artist: "Metallica", Title: "One"}}
	p := f.pipeline(t, Deps{Remote: remote, Network: netcheck.Static(false)})

	o := update(t, p, 0xD3C2, "Metallica - Enter Sandman")
	assert.Equal(t, StatusResolved, o.Status)
	assert.Equal(t, "Metallica - Enter Sandman", o.Formatted)
	require.NotNil(t, o.Track)
	assert.Equal(t, "mb:sandman", o.Track.ID)
	assert.Zero(t, remote.count(), "remote must not be called")
}

func TestOfflineWithoutCacheHitMakesNoRemoteCall(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	p := f.pipeline(t, Deps{Remote: remote, Network: netcheck.Static(false)})

	o := update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Zero(t, remote.count())
}

func TestRepeatedRtIsIdempotent(t *testing.T) {
	inputs := []string{"Coldplay - Yellow", "Nachrichten um halb", "  Coldplay - Yellow  "}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			f := newFixture(t)
			remote := coldplayYellow()
			p := f.pipeline(t, Deps{Remote: remote})

			first := update(t, p, 7, in)
			calls := remote.count()
			second := update(t, p, 7, in)

			assert.Equal(t, first.Formatted, second.Formatted)
			assert.Equal(t, StatusDuplicate, second.Status)
			assert.Equal(t, calls, remote.count(), "duplicate must not reach the resolver")
		})
	}
}

func TestIgnoredRtIsNeverResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.corrections.AddIgnored(ctx, "werbung")
	require.NoError(t, err)
	require.NoError(t, f.cache.Put(ctx, track.Record{ID: "w", Artist: "Werbung", Title: "Jingle"}))

	remote := &stubResolver{words: []string{"werbung"}, rec: track.Record{ID: "w2", Artist: "Werbung", Title: "Song"}}
	p := f.pipeline(t, Deps{Remote: remote})

	o := update(t, p, 1, "Werbung")
	assert.Equal(t, Outcome{Formatted: "Werbung", Status: StatusIgnored}, o)
	assert.Zero(t, remote.count())

	again := update(t, p, 1, "Werbung")
	assert.Equal(t, "Werbung", again.Formatted)
	assert.Nil(t, again.Track)
}

func TestRulesRewriteBeforeLookup(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	table := rules.StaticTable([]rules.Rule{
		{FindText: "Jetzt On Air:", Position: rules.PositionPrefix, Enabled: true},
		{FindText: " mit ", ReplaceWith: " - ", Position: rules.PositionAnywhere, Enabled: true},
	})
	p := f.pipeline(t, Deps{Remote: remote, Rules: table})

	o := update(t, p, 1, "Jetzt On Air: Coldplay mit Yellow")
	assert.Equal(t, StatusResolved, o.Status)
	assert.Equal(t, "Coldplay - Yellow", o.Formatted)

	snap, ok := p.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, "Coldplay - Yellow", snap.Rewritten)
	assert.Equal(t, "Jetzt On Air: Coldplay mit Yellow", snap.LastRT)
}

func TestIgnoreRulesOnRewrittenText(t *testing.T) {
	f := newFixture(t)
	_, err := f.corrections.AddIgnored(context.Background(), "Verkehrsfunk")
	require.NoError(t, err)
	table := rules.StaticTable([]rules.Rule{
		{FindText: "Radio 7:", Position: rules.PositionPrefix, Enabled: true},
	})
	p := f.pipeline(t, Deps{Rules: table})

	o := update(t, p, 1, "Radio 7: Verkehrsfunk")
	assert.Equal(t, StatusIgnored, o.Status)
	assert.Equal(t, "Verkehrsfunk", o.Formatted)
}

func TestBlankRtIsRejected(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	p := f.pipeline(t, Deps{Remote: remote})

	update(t, p, 1, "Coldplay - Yellow")
	o := update(t, p, 1, "   ")
	assert.Equal(t, StatusRejected, o.Status)

	// A blank update does not disturb the duplicate memory.
	again := update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusDuplicate, again.Status)
}

func TestNoMatchKeepsLastResult(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{Remote: coldplayYellow()})

	update(t, p, 1, "Coldplay - Yellow")
	o := update(t, p, 1, "Sie hoeren Radio 7")
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Equal(t, "Coldplay - Yellow", o.Formatted)
	require.NotNil(t, o.Track)
}

func TestStationChangeClearsState(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	p := f.pipeline(t, Deps{Remote: remote})
	ctx := context.Background()

	update(t, p, 0xA3E0, "Coldplay - Yellow")
	update(t, p, 0xA3E0, "Talk")
	require.NoError(t, p.OnStationChange(0xA3E0, 99.9, false))

	snap, ok := p.Snapshot(0xA3E0)
	require.True(t, ok)
	assert.Empty(t, snap.LastRT)
	assert.Empty(t, snap.Formatted)
	assert.Empty(t, snap.Buffered)
	assert.Equal(t, 99.9, snap.Frequency)

	// The same RT is no longer a duplicate, and the cache still answers.
	calls := remote.count()
	o := update(t, p, 0xA3E0, "Coldplay - Yellow")
	assert.Equal(t, StatusResolved, o.Status)
	assert.Equal(t, calls, remote.count(), "served from cache")

	ok, err := f.cache.Contains(ctx, *o.Track)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStationChangeSeparatesFragments(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	p := f.pipeline(t, Deps{Remote: remote})

	update(t, p, 0xA3E0, "Coldplay")
	require.NoError(t, p.OnStationChange(0xA3E0, 0, false))
	o := update(t, p, 0xA3E0, "Yellow")
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Zero(t, remote.count())
}

func TestFrequencyScopedRule(t *testing.T) {
	f := newFixture(t)
	table := rules.StaticTable([]rules.Rule{{
		FindText:       "Antenne:",
		Position:       rules.PositionPrefix,
		ScopeFrequency: func() *float64 { v := 101.3; return &v }(),
		Enabled:        true,
	}})
	p := f.pipeline(t, Deps{Rules: table})

	require.NoError(t, p.OnStationChange(1, 98.1, false))
	update(t, p, 1, "Antenne: News")
	snap, _ := p.Snapshot(1)
	assert.Equal(t, "Antenne: News", snap.Rewritten)

	require.NoError(t, p.OnStationChange(1, 101.32, false))
	update(t, p, 1, "Antenne: News")
	snap, _ = p.Snapshot(1)
	assert.Equal(t, "News", snap.Rewritten)
}

func TestResultDroppedAfterStationChangeMidFlight(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	remote.gate = make(chan struct{})
	remote.enter = make(chan struct{}, 1)
	p := f.pipeline(t, Deps{Remote: remote})

	done := make(chan Outcome, 1)
	go func() {
		o, _ := p.OnRtUpdate(context.Background(), 0xA3E0, "Coldplay - Yellow")
		done <- o
	}()

	<-remote.enter
	require.NoError(t, p.OnStationChange(0xA3E0, 95.0, false))
	close(remote.gate)

	o := <-done
	assert.Equal(t, StatusResolved, o.Status, "the caller still gets the answer")

	snap, _ := p.Snapshot(0xA3E0)
	assert.Empty(t, snap.Formatted, "but the reset station keeps no trace of it")
	assert.Empty(t, snap.LastRT)
	assert.Nil(t, snap.Track)
}

func TestSlowStationDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	slow := coldplayYellow()
	slow.gate = make(chan struct{})
	slow.enter = make(chan struct{}, 1)
	p := f.pipeline(t, Deps{Remote: slow})
	defer close(slow.gate)

	go p.OnRtUpdate(context.Background(), 1, "Coldplay - Yellow")
	<-slow.enter

	require.NoError(t, f.cache.Put(context.Background(), track.Record{ID: "x", Artist: "Adele", Title: "Hello"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o, err := p.OnRtUpdate(ctx, 2, "Adele - Hello")
	require.NoError(t, err)
	assert.Equal(t, "Adele - Hello", o.Formatted)
}

func TestUpdatesForOneStationApplyInOrder(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{})
	ctx := context.Background()
	for i, rec := range []track.Record{
		{ID: "1", Artist: "Adele", Title: "Hello"},
		{ID: "2", Artist: "Coldplay", Title: "Yellow"},
		{ID: "3", Artist: "Metallica", Title: "One"},
	} {
		require.NoError(t, f.cache.Put(ctx, rec), i)
	}

	results := make(chan Outcome, 3)
	for _, rt := range []string{"Adele - Hello", "Coldplay - Yellow", "Metallica - One"} {
		o, err := p.OnRtUpdate(ctx, 9, rt)
		require.NoError(t, err)
		results <- o
	}
	close(results)

	var got []string
	for o := range results {
		got = append(got, o.Formatted)
	}
	assert.Equal(t, []string{"Adele - Hello", "Coldplay - Yellow", "Metallica - One"}, got)
	snap, _ := p.Snapshot(9)
	assert.Equal(t, "Metallica - One", snap.Formatted)
}

func TestRemoteFailureIsNoMatch(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	remote.err = errors.New("503 service unavailable")
	p := f.pipeline(t, Deps{Remote: remote})

	o := update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Positive(t, remote.count())
}

func TestCacheOnlyWithoutRemote(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{})

	o := update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusNoMatch, o.Status)

	require.NoError(t, f.cache.Put(context.Background(), track.Record{ID: "c", Artist: "Coldplay", Title: "Yellow"}))
	o = update(t, p, 1, "Coldplay - Yellow (Radio Edit)")
	assert.Equal(t, StatusNoMatch, o.Status, "parts search needs the title to contain the cached one")

	o = update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusResolved, o.Status)
}

func TestCacheWritesDisabled(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{Remote: coldplayYellow()}, WithCacheWrites(false))

	o := update(t, p, 1, "Coldplay - Yellow")
	require.Equal(t, StatusResolved, o.Status)

	ok, err := f.cache.Contains(context.Background(), *o.Track)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSkipCurrentExcludesTrack(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	remote.alt = &track.Record{ID: "sp:yellow-live", Artist: "Coldplay", Title: "Yellow - Live"}
	p := f.pipeline(t, Deps{Remote: remote})
	ctx := context.Background()

	o := update(t, p, 1, "Coldplay - Yellow")
	require.Equal(t, "sp:yellow", o.Track.ID)

	c, err := p.SkipCurrent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, corrections.KindSkipTrack, c.Kind)
	assert.Equal(t, "sp:yellow", c.SkipTrackID)
	assert.Equal(t, "coldplay - yellow", c.RtNormalized)

	// Not a duplicate any more, and neither cache nor remote may return the skipped id.
	o = update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusResolved, o.Status)
	require.NotNil(t, o.Track)
	assert.Equal(t, "sp:yellow-live", o.Track.ID)
}

func TestIgnoreCurrent(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{})
	ctx := context.Background()

	_, err := p.IgnoreCurrent(ctx, 1)
	assert.ErrorIs(t, err, ErrNoCurrent)

	update(t, p, 1, "Gewinnspiel: jetzt anrufen")
	c, err := p.IgnoreCurrent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, corrections.KindIgnored, c.Kind)

	o := update(t, p, 1, "Gewinnspiel: jetzt anrufen")
	assert.Equal(t, StatusIgnored, o.Status)
}

func TestSkipCurrentNeedsTrack(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{})

	update(t, p, 1, "Nachrichten")
	_, err := p.SkipCurrent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoCurrent)
}

func TestEventsDescribeResolution(t *testing.T) {
	f := newFixture(t)
	hub := events.NewHub()
	ch := hub.Subscribe(0xA3E0)
	defer hub.Unsubscribe(ch)
	p := f.pipeline(t, Deps{Remote: coldplayYellow(), Events: hub})

	update(t, p, 0xA3E0, "Coldplay - Yellow")
	update(t, p, 0xA3E0, "Coldplay - Yellow")

	var labels []string
	for len(ch) > 0 {
		labels = append(labels, (<-ch).Status)
	}
	assert.Equal(t, []string{
		events.StatusProcessing,
		events.StatusSearching,
		events.StatusFound,
		events.StatusCached,
	}, labels)
}

func TestClosedPipeline(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{})
	update(t, p, 1, "x")
	p.Close()

	_, err := p.OnRtUpdate(context.Background(), 1, "y")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.OnStationChange(1, 0, false), ErrClosed)
}

// queued reports how many updates wait in the mailbox of pi.
func queued(p *Pipeline, pi uint16) int {
	p.mu.Lock()
	st := p.stations[pi]
	p.mu.Unlock()
	if st == nil {
		return 0
	}
	return len(st.jobs)
}

func TestQueuedUpdateDoesNotLeakIntoNewStation(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	remote.gate = make(chan struct{})
	remote.enter = make(chan struct{}, 1)
	p := f.pipeline(t, Deps{Remote: remote})
	ctx := context.Background()
	const pi = 0xA3E0

	first := make(chan Outcome, 1)
	go func() {
		o, _ := p.OnRtUpdate(ctx, pi, "Coldplay - Yellow")
		first <- o
	}()
	<-remote.enter

	second := make(chan Outcome, 1)
	go func() {
		o, _ := p.OnRtUpdate(ctx, pi, "Old Station Fragment")
		second <- o
	}()
	require.Eventually(t, func() bool { return queued(p, pi) == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, p.OnStationChange(pi, 95.0, false))
	close(remote.gate)

	assert.Equal(t, StatusResolved, (<-first).Status)
	o := <-second
	assert.Equal(t, StatusNoMatch, o.Status)
	assert.Empty(t, o.Formatted)

	snap, ok := p.Snapshot(pi)
	require.True(t, ok)
	assert.Empty(t, snap.LastRT)
	assert.Empty(t, snap.Buffered)
	assert.Empty(t, snap.Formatted)
	assert.Nil(t, snap.Track)

	// The new station starts clean: the same text is not a duplicate.
	o = update(t, p, pi, "Old Station Fragment")
	assert.Equal(t, StatusNoMatch, o.Status)
	snap, _ = p.Snapshot(pi)
	assert.Equal(t, []string{"Old Station Fragment"}, snap.Buffered)
}

func TestCancelledQueuedUpdateIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, track.Record{ID: "mb:sandman", Artist: "Metallica", Title: "Enter Sandman"}))

	remote := coldplayYellow()
	remote.gate = make(chan struct{})
	remote.enter = make(chan struct{}, 1)
	p := f.pipeline(t, Deps{Remote: remote})

	go p.OnRtUpdate(ctx, 1, "Coldplay - Yellow")
	<-remote.enter

	cctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		_, err := p.OnRtUpdate(cctx, 1, "Metallica - Enter Sandman")
		errc <- err
	}()
	require.Eventually(t, func() bool { return queued(p, 1) == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(remote.gate)

	o := update(t, p, 1, "Metallica - Enter Sandman")
	assert.Equal(t, StatusResolved, o.Status)
	assert.Equal(t, "Metallica - Enter Sandman", o.Formatted)
	require.NotNil(t, o.Track)
}

func TestResolutionFinishesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	remote := coldplayYellow()
	remote.gate = make(chan struct{})
	remote.enter = make(chan struct{}, 1)
	p := f.pipeline(t, Deps{Remote: remote})
	ctx := context.Background()

	cctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		_, err := p.OnRtUpdate(cctx, 1, "Coldplay - Yellow")
		errc <- err
	}()
	<-remote.enter
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(remote.gate)

	o := update(t, p, 1, "Coldplay - Yellow")
	assert.Equal(t, StatusDuplicate, o.Status)
	assert.Equal(t, "Coldplay - Yellow", o.Formatted)
	require.NotNil(t, o.Track)

	ok, err := f.cache.Contains(ctx, *o.Track)
	require.NoError(t, err)
	assert.True(t, ok, "the finished lookup is still cached")
}

func TestSkipCurrentIgnoresTrackFromEarlierRt(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, Deps{Remote: coldplayYellow()})
	ctx := context.Background()

	update(t, p, 1, "Coldplay - Yellow")
	o := update(t, p, 1, "Sie hoeren Radio 7")
	require.Equal(t, StatusNoMatch, o.Status)
	require.NotNil(t, o.Track, "no_match still reports the last track")

	_, err := p.SkipCurrent(ctx, 1)
	assert.ErrorIs(t, err, ErrNoCurrent)

	skips, err := f.corrections.List(ctx, corrections.KindSkipTrack)
	require.NoError(t, err)
	assert.Empty(t, skips)
}
