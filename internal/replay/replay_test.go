package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdstrack/internal/cache"
	"rdstrack/internal/corrections"
	"rdstrack/internal/fragment"
	"rdstrack/internal/logger"
	"rdstrack/internal/pipeline"
	"rdstrack/internal/rdslog"
	"rdstrack/internal/rules"
	"rdstrack/internal/store"
	"rdstrack/internal/track"
)

type recorder struct {
	calls []string
	fail  error
}

func (r *recorder) OnStationChange(pi uint16, frequency float64, am bool) error {
	r.calls = append(r.calls, "station")
	return r.fail
}

func (r *recorder) OnRtUpdate(_ context.Context, pi uint16, rt string) (pipeline.Outcome, error) {
	r.calls = append(r.calls, rt)
	if rt == "" {
		return pipeline.Outcome{Status: pipeline.StatusRejected}, r.fail
	}
	return pipeline.Outcome{Status: pipeline.StatusNoMatch}, r.fail
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(offset time.Duration, kind rdslog.EventType, rt string) rdslog.Entry {
	return rdslog.Entry{Timestamp: t0.Add(offset), PI: 0xD3C1, Frequency: 101.3, EventType: kind, RT: rt}
}

func TestRunDeliversInOrder(t *testing.T) {
	entries := []rdslog.Entry{
		entry(0, rdslog.EventStationChange, ""),
		entry(time.Second, rdslog.EventRT, "Adele"),
		entry(2*time.Second, rdslog.EventRT, "Hello"),
	}
	r := &recorder{}
	clock := &Clock{}
	var seen []time.Time

	sum, err := Run(context.Background(), entries, r, clock, func(res Result) {
		seen = append(seen, clock.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"station", "Adele", "Hello"}, r.calls)
	assert.Equal(t, Summary{Entries: 3, StationChanges: 1, NoMatch: 2}, sum)
	assert.Equal(t, []time.Time{t0, t0.Add(time.Second), t0.Add(2 * time.Second)}, seen)
}

func TestRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{fail: boom}
	entries := []rdslog.Entry{
		entry(0, rdslog.EventRT, "Adele"),
		entry(time.Second, rdslog.EventRT, "Hello"),
	}
	sum, err := Run(context.Background(), entries, r, nil, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, sum.Entries)
	assert.Len(t, r.calls, 1)
}

func TestRunHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &recorder{}
	_, err := Run(ctx, []rdslog.Entry{entry(0, rdslog.EventRT, "Adele")}, r, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.calls)
}

// cacheOnly builds a pipeline over a cache seeded with Coldplay - Yellow.
func cacheOnly(t *testing.T) Factory {
	t.Helper()
	tc, err := cache.Open(filepath.Join(t.TempDir(), "cache"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { tc.Close() })
	require.NoError(t, tc.Put(context.Background(), track.Record{ID: "sp:yellow", Artist: "Coldplay", Title: "Yellow"}))

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return func(now func() time.Time) (Target, func(), error) {
		p, err := pipeline.New(pipeline.Deps{
			Cache:       tc,
			Rules:       rules.StaticTable(nil),
			Corrections: corrections.NewStore(st.DB()),
		}, pipeline.WithBuffer(fragment.New(3, 15*time.Second, fragment.WithClock(now))))
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
}

func TestRunFreshUsesBroadcastTime(t *testing.T) {
	factory := cacheOnly(t)

	near := []rdslog.Entry{
		entry(0, rdslog.EventStationChange, ""),
		entry(time.Second, rdslog.EventRT, "Coldplay"),
		entry(5*time.Second, rdslog.EventRT, "Yellow"),
	}
	var last Result
	sum, err := RunFresh(context.Background(), near, factory, func(r Result) { last = r })
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Resolved)
	assert.Equal(t, "Coldplay - Yellow", last.Outcome.Formatted)

	// the same fragments a minute apart have expired by the time the
	// second one arrives
	apart := []rdslog.Entry{
		entry(0, rdslog.EventStationChange, ""),
		entry(time.Second, rdslog.EventRT, "Coldplay"),
		entry(time.Minute, rdslog.EventRT, "Yellow"),
	}
	sum, err = RunFresh(context.Background(), apart, factory, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Resolved)
	assert.Equal(t, 2, sum.NoMatch)
}
