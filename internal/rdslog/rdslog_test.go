package rdslog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdstrack/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newLog(t *testing.T) (*Log, *clock) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(db.DB(), nil, WithClock(c.now)), c
}

func TestRepeatedRtIsLoggedOnce(t *testing.T) {
	ctx := context.Background()
	l, c := newLog(t)

	_, err := l.OnStationChange(ctx, 0xD3C1, 101.3, false)
	require.NoError(t, err)
	for _, rt := range []string{"Adele - Hello", "Adele - Hello ", "", "Coldplay - Yellow", "Adele - Hello"} {
		c.advance(time.Second)
		_, err := l.OnRT(ctx, 0xD3C1, "ANTENNE", rt)
		require.NoError(t, err)
	}

	entries, err := l.ByPI(ctx, 0xD3C1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "Adele - Hello", entries[0].RT)
	assert.Equal(t, "Coldplay - Yellow", entries[1].RT)
	assert.Equal(t, "Adele - Hello", entries[2].RT)
	assert.Equal(t, EventStationChange, entries[3].EventType)
	for _, e := range entries[:3] {
		assert.Equal(t, EventRT, e.EventType)
		assert.Equal(t, 101.3, e.Frequency)
		assert.Equal(t, "ANTENNE", e.PS)
	}
}

func TestStationChange(t *testing.T) {
	ctx := context.Background()
	l, _ := newLog(t)

	logged, err := l.OnStationChange(ctx, 1, 98.1, false)
	require.NoError(t, err)
	assert.True(t, logged)

	_, err = l.OnRT(ctx, 1, "", "Adele - Hello")
	require.NoError(t, err)

	logged, err = l.OnStationChange(ctx, 1, 98.1, false)
	require.NoError(t, err)
	assert.False(t, logged, "same frequency is not a change")

	// the RT memory is reset, so the same text is logged again
	logged, err = l.OnRT(ctx, 1, "", "Adele - Hello")
	require.NoError(t, err)
	assert.True(t, logged)

	logged, err = l.OnStationChange(ctx, 1, 104.6, false)
	require.NoError(t, err)
	assert.True(t, logged)

	entries, err := l.All(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventStationChange, entries[0].EventType)
	assert.Equal(t, 104.6, entries[0].Frequency)
	assert.Equal(t, "Adele - Hello", entries[0].RT, "station change keeps the last RT heard")
}

func TestDisabledLogsNothing(t *testing.T) {
	ctx := context.Background()
	l, _ := newLog(t)
	l.SetEnabled(false)
	assert.False(t, l.Enabled())

	_, err := l.OnStationChange(ctx, 1, 98.1, false)
	require.NoError(t, err)
	logged, err := l.OnRT(ctx, 1, "", "Adele - Hello")
	require.NoError(t, err)
	assert.False(t, logged)

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	l, c := newLog(t)

	_, _ = l.OnStationChange(ctx, 1, 101.3, false)
	_, _ = l.OnRT(ctx, 1, "BAYERN3", "Jetzt: Adele mit Hello")
	c.advance(time.Minute)
	_, _ = l.OnStationChange(ctx, 2, 101.32, false)
	_, _ = l.OnRT(ctx, 2, "", "Coldplay - Yellow")
	c.advance(time.Minute)
	_, _ = l.OnStationChange(ctx, 3, 98.1, false)
	_, _ = l.OnRT(ctx, 3, "", "100% Hits")

	byFreq, err := l.ByFrequency(ctx, 101.3, 0)
	require.NoError(t, err)
	assert.Len(t, byFreq, 4)
	for _, e := range byFreq {
		assert.InDelta(t, 101.3, e.Frequency, 0.05)
	}

	found, err := l.Search(ctx, "adele", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, uint16(1), found[0].PI)

	found, err = l.Search(ctx, "bayern", 0)
	require.NoError(t, err)
	require.Len(t, found, 1, "PS matches too")
	assert.Equal(t, "Jetzt: Adele mit Hello", found[0].RT)

	found, err = l.Search(ctx, "100%", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100% Hits", found[0].RT)

	found, err = l.Search(ctx, "0%", 0)
	require.NoError(t, err)
	assert.Len(t, found, 1, "percent sign is literal")

	freqs, err := l.Frequencies(ctx)
	require.NoError(t, err)
	require.Len(t, freqs, 3)
	for _, f := range freqs {
		assert.Equal(t, 2, f.Count)
	}

	all, err := l.All(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "100% Hits", all[0].RT)
}

func TestSinceIsChronological(t *testing.T) {
	ctx := context.Background()
	l, c := newLog(t)
	start := c.now()

	_, _ = l.OnStationChange(ctx, 1, 101.3, false)
	c.advance(time.Second)
	_, _ = l.OnRT(ctx, 1, "", "Adele")
	c.advance(time.Second)
	_, _ = l.OnRT(ctx, 2, "", "Metallica - One")
	c.advance(time.Second)
	_, _ = l.OnRT(ctx, 1, "", "Hello")

	entries, err := l.Since(ctx, start, nil)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, EventStationChange, entries[0].EventType)
	assert.Equal(t, "Hello", entries[3].RT)

	pi := uint16(1)
	entries, err = l.Since(ctx, start.Add(time.Second), &pi)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Adele", entries[0].RT)
	assert.Equal(t, "Hello", entries[1].RT)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	l, c := newLog(t)

	_, _ = l.OnRT(ctx, 1, "", "old")
	c.advance(8 * 24 * time.Hour)
	_, _ = l.OnRT(ctx, 1, "", "new")

	n, err := l.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := l.All(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].RT)

	n, err = l.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// memory is cleared with the table
	logged, err := l.OnRT(ctx, 1, "", "new")
	require.NoError(t, err)
	assert.True(t, logged)
}

func TestStartCleanupRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, c := newLog(t)

	_, _ = l.OnRT(ctx, 1, "", "old")
	c.advance(48 * time.Hour)

	l.StartCleanup(ctx, 24*time.Hour, time.Hour)
	require.Eventually(t, func() bool {
		n, err := l.Count(context.Background())
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}
