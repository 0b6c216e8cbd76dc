// Package replay feeds logged RDS events back through a resolution
// pipeline, so rule and correction changes can be tried against real
// broadcasts without a tuner.
package replay

import (
	"context"
	"sync"
	"time"

	"rdstrack/internal/pipeline"
	"rdstrack/internal/rdslog"
)

// Target receives the replayed events. *pipeline.Pipeline satisfies it.
type Target interface {
	OnStationChange(pi uint16, frequency float64, am bool) error
	OnRtUpdate(ctx context.Context, pi uint16, rt string) (pipeline.Outcome, error)
}

// Factory builds a fresh Target whose time source is now, and a function
// releasing it.
type Factory func(now func() time.Time) (Target, func(), error)

// Clock is a settable time source. Replay moves it to each entry's
// timestamp so fragment lifetimes behave as they did on air.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current replay time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Result is the outcome of one replayed entry. Outcome is zero for
// station changes.
type Result struct {
	Entry   rdslog.Entry     `json:"entry"`
	Outcome pipeline.Outcome `json:"outcome"`
}

// Summary counts what a replay produced.
type Summary struct {
	Entries        int `json:"entries"`
	StationChanges int `json:"station_changes"`
	Resolved       int `json:"resolved"`
	Ignored        int `json:"ignored"`
	NoMatch        int `json:"no_match"`
	Duplicate      int `json:"duplicate"`
	Rejected       int `json:"rejected"`
}

func (s *Summary) add(o pipeline.Outcome) {
	switch o.Status {
	case pipeline.StatusResolved:
		s.Resolved++
	case pipeline.StatusIgnored:
		s.Ignored++
	case pipeline.StatusNoMatch:
		s.NoMatch++
	case pipeline.StatusDuplicate:
		s.Duplicate++
	case pipeline.StatusRejected:
		s.Rejected++
	}
}

// Run replays entries in order. clock, when not nil, is moved to each
// entry's timestamp before the entry is delivered. progress, when not nil,
// is called after every entry. Run stops at the first error.
func Run(ctx context.Context, entries []rdslog.Entry, t Target, clock *Clock, progress func(Result)) (Summary, error) {
	var sum Summary
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if clock != nil {
			clock.Set(e.Timestamp)
		}

		res := Result{Entry: e}
		switch e.EventType {
		case rdslog.EventStationChange:
			if err := t.OnStationChange(e.PI, e.Frequency, e.AM); err != nil {
				return sum, err
			}
			sum.StationChanges++
		default:
			o, err := t.OnRtUpdate(ctx, e.PI, e.RT)
			if err != nil {
				return sum, err
			}
			res.Outcome = o
			sum.add(o)
		}
		sum.Entries++
		if progress != nil {
			progress(res)
		}
	}
	return sum, nil
}

// RunFresh builds a Target with factory, replays entries through it and
// releases it.
func RunFresh(ctx context.Context, entries []rdslog.Entry, factory Factory, progress func(Result)) (Summary, error) {
	clock := &Clock{}
	if len(entries) > 0 {
		clock.Set(entries[0].Timestamp)
	}
	t, release, err := factory(clock.Now)
	if err != nil {
		return Summary{}, err
	}
	defer release()
	return Run(ctx, entries, t, clock, progress)
}
