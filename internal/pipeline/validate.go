package pipeline

import (
	"context"

	"rdstrack/internal/events"
	"rdstrack/internal/metrics"
	"rdstrack/internal/track"
)

// validate looks up one candidate: the cache first, then the remote
// resolver when the network is up. artist and title may both be empty, in
// which case only query is searched. Failures are logged and count as a miss.
func (p *Pipeline) validate(ctx context.Context, req request, artist, title, query string) *track.Record {
	if rec := p.fromCache(ctx, req, artist, title, query); rec != nil {
		e := events.New(req.pi, events.StatusCachedHit)
		e.Input, e.Rewritten, e.Query, e.Track = req.input, req.rewritten, query, rec
		p.events.Publish(e)
		return rec
	}

	if p.remote == nil {
		return nil
	}
	if !p.network.IsNetworkAvailable() {
		e := events.New(req.pi, events.StatusOffline)
		e.Input, e.Rewritten, e.Query = req.input, req.rewritten, query
		p.events.Publish(e)
		return nil
	}

	e := events.New(req.pi, events.StatusSearching)
	e.Input, e.Rewritten, e.Query = req.input, req.rewritten, query
	p.events.Publish(e)

	rec := p.fromRemote(ctx, req, artist, title, query)
	if rec == nil {
		e := events.New(req.pi, events.StatusNotFound)
		e.Input, e.Rewritten, e.Query = req.input, req.rewritten, query
		p.events.Publish(e)
		return nil
	}

	e = events.New(req.pi, events.StatusFound)
	e.Input, e.Rewritten, e.Query, e.Track = req.input, req.rewritten, query, rec
	p.events.Publish(e)
	p.store(ctx, *rec)
	return rec
}

func (p *Pipeline) fromCache(ctx context.Context, req request, artist, title, query string) *track.Record {
	if title != "" {
		rec, err := p.cache.SearchByParts(ctx, artist, title, req.skipped)
		if err != nil {
			p.log.Warn("cache search %q / %q: %v", artist, title, err)
			p.metrics.RecordLookup(metrics.SourceCache, metrics.ResultError)
		} else if rec != nil && !skipped(req, rec) {
			p.metrics.RecordLookup(metrics.SourceCache, metrics.ResultHit)
			return rec
		}
	}

	rec, err := p.cache.SearchByText(ctx, query, req.skipped)
	if err != nil {
		p.log.Warn("cache search %q: %v", query, err)
		p.metrics.RecordLookup(metrics.SourceCache, metrics.ResultError)
		return nil
	}
	if rec == nil || skipped(req, rec) {
		p.metrics.RecordLookup(metrics.SourceCache, metrics.ResultMiss)
		return nil
	}
	p.metrics.RecordLookup(metrics.SourceCache, metrics.ResultHit)
	return rec
}

// fromRemote asks the structured lookup first, then free text. With
// skipped tracks both go through ResolveExcluding.
func (p *Pipeline) fromRemote(ctx context.Context, req request, artist, title, query string) *track.Record {
	partsQuery := ""
	if title != "" {
		var (
			rec *track.Record
			err error
		)
		if len(req.skipped) > 0 {
			partsQuery = artist + " " + title
			rec, err = p.remote.ResolveExcluding(ctx, partsQuery, req.skipped)
		} else {
			rec, err = p.remote.ResolveByParts(ctx, artist, title)
		}
		if rec := p.remoteResult(req, rec, err); rec != nil {
			return rec
		}
	}

	if query == partsQuery {
		return nil
	}
	var (
		rec *track.Record
		err error
	)
	if len(req.skipped) > 0 {
		rec, err = p.remote.ResolveExcluding(ctx, query, req.skipped)
	} else {
		rec, err = p.remote.Resolve(ctx, query)
	}
	return p.remoteResult(req, rec, err)
}

func (p *Pipeline) remoteResult(req request, rec *track.Record, err error) *track.Record {
	if err != nil {
		p.log.Warn("remote lookup for %q: %v", req.rewritten, err)
		p.metrics.RecordLookup(metrics.SourceRemote, metrics.ResultError)
		return nil
	}
	if rec == nil || skipped(req, rec) {
		p.metrics.RecordLookup(metrics.SourceRemote, metrics.ResultMiss)
		return nil
	}
	p.metrics.RecordLookup(metrics.SourceRemote, metrics.ResultHit)
	return rec
}

// store writes a remote hit into the cache when cache writes are enabled.
func (p *Pipeline) store(ctx context.Context, rec track.Record) {
	if !p.cacheWrites {
		return
	}
	if err := p.cache.Put(ctx, rec); err != nil {
		p.log.Warn("cache put %s: %v", rec.Format(), err)
	}
}

func skipped(req request, rec *track.Record) bool {
	_, ok := req.skipped[rec.Key()]
	return ok
}
