// Package remote resolves Radio Text against online track catalogues.
//
// A Client runs a fixed set of query strategies over an ordered chain of
// providers. Each Provider implementation lives under internal/provider.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"rdstrack/internal/logger"
	"rdstrack/internal/metrics"
	"rdstrack/internal/track"
)

// Query describes one provider search. Structured searches set Artist and/or
// Title; free-text searches set Text. Limit 0 lets the provider choose.
type Query struct {
	Artist string
	Title  string
	Text   string
	Limit  int
}

// IsEmpty reports whether the query has nothing to search for.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Artist) == "" &&
		strings.TrimSpace(q.Title) == "" &&
		strings.TrimSpace(q.Text) == ""
}

// Terms flattens the query into a single free-text string.
func (q Query) Terms() string {
	if q.Text != "" {
		return strings.TrimSpace(q.Text)
	}
	return strings.TrimSpace(strings.TrimSpace(q.Artist) + " " + strings.TrimSpace(q.Title))
}

func (q Query) String() string {
	if q.Text != "" {
		return fmt.Sprintf("%q", q.Text)
	}
	return fmt.Sprintf("track:%q artist:%q", q.Title, q.Artist)
}

// Provider searches a single catalogue.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]track.Record, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing searches at rps with a burst of one.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMetrics records remote latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout bounds every single provider search.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client resolves tracks over a provider chain.
type Client struct {
	chain   *Chain
	limiter *rate.Limiter
	metrics *metrics.Metrics
	timeout time.Duration
	log     *logger.Logger
	group   singleflight.Group
}

// New creates a Client searching providers in order.
func New(providers []Provider, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Discard()
	}
	c := &Client{
		chain: NewChain(providers, log),
		log:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the provider names in search order.
func (c *Client) Providers() []string {
	return c.chain.Names()
}

// Resolve looks up free text. On a miss the text is retried with bracketed
// parts and featuring tails removed.
func (c *Client) Resolve(ctx context.Context, text string) (*track.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var firstErr error
	rec, err := c.first(ctx, "simple", Query{Text: text, Limit: 1})
	if rec != nil {
		return rec, nil
	}
	firstErr = err

	if cleaned := CleanQuery(text); cleaned != "" && cleaned != text {
		rec, err = c.first(ctx, "cleaned", Query{Text: cleaned, Limit: 1})
		if rec != nil {
			return rec, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ResolveByParts looks up an artist/title pair, trying the strategies of
// partStrategies in order.
func (c *Client) ResolveByParts(ctx context.Context, artist, title string) (*track.Record, error) {
	artist = strings.TrimSpace(artist)
	title = strings.TrimSpace(title)
	if artist == "" && title == "" {
		return nil, nil
	}

	var firstErr error
	for _, s := range partStrategies(artist, title) {
		rec, err := c.first(ctx, s.name, s.query)
		if rec != nil {
			c.log.Debug("parts %q / %q matched by %s strategy", artist, title, s.name)
			return rec, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ResolveExcluding looks up free text, skipping every result whose id is in
// exclude. With nothing to exclude it is Resolve.
func (c *Client) ResolveExcluding(ctx context.Context, text string, exclude map[string]struct{}) (*track.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(exclude) == 0 {
		return c.Resolve(ctx, text)
	}

	results, err := c.search(ctx, "excluding", Query{Text: text, Limit: len(exclude) + 3})
	if err != nil {
		return nil, err
	}
	for i := range results {
		if _, skip := exclude[results[i].Key()]; skip {
			continue
		}
		rec := results[i]
		return &rec, nil
	}
	return nil, nil
}

type strategy struct {
	name  string
	query Query
}

func partStrategies(artist, title string) []strategy {
	out := []strategy{{"original", Query{Artist: artist, Title: title, Limit: 1}}}
	if artist == "" || title == "" {
		return out
	}

	cleanArtist, cleanTitle := CleanArtist(artist), CleanTitle(title)
	if (cleanArtist != artist || cleanTitle != title) && cleanArtist != "" && cleanTitle != "" {
		out = append(out, strategy{"cleaned", Query{Artist: cleanArtist, Title: cleanTitle, Limit: 1}})
	}
	if second := SecondArtist(artist); second != "" {
		out = append(out, strategy{"second_artist", Query{Artist: second, Title: title, Limit: 1}})
	}
	out = append(out, strategy{"swapped", Query{Artist: title, Title: artist, Limit: 1}})
	if utf8.RuneCountInString(title) >= 5 {
		out = append(out, strategy{"combined_free", Query{Text: artist + " " + title, Limit: 1}})
	}
	return out
}

func (c *Client) first(ctx context.Context, op string, q Query) (*track.Record, error) {
	results, err := c.search(ctx, op, q)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	rec := results[0]
	return &rec, nil
}

// search collapses identical in-flight queries and waits on the limiter.
func (c *Client) search(ctx context.Context, op string, q Query) ([]track.Record, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%d", q.Artist, q.Title, q.Text, q.Limit)
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}
		sctx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		start := time.Now()
		results, err := c.chain.Search(sctx, q)
		c.metrics.RecordRemoteLatency(op, time.Since(start))
		return results, err
	})
	if shared {
		c.log.Debug("joined in-flight search %s", q)
	}
	if err != nil {
		return nil, err
	}
	return v.([]track.Record), nil
}

// Chain tries providers in order and returns the first non-empty result.
type Chain struct {
	providers []Provider
	log       *logger.Logger
}

// NewChain creates a Chain over providers.
func NewChain(providers []Provider, log *logger.Logger) *Chain {
	return &Chain{providers: providers, log: log}
}

func (c *Chain) Name() string { return "chain" }

// Names lists the chained provider names.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Search returns the first provider's non-empty result. If no provider
// answered at all, the joined provider errors are returned.
func (c *Chain) Search(ctx context.Context, q Query) ([]track.Record, error) {
	var errs []error
	for _, p := range c.providers {
		results, err := p.Search(ctx, q)
		if err != nil {
			c.log.Debug("provider %s failed: %v", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	if len(errs) == len(c.providers) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
