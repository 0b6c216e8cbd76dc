// Package netcheck answers whether remote lookups are worth attempting.
package netcheck

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Oracle reports network availability. It is consulted before every
// remote call and must be cheap.
type Oracle interface {
	IsNetworkAvailable() bool
}

// Static always gives the same answer.
type Static bool

func (s Static) IsNetworkAvailable() bool { return bool(s) }

// Prober dials a TCP address and caches the answer for a while.
type Prober struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	now      func() time.Time

	inflight singleflight.Group

	mu      sync.Mutex
	checked time.Time
	up      bool
}

// NewProber creates a prober for addr ("host:port"). The result of a dial
// is reused for interval.
func NewProber(addr string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	d := &net.Dialer{}
	return &Prober{
		addr:     addr,
		interval: interval,
		timeout:  2 * time.Second,
		dial:     d.DialContext,
		now:      time.Now,
	}
}

// IsNetworkAvailable returns the cached answer or dials again when it is
// stale. Concurrent callers share one dial.
func (p *Prober) IsNetworkAvailable() bool {
	p.mu.Lock()
	if !p.checked.IsZero() && p.now().Sub(p.checked) < p.interval {
		up := p.up
		p.mu.Unlock()
		return up
	}
	p.mu.Unlock()

	v, _, _ := p.inflight.Do(p.addr, func() (any, error) {
		up := p.probe()
		p.mu.Lock()
		p.up = up
		p.checked = p.now()
		p.mu.Unlock()
		return up, nil
	})
	return v.(bool)
}

// Invalidate forces the next call to probe.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.checked = time.Time{}
	p.mu.Unlock()
}

func (p *Prober) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
