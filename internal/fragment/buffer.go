// Package fragment buffers recent Radio Text fragments per station so that
// an artist and a title sent in separate RT updates can be paired up.
package fragment

import (
	"iter"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCapacity = 3
	DefaultLifetime = 15 * time.Second
)

// Fragment is one buffered RT snippet.
type Fragment struct {
	Text       string
	ReceivedAt time.Time
}

// Buffer is a bounded, time-windowed queue of fragments per PI code.
type Buffer struct {
	capacity int
	lifetime time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[uint16][]Fragment
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New creates a buffer. Non-positive arguments fall back to the defaults.
func New(capacity int, lifetime time.Duration, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	b := &Buffer{
		capacity: capacity,
		lifetime: lifetime,
		now:      time.Now,
		entries:  make(map[uint16][]Fragment),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add evicts expired fragments, then appends text unless an equal text
// (ignoring case) is already buffered. The oldest fragment is dropped when
// the buffer is over capacity.
func (b *Buffer) Add(pi uint16, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	list := b.evict(b.entries[pi], now)
	for _, f := range list {
		if strings.EqualFold(f.Text, text) {
			b.entries[pi] = list
			return
		}
	}
	list = append(list, Fragment{Text: text, ReceivedAt: now})
	if len(list) > b.capacity {
		list = list[len(list)-b.capacity:]
	}
	b.entries[pi] = list
}

func (b *Buffer) evict(list []Fragment, now time.Time) []Fragment {
	kept := list[:0:0]
	for _, f := range list {
		if now.Sub(f.ReceivedAt) <= b.lifetime {
			kept = append(kept, f)
		}
	}
	return kept
}

// Texts returns the live fragments oldest first.
func (b *Buffer) Texts(pi uint16) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.evict(b.entries[pi], b.now())
	b.entries[pi] = list
	out := make([]string, len(list))
	for i, f := range list {
		out[i] = f.Text
	}
	return out
}

// Len returns the number of live fragments.
func (b *Buffer) Len(pi uint16) int {
	return len(b.Texts(pi))
}

// Combinations yields every ordered pair (artist, title) of distinct
// buffered fragments. The sequence works on a snapshot taken when it is
// created, so later mutations of the buffer are not observed.
func (b *Buffer) Combinations(pi uint16) iter.Seq2[string, string] {
	texts := b.Texts(pi)
	return func(yield func(string, string) bool) {
		for i := range texts {
			for j := range texts {
				if i == j {
					continue
				}
				if !yield(texts[i], texts[j]) {
					return
				}
			}
		}
	}
}

// Joined returns the live fragments joined by single spaces.
func (b *Buffer) Joined(pi uint16) string {
	return strings.Join(b.Texts(pi), " ")
}

// Clear drops every fragment of a station.
func (b *Buffer) Clear(pi uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, pi)
}
