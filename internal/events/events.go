// Package events fans out diagnostic events from the resolution pipeline to
// any number of subscribers. Events describe what happened; nothing in the
// pipeline reads them back.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rdstrack/internal/track"
)

// Status labels carried by events.
const (
	StatusProcessing = "Processing..."
	StatusCached     = "Cached"
	StatusCachedHit  = "Cached (local)"
	StatusIgnored    = "Ignored"
	StatusOffline    = "Offline"
	StatusSearching  = "Searching..."
	StatusCombined   = "Searching combined..."
	StatusFound      = "Found!"
	StatusNotFound   = "Not found"
	StatusStation    = "Station changed"
)

// Event is one observable step of a resolution.
type Event struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	PI        uint16        `json:"pi"`
	Status    string        `json:"status"`
	Input     string        `json:"input,omitempty"`
	Rewritten string        `json:"rewritten,omitempty"`
	Query     string        `json:"query,omitempty"`
	Track     *track.Record `json:"track,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(pi uint16, status string) Event {
	return Event{ID: uuid.NewString(), Time: time.Now(), PI: pi, Status: status}
}

// Publisher is what the pipeline needs from a Hub.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

type subscriber struct {
	ch chan Event
	pi uint16 // 0 means every station
}

// Hub delivers events to subscribers without ever blocking the publisher.
// A slow subscriber misses events instead of stalling resolution.
type Hub struct {
	mu   sync.RWMutex
	subs []subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe returns a channel receiving events for pi, or for every
// station when pi is 0.
func (h *Hub) Subscribe(pi uint16) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 32)
	h.subs = append(h.subs, subscriber{ch: ch, pi: pi})
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.ch == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish sends e to every matching subscriber with room in its buffer.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.pi != 0 && s.pi != e.PI {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
