package monitor

import (
	"sync"

	"github.com/muurk/msrcap/internal/server"
)

// DefaultFeedSize is how many recent events a Feed keeps.
const DefaultFeedSize = 8

// Feed is a server.EventSink that keeps the most recent events for display.
type Feed struct {
	mu     sync.Mutex
	events []server.Event
	next   int
	full   bool
}

// NewFeed creates a feed holding up to size events.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = DefaultFeedSize
	}
	return &Feed{events: make([]server.Event, size)}
}

// Emit implements server.EventSink.
func (f *Feed) Emit(e server.Event) {
	e.Payload = nil
	f.mu.Lock()
	f.events[f.next] = e
	f.next = (f.next + 1) % len(f.events)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()
}

// Recent returns the kept events, oldest first.
func (f *Feed) Recent() []server.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.full {
		out := make([]server.Event, f.next)
		copy(out, f.events[:f.next])
		return out
	}
	out := make([]server.Event, 0, len(f.events))
	out = append(out, f.events[f.next:]...)
	return append(out, f.events[:f.next]...)
}
