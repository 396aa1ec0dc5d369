// Package fanout delivers backend events to any number of subscribers, each
// through its own buffered channel.
package fanout

import (
	"sync"

	"github.com/bavix/btscan/internal/events"
)

const defaultBuffer = 64

type subscriber struct {
	mu     sync.Mutex
	ch     chan events.Event
	quit   chan struct{}
	closed bool
	once   sync.Once
}

func (s *subscriber) send(ev events.Event, done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
	case <-s.quit:
	case <-done:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.quit)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Hub is a set of subscribers. The zero value is not usable; use New.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

// New creates a hub whose subscriber channels hold buffer events.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &Hub{
		buffer: buffer,
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a subscriber. The cancel func removes it and closes the
// channel; it may be called any number of times. ok is false once the hub is closed.
func (h *Hub) Subscribe() (<-chan events.Event, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, false
	}

	s := &subscriber{
		ch:   make(chan events.Event, h.buffer),
		quit: make(chan struct{}),
	}
	h.subs[s] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()

		s.close()
	}

	return s.ch, cancel, true
}

// Publish delivers ev to every subscriber, waiting for buffer space. It does
// not hold the hub lock while sending, so a slow consumer calling back into
// the backend cannot deadlock it.
func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))

	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.send(ev, h.done)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close unblocks pending publishers and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return
	}

	h.closed = true
	close(h.done)

	subs := h.subs
	h.subs = map[*subscriber]struct{}{}
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}
