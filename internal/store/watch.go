package store

import (
	"context"
	"log"
	"sync"
	"time"
)

// topic identifies a class of records a subscriber cares about.
type topic int

const (
	topicCalendars topic = iota
	topicEvents
	topicAccounts
)

// hub fans out change signals to watch subscriptions. Signals are
// latest-value: a slow subscriber coalesces intermediate writes instead of
// blocking the writer.
type hub struct {
	mu     sync.Mutex
	subs   map[topic]map[chan struct{}]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[topic]map[chan struct{}]struct{})}
}

func (h *hub) subscribe(t topic) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{}, 1)
	if h.closed {
		close(ch)
		return ch
	}
	if h.subs[t] == nil {
		h.subs[t] = make(map[chan struct{}]struct{})
	}
	h.subs[t][ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(t topic, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	delete(h.subs[t], ch)
}

func (h *hub) notify(topics ...topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, t := range topics {
		for ch := range h.subs[t] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
	}
	h.subs = nil
}

// WatchCalendars returns a channel that delivers the current calendar list
// immediately and again after every calendar write, until ctx is cancelled.
func (s *Store) WatchCalendars(ctx context.Context) <-chan []*Calendar {
	out := make(chan []*Calendar, 1)
	signal := s.hub.subscribe(topicCalendars)

	go func() {
		defer close(out)
		defer s.hub.unsubscribe(topicCalendars, signal)

		for {
			cals, err := s.ListCalendars()
			if err != nil {
				log.Printf("watch calendars: query failed: %v", err)
			} else {
				select {
				case out <- cals:
				case <-ctx.Done():
					return
				}
			}

			select {
			case _, ok := <-signal:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// WatchEvents returns a channel that delivers events overlapping [from, to)
// across visible calendars immediately and after every event write.
func (s *Store) WatchEvents(ctx context.Context, from, to time.Time) <-chan []*Event {
	out := make(chan []*Event, 1)
	signal := s.hub.subscribe(topicEvents)

	go func() {
		defer close(out)
		defer s.hub.unsubscribe(topicEvents, signal)

		for {
			events, err := s.ListEventsInRange(from, to, nil)
			if err != nil {
				log.Printf("watch events: query failed: %v", err)
			} else {
				select {
				case out <- events:
				case <-ctx.Done():
					return
				}
			}

			select {
			case _, ok := <-signal:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
