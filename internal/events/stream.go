// Package events implements the Event Stream: a bounded, in-memory log of
// AgentEvent records that every stage of the dreaming pipeline appends to,
// and that subscribers (e.g. a CLI progress view) can tail synchronously.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/soft-beds-inc/good-night/pkg/model"
)

// DefaultCapacity is the ring buffer size used when Stream is constructed
// with a non-positive capacity.
const DefaultCapacity = 1000

// Subscriber receives every event appended to the stream. Emit swallows
// whatever a subscriber panics with so one bad listener can't take down
// the pipeline; it never returns an error to the publisher.
type Subscriber func(model.AgentEvent)

// Stream is a fixed-capacity ring buffer of AgentEvents with synchronous
// fan-out to subscribers. The orchestrator owns one Stream instance per
// process and threads it through every stage explicitly — there is no
// package-level singleton.
type Stream struct {
	mu          sync.RWMutex
	buf         []model.AgentEvent
	cap         int
	next        int
	size        int
	seq         uint64
	subscribers []Subscriber
}

// NewStream builds a Stream with the given capacity, defaulting to
// DefaultCapacity when capacity is zero or negative.
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{buf: make([]model.AgentEvent, capacity), cap: capacity}
}

// Subscribe registers a callback invoked synchronously for every future
// event, on the goroutine that calls Emit.
func (s *Stream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Emit assigns the event the next sequence number, appends it to the ring
// buffer (overwriting the oldest entry once full), and fans it out to every
// subscriber.
func (s *Stream) Emit(evt model.AgentEvent) model.AgentEvent {
	evt.Sequence = atomic.AddUint64(&s.seq, 1)
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	s.mu.Lock()
	s.buf[s.next] = evt
	s.next = (s.next + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		notify(sub, evt)
	}
	return evt
}

// notify calls a subscriber, converting any panic into a swallowed no-op so
// a broken listener never disrupts the stream.
func notify(sub Subscriber, evt model.AgentEvent) {
	defer func() { _ = recover() }()
	sub(evt)
}

// All returns every buffered event in emission order (oldest first).
func (s *Stream) All() []model.AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked()
}

// Recent returns at most n of the most recently emitted events, oldest
// first.
func (s *Stream) Recent(n int) []model.AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.orderedLocked()
	if n <= 0 || n >= len(ordered) {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// ByAgent returns every buffered event for a given agent id, oldest first.
func (s *Stream) ByAgent(agentID string) []model.AgentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AgentEvent
	for _, e := range s.orderedLocked() {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// ActiveAgents scans backward through the buffer and returns the id of
// every agent whose most recent event is non-terminal: an agent that has
// emitted a terminal event is done, and anything earlier in its history is
// moot.
func (s *Stream) ActiveAgents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	seen := map[string]bool{}
	var active []string
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if e.AgentID == "" || seen[e.AgentID] {
			continue
		}
		seen[e.AgentID] = true
		if !e.IsTerminal() {
			active = append(active, e.AgentID)
		}
	}
	return active
}

// orderedLocked returns the buffer contents in emission order; callers
// must hold s.mu.
func (s *Stream) orderedLocked() []model.AgentEvent {
	out := make([]model.AgentEvent, 0, s.size)
	start := (s.next - s.size + s.cap) % s.cap
	for i := 0; i < s.size; i++ {
		out = append(out, s.buf[(start+i)%s.cap])
	}
	return out
}
