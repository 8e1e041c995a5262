// Package stream fans resolution pass progress out to Server-Sent Events
// subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"microvision.org/internal/resolve"
)

// Event kinds.
const (
	KindCreated  = "pass.created"
	KindProgress = "pass.progress"
	KindDecision = "pass.awaiting_decision"
	KindFinished = "pass.finished"
	KindDelivery = "pass.delivery"
)

// Event is a point-in-time view of a pass.
type Event struct {
	Kind      string                 `json:"kind"`
	PassID    string                 `json:"pass_id"`
	State     resolve.State          `json:"state"`
	Stats     resolve.Stats          `json:"stats"`
	Pending   *resolve.NeedsDecision `json:"pending,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// FromSnapshot builds an event for snap, choosing the kind from its state
// unless kind is given.
func FromSnapshot(kind string, snap resolve.Snapshot) Event {
	if kind == "" {
		switch snap.State {
		case resolve.StateAwaiting:
			kind = KindDecision
		case resolve.StateDone, resolve.StateCanceled:
			kind = KindFinished
		default:
			kind = KindProgress
		}
	}
	return Event{
		Kind:      kind,
		PassID:    snap.ID,
		State:     snap.State,
		Stats:     snap.Stats,
		Pending:   snap.Pending,
		Timestamp: time.Now().UTC(),
	}
}

type subscriber struct {
	passID string
	ch     chan Event
}

// Stream fan-outs pass events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for passID, or for every pass when passID
// is empty. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, passID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{passID: passID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to matching subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.passID != "" && sub.passID != evt.PassID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
