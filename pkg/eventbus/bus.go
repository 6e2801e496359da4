package eventbus

import (
	"context"
	"sync"

	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultRingCap is the default in-memory ring buffer capacity the Logger
// drains from (spec.md §4.D "default ≈100").
const DefaultRingCap = 100

// DefaultSubscriberQueueCap bounds each subscriber's private queue.
const DefaultSubscriberQueueCap = 100

// Bus is the Event Bus described in spec.md §4.D: a single-writer,
// many-reader fan-out with a shared ring the Logger drains.
type Bus struct {
	ringMu  sync.Mutex
	ring    []types.Event
	ringCap int
	full    chan struct{}

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New builds a Bus with the given ring capacity (DefaultRingCap if <= 0).
func New(ringCap int) *Bus {
	if ringCap <= 0 {
		ringCap = DefaultRingCap
	}
	return &Bus{
		ringCap: ringCap,
		full:    make(chan struct{}, 1),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Emit appends event to the ring (for the Logger) and fans it out to every
// subscriber whose filter matches, per spec.md §4.D.
func (b *Bus) Emit(event types.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.ringMu.Lock()
	b.ring = append(b.ring, event)
	full := len(b.ring) >= b.ringCap
	b.ringMu.Unlock()

	if full {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}

	b.fanout(event)
}

// fullSignal is read by the Logger to wake immediately when the ring
// reaches capacity, instead of waiting for its flush timer.
func (b *Bus) fullSignal() <-chan struct{} { return b.full }

// drain removes and returns every event currently in the ring.
func (b *Bus) drain() []types.Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()
	if len(b.ring) == 0 {
		return nil
	}
	out := b.ring
	b.ring = nil
	return out
}

// requeue re-prepends events the Logger failed to persist, so the next
// drain retries them in the same order (spec.md §4.D "On append failure
// the events are re-prepended so delivery retries").
func (b *Bus) requeue(events []types.Event) {
	if len(events) == 0 {
		return
	}
	b.ringMu.Lock()
	b.ring = append(events, b.ring...)
	b.ringMu.Unlock()
}

func (b *Bus) fanout(event types.Event) {
	b.subMu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.matches(event.Type) {
			targets = append(targets, s)
		}
	}
	b.subMu.Unlock()

	for _, s := range targets {
		if dropped := s.push(event); dropped {
			b.emitDropped(s.id, event.Type)
		}
	}
}

// emitDropped publishes bus:dropped without re-checking its own fanout for
// drops, avoiding unbounded recursion on a persistently stalled subscriber.
func (b *Bus) emitDropped(subscriberID, lostType string) {
	log.Warn("event bus dropped message for slow subscriber")
	ev := types.Event{
		ID:      uuid.NewString(),
		Type:    types.EventBusDropped,
		Reason:  lostType,
		Metadata: map[string]string{"subscriber": subscriberID},
	}

	b.ringMu.Lock()
	b.ring = append(b.ring, ev)
	b.ringMu.Unlock()

	b.subMu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.matches(ev.Type) {
			targets = append(targets, s)
		}
	}
	b.subMu.Unlock()

	for _, s := range targets {
		s.push(ev) //nolint:errcheck // best-effort, never recurse into emitDropped again
	}
}

// Subscribe returns a Subscription delivering events whose Type is in
// types, or every event if types is empty (the "catch-all channel" of
// spec.md §4.D).
func (b *Bus) Subscribe(queueCap int, eventTypes ...types.EventType) *Subscription {
	if queueCap <= 0 {
		queueCap = DefaultSubscriberQueueCap
	}
	filter := make(map[types.EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = true
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		cap:    queueCap,
		notify: make(chan struct{}, 1),
	}

	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus; any pending Next calls return false.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.subMu.Lock()
	delete(b.subs, sub)
	b.subMu.Unlock()
	sub.close()
}

// Subscription is a bounded, per-subscriber event queue (spec.md §5
// "Backpressure: per-subscriber bounded queues").
type Subscription struct {
	id     string
	filter map[types.EventType]bool

	mu     sync.Mutex
	queue  []types.Event
	cap    int
	closed bool
	notify chan struct{}
}

func (s *Subscription) matches(t types.EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	return s.filter[t]
}

func (s *Subscription) push(event types.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= s.cap {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, event)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Next blocks until an event is available, the subscription is closed, or
// ctx is done, returning (event, true) or (zero value, false) respectively.
func (s *Subscription) Next(ctx context.Context) (types.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return types.Event{}, false
		}

		select {
		case _, ok := <-s.notify:
			if !ok {
				return types.Event{}, false
			}
		case <-ctx.Done():
			return types.Event{}, false
		}
	}
}
