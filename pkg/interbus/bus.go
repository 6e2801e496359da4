package interbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultMailboxCap bounds each agent's personal inbound queue.
const DefaultMailboxCap = 100

// HandlerFunc is a non-blocking callback installed via RegisterHandler,
// invoked in receive order for messages of its registered kind.
type HandlerFunc func(types.BusMessage)

// EventEmitter publishes bus:dropped notifications (spec.md §4.H
// "Backpressure").
type EventEmitter interface {
	Emit(event types.Event)
}

// Bus is the Inter-agent Bus described in spec.md §4.H.
type Bus struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
	pending   map[string]chan types.BusMessage
	events    EventEmitter
	clk       clock.Clock
	queueCap  int
}

// New builds a Bus. queueCap <= 0 uses DefaultMailboxCap.
func New(queueCap int, events EventEmitter, clk clock.Clock) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultMailboxCap
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Bus{
		mailboxes: make(map[string]*mailbox),
		pending:   make(map[string]chan types.BusMessage),
		events:    events,
		clk:       clk,
		queueCap:  queueCap,
	}
}

// Subscribe opens agentID's personal inbound channel ("agent:<id>" in
// spec terms). Calling it more than once for the same id is a no-op.
func (b *Bus) Subscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mailboxOrCreateLocked(agentID)
}

// Unsubscribe closes agentID's mailbox and stops its reader goroutine.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	mb, ok := b.mailboxes[agentID]
	delete(b.mailboxes, agentID)
	b.mu.Unlock()
	if ok {
		mb.close()
	}
}

// RegisterHandler installs fn for messages of kind arriving at agentID's
// mailbox, subscribing agentID first if needed.
func (b *Bus) RegisterHandler(agentID string, kind types.BusMessageKind, fn HandlerFunc) {
	b.mu.Lock()
	mb := b.mailboxOrCreateLocked(agentID)
	b.mu.Unlock()
	mb.addHandler(kind, fn)
}

func (b *Bus) mailboxOrCreateLocked(agentID string) *mailbox {
	mb, ok := b.mailboxes[agentID]
	if ok {
		return mb
	}
	mb = newMailbox(agentID, b.queueCap)
	b.mailboxes[agentID] = mb
	go mb.run()
	return mb
}

// Send delivers payload to the "to" mailbox (or every mailbox if "to" is
// types.BroadcastRecipient) and returns the generated message id.
func (b *Bus) Send(from, to string, kind types.BusMessageKind, payload any) (string, error) {
	msg := types.BusMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return msg.ID, b.sendMessage(msg)
}

// Broadcast publishes payload to the broadcast topic.
func (b *Bus) Broadcast(from string, payload any) (string, error) {
	return b.Send(from, types.BroadcastRecipient, types.BusKindBroadcast, payload)
}

// Handoff publishes a handoff message; payload is expected to carry the
// sender's context snapshot alongside the task (spec.md §4.H).
func (b *Bus) Handoff(from, to string, payload any) (string, error) {
	return b.Send(from, to, types.BusKindHandoff, payload)
}

// Respond answers a Request whose id is correlationID. If a waiter is
// still registered for correlationID the response is delivered directly
// to it; otherwise it is delivered through the normal mailbox path.
func (b *Bus) Respond(from, to string, payload any, correlationID string) error {
	msg := types.BusMessage{
		ID:            uuid.NewString(),
		From:          from,
		To:            to,
		Kind:          types.BusKindResponse,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
	return b.sendMessage(msg)
}

// Request sends payload to "to" and awaits a response whose correlation
// id matches, or returns a timeout error after timeout elapses (spec.md
// §4.H, §8 S6).
func (b *Bus) Request(ctx context.Context, from, to string, payload any, timeout time.Duration) (types.BusMessage, error) {
	id := uuid.NewString()
	waiter := make(chan types.BusMessage, 1)

	b.mu.Lock()
	b.pending[id] = waiter
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	msg := types.BusMessage{
		ID:        id,
		From:      from,
		To:        to,
		Kind:      types.BusKindRequest,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := b.sendMessage(msg); err != nil {
		var serr *types.SupervisorError
		if !(errors.As(err, &serr) && serr.Kind == types.ErrNotFound) {
			return types.BusMessage{}, err
		}
		// "to" has no mailbox yet; spec.md §8 S6 still wants a timeout at
		// the deadline rather than an immediate not-found, in case the
		// recipient subscribes and would otherwise have answered in time.
	}

	timer := b.clk.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C():
		return types.BusMessage{}, types.NewError(types.ErrTimeout, "request to "+to+" timed out", nil)
	case <-ctx.Done():
		return types.BusMessage{}, types.NewError(types.ErrTimeout, "request to "+to+" canceled", ctx.Err())
	}
}

func (b *Bus) sendMessage(msg types.BusMessage) error {
	if msg.Kind == types.BusKindResponse && msg.CorrelationID != "" {
		b.mu.Lock()
		waiter, ok := b.pending[msg.CorrelationID]
		b.mu.Unlock()
		if ok {
			select {
			case waiter <- msg:
			default:
			}
			return nil
		}
	}

	if msg.To == types.BroadcastRecipient {
		b.mu.Lock()
		boxes := make([]*mailbox, 0, len(b.mailboxes))
		for _, mb := range b.mailboxes {
			boxes = append(boxes, mb)
		}
		b.mu.Unlock()
		for _, mb := range boxes {
			b.pushTo(mb, msg)
		}
		return nil
	}

	b.mu.Lock()
	mb, ok := b.mailboxes[msg.To]
	b.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrNotFound, "unknown recipient "+msg.To, nil)
	}
	b.pushTo(mb, msg)
	return nil
}

func (b *Bus) pushTo(mb *mailbox, msg types.BusMessage) {
	if dropped := mb.push(msg); dropped {
		b.emitDropped(mb.agentID, msg.Kind)
	}
}

func (b *Bus) emitDropped(agentID string, kind types.BusMessageKind) {
	log.WithAgentID(agentID).Warn().Str("kind", string(kind)).Msg("interbus: dropped oldest queued message")
	if b.events == nil {
		return
	}
	b.events.Emit(types.Event{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Type:    types.EventBusDropped,
		Time:    time.Now(),
		Reason:  string(kind),
	})
}

// Shutdown stops every mailbox reader and discards pending requests.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	boxes := b.mailboxes
	b.mailboxes = make(map[string]*mailbox)
	b.mu.Unlock()
	for _, mb := range boxes {
		mb.close()
	}
}
