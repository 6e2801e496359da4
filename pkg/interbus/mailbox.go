package interbus

import (
	"sync"

	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// mailbox is one agent's personal bounded inbound queue plus the
// handlers registered against it. Spec.md §5 calls for "one reader per
// local subscription"; that reader is the goroutine started in run().
type mailbox struct {
	agentID string

	mu     sync.Mutex
	queue  []types.BusMessage
	cap    int
	closed bool

	handlerMu sync.Mutex
	handlers  map[types.BusMessageKind][]HandlerFunc

	notify chan struct{}
	stop   chan struct{}
}

func newMailbox(agentID string, cap int) *mailbox {
	return &mailbox{
		agentID:  agentID,
		cap:      cap,
		handlers: make(map[types.BusMessageKind][]HandlerFunc),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (m *mailbox) addHandler(kind types.BusMessageKind, fn HandlerFunc) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], fn)
}

// push enqueues msg, dropping the oldest queued message if the mailbox
// is already at capacity (spec.md §4.H "Backpressure").
func (m *mailbox) push(msg types.BusMessage) (dropped bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	if len(m.queue) > m.cap {
		m.queue = m.queue[1:]
		dropped = true
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (m *mailbox) pop() (types.BusMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return types.BusMessage{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
}

// run drains the queue in FIFO order, dispatching each message to every
// handler registered for its kind, in registration order.
func (m *mailbox) run() {
	for {
		for {
			msg, ok := m.pop()
			if !ok {
				break
			}
			m.dispatch(msg)
		}
		select {
		case <-m.notify:
		case <-m.stop:
			return
		}
	}
}

func (m *mailbox) dispatch(msg types.BusMessage) {
	m.handlerMu.Lock()
	fns := append([]HandlerFunc(nil), m.handlers[msg.Kind]...)
	m.handlerMu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
