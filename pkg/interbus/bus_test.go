package interbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	mu     sync.Mutex
	events []types.Event
}

func (e *fakeEvents) Emit(ev types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEvents) has(t types.EventType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func TestSendDeliversToRegisteredHandler(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("b")

	received := make(chan types.BusMessage, 1)
	bus.RegisterHandler("b", types.BusKindRequest, func(msg types.BusMessage) {
		received <- msg
	})

	id, err := bus.Send("a", "b", types.BusKindRequest, map[string]int{"q": 1})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, "a", msg.From)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestSendToUnknownRecipientErrors(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	_, err := bus.Send("a", "ghost", types.BusKindRequest, nil)
	assert.Error(t, err)
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("a")
	bus.Subscribe("b")

	var mu sync.Mutex
	receivedBy := map[string]bool{}
	handler := func(agentID string) HandlerFunc {
		return func(types.BusMessage) {
			mu.Lock()
			receivedBy[agentID] = true
			mu.Unlock()
		}
	}
	bus.RegisterHandler("a", types.BusKindBroadcast, handler("a"))
	bus.RegisterHandler("b", types.BusKindBroadcast, handler("b"))

	_, err := bus.Broadcast("a", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedBy["a"] && receivedBy["b"]
	}, time.Second, 5*time.Millisecond)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("b")
	bus.RegisterHandler("b", types.BusKindRequest, func(msg types.BusMessage) {
		require.NoError(t, bus.Respond("b", msg.From, "pong", msg.ID))
	})

	resp, err := bus.Request(context.Background(), "a", "b", "ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Payload)
}

func TestRequestTimesOutWithoutResponder(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("b")

	_, err := bus.Request(context.Background(), "a", "b", "ping", 20*time.Millisecond)
	require.Error(t, err)

	serr, ok := err.(*types.SupervisorError)
	require.True(t, ok)
	assert.Equal(t, types.ErrTimeout, serr.Kind)
}

func TestRequestSucceedsOnceResponderSubscribes(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)

	_, err := bus.Request(context.Background(), "a", "b", "ping", 20*time.Millisecond)
	require.Error(t, err)
	serr, ok := err.(*types.SupervisorError)
	require.True(t, ok)
	assert.Equal(t, types.ErrTimeout, serr.Kind)

	bus.Subscribe("b")
	bus.RegisterHandler("b", types.BusKindRequest, func(msg types.BusMessage) {
		require.NoError(t, bus.Respond("b", msg.From, "pong", msg.ID))
	})

	resp, err := bus.Request(context.Background(), "a", "b", "ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Payload)
}

func TestHandoffDeliversAsHandoffKind(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("b")

	received := make(chan types.BusMessage, 1)
	bus.RegisterHandler("b", types.BusKindHandoff, func(msg types.BusMessage) { received <- msg })

	_, err := bus.Handoff("a", "b", map[string]string{"task": "review"})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, types.BusKindHandoff, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("handoff handler never invoked")
	}
}

func TestFullMailboxDropsOldestAndEmitsDropped(t *testing.T) {
	events := &fakeEvents{}
	bus := New(1, events, nil)
	bus.Subscribe("b")
	// The reader pops messages even when no handler matches, so register a
	// handler that blocks until released to force a backlog in the queue.
	block := make(chan struct{})
	bus.RegisterHandler("b", types.BusKindRequest, func(types.BusMessage) {
		<-block
	})

	_, _ = bus.Send("a", "b", types.BusKindRequest, 1)
	_, _ = bus.Send("a", "b", types.BusKindRequest, 2)
	_, _ = bus.Send("a", "b", types.BusKindRequest, 3)
	close(block)

	require.Eventually(t, func() bool {
		return events.has(types.EventBusDropped)
	}, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(10, &fakeEvents{}, nil)
	bus.Subscribe("b")
	bus.Unsubscribe("b")

	_, err := bus.Send("a", "b", types.BusKindRequest, 1)
	assert.Error(t, err)
}

func TestRequestUsesInjectedClockForTimeout(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	bus := New(10, &fakeEvents{}, mock)
	bus.Subscribe("b")

	var mu sync.Mutex
	var result error
	finished := false
	go func() {
		_, err := bus.Request(context.Background(), "a", "b", "ping", time.Second)
		mu.Lock()
		result, finished = err, true
		mu.Unlock()
	}()

	require.Eventually(t, func() bool {
		mock.Advance(time.Second)
		mu.Lock()
		defer mu.Unlock()
		return finished
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, result)
}
