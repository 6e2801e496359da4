package metrics

import (
	"context"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/eventbus"
	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// StatsSource is the narrow view of the Supervisor the Collector polls.
// *supervisor.Supervisor satisfies this structurally, so pkg/metrics never
// needs to import pkg/supervisor.
type StatsSource interface {
	AgentCountsByState() map[types.AgentState]int
	ActiveAlertCount() int
}

// Collector polls aggregate agent population on a fixed interval and
// listens to the event bus for the counters a poll can't reconstruct
// (restart outcomes, dropped messages) — the ticker shape is the teacher's
// Collector; the event-driven half is new, since this domain has an event
// bus to listen to and the teacher's cluster collector did not.
type Collector struct {
	source StatsSource
	bus    *eventbus.Bus
	sub    *eventbus.Subscription
	stopCh chan struct{}
}

// NewCollector builds a Collector that polls source and subscribes to bus.
func NewCollector(source StatsSource, bus *eventbus.Bus) *Collector {
	return &Collector{
		source: source,
		bus:    bus,
		stopCh: make(chan struct{}),
	}
}

// Start begins the polling ticker and the event-bus listener goroutine.
func (c *Collector) Start() {
	c.sub = c.bus.Subscribe(0)
	go c.consumeEvents(c.sub)

	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the ticker and unsubscribes from the event bus.
func (c *Collector) Stop() {
	close(c.stopCh)
	if c.sub != nil {
		c.bus.Unsubscribe(c.sub)
	}
}

func (c *Collector) collect() {
	byState := c.source.AgentCountsByState()

	for _, state := range allAgentStates {
		AgentsTotal.WithLabelValues(string(state)).Set(float64(byState[state]))
	}

	ActiveAlertsAggregate.Set(float64(c.source.ActiveAlertCount()))
}

var allAgentStates = []types.AgentState{
	types.StateSpawned,
	types.StateStarting,
	types.StateReady,
	types.StateIdle,
	types.StateBusy,
	types.StateRunning,
	types.StatePaused,
	types.StateStopping,
	types.StateStopped,
	types.StateExited,
	types.StateCrashed,
	types.StateError,
	types.StateTerminated,
}

// consumeEvents drains the event bus and updates the event-driven counters.
// It runs until the subscription is closed by Stop's Unsubscribe call.
func (c *Collector) consumeEvents(sub *eventbus.Subscription) {
	ctx := context.Background()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		EventBusEventsTotal.WithLabelValues(string(ev.Type)).Inc()

		switch ev.Type {
		case types.EventAgentRestartAttempt:
			RestartAttemptsTotal.WithLabelValues("attempted").Inc()
		case types.EventAgentRestartSuccess:
			RestartAttemptsTotal.WithLabelValues("succeeded").Inc()
		case types.EventAgentRestartFailed:
			RestartAttemptsTotal.WithLabelValues("failed").Inc()
		case types.EventBusDropped:
			EventBusDroppedTotal.Inc()
		case types.EventAgentResourceAlert:
			if ev.Alert != nil {
				ActiveAlertsTotal.WithLabelValues(string(ev.Alert.Kind), string(ev.Alert.Severity)).Inc()
			}
		case types.EventAgentAlertResolved:
			if ev.Alert != nil {
				ActiveAlertsTotal.WithLabelValues(string(ev.Alert.Kind), string(ev.Alert.Severity)).Dec()
			}
		}
	}
}
