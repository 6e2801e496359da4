package prober

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	mu      sync.Mutex
	alive   bool
	writeErr error
}

func (f *fakeProcess) PID(string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return 0, false
	}
	return 1234, true
}

func (f *fakeProcess) Write(string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeErr
}

func (f *fakeProcess) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeProcess) breakWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = errors.New("pty closed")
}

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

func newTestProber(process ProcessAccess, events *fakeEvents, mock *clock.Mock) *Prober {
	cfg := DefaultConfig()
	cfg.GracePeriod = 0
	cfg.Retries = 2
	return New(cfg, process, nil, nil, nil, events, nil, mock)
}

type fakeActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newFakeActivity(agentID string, at time.Time) *fakeActivity {
	return &fakeActivity{last: map[string]time.Time{agentID: at}}
}

func (f *fakeActivity) LastActivity(agentID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.last[agentID]
	return t, ok
}

func (f *fakeActivity) touch(agentID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[agentID] = at
}

type fakeAlertRaiser struct {
	mu       sync.Mutex
	raised   int
	resolved int
}

func (f *fakeAlertRaiser) RaiseManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, observed, threshold float64, message string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised++
}

func (f *fakeAlertRaiser) ResolveManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
}

func (f *fakeAlertRaiser) counts() (raised, resolved int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised, f.resolved
}

func TestProbeCycleHealthyStaysHealthy(t *testing.T) {
	proc := &fakeProcess{alive: true}
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	p := newTestProber(proc, events, mock)
	defer p.Shutdown()

	p.Register("agent-1")

	require.Eventually(t, func() bool {
		mock.Advance(DefaultPeriod)
		healthy, ok := p.Healthy("agent-1")
		return ok && healthy
	}, time.Second, time.Millisecond)

	assert.False(t, events.has(types.EventAgentHealthFailed))
}

func TestProbeCycleFailsAfterConsecutiveRetries(t *testing.T) {
	proc := &fakeProcess{alive: true}
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	p := newTestProber(proc, events, mock)
	defer p.Shutdown()

	p.Register("agent-1")
	proc.kill()

	require.Eventually(t, func() bool {
		mock.Advance(DefaultPeriod)
		return events.has(types.EventAgentHealthFailed)
	}, time.Second, time.Millisecond)

	healthy, ok := p.Healthy("agent-1")
	require.True(t, ok)
	assert.False(t, healthy)
}

func TestHeartbeatEscalatesAfterThreeConsecutiveMissesThenResolves(t *testing.T) {
	proc := &fakeProcess{alive: true}
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	activity := newFakeActivity("agent-1", mock.Now())
	raiser := &fakeAlertRaiser{}

	cfg := DefaultConfig()
	cfg.GracePeriod = 0
	cfg.HeartbeatInterval = 100 * time.Millisecond
	p := New(cfg, proc, nil, nil, activity, events, raiser, mock)
	defer p.Shutdown()

	p.Register("agent-1")

	require.Eventually(t, func() bool {
		mock.Advance(cfg.HeartbeatInterval / 2)
		raised, _ := raiser.counts()
		return raised == 1
	}, time.Second, time.Millisecond)

	assert.True(t, events.has(types.EventHeartbeatMissed))

	activity.touch("agent-1", mock.Now())

	require.Eventually(t, func() bool {
		mock.Advance(cfg.HeartbeatInterval / 2)
		_, resolved := raiser.counts()
		return resolved == 1
	}, time.Second, time.Millisecond)
}

func TestResponsivenessProbeFailsOnWriteError(t *testing.T) {
	proc := &fakeProcess{alive: true}
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	p := newTestProber(proc, events, mock)
	defer p.Shutdown()

	p.Register("agent-1")
	proc.breakWrites()

	require.Eventually(t, func() bool {
		mock.Advance(DefaultPeriod)
		return events.has(types.EventAgentHealthFailed)
	}, time.Second, time.Millisecond)
}
