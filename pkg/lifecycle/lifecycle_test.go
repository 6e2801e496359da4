package lifecycle

import (
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

func (e *fakeEvents) count(t types.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (e *fakeEvents) has(t types.EventType) bool {
	return e.count(t) > 0
}

func testAgentConfig(id string) types.AgentConfig {
	return types.AgentConfig{ID: id, Name: id, Workspace: "/tmp/" + id}
}

func TestRegisterSetsStartingState(t *testing.T) {
	lc := New(Config{}, &fakeEvents{}, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	rec, ok := lc.GetState("a1")
	require.True(t, ok)
	assert.Equal(t, types.StateStarting, rec.Current)
}

func TestDuplicateRegisterFails(t *testing.T) {
	lc := New(Config{}, &fakeEvents{}, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))
	assert.Error(t, lc.Register(testAgentConfig("a1")))
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	lc := New(Config{}, &fakeEvents{}, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	// starting -> stopped is not in the transition table.
	assert.False(t, lc.UpdateStatus("a1", types.StateStopped, "", ""))
}

func TestUpdateStatusUnknownIDFails(t *testing.T) {
	lc := New(Config{}, &fakeEvents{}, nil)
	assert.False(t, lc.UpdateStatus("ghost", types.StateIdle, "", ""))
}

func TestSuccessfulIdleResetsRestartCount(t *testing.T) {
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	lc := New(Config{}, events, mock)
	cfg := testAgentConfig("a1")
	cfg.Restart = &types.RestartPolicy{Enabled: true, MaxAttempts: 3, Strategy: types.RestartFixed, BaseDelay: time.Millisecond}
	require.NoError(t, lc.Register(cfg))

	require.True(t, lc.UpdateStatus("a1", types.StateCrashed, "boom", ""))
	rec, _ := lc.GetState("a1")
	assert.Equal(t, 1, rec.RestartCount)

	mock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		rec, _ := lc.GetState("a1")
		return rec.Current == types.StateStarting
	}, time.Second, time.Millisecond)

	require.True(t, lc.UpdateStatus("a1", types.StateIdle, "", ""))
	rec, _ = lc.GetState("a1")
	assert.Equal(t, 0, rec.RestartCount)
}

func TestMaxRestartAttemptsExceededTerminates(t *testing.T) {
	events := &fakeEvents{}
	mock := clock.NewMock(time.Unix(0, 0))
	lc := New(Config{}, events, mock)
	cfg := testAgentConfig("a1")
	cfg.Restart = &types.RestartPolicy{Enabled: true, MaxAttempts: 1, Strategy: types.RestartFixed, BaseDelay: time.Millisecond}
	require.NoError(t, lc.Register(cfg))

	require.True(t, lc.UpdateStatus("a1", types.StateCrashed, "boom", ""))
	mock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		rec, _ := lc.GetState("a1")
		return rec.Current == types.StateStarting
	}, time.Second, time.Millisecond)

	require.True(t, lc.UpdateStatus("a1", types.StateCrashed, "boom again", ""))

	require.Eventually(t, func() bool {
		rec, _ := lc.GetState("a1")
		return rec.Current == types.StateTerminated
	}, time.Second, time.Millisecond)
}

func TestComputeDelayStrategies(t *testing.T) {
	fixed := types.RestartPolicy{Strategy: types.RestartFixed, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, computeDelay(fixed, 3))

	linear := types.RestartPolicy{Strategy: types.RestartLinear, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	assert.Equal(t, 3*time.Second, computeDelay(linear, 3))

	exp := types.RestartPolicy{Strategy: types.RestartExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	assert.Equal(t, 4*time.Second, computeDelay(exp, 3))
	assert.Equal(t, 30*time.Second, computeDelay(exp, 10))
}

func TestGracefulShutdownReturnsTrueWhenTerminatedInTime(t *testing.T) {
	events := &fakeEvents{}
	lc := New(Config{}, events, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	go func() {
		time.Sleep(5 * time.Millisecond)
		lc.UpdateStatus("a1", types.StateStopping, "", "")
		lc.UpdateStatus("a1", types.StateStopped, "", "")
		lc.UpdateStatus("a1", types.StateTerminated, "", "")
	}()

	assert.True(t, lc.GracefulShutdown("a1", time.Second))
	assert.True(t, events.has(types.EventShutdownRequest))
}

func TestGracefulShutdownTimesOut(t *testing.T) {
	events := &fakeEvents{}
	lc := New(Config{}, events, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	assert.False(t, lc.GracefulShutdown("a1", 10*time.Millisecond))
	assert.True(t, events.has(types.EventShutdownTimeout))
}

func TestGracefulShutdownSecondCallReturnsFalseImmediately(t *testing.T) {
	lc := New(Config{}, &fakeEvents{}, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	go lc.GracefulShutdown("a1", time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, lc.GracefulShutdown("a1", time.Second))
}

func TestPushSampleEvictsOldest(t *testing.T) {
	lc := New(Config{SampleHistoryCap: 2}, &fakeEvents{}, nil)
	require.NoError(t, lc.Register(testAgentConfig("a1")))

	lc.PushSample("a1", types.ResourceSample{AgentID: "a1", CPUPercent: 1})
	lc.PushSample("a1", types.ResourceSample{AgentID: "a1", CPUPercent: 2})
	lc.PushSample("a1", types.ResourceSample{AgentID: "a1", CPUPercent: 3})

	history, ok := lc.SampleHistory("a1")
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, 2.0, history[0].CPUPercent)
	assert.Equal(t, 3.0, history[1].CPUPercent)
}
