package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultHistoryCap bounds the per-agent transition history slice.
const DefaultHistoryCap = 200

// DefaultSampleHistoryCap is the default resource-sample ring size
// (spec.md §3 invariant 5 "bounded to a configured window per agent").
const DefaultSampleHistoryCap = 100

// RespawnFunc is invoked by the Lifecycle after an automatic-restart timer
// fires and the agent has been transitioned back to starting; the
// Supervisor supplies this to actually respawn the Process Host
// (spec.md §4.F step 5 "Supervisor respawns the Process Host").
type RespawnFunc func(agentID string)

// EventEmitter publishes lifecycle transition and restart events onto the
// event bus.
type EventEmitter interface {
	Emit(event types.Event)
}

// stateEventMap maps a transition's target state to the event type emitted
// for it. States with no dedicated event type (spawned, ready, running,
// exited) are recorded in history without a corresponding emission; the
// spec's event list is explicitly non-exhaustive.
var stateEventMap = map[types.AgentState]types.EventType{
	types.StateStarting:   types.EventAgentStarting,
	types.StateIdle:       types.EventAgentIdle,
	types.StateBusy:       types.EventAgentBusy,
	types.StatePaused:     types.EventAgentPaused,
	types.StateStopping:   types.EventAgentStopping,
	types.StateStopped:    types.EventAgentStopped,
	types.StateCrashed:    types.EventAgentCrashed,
	types.StateError:      types.EventAgentError,
	types.StateTerminated: types.EventAgentTerminated,
}

type agentEntry struct {
	record  types.StateRecord
	cfg     types.AgentConfig
	policy  types.RestartPolicy
	samples []types.ResourceSample

	restartTimer   clock.Timer
	terminatedCh   chan struct{}
	terminatedOnce sync.Once
}

// Lifecycle is the state machine described in spec.md §4.F. The agent-id
// keyed map is guarded by a single mutex (spec.md §5 "Shared-resource
// policy").
type Lifecycle struct {
	mu     sync.Mutex
	agents map[string]*agentEntry
	events EventEmitter
	clk    clock.Clock
	respawn RespawnFunc

	historyCap       int
	sampleHistoryCap int
}

// Config controls history retention. Respawn is required for restart
// backoff to actually respawn a Process Host; it may be nil in tests that
// don't exercise restart behavior.
type Config struct {
	HistoryCap       int
	SampleHistoryCap int
	Respawn          RespawnFunc
}

// New builds a Lifecycle. clk defaults to clock.System{} if nil.
func New(cfg Config, events EventEmitter, clk clock.Clock) *Lifecycle {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.SampleHistoryCap <= 0 {
		cfg.SampleHistoryCap = DefaultSampleHistoryCap
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Lifecycle{
		agents:           make(map[string]*agentEntry),
		events:           events,
		clk:              clk,
		respawn:          cfg.Respawn,
		historyCap:       cfg.HistoryCap,
		sampleHistoryCap: cfg.SampleHistoryCap,
	}
}

// Register adds agentID to the map with initial state "starting"
// (spec.md §4.F "Register(id, initial=starting)").
func (lc *Lifecycle) Register(cfg types.AgentConfig) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, exists := lc.agents[cfg.ID]; exists {
		return types.NewError(types.ErrConflict, fmt.Sprintf("agent %q already registered", cfg.ID), nil)
	}

	policy := types.DefaultRestartPolicy()
	if cfg.Restart != nil {
		policy = *cfg.Restart
	}

	now := lc.clk.Now()
	lc.agents[cfg.ID] = &agentEntry{
		record: types.StateRecord{
			ID:               cfg.ID,
			Current:          types.StateStarting,
			LastTransitionAt: now,
		},
		cfg:          cfg,
		policy:       policy,
		terminatedCh: make(chan struct{}),
	}

	lc.emitLocked(cfg.ID, types.EventAgentRegistered, "", nil)
	return nil
}

// UpdateStatus attempts to move agentID to target, returning false if the
// id is unknown or the transition is invalid (spec.md §4.F).
func (lc *Lifecycle) UpdateStatus(agentID string, target types.AgentState, reason, detail string) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.updateStatusLocked(agentID, target, reason, detail)
}

func (lc *Lifecycle) updateStatusLocked(agentID string, target types.AgentState, reason, detail string) bool {
	entry, ok := lc.agents[agentID]
	if !ok {
		return false
	}
	if !types.IsValidTransition(entry.record.Current, target) {
		return false
	}

	now := lc.clk.Now()
	entry.record.History = append(entry.record.History, types.Transition{
		From:   entry.record.Current,
		To:     target,
		When:   now,
		Reason: reason,
		Detail: detail,
	})
	if len(entry.record.History) > lc.historyCap {
		entry.record.History = entry.record.History[len(entry.record.History)-lc.historyCap:]
	}

	entry.record.Current = target
	entry.record.LastTransitionAt = now

	if evtType, hasEvent := stateEventMap[target]; hasEvent {
		lc.emitLocked(agentID, evtType, reason, nil)
	}

	switch target {
	case types.StateIdle, types.StateReady:
		entry.record.RestartCount = 0
		if entry.restartTimer != nil {
			entry.restartTimer.Stop()
			entry.restartTimer = nil
		}
	case types.StateCrashed, types.StateError:
		lc.handleFailureLocked(agentID, entry)
	case types.StateTerminated:
		entry.terminatedOnce.Do(func() { close(entry.terminatedCh) })
	}

	return true
}

// handleFailureLocked applies restart policy after a crashed/error
// transition (spec.md §4.F "On transitions into crashed or error").
func (lc *Lifecycle) handleFailureLocked(agentID string, entry *agentEntry) {
	if !entry.policy.Enabled {
		return
	}

	entry.record.RestartCount++
	if entry.record.RestartCount > entry.policy.MaxAttempts {
		lc.updateStatusLocked(agentID, types.StateTerminated, "max_restart_attempts_exceeded", "")
		return
	}

	delay := computeDelay(entry.policy, entry.record.RestartCount)
	if entry.restartTimer != nil {
		entry.restartTimer.Stop()
	}
	timer := lc.clk.NewTimer(delay)
	entry.restartTimer = timer
	attempt := entry.record.RestartCount

	go lc.waitForRestart(agentID, timer, attempt)
}

func (lc *Lifecycle) waitForRestart(agentID string, timer clock.Timer, attempt int) {
	<-timer.C()
	lc.fireRestart(agentID, attempt)
}

func (lc *Lifecycle) fireRestart(agentID string, attempt int) {
	lc.mu.Lock()
	ok := lc.updateStatusLocked(agentID, types.StateStarting, "automatic_restart", "")
	lc.mu.Unlock()
	if !ok {
		return
	}
	lc.emit(agentID, types.EventAgentRestartAttempt, "", map[string]string{"attempt": fmt.Sprint(attempt)})
	if lc.respawn != nil {
		lc.respawn(agentID)
	}
}

// computeDelay implements spec.md §4.F step 3's three backoff strategies.
func computeDelay(policy types.RestartPolicy, attempt int) time.Duration {
	switch policy.Strategy {
	case types.RestartLinear:
		return policy.BaseDelay * time.Duration(attempt)
	case types.RestartExponential:
		d := float64(policy.BaseDelay) * pow(policy.Multiplier, attempt-1)
		if d > float64(policy.MaxDelay) {
			return policy.MaxDelay
		}
		return time.Duration(d)
	default: // fixed
		return policy.BaseDelay
	}
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// GetState returns a copy of agentID's current state record.
func (lc *Lifecycle) GetState(agentID string) (types.StateRecord, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok {
		return types.StateRecord{}, false
	}
	return entry.record, true
}

// GetHistory returns a copy of agentID's transition history.
func (lc *Lifecycle) GetHistory(agentID string) ([]types.Transition, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok {
		return nil, false
	}
	out := make([]types.Transition, len(entry.record.History))
	copy(out, entry.record.History)
	return out, true
}

// PushSample appends sample to agentID's bounded resource history ring,
// evicting the oldest entry on overflow (spec.md §3 invariant 5).
func (lc *Lifecycle) PushSample(agentID string, sample types.ResourceSample) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok {
		return
	}
	entry.samples = append(entry.samples, sample)
	if len(entry.samples) > lc.sampleHistoryCap {
		entry.samples = entry.samples[len(entry.samples)-lc.sampleHistoryCap:]
	}
	entry.record.LastHealthCheckAt = sample.Timestamp
}

// LatestSample returns the most recently pushed sample for agentID.
func (lc *Lifecycle) LatestSample(agentID string) (types.ResourceSample, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok || len(entry.samples) == 0 {
		return types.ResourceSample{}, false
	}
	return entry.samples[len(entry.samples)-1], true
}

// SampleHistory returns a copy of agentID's sample ring.
func (lc *Lifecycle) SampleHistory(agentID string) ([]types.ResourceSample, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok {
		return nil, false
	}
	out := make([]types.ResourceSample, len(entry.samples))
	copy(out, entry.samples)
	return out, true
}

// ResourceLimits returns the resource caps the agent was configured with,
// if any (pkg/prober.LimitSource).
func (lc *Lifecycle) ResourceLimits(agentID string) (types.ResourceLimits, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok || entry.cfg.Limits == nil {
		return types.ResourceLimits{}, false
	}
	return *entry.cfg.Limits, true
}

// GracefulShutdown requests a graceful stop, emits agent:shutdown_request,
// and waits up to deadline for the agent to reach terminated
// (spec.md §4.F "Graceful shutdown").
func (lc *Lifecycle) GracefulShutdown(agentID string, deadline time.Duration) bool {
	lc.mu.Lock()
	entry, ok := lc.agents[agentID]
	if !ok {
		lc.mu.Unlock()
		return false
	}
	if entry.record.ShutdownInFlight {
		lc.mu.Unlock()
		return false
	}
	entry.record.ShutdownInFlight = true
	lc.updateStatusLocked(agentID, types.StateStopping, "graceful_shutdown", "")
	terminatedCh := entry.terminatedCh
	lc.mu.Unlock()

	lc.emit(agentID, types.EventShutdownRequest, "", map[string]string{"deadline": deadline.String()})

	timer := lc.clk.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-terminatedCh:
		return true
	case <-timer.C():
		lc.emit(agentID, types.EventShutdownTimeout, "", nil)
		return false
	}
}

// Unregister removes agentID from the map, stopping any pending restart
// timer.
func (lc *Lifecycle) Unregister(agentID string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	entry, ok := lc.agents[agentID]
	if !ok {
		return
	}
	if entry.restartTimer != nil {
		entry.restartTimer.Stop()
	}
	delete(lc.agents, agentID)
}

// Shutdown clears every pending restart timer (spec.md §4.F
// "Shutdown() (clears timers)").
func (lc *Lifecycle) Shutdown() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, entry := range lc.agents {
		if entry.restartTimer != nil {
			entry.restartTimer.Stop()
		}
	}
}

func (lc *Lifecycle) emit(agentID string, evtType types.EventType, reason string, metadata map[string]string) {
	lc.mu.Lock()
	lc.emitLocked(agentID, evtType, reason, metadata)
	lc.mu.Unlock()
}

func (lc *Lifecycle) emitLocked(agentID string, evtType types.EventType, reason string, metadata map[string]string) {
	log.WithAgentID(agentID).Debug().Str("event", string(evtType)).Msg("lifecycle transition")
	if lc.events == nil {
		return
	}
	lc.events.Emit(types.Event{
		ID:       uuid.NewString(),
		AgentID:  agentID,
		Type:     evtType,
		Time:     lc.clk.Now(),
		Reason:   reason,
		Metadata: metadata,
	})
}
