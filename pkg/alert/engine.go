package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultHistoryCap bounds the number of alerts (raised and resolved) the
// Engine retains.
const DefaultHistoryCap = 500

// HysteresisFactor is the fraction of an alert's threshold its observed
// value must fall below before the alert resolves (spec.md §3 invariant 7
// and §4.C "Resolution").
const HysteresisFactor = 0.9

// EventEmitter publishes alert-raised and alert-resolved events onto the
// event bus.
type EventEmitter interface {
	Emit(event types.Event)
}

// Engine is the Alert Engine described in spec.md §4.C.
type Engine struct {
	mu         sync.Mutex
	strategies []Strategy
	active     map[types.AlertKey]types.Alert
	history    []types.Alert
	historyCap int
	events     EventEmitter
}

// Config controls the Engine's default strategy set and history retention.
type Config struct {
	HistoryCap int
	Strategies []Strategy
}

// DefaultConfig returns the Engine's default strategies (CPU, memory) and
// history cap.
func DefaultConfig() Config {
	return Config{
		HistoryCap: DefaultHistoryCap,
		Strategies: []Strategy{
			NewCPUStrategy(DefaultCPUWarning, DefaultCPUCritical),
			NewMemoryStrategy(DefaultMemoryWarning, DefaultMemoryCritical),
		},
	}
}

// New builds an Engine from cfg and events, the emitter alert transitions
// are published to.
func New(cfg Config, events EventEmitter) *Engine {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	strategies := append([]Strategy(nil), cfg.Strategies...)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})
	return &Engine{
		strategies: strategies,
		active:     make(map[types.AlertKey]types.Alert),
		historyCap: cfg.HistoryCap,
		events:     events,
	}
}

// AddStrategy registers an additional strategy, re-sorting by priority.
func (e *Engine) AddStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
	sort.SliceStable(e.strategies, func(i, j int) bool {
		return e.strategies[i].Priority() > e.strategies[j].Priority()
	})
}

// Evaluate runs every strategy against sample, activating new alerts and
// resolving active alerts whose observed metric has fallen back below
// threshold×HysteresisFactor (spec.md §4.C).
func (e *Engine) Evaluate(sample types.ResourceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	produced := make(map[types.AlertKey]types.Alert)
	for _, strat := range e.strategies {
		for _, a := range strat.Evaluate(sample) {
			produced[a.Key()] = a
		}
	}

	for key, a := range produced {
		if _, alreadyActive := e.active[key]; alreadyActive {
			continue
		}
		if a.Severity == types.SeverityCritical {
			// Escalation: the critical alert replaces the warning for the same kind.
			delete(e.active, types.AlertKey{AgentID: a.AgentID, Kind: a.Kind, Severity: types.SeverityWarning})
		}
		e.active[key] = a
		e.recordLocked(a)
		e.emit(types.EventAgentResourceAlert, a)
	}

	e.resolveLocked(sample, produced)
}

// resolveLocked checks every active alert for the sample's agent and
// resolves any whose observed metric has fallen below the hysteresis
// boundary, per spec.md §4.C "Resolution". A strategy that no longer
// produces a kind/severity pair for this sample is also treated as
// resolvable if the sample carries a fresh observation below threshold.
func (e *Engine) resolveLocked(sample types.ResourceSample, produced map[types.AlertKey]types.Alert) {
	for key, active := range e.active {
		if key.AgentID != sample.AgentID {
			continue
		}
		if _, stillProduced := produced[key]; stillProduced {
			continue
		}

		observed, ok := observedValueForKind(sample, key.Kind)
		if !ok {
			continue
		}
		if observed <= active.Threshold*HysteresisFactor {
			active.Resolved = true
			active.ResolvedAt = sample.Timestamp
			delete(e.active, key)
			e.recordLocked(active)
			e.emit(types.EventAgentAlertResolved, active)
		}
	}
}

// RaiseManual activates an alert the Engine did not derive itself from a
// resource sample — e.g. the Prober's heartbeat-miss watch (spec.md §4.B,
// §12.4) — following the same activate-once/record/emit shape Evaluate
// uses for threshold alerts. A no-op if the (agent, kind, severity) key is
// already active.
func (e *Engine) RaiseManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, observed, threshold float64, message string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := types.Alert{
		AgentID:   agentID,
		Kind:      kind,
		Severity:  severity,
		Observed:  observed,
		Threshold: threshold,
		Timestamp: at,
		Message:   message,
	}
	key := a.Key()
	if _, alreadyActive := e.active[key]; alreadyActive {
		return
	}
	e.active[key] = a
	e.recordLocked(a)
	e.emit(types.EventAgentResourceAlert, a)
}

// ResolveManual resolves an alert previously raised via RaiseManual. A
// no-op if no such alert is active.
func (e *Engine) ResolveManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := types.AlertKey{AgentID: agentID, Kind: kind, Severity: severity}
	active, ok := e.active[key]
	if !ok {
		return
	}
	active.Resolved = true
	active.ResolvedAt = at
	delete(e.active, key)
	e.recordLocked(active)
	e.emit(types.EventAgentAlertResolved, active)
}

func observedValueForKind(sample types.ResourceSample, kind types.AlertKind) (float64, bool) {
	switch kind {
	case types.AlertKindCPU:
		return sample.CPUPercent, true
	case types.AlertKindMemory:
		if sample.MemoryPercentOfHost <= 0 {
			return 0, false
		}
		return sample.MemoryPercentOfHost, true
	default:
		return 0, false
	}
}

func (e *Engine) recordLocked(a types.Alert) {
	e.history = append(e.history, a)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}

func (e *Engine) emit(evtType types.EventType, a types.Alert) {
	log.WithAlertKind(string(a.Kind)).Debug().Str("agent_id", a.AgentID).Str("severity", string(a.Severity)).Msg("alert transition")
	if e.events == nil {
		return
	}
	alertCopy := a
	e.events.Emit(types.Event{
		ID:      uuid.NewString(),
		AgentID: a.AgentID,
		Type:    evtType,
		Time:    a.Timestamp,
		Alert:   &alertCopy,
	})
}

// ActiveAlerts returns a read-only snapshot of every currently active alert
// (spec.md §4.C "exposes a read-only snapshot of active alerts").
func (e *Engine) ActiveAlerts() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	return out
}

// ActiveAlertsForAgent filters ActiveAlerts to one agent.
func (e *Engine) ActiveAlertsForAgent(agentID string) []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Alert
	for key, a := range e.active {
		if key.AgentID == agentID {
			out = append(out, a)
		}
	}
	return out
}

// History returns a copy of the bounded alert history.
func (e *Engine) History() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Alert, len(e.history))
	copy(out, e.history)
	return out
}
