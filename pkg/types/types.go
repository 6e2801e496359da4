package types

import "time"

// AgentState represents the current lifecycle state of a supervised agent.
type AgentState string

const (
	StateSpawned    AgentState = "spawned"
	StateStarting   AgentState = "starting"
	StateReady      AgentState = "ready"
	StateIdle       AgentState = "idle"
	StateBusy       AgentState = "busy"
	StateRunning    AgentState = "running"
	StatePaused     AgentState = "paused"
	StateStopping   AgentState = "stopping"
	StateStopped    AgentState = "stopped"
	StateExited     AgentState = "exited"
	StateError      AgentState = "error"
	StateCrashed    AgentState = "crashed"
	StateTerminated AgentState = "terminated"
)

// transitionTable is the authoritative initial-state -> allowed-next-states
// map from spec.md §3. Any transition not listed here is rejected.
var transitionTable = map[AgentState]map[AgentState]bool{
	StateSpawned: set(StateReady, StateStarting, StateError, StateCrashed, StateTerminated),
	StateStarting: set(StateIdle, StateRunning, StateReady, StateBusy, StateError,
		StateCrashed, StateTerminated),
	StateReady: set(StateIdle, StateBusy, StateRunning, StateError, StateCrashed, StateTerminated),
	StateIdle: set(StateBusy, StateRunning, StatePaused, StateStopping, StateError,
		StateCrashed, StateTerminated),
	StateBusy: set(StateIdle, StateRunning, StatePaused, StateStopping, StateError,
		StateCrashed, StateTerminated),
	StateRunning: set(StateIdle, StateBusy, StatePaused, StateStopping, StateError,
		StateCrashed, StateTerminated),
	StatePaused: set(StateIdle, StateBusy, StateRunning, StateStopping, StateStopped,
		StateError, StateCrashed, StateTerminated),
	StateStopping: set(StateStopped, StateExited, StateTerminated, StateError, StateCrashed),
	StateStopped:  set(StateStarting, StateTerminated),
	StateExited:   set(StateStarting, StateTerminated),
	StateError:    set(StateStarting, StateCrashed, StateTerminated),
	StateCrashed:  set(StateStarting, StateTerminated),
	// StateTerminated: no further transitions.
}

func set(states ...AgentState) map[AgentState]bool {
	m := make(map[AgentState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// IsValidTransition reports whether moving from one state to another is
// permitted by the transition table in spec.md §3.
func IsValidTransition(from, to AgentState) bool {
	allowed, ok := transitionTable[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsTerminal reports whether a state accepts no further transitions.
func IsTerminal(s AgentState) bool {
	return s == StateTerminated
}

// ResourceLimits are optional per-agent ceilings enforced by the prober and
// validated at spawn time.
type ResourceLimits struct {
	MaxMemoryMB   int           // must be >= 256 if set
	MaxCPUPercent float64       // must be within [0, 100] if set
	ShutdownGrace time.Duration // grace period before escalating to SIGKILL
}

// RestartStrategy controls how the restart delay grows between attempts.
type RestartStrategy string

const (
	RestartFixed       RestartStrategy = "fixed"
	RestartLinear      RestartStrategy = "linear"
	RestartExponential RestartStrategy = "exponential"
)

// RestartPolicy configures Lifecycle's automatic-restart behavior.
type RestartPolicy struct {
	Enabled     bool
	MaxAttempts int
	Strategy    RestartStrategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRestartPolicy mirrors the defaults named in spec.md §4.F.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:     true,
		MaxAttempts: 3,
		Strategy:    RestartExponential,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// PTYOptions configures the pseudo-terminal a Process Host spawns.
type PTYOptions struct {
	Shell   string // default /bin/bash
	Cols    int    // default 80
	Rows    int    // default 24
	TermEnv string // default xterm-256color
}

// DefaultPTYOptions returns the defaults named in spec.md §4.E.
func DefaultPTYOptions() PTYOptions {
	return PTYOptions{Shell: "/bin/bash", Cols: 80, Rows: 24, TermEnv: "xterm-256color"}
}

// AgentConfig holds the caller-provided spawn parameters for one agent
// (spec.md §3 "Agent identity").
type AgentConfig struct {
	ID        string
	Name      string
	Model     string
	Workspace string
	Env       map[string]string
	Limits    *ResourceLimits
	PTY       *PTYOptions
	Restart   *RestartPolicy
}

// Validate performs the field checks spec.md §4.G requires before Spawn
// accepts a config: id, name, and workspace are required; resource limits,
// if set, must fall within their valid ranges.
func (c *AgentConfig) Validate() error {
	if c.ID == "" {
		return NewError(ErrValidation, "agent id is required", nil)
	}
	if c.Name == "" {
		return NewError(ErrValidation, "agent name is required", nil)
	}
	if c.Workspace == "" {
		return NewError(ErrValidation, "agent workspace is required", nil)
	}
	if c.Limits != nil {
		if c.Limits.MaxMemoryMB != 0 && c.Limits.MaxMemoryMB < 256 {
			return NewError(ErrValidation, "max memory must be >= 256MB", nil)
		}
		if c.Limits.MaxCPUPercent < 0 || c.Limits.MaxCPUPercent > 100 {
			return NewError(ErrValidation, "max cpu percent must be within [0,100]", nil)
		}
	}
	return nil
}

// Transition is one history entry recorded by Lifecycle on every accepted
// state change.
type Transition struct {
	From      AgentState
	To        AgentState
	When      time.Time
	Reason    string
	Detail    string
}

// StateRecord is the per-agent record owned exclusively by Lifecycle
// (spec.md §3 "State record").
type StateRecord struct {
	ID                string
	Current           AgentState
	RestartCount      int
	LastTransitionAt  time.Time
	LastHealthCheckAt time.Time
	ShutdownInFlight  bool
	History           []Transition
}

// ResourceSample is one tick of per-agent resource accounting
// (spec.md §3 "Resource sample").
type ResourceSample struct {
	AgentID   string
	Timestamp time.Time

	CPUPercent float64 // normalized to a single core, [0,100]

	MemoryResidentBytes int64
	MemoryHeapEstimate  int64
	MemoryExternal      int64
	MemoryPercentOfHost float64

	IOReadBytes  uint64
	IOWriteBytes uint64
	IOReadOps    uint64
	IOWriteOps   uint64

	NetRxBytes   uint64
	NetTxBytes   uint64
	NetRxPackets uint64
	NetTxPackets uint64

	OpenFDCount int
	PeakFDCount int

	DiskFreeBytes  uint64
	DiskTotalBytes uint64
	DiskPercent    float64
}

// AlertKind enumerates the kinds of thresholds the Alert Engine watches.
type AlertKind string

const (
	AlertKindCPU       AlertKind = "cpu"
	AlertKindMemory    AlertKind = "memory"
	AlertKindDisk      AlertKind = "disk"
	AlertKindIO        AlertKind = "io"
	AlertKindNetwork   AlertKind = "network"
	AlertKindHeartbeat AlertKind = "heartbeat"
)

// AlertSeverity enumerates how serious an active alert currently is.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is one raised (and, later, resolved) threshold crossing
// (spec.md §3 "Alert").
type Alert struct {
	AgentID   string
	Kind      AlertKind
	Severity  AlertSeverity
	Observed  float64
	Threshold float64
	Timestamp time.Time
	Message    string
	Resolved   bool
	ResolvedAt time.Time
}

// Key identifies the (agent, kind, severity) tuple the Alert Engine keys
// active alerts by (spec.md §4.C "Activation").
func (a Alert) Key() AlertKey {
	return AlertKey{AgentID: a.AgentID, Kind: a.Kind, Severity: a.Severity}
}

// AlertKey is the activation key for an alert.
type AlertKey struct {
	AgentID  string
	Kind     AlertKind
	Severity AlertSeverity
}

// EventType enumerates the lifecycle/resource/alert event names emitted
// across the supervisor. The set is non-exhaustive per spec.md §4.D.
type EventType string

const (
	EventAgentRegistered     EventType = "agent:registered"
	EventAgentStarting       EventType = "agent:starting"
	EventAgentStarted        EventType = "agent:started"
	EventAgentIdle           EventType = "agent:idle"
	EventAgentBusy           EventType = "agent:busy"
	EventAgentPaused         EventType = "agent:paused"
	EventAgentResumed        EventType = "agent:resumed"
	EventAgentStopping       EventType = "agent:stopping"
	EventAgentStopped        EventType = "agent:stopped"
	EventAgentCrashed        EventType = "agent:crashed"
	EventAgentError          EventType = "agent:error"
	EventAgentTerminated     EventType = "agent:terminated"
	EventAgentRestartAttempt EventType = "agent:restart_attempt"
	EventAgentRestartSuccess EventType = "agent:restart_success"
	EventAgentRestartFailed  EventType = "agent:restart_failed"
	EventAgentHealthCheck    EventType = "agent:health_check"
	EventAgentHealthWarning  EventType = "agent:health_warning"
	EventAgentHealthCritical EventType = "agent:health_critical"
	EventAgentResourceAlert  EventType = "agent:resource_alert"
	EventAgentAlertResolved  EventType = "agent:alert_resolved"
	EventAgentLimitExceeded  EventType = "agent:limit_exceeded"
	EventAgentCleanupStarted EventType = "agent:cleanup_started"
	EventAgentCleanupDone    EventType = "agent:cleanup_completed"
	EventAgentOutput         EventType = "agent:output"
	EventAgentExit           EventType = "agent:exit"
	EventAgentHealthFailed   EventType = "agent:health_failed"
	EventAgentHealthRecover  EventType = "agent:health_recovered"
	EventHeartbeatMissed     EventType = "agent:heartbeat_missed"
	EventShutdownRequest     EventType = "agent:shutdown_request"
	EventShutdownTimeout     EventType = "agent:shutdown_timeout"
	EventSamplerStopped      EventType = "sampler:stopped"
	EventSample              EventType = "agent:sample"
	EventBusDropped          EventType = "bus:dropped"
)

// Event is one lifecycle/resource/alert occurrence fanned out by the event
// bus (spec.md §3 "Lifecycle event").
type Event struct {
	ID       string
	AgentID  string
	Type     EventType
	Time     time.Time
	Previous AgentState
	Reason   string
	Duration time.Duration
	Sample   *ResourceSample
	Alert    *Alert
	ErrDetail string
	Metadata map[string]string
}

// BusMessageKind enumerates the inter-agent bus message kinds.
type BusMessageKind string

const (
	BusKindRequest   BusMessageKind = "request"
	BusKindResponse  BusMessageKind = "response"
	BusKindBroadcast BusMessageKind = "broadcast"
	BusKindHandoff   BusMessageKind = "handoff"
)

// BroadcastRecipient is the sentinel recipient id for a broadcast message.
const BroadcastRecipient = "broadcast"

// BusMessage is one inter-agent bus envelope (spec.md §3 "Bus message").
type BusMessage struct {
	ID            string
	From          string
	To            string
	Kind          BusMessageKind
	Payload       any
	Timestamp     time.Time
	CorrelationID string
}
