package prober

import (
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultPeriod is the default probe cycle interval (spec.md §4.B).
const DefaultPeriod = 5 * time.Second

// DefaultDeadline is the default per-probe deadline.
const DefaultDeadline = 3 * time.Second

// DefaultRetries is the default consecutive-failure threshold.
const DefaultRetries = 3

// DefaultGracePeriod suppresses failures for this long after registration.
const DefaultGracePeriod = 10 * time.Second

// DefaultHeartbeatInterval is the default wall-clock inactivity timeout
// watched independently of the probe cycle.
const DefaultHeartbeatInterval = 5 * time.Minute

// responsivenessToken is written to the PTY input stream as the
// responsiveness probe. It is a single NUL byte, chosen to be invisible
// noise to a shell rather than a command that could have a visible side
// effect.
const responsivenessToken = "\x00"

// ProcessAccess is the Prober's weak reference to the Process Host: a
// lookup-by-id plus the single write operation the responsiveness probe
// needs (spec.md §3 Ownership).
type ProcessAccess interface {
	PID(agentID string) (pid int, ok bool)
	Write(agentID string, data []byte) error
}

// SampleSource exposes the most recent resource sample for an agent, used
// by the resource-sanity probe.
type SampleSource interface {
	LatestSample(agentID string) (types.ResourceSample, bool)
}

// LimitSource exposes per-agent resource caps, if the agent was configured
// with any (spec.md §4.B probe 2 "or, absent caps, within global
// thresholds").
type LimitSource interface {
	ResourceLimits(agentID string) (types.ResourceLimits, bool)
}

// ActivitySource reports the last time an agent produced PTY output, for
// the heartbeat watch.
type ActivitySource interface {
	LastActivity(agentID string) (time.Time, bool)
}

// EventEmitter publishes health events onto the event bus.
type EventEmitter interface {
	Emit(event types.Event)
}

// AlertRaiser is the narrow Alert Engine view the heartbeat watch raises
// and resolves its "heartbeat" alert through, alongside the threshold
// alerts the Sampler drives from resource samples (spec.md §4.B, §4.C).
type AlertRaiser interface {
	RaiseManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, observed, threshold float64, message string, at time.Time)
	ResolveManual(agentID string, kind types.AlertKind, severity types.AlertSeverity, at time.Time)
}

// DefaultHeartbeatMissThreshold is the number of consecutive heartbeat
// misses the watch tolerates before escalating to the Alert Engine.
const DefaultHeartbeatMissThreshold = 3

// Config controls probe cadence, deadlines, and global fallback caps.
type Config struct {
	Period            time.Duration
	Deadline          time.Duration
	Retries           int
	GracePeriod       time.Duration
	HeartbeatInterval time.Duration
	GlobalMaxMemoryMB int
	GlobalMaxCPUPct   float64
}

// DefaultConfig returns spec.md §4.B's default Prober configuration.
func DefaultConfig() Config {
	return Config{
		Period:            DefaultPeriod,
		Deadline:          DefaultDeadline,
		Retries:           DefaultRetries,
		GracePeriod:       DefaultGracePeriod,
		HeartbeatInterval: DefaultHeartbeatInterval,
		GlobalMaxMemoryMB: 0,
		GlobalMaxCPUPct:   0,
	}
}

type status struct {
	consecutiveFailures int
	heartbeatMisses     int
	healthy             bool
	startedAt           time.Time
}

// Prober runs the probe cycle and heartbeat watch for every registered
// agent.
type Prober struct {
	cfg      Config
	process  ProcessAccess
	samples  SampleSource
	limits   LimitSource
	activity ActivitySource
	events   EventEmitter
	alerts   AlertRaiser
	clk      clock.Clock

	mu       sync.Mutex
	statuses map[string]*status
	stopFns  map[string]func()
}

// New builds a Prober. alerts may be nil, in which case heartbeat misses
// are still counted and logged but never escalated. clk defaults to
// clock.System{} if nil.
func New(cfg Config, process ProcessAccess, samples SampleSource, limits LimitSource, activity ActivitySource, events EventEmitter, alerts AlertRaiser, clk clock.Clock) *Prober {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Prober{
		cfg:      cfg,
		process:  process,
		samples:  samples,
		limits:   limits,
		activity: activity,
		events:   events,
		alerts:   alerts,
		clk:      clk,
		statuses: make(map[string]*status),
		stopFns:  make(map[string]func()),
	}
}

// Register starts probing and heartbeat-watching agentID.
func (p *Prober) Register(agentID string) {
	p.mu.Lock()
	p.statuses[agentID] = &status{healthy: true, startedAt: p.clk.Now()}
	stop := make(chan struct{})
	p.stopFns[agentID] = func() { close(stop) }
	p.mu.Unlock()

	go p.probeLoop(agentID, stop)
	go p.heartbeatLoop(agentID, stop)
}

// Unregister stops probing agentID.
func (p *Prober) Unregister(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stop, ok := p.stopFns[agentID]; ok {
		stop()
		delete(p.stopFns, agentID)
	}
	delete(p.statuses, agentID)
}

// Shutdown stops every running probe loop.
func (p *Prober) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, stop := range p.stopFns {
		stop()
		delete(p.stopFns, id)
	}
}

// Healthy reports the last-known aggregate health flag for agentID.
func (p *Prober) Healthy(agentID string) (healthy bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, exists := p.statuses[agentID]
	if !exists {
		return false, false
	}
	return st.healthy, true
}

func (p *Prober) probeLoop(agentID string, stop chan struct{}) {
	timer := p.clk.NewTimer(p.cfg.Period)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C():
			p.runCycle(agentID)
			timer.Reset(p.cfg.Period)
		}
	}
}

func (p *Prober) heartbeatLoop(agentID string, stop chan struct{}) {
	interval := p.cfg.HeartbeatInterval / 2
	timer := p.clk.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C():
			p.checkHeartbeat(agentID)
			timer.Reset(interval)
		}
	}
}

// checkHeartbeat counts consecutive inactivity-timeout misses and, once
// DefaultHeartbeatMissThreshold consecutive misses have accumulated,
// raises a "heartbeat" alert through the Alert Engine so it shows up
// alongside resource-threshold alerts (spec.md §4.B, §12.4). A resumed
// heartbeat resets the counter and resolves any alert it raised.
func (p *Prober) checkHeartbeat(agentID string) {
	if p.activity == nil {
		return
	}
	last, ok := p.activity.LastActivity(agentID)
	if !ok {
		return
	}

	p.mu.Lock()
	st, exists := p.statuses[agentID]
	p.mu.Unlock()
	if !exists {
		return
	}

	now := p.clk.Now()
	if now.Sub(last) <= p.cfg.HeartbeatInterval {
		p.mu.Lock()
		hadMisses := st.heartbeatMisses > 0
		st.heartbeatMisses = 0
		p.mu.Unlock()
		if hadMisses && p.alerts != nil {
			p.alerts.ResolveManual(agentID, types.AlertKindHeartbeat, types.SeverityCritical, now)
		}
		return
	}

	p.mu.Lock()
	st.heartbeatMisses++
	misses := st.heartbeatMisses
	p.mu.Unlock()

	p.emit(agentID, types.EventHeartbeatMissed, "inactivity timeout exceeded")

	if misses >= DefaultHeartbeatMissThreshold && p.alerts != nil {
		p.alerts.RaiseManual(agentID, types.AlertKindHeartbeat, types.SeverityCritical,
			float64(misses), float64(DefaultHeartbeatMissThreshold),
			"agent missed 3 consecutive heartbeats", now)
	}
}

// runCycle executes the three ordered probes and updates the consecutive
// failure counter, emitting agent:health_failed / agent:health_recovered on
// state transitions (spec.md §4.B Aggregation).
func (p *Prober) runCycle(agentID string) {
	p.mu.Lock()
	st, exists := p.statuses[agentID]
	p.mu.Unlock()
	if !exists {
		return
	}

	inGrace := p.clk.Now().Sub(st.startedAt) < p.cfg.GracePeriod

	passed := p.probeLiveness(agentID) && p.probeResourceSanity(agentID) && p.probeResponsiveness(agentID)

	p.emit(agentID, types.EventAgentHealthCheck, "")

	if passed {
		p.mu.Lock()
		wasUnhealthy := !st.healthy
		st.consecutiveFailures = 0
		st.healthy = true
		p.mu.Unlock()
		if wasUnhealthy {
			p.emit(agentID, types.EventAgentHealthRecover, "")
		}
		return
	}

	if inGrace {
		return
	}

	p.mu.Lock()
	st.consecutiveFailures++
	reachedThreshold := st.consecutiveFailures >= p.cfg.Retries
	alreadyFailed := !st.healthy
	if reachedThreshold {
		st.healthy = false
	}
	p.mu.Unlock()

	if reachedThreshold && !alreadyFailed {
		p.emit(agentID, types.EventAgentHealthFailed, "probe cycle failed")
	}
}

func (p *Prober) probeLiveness(agentID string) bool {
	if p.process == nil {
		return true
	}
	_, ok := p.process.PID(agentID)
	return ok
}

func (p *Prober) probeResourceSanity(agentID string) bool {
	if p.samples == nil {
		return true
	}
	sample, ok := p.samples.LatestSample(agentID)
	if !ok {
		return false
	}

	maxMemMB := p.cfg.GlobalMaxMemoryMB
	maxCPU := p.cfg.GlobalMaxCPUPct
	if p.limits != nil {
		if lim, hasLimits := p.limits.ResourceLimits(agentID); hasLimits {
			if lim.MaxMemoryMB > 0 {
				maxMemMB = lim.MaxMemoryMB
			}
			if lim.MaxCPUPercent > 0 {
				maxCPU = lim.MaxCPUPercent
			}
		}
	}

	if maxMemMB > 0 {
		sampleMB := sample.MemoryResidentBytes / (1024 * 1024)
		if sampleMB > int64(maxMemMB) {
			return false
		}
	}
	if maxCPU > 0 && sample.CPUPercent > maxCPU {
		return false
	}
	return true
}

// probeResponsiveness writes a single token to the PTY input and treats a
// successful, in-deadline write as success — spec.md §4.B explicitly keeps
// this loose, write-only contract rather than requiring an echoed-marker
// round trip (see spec.md §9 Open Questions).
func (p *Prober) probeResponsiveness(agentID string) bool {
	if p.process == nil {
		return true
	}
	done := make(chan error, 1)
	go func() {
		done <- p.process.Write(agentID, []byte(responsivenessToken))
	}()
	select {
	case err := <-done:
		return err == nil
	case <-p.clk.After(p.cfg.Deadline):
		return false
	}
}

func (p *Prober) emit(agentID string, evtType types.EventType, reason string) {
	log.WithAgentID(agentID).Debug().Str("event", string(evtType)).Msg("prober event")
	if p.events == nil {
		return
	}
	p.events.Emit(types.Event{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Type:    evtType,
		Time:    p.clk.Now(),
		Reason:  reason,
	})
}
