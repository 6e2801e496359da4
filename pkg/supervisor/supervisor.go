package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/alert"
	"github.com/CodingButter/agent-supervisor/pkg/checkpoint"
	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/eventbus"
	"github.com/CodingButter/agent-supervisor/pkg/interbus"
	"github.com/CodingButter/agent-supervisor/pkg/lifecycle"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/prober"
	"github.com/CodingButter/agent-supervisor/pkg/processhost"
	"github.com/CodingButter/agent-supervisor/pkg/sampler"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxAgents is the guardrail spec.md §4.G names as optional; zero
// (the zero value of Config.MaxAgents) disables the check entirely, so a
// caller that wants the default has to ask for it explicitly.
const DefaultMaxAgents = 64

// DefaultKillGrace is Kill's graceful-shutdown deadline before escalating
// to a forceful signal (spec.md §4.G "default 5 s").
const DefaultKillGrace = 5 * time.Second

// DefaultShutdownDeadline bounds Supervisor.Shutdown's parallel wait for
// every live agent to terminate (spec.md §5 "default graceful-shutdown
// deadline is 5-10 s").
const DefaultShutdownDeadline = 10 * time.Second

// DefaultEventHistoryPerAgent bounds how many recent events Events(id, ...)
// can return per agent, independent of the Event Bus's own ring.
const DefaultEventHistoryPerAgent = 200

// Config controls every subsystem the Supervisor constructs.
type Config struct {
	MaxAgents        int
	KillGrace        time.Duration
	ShutdownDeadline time.Duration
	DataDir          string
	EventLogPath     string
	EventRingCap     int
	MasterKey        []byte // 32 bytes; used to derive per-agent envsecrets keys

	Sampler   sampler.Config
	Prober    prober.Config
	Alert     alert.Config
	Lifecycle lifecycle.Config

	InterAgentBus bool // wire pkg/interbus per §4.H
	BusQueueCap   int
}

// AgentInfo is the read model Get/Info/InfoAll hand back: the state
// record, a copy of the config with secrets redacted, and the latest
// resource sample if one has been collected yet.
type AgentInfo struct {
	Config          types.AgentConfig
	State           types.StateRecord
	LatestSample    types.ResourceSample
	HasSample       bool
	PID             int
	Live            bool // false for checkpoint-only entries surviving a restart
	CheckpointedAt  time.Time
}

// Stats is the aggregate snapshot Stats() returns.
type Stats struct {
	TotalAgents  int
	ByState      map[types.AgentState]int
	ActiveAlerts int
}

// Supervisor is the integrator described in spec.md §4.G. It wires the
// Process Host, Lifecycle, Sampler, Prober, Alert Engine, and Event Bus
// together and owns the agent-id-keyed live map exclusively
// (spec.md §3 Ownership).
type Supervisor struct {
	cfg Config

	bus         *eventbus.Bus
	eventLogger *eventbus.Logger
	lifecycle   *lifecycle.Lifecycle
	sampler     *sampler.Sampler
	prober      *prober.Prober
	alerts      *alert.Engine
	checkpoint  *checkpoint.Store
	interbus    *interbus.Bus
	registry    *hostRegistry
	clk         clock.Clock

	eventsSub *eventbus.Subscription

	mu       sync.Mutex
	cfgs     map[string]types.AgentConfig // sealed (envsecrets encrypted) configs
	eventLog map[string][]types.Event
	closed   bool
}

// AgentHandle is the per-agent handle Spawn returns (spec.md §4.G
// "returns a handle exposing Write/Resize/Kill/Pause/Resume").
type AgentHandle struct {
	ID  string
	sup *Supervisor
}

// New constructs every subsystem and starts their background loops. The
// returned Supervisor has no live agents yet; call Spawn to create one.
func New(cfg Config) (*Supervisor, error) {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = DefaultShutdownDeadline
	}
	if len(cfg.MasterKey) == 0 {
		cfg.MasterKey = []byte("agent-supervisor-default-master-key")
	}

	clk := clock.System{}
	bus := eventbus.New(cfg.EventRingCap)

	var eventLogger *eventbus.Logger
	if cfg.EventLogPath != "" {
		eventLogger = eventbus.NewLogger(eventbus.DefaultLoggerConfig(cfg.EventLogPath), bus, clk)
		if err := eventLogger.Start(); err != nil {
			return nil, fmt.Errorf("supervisor: start event logger: %w", err)
		}
	}

	var cp *checkpoint.Store
	if cfg.DataDir != "" {
		var err error
		cp, err = checkpoint.Open(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("supervisor: open checkpoint store: %w", err)
		}
	}

	alertCfg := cfg.Alert
	if len(alertCfg.Strategies) == 0 {
		alertCfg = alert.DefaultConfig()
	}
	alerts := alert.New(alertCfg, bus)

	registry := newHostRegistry()

	s := &Supervisor{
		cfg:         cfg,
		bus:         bus,
		eventLogger: eventLogger,
		alerts:      alerts,
		checkpoint:  cp,
		registry:    registry,
		clk:         clk,
		cfgs:        make(map[string]types.AgentConfig),
		eventLog:    make(map[string][]types.Event),
	}

	lcCfg := cfg.Lifecycle
	lcCfg.Respawn = s.respawn
	s.lifecycle = lifecycle.New(lcCfg, bus, clk)

	s.sampler = sampler.New(cfg.Sampler, registry, s.lifecycle, alerts, bus, clk)
	s.prober = prober.New(cfg.Prober, registry, s.lifecycle, s.lifecycle, registry, bus, alerts, clk)

	if cfg.InterAgentBus {
		s.interbus = interbus.New(cfg.BusQueueCap, bus, clk)
	}

	s.eventsSub = bus.Subscribe(0)
	go s.recordEvents(s.eventsSub)

	return s, nil
}

// recordEvents drains the Supervisor's catch-all subscription into a
// bounded per-agent ring so Events(id, ...) can serve recent history
// without re-reading the Event Bus's own (Logger-owned) ring.
func (s *Supervisor) recordEvents(sub *eventbus.Subscription) {
	ctx := context.Background()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		s.mu.Lock()
		hist := append(s.eventLog[ev.AgentID], ev)
		if len(hist) > DefaultEventHistoryPerAgent {
			hist = hist[len(hist)-DefaultEventHistoryPerAgent:]
		}
		s.eventLog[ev.AgentID] = hist
		s.mu.Unlock()
	}
}

// Spawn validates cfg, enforces the capacity guardrail, creates a Process
// Host, registers it with Lifecycle, and starts its Sampler and Prober
// loops (spec.md §4.G).
func (s *Supervisor) Spawn(cfg types.AgentConfig) (*AgentHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrFatal, "supervisor is shutting down", nil)
	}
	if _, exists := s.cfgs[cfg.ID]; exists {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrConflict, fmt.Sprintf("agent %q already exists", cfg.ID), nil)
	}
	if s.cfg.MaxAgents > 0 && len(s.cfgs) >= s.cfg.MaxAgents {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrCapacity, "max agent count reached", nil)
	}

	sealedEnv, err := sealEnvForStorage(s.cfg.MasterKey, cfg.ID, cfg.Env)
	if err != nil {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrFatal, "failed to seal agent secrets", err)
	}
	sealedCfg := cfg
	sealedCfg.Env = sealedEnv
	s.cfgs[cfg.ID] = sealedCfg
	s.mu.Unlock()

	if err := s.lifecycle.Register(sealedCfg); err != nil {
		s.mu.Lock()
		delete(s.cfgs, cfg.ID)
		s.mu.Unlock()
		return nil, err
	}

	host, err := s.startHost(sealedCfg)
	if err != nil {
		s.lifecycle.UpdateStatus(cfg.ID, types.StateError, "spawn_failed", err.Error())
		return nil, types.NewError(types.ErrOS, "failed to spawn process host", err)
	}

	s.registry.put(cfg.ID, host)
	s.sampler.Register(cfg.ID)
	s.prober.Register(cfg.ID)
	if s.interbus != nil {
		s.interbus.Subscribe(cfg.ID)
	}
	go s.watchExit(cfg.ID, host)

	s.checkpointSave(cfg.ID)

	return &AgentHandle{ID: cfg.ID, sup: s}, nil
}

// startHost decrypts sealedCfg's secret environment entries and spawns the
// Process Host with the plaintext result (SPEC_FULL.md §12.2: secrets are
// decrypted only at spawn time, never held in the live config map).
func (s *Supervisor) startHost(sealedCfg types.AgentConfig) (*processhost.Host, error) {
	plainEnv, err := unsealEnvForSpawn(s.cfg.MasterKey, sealedCfg.ID, sealedCfg.Env)
	if err != nil {
		return nil, err
	}
	spawnCfg := sealedCfg
	spawnCfg.Env = plainEnv
	return processhost.Spawn(spawnCfg, s.lifecycle, s.bus)
}

// respawn is Lifecycle's RespawnFunc: it is invoked after a restart timer
// fires and the agent has already been transitioned back to "starting"
// (spec.md §4.F step 5 "Supervisor respawns the Process Host").
func (s *Supervisor) respawn(agentID string) {
	s.mu.Lock()
	sealedCfg, ok := s.cfgs[agentID]
	s.mu.Unlock()
	if !ok {
		return
	}

	host, err := s.startHost(sealedCfg)
	if err != nil {
		s.lifecycle.UpdateStatus(agentID, types.StateError, "respawn_failed", err.Error())
		return
	}
	s.registry.put(agentID, host)
	go s.watchExit(agentID, host)
}

// watchExit observes a Process Host's exit and drives the corresponding
// Lifecycle transition: any exit while a shutdown is in flight, whatever
// its exit code, is treated as termination; any other exit is a crash
// eligible for restart.
func (s *Supervisor) watchExit(agentID string, host *processhost.Host) {
	<-host.Done()

	state, ok := s.lifecycle.GetState(agentID)
	if !ok {
		return
	}
	code, sig := host.ExitResult()
	detail := fmt.Sprintf("code=%d signal=%s", code, sig)

	if state.ShutdownInFlight {
		// GracefulShutdown is waiting on this exact transition
		// (spec.md §4.F "Return true if terminated observed before
		// deadline"); Kill has already committed to tearing this agent
		// down, so there is no "stopped but still live" state to land in.
		// Kill itself checkpoints the final record once GracefulShutdown
		// returns — doing it here too would race against Kill's
		// cleanupAgent, which deletes the in-memory config this same
		// instant GracefulShutdown unblocks.
		s.lifecycle.UpdateStatus(agentID, types.StateTerminated, "process_exited", detail)
		return
	}

	s.lifecycle.UpdateStatus(agentID, types.StateCrashed, "process_exited_unexpectedly", detail)
	s.checkpointSave(agentID)
}

// Kill initiates graceful shutdown of agentID with the Supervisor's
// configured grace period, escalating to a forceful kill on timeout, then
// removes the agent from the live map (spec.md §4.G).
func (s *Supervisor) Kill(agentID string, sig syscall.Signal) error {
	host, ok := s.registry.get(agentID)
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("agent %q not found", agentID), nil)
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}

	if err := host.Kill(sig); err != nil {
		log.WithAgentID(agentID).Warn().Err(err).Msg("kill signal delivery failed")
	}

	if !s.lifecycle.GracefulShutdown(agentID, s.cfg.KillGrace) {
		_ = host.Kill(syscall.SIGKILL)
	}

	_ = host.Close()
	// Checkpoint the final state before removing the agent's in-memory
	// config — cleanupAgent deletes s.cfgs, and running them in the other
	// order would race checkpointSave against the delete.
	s.checkpointSave(agentID)
	s.cleanupAgent(agentID)
	return nil
}

// cleanupAgent removes agentID from every live subsystem without touching
// its checkpoint record.
func (s *Supervisor) cleanupAgent(agentID string) {
	s.registry.remove(agentID)
	s.sampler.Unregister(agentID)
	s.prober.Unregister(agentID)
	if s.interbus != nil {
		s.interbus.Unsubscribe(agentID)
	}
	s.lifecycle.Unregister(agentID)

	s.mu.Lock()
	delete(s.cfgs, agentID)
	s.mu.Unlock()
}

// Get returns a handle to a live agent.
func (s *Supervisor) Get(agentID string) (*AgentHandle, bool) {
	if _, ok := s.registry.get(agentID); !ok {
		return nil, false
	}
	return &AgentHandle{ID: agentID, sup: s}, true
}

// List returns the ids of every live agent.
func (s *Supervisor) List() []string {
	ids := s.registry.ids()
	sort.Strings(ids)
	return ids
}

// Info returns the read model for one live agent.
func (s *Supervisor) Info(agentID string) (AgentInfo, bool) {
	state, ok := s.lifecycle.GetState(agentID)
	if !ok {
		return AgentInfo{}, false
	}

	s.mu.Lock()
	sealedCfg := s.cfgs[agentID]
	s.mu.Unlock()

	info := AgentInfo{
		Config: withRedactedEnv(sealedCfg),
		State:  state,
		Live:   true,
	}
	if sample, ok := s.lifecycle.LatestSample(agentID); ok {
		info.LatestSample, info.HasSample = sample, true
	}
	if pid, ok := s.registry.PID(agentID); ok {
		info.PID = pid
	}
	return info, true
}

// InfoAll returns the read model for every live agent plus, per
// SPEC_FULL.md §12.1, every checkpointed agent that is no longer live
// (surfaced read-only, never auto-resumed).
func (s *Supervisor) InfoAll() []AgentInfo {
	var out []AgentInfo
	for _, id := range s.List() {
		if info, ok := s.Info(id); ok {
			out = append(out, info)
		}
	}

	if s.checkpoint != nil {
		records, err := s.checkpoint.List()
		if err == nil {
			for _, rec := range records {
				if _, live := s.registry.get(rec.Config.ID); live {
					continue
				}
				out = append(out, AgentInfo{
					Config:         withRedactedEnv(rec.Config),
					State:          rec.State,
					Live:           false,
					CheckpointedAt: rec.CheckpointedAt,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// Stats aggregates the current agent population by state and reports the
// number of currently active alerts.
func (s *Supervisor) Stats() Stats {
	stats := Stats{ByState: make(map[types.AgentState]int)}
	for _, id := range s.registry.ids() {
		if state, ok := s.lifecycle.GetState(id); ok {
			stats.ByState[state.Current]++
			stats.TotalAgents++
		}
	}
	stats.ActiveAlerts = len(s.alerts.ActiveAlerts())
	return stats
}

// AgentCountsByState implements metrics.StatsSource.
func (s *Supervisor) AgentCountsByState() map[types.AgentState]int {
	return s.Stats().ByState
}

// ActiveAlertCount implements metrics.StatsSource.
func (s *Supervisor) ActiveAlertCount() int {
	return len(s.alerts.ActiveAlerts())
}

// Events returns up to limit events recorded for agentID since sinceID
// (exclusive), in emission order. sinceID may be empty to return the most
// recent limit events.
func (s *Supervisor) Events(agentID string, sinceID string, limit int) []types.Event {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	hist := append([]types.Event(nil), s.eventLog[agentID]...)
	s.mu.Unlock()

	if sinceID != "" {
		for i, ev := range hist {
			if ev.ID == sinceID {
				hist = hist[i+1:]
				break
			}
		}
	}
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return hist
}

// HealthCheck aggregates liveness across every live agent and the
// supporting subsystems (spec.md §4.G "aggregates liveness of all agents
// and dependencies").
func (s *Supervisor) HealthCheck() (bool, []string) {
	var issues []string
	for _, id := range s.registry.ids() {
		if healthy, ok := s.prober.Healthy(id); ok && !healthy {
			issues = append(issues, fmt.Sprintf("agent %s is unhealthy", id))
		}
	}
	if s.eventLogger == nil {
		issues = append(issues, "event logger not configured")
	}
	return len(issues) == 0, issues
}

// Shutdown gracefully shuts down every live agent in parallel, bounded by
// the Supervisor's configured shutdown deadline, then tears down every
// subsystem in the teacher's Manager.Shutdown order: event plumbing last.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ids := s.registry.ids()

	deadlineCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownDeadline)
	defer cancel()

	g, _ := errgroup.WithContext(deadlineCtx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.Kill(id, syscall.SIGTERM)
		})
	}
	_ = g.Wait()

	s.lifecycle.Shutdown()
	s.sampler.Shutdown()
	s.prober.Shutdown()
	if s.interbus != nil {
		s.interbus.Shutdown()
	}
	if s.eventsSub != nil {
		s.bus.Unsubscribe(s.eventsSub)
	}
	if s.eventLogger != nil {
		s.eventLogger.Stop()
	}
	if s.checkpoint != nil {
		if err := s.checkpoint.Close(); err != nil {
			return fmt.Errorf("supervisor: close checkpoint store: %w", err)
		}
	}
	return nil
}

// Bus exposes the Event Bus for external subscribers (spec.md §4.D
// "External callers observe through D").
func (s *Supervisor) Bus() *eventbus.Bus { return s.bus }

// InterBus exposes the Inter-agent Bus, or nil if Config.InterAgentBus was
// false.
func (s *Supervisor) InterBus() *interbus.Bus { return s.interbus }

func (s *Supervisor) checkpointSave(agentID string) {
	if s.checkpoint == nil {
		return
	}
	s.mu.Lock()
	cfg, ok := s.cfgs[agentID]
	s.mu.Unlock()
	if !ok {
		return
	}
	state, ok := s.lifecycle.GetState(agentID)
	if !ok {
		return
	}
	if err := s.checkpoint.Save(cfg, state); err != nil {
		log.WithAgentID(agentID).Warn().Err(err).Msg("checkpoint save failed")
	}
}

func withRedactedEnv(cfg types.AgentConfig) types.AgentConfig {
	out := cfg
	out.Env = redactEnvForReporting(cfg.Env)
	return out
}

// Write forwards to the underlying Process Host, gated by the agent's
// current Lifecycle state (spec.md §4.E).
func (h *AgentHandle) Write(data []byte) error {
	host, ok := h.sup.registry.get(h.ID)
	if !ok {
		return types.NewError(types.ErrNotFound, "agent not found", nil)
	}
	return host.Write(data)
}

// Resize forwards to the underlying Process Host's PTY.
func (h *AgentHandle) Resize(cols, rows uint16) error {
	host, ok := h.sup.registry.get(h.ID)
	if !ok {
		return types.NewError(types.ErrNotFound, "agent not found", nil)
	}
	return host.Resize(cols, rows)
}

// Kill initiates this agent's graceful shutdown.
func (h *AgentHandle) Kill(sig syscall.Signal) error {
	return h.sup.Kill(h.ID, sig)
}

// Pause stops the underlying process with SIGSTOP (spec.md §3 "paused"
// is "SIGSTOP-equivalent") and transitions the agent to the paused state.
// The Lifecycle transition is attempted even when no live process host is
// found; it succeeds only while Lifecycle still tracks the agent, so a
// checkpoint-only (not live) agent cannot be marked paused.
func (h *AgentHandle) Pause() bool {
	if host, ok := h.sup.registry.get(h.ID); ok {
		if err := host.Kill(syscall.SIGSTOP); err != nil {
			log.WithAgentID(h.ID).Warn().Err(err).Msg("pause: SIGSTOP failed")
		}
	}
	return h.sup.lifecycle.UpdateStatus(h.ID, types.StatePaused, "user_requested_pause", "")
}

// Resume resumes the underlying process with SIGCONT and transitions a
// paused agent back to idle.
func (h *AgentHandle) Resume() bool {
	if host, ok := h.sup.registry.get(h.ID); ok {
		if err := host.Kill(syscall.SIGCONT); err != nil {
			log.WithAgentID(h.ID).Warn().Err(err).Msg("resume: SIGCONT failed")
		}
	}
	return h.sup.lifecycle.UpdateStatus(h.ID, types.StateIdle, "user_requested_resume", "")
}
