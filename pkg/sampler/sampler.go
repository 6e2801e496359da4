package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/procstat"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/google/uuid"
)

// DefaultPeriod is the default tick interval (spec.md §4.A "default 2 s").
const DefaultPeriod = 2 * time.Second

// DefaultHistoryCap is the default per-agent ring buffer capacity
// (spec.md §4.A "default ≈100").
const DefaultHistoryCap = 100

// DefaultCoalesceWindow is how often the batch-mode coalescing timer fires.
const DefaultCoalesceWindow = 250 * time.Millisecond

// ProcessLocator resolves an agent id to its OS process id. The Sampler
// holds only this lookup-by-id interface, never the Process Host itself
// (spec.md §3 Ownership: "Sampler ... hold[s] weak references to the
// Process Host (lookup-by-id)").
type ProcessLocator interface {
	PID(agentID string) (pid int, ok bool)
}

// HistorySink receives every assembled sample for an agent's bounded
// history ring, owned by pkg/lifecycle.
type HistorySink interface {
	PushSample(agentID string, sample types.ResourceSample)
}

// AlertEvaluator hands a fresh sample to the Alert Engine.
type AlertEvaluator interface {
	Evaluate(sample types.ResourceSample)
}

// EventEmitter publishes lifecycle/resource events onto the event bus.
type EventEmitter interface {
	Emit(event types.Event)
}

// Config controls sampling cadence and behavior.
type Config struct {
	Period         time.Duration
	HistoryCap     int
	BatchMode      bool
	CoalesceWindow time.Duration
	DiskPath       string
}

// DefaultConfig returns the spec's default Sampler configuration.
func DefaultConfig() Config {
	return Config{
		Period:         DefaultPeriod,
		HistoryCap:     DefaultHistoryCap,
		BatchMode:      false,
		CoalesceWindow: DefaultCoalesceWindow,
	}
}

// Sampler runs the per-agent Resource Sampler loops described in spec.md
// §4.A.
type Sampler struct {
	cfg     Config
	locator ProcessLocator
	history HistorySink
	alerts  AlertEvaluator
	events  EventEmitter
	hostAgg *procstat.HostAggregator
	clk     clock.Clock

	mu      sync.Mutex
	readers map[string]*procstat.Reader
	stopFns map[string]func()

	numCPU        int
	totalMemBytes uint64

	pendingMu sync.Mutex
	pending   map[string]struct{}
	batchStop func()
}

// New builds a Sampler. clk defaults to clock.System{} if nil.
func New(cfg Config, locator ProcessLocator, history HistorySink, alerts AlertEvaluator, events EventEmitter, clk clock.Clock) *Sampler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	if clk == nil {
		clk = clock.System{}
	}

	hostAgg := procstat.NewHostAggregator(cfg.DiskPath)
	s := &Sampler{
		cfg:     cfg,
		locator: locator,
		history: history,
		alerts:  alerts,
		events:  events,
		hostAgg: hostAgg,
		clk:     clk,
		readers: make(map[string]*procstat.Reader),
		stopFns: make(map[string]func()),
		pending: make(map[string]struct{}),
		numCPU:  1,
	}

	if hs, err := hostAgg.Stats(context.Background()); err == nil {
		s.numCPU = hs.NumCPU
		s.totalMemBytes = hs.TotalMemBytes
	}

	if cfg.BatchMode {
		s.startBatchLoop()
	}
	return s
}

// Register starts sampling agentID. In batch mode this only marks the agent
// pending for the next coalescing pass; otherwise it starts a dedicated
// ticking goroutine.
func (s *Sampler) Register(agentID string) {
	s.mu.Lock()
	if _, exists := s.readers[agentID]; !exists {
		pid, _ := s.locator.PID(agentID)
		s.readers[agentID] = procstat.NewReader(pid, s.numCPU)
	}
	s.mu.Unlock()

	if s.cfg.BatchMode {
		s.markPending(agentID)
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.stopFns[agentID] = func() { close(stop) }
	s.mu.Unlock()

	go s.runLoop(agentID, stop)
}

// Unregister stops sampling agentID and discards its reader state.
func (s *Sampler) Unregister(agentID string) {
	s.mu.Lock()
	if stop, ok := s.stopFns[agentID]; ok {
		stop()
		delete(s.stopFns, agentID)
	}
	delete(s.readers, agentID)
	s.mu.Unlock()

	s.pendingMu.Lock()
	delete(s.pending, agentID)
	s.pendingMu.Unlock()
}

// Shutdown stops every running sampling loop.
func (s *Sampler) Shutdown() {
	s.mu.Lock()
	for id, stop := range s.stopFns {
		stop()
		delete(s.stopFns, id)
	}
	s.mu.Unlock()

	if s.batchStop != nil {
		s.batchStop()
	}
}

func (s *Sampler) runLoop(agentID string, stop chan struct{}) {
	timer := s.clk.NewTimer(s.cfg.Period)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C():
			if !s.tick(agentID) {
				return
			}
			timer.Reset(s.cfg.Period)
		}
	}
}

func (s *Sampler) startBatchLoop() {
	stop := make(chan struct{})
	s.batchStop = func() { close(stop) }

	go func() {
		timer := s.clk.NewTimer(s.cfg.CoalesceWindow)
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-timer.C():
				s.drainPending()
				timer.Reset(s.cfg.CoalesceWindow)
			}
		}
	}()
}

func (s *Sampler) markPending(agentID string) {
	s.pendingMu.Lock()
	s.pending[agentID] = struct{}{}
	s.pendingMu.Unlock()
}

func (s *Sampler) drainPending() {
	s.pendingMu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pending = make(map[string]struct{})
	s.pendingMu.Unlock()

	for _, id := range ids {
		if s.tick(id) {
			s.markPending(id)
		}
	}
}

// tick runs one sampling pass for agentID. It returns false if the agent's
// loop should stop (process gone).
func (s *Sampler) tick(agentID string) bool {
	pid, ok := s.locator.PID(agentID)
	if !ok {
		s.stopSelf(agentID, "process host not found")
		return false
	}

	s.mu.Lock()
	reader, exists := s.readers[agentID]
	if !exists {
		reader = procstat.NewReader(pid, s.numCPU)
		s.readers[agentID] = reader
	}
	s.mu.Unlock()

	snap := reader.Sample()
	if !snap.Exists {
		s.stopSelf(agentID, "process exited")
		return false
	}

	hostDisk, _ := s.hostAgg.Stats(context.Background())

	var memPercent float64
	if s.totalMemBytes > 0 {
		memPercent = float64(snap.MemoryResidentBytes) / float64(s.totalMemBytes) * 100
	}

	sample := types.ResourceSample{
		AgentID:             agentID,
		Timestamp:           s.clk.Now(),
		CPUPercent:          snap.CPUPercent,
		MemoryResidentBytes: snap.MemoryResidentBytes,
		MemoryPercentOfHost: memPercent,
		IOReadBytes:         snap.IOReadBytes,
		IOWriteBytes:        snap.IOWriteBytes,
		IOReadOps:           snap.IOReadOps,
		IOWriteOps:          snap.IOWriteOps,
		OpenFDCount:         snap.OpenFDCount,
		DiskFreeBytes:       hostDisk.DiskFreeBytes,
		DiskTotalBytes:      hostDisk.DiskTotalBytes,
		DiskPercent:         hostDisk.DiskPercent,
	}

	if s.history != nil {
		s.history.PushSample(agentID, sample)
	}
	if s.alerts != nil {
		s.alerts.Evaluate(sample)
	}
	if s.events != nil {
		s.events.Emit(types.Event{
			ID:      uuid.NewString(),
			AgentID: agentID,
			Type:    types.EventSample,
			Time:    sample.Timestamp,
			Sample:  &sample,
		})
	}

	return true
}

func (s *Sampler) stopSelf(agentID, reason string) {
	log.WithAgentID(agentID).Debug().Str("reason", reason).Msg("sampler stopping")
	if s.events != nil {
		s.events.Emit(types.Event{
			ID:      uuid.NewString(),
			AgentID: agentID,
			Type:    types.EventSamplerStopped,
			Time:    s.clk.Now(),
			Reason:  reason,
		})
	}
	s.Unregister(agentID)
}
