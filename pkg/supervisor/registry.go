package supervisor

import (
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/processhost"
	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// hostRegistry is the Supervisor's map from agent id to its live Process
// Host. It is the single place that holds the OS process handle
// (spec.md §3 Ownership: "Process Host exclusively owns the OS process
// handle") and is handed to the Sampler and Prober only through the
// narrow lookup-by-id interfaces they declare, never as the map itself.
type hostRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*processhost.Host
}

func newHostRegistry() *hostRegistry {
	return &hostRegistry{hosts: make(map[string]*processhost.Host)}
}

func (r *hostRegistry) put(agentID string, h *processhost.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[agentID] = h
}

func (r *hostRegistry) remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, agentID)
}

func (r *hostRegistry) get(agentID string) (*processhost.Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[agentID]
	return h, ok
}

func (r *hostRegistry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.hosts))
	for id := range r.hosts {
		out = append(out, id)
	}
	return out
}

// PID implements sampler.ProcessLocator and prober.ProcessAccess.
func (r *hostRegistry) PID(agentID string) (int, bool) {
	h, ok := r.get(agentID)
	if !ok {
		return 0, false
	}
	return h.PID()
}

// Write implements prober.ProcessAccess's responsiveness-probe write.
func (r *hostRegistry) Write(agentID string, data []byte) error {
	h, ok := r.get(agentID)
	if !ok {
		return types.NewError(types.ErrNotFound, "agent "+agentID+" has no live process host", nil)
	}
	return h.Write(data)
}

// LastActivity implements prober.ActivitySource.
func (r *hostRegistry) LastActivity(agentID string) (time.Time, bool) {
	h, ok := r.get(agentID)
	if !ok {
		return time.Time{}, false
	}
	return h.LastActivity(), true
}
