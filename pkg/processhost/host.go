package processhost

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// writableStates is the set of Lifecycle states in which Write and Resize
// are permitted (spec.md §4.E "if and only if state ∈ {starting, idle,
// busy, running, ready}").
var writableStates = map[types.AgentState]bool{
	types.StateStarting: true,
	types.StateIdle:     true,
	types.StateBusy:     true,
	types.StateRunning:  true,
	types.StateReady:    true,
}

// StateLookup is the Process Host's read-only view of Lifecycle, used to
// gate Write/Resize against the agent's current state.
type StateLookup interface {
	GetState(agentID string) (types.StateRecord, bool)
}

// EventEmitter publishes output/exit/error events onto the event bus.
type EventEmitter interface {
	Emit(event types.Event)
}

// initSettleDelay is the pause after each command of the post-spawn
// initialization sequence (runInitSequence), whose banner names the agent's
// id, name, model and workspace in that order.
var initSettleDelay = 30 * time.Millisecond

// Host owns one PTY-spawned child process for exactly one agent
// (spec.md §3 invariant 1 "Exactly one Process Host per live agent id").
type Host struct {
	agentID string
	cmd     *exec.Cmd
	ptmx    *os.File

	states StateLookup
	events EventEmitter

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time
	output       bytes.Buffer

	readDone chan struct{}
	exitOnce sync.Once
	exitCh   chan struct{}
	exitCode int
	exitSig  string
}

// Spawn starts a PTY child for cfg and wires its output/exit into events.
// states is consulted by Write and Resize on every call (spec.md §4.E).
func Spawn(cfg types.AgentConfig, states StateLookup, events EventEmitter) (*Host, error) {
	ptyOpts := types.DefaultPTYOptions()
	if cfg.PTY != nil {
		ptyOpts = *cfg.PTY
	}

	cmd := exec.Command(ptyOpts.Shell)
	cmd.Dir = cfg.Workspace
	cmd.Env = mergeEnv(os.Environ(), cfg.Env, ptyOpts.TermEnv)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ws := &pty.Winsize{Rows: ptyOpts.Rows, Cols: ptyOpts.Cols}
	ptmx, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, fmt.Errorf("processhost: start pty: %w", err)
	}

	h := &Host{
		agentID:      cfg.ID,
		cmd:          cmd,
		ptmx:         ptmx,
		states:       states,
		events:       events,
		lastActivity: time.Now(),
		readDone:     make(chan struct{}),
		exitCh:       make(chan struct{}),
	}

	go h.readLoop()
	go h.waitLoop()
	go h.runInitSequence(cfg)

	return h, nil
}

func mergeEnv(base []string, agentEnv map[string]string, termEnv string) []string {
	env := append([]string(nil), base...)
	for k, v := range agentEnv {
		env = append(env, k+"="+v)
	}
	env = append(env, "TERM="+termEnv)
	return env
}

// PID returns the child's OS process id, or false once it has exited.
func (h *Host) PID() (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd.Process == nil || h.isExitedLocked() {
		return 0, false
	}
	return h.cmd.Process.Pid, true
}

func (h *Host) isExitedLocked() bool {
	select {
	case <-h.exitCh:
		return true
	default:
		return false
	}
}

// Write writes to the PTY input iff the agent's current state allows it,
// otherwise it is a no-op (spec.md §4.E).
func (h *Host) Write(data []byte) error {
	if !h.writable() {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	_, err := h.ptmx.Write(data)
	return err
}

// Resize changes the PTY window size under the same state gate as Write.
func (h *Host) Resize(cols, rows uint16) error {
	if !h.writable() {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (h *Host) writable() bool {
	if h.states == nil {
		return true
	}
	rec, ok := h.states.GetState(h.agentID)
	if !ok {
		return false
	}
	return writableStates[rec.Current]
}

// Kill sends sig (default SIGTERM) to the child's process group
// (spec.md §4.E "Kill(signal) — sends the signal ... to the process
// group").
func (h *Host) Kill(sig syscall.Signal) error {
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	h.mu.RLock()
	proc := h.cmd.Process
	h.mu.RUnlock()
	if proc == nil {
		return nil
	}
	if err := unix.Kill(-proc.Pid, sig); err != nil {
		// Fall back to signaling just the child if the group kill fails
		// (e.g. setpgid unsupported in this sandbox).
		return proc.Signal(sig)
	}
	return nil
}

// Close releases the PTY master and waits briefly for the reader loop to
// finish. It does not itself send a kill signal; callers orchestrate
// TERM-then-KILL escalation (Supervisor.Kill in pkg/supervisor) before
// calling Close.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.ptmx.Close()

	select {
	case <-h.readDone:
	case <-time.After(time.Second):
	}
	return err
}

// Done is closed once the child process has exited.
func (h *Host) Done() <-chan struct{} { return h.exitCh }

// ExitResult returns the exit code and signal name recorded once Done is
// closed.
func (h *Host) ExitResult() (code int, signal string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode, h.exitSig
}

// LastActivity reports the last time output was read from the PTY, used by
// the Health Prober's heartbeat watch.
func (h *Host) LastActivity() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActivity
}

func (h *Host) readLoop() {
	defer close(h.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.output.Write(buf[:n])
			h.lastActivity = time.Now()
			h.mu.Unlock()
			h.emit(types.EventAgentOutput, "", map[string]string{
				"stream": "stdout",
				"data":   string(buf[:n]),
			})
		}
		if err != nil {
			return
		}
	}
}

func (h *Host) waitLoop() {
	err := h.cmd.Wait()

	code := 0
	sig := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				sig = status.Signal().String()
			}
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.exitCode = code
	h.exitSig = sig
	h.mu.Unlock()

	h.exitOnce.Do(func() { close(h.exitCh) })

	h.emit(types.EventAgentExit, "", map[string]string{
		"exit_code": fmt.Sprint(code),
		"signal":    sig,
	})
}

func (h *Host) runInitSequence(cfg types.AgentConfig) {
	commands := []string{
		"clear",
		fmt.Sprintf("echo '--- agent %s (%s) model=%s workspace=%s ---'", cfg.ID, cfg.Name, cfg.Model, cfg.Workspace),
		"cd " + cfg.Workspace,
		"echo '__agent_ready__'",
	}
	for _, c := range commands {
		if err := h.Write([]byte(c + "\n")); err != nil {
			h.emit(types.EventAgentError, "init sequence command failed: "+err.Error(), nil)
			continue
		}
		time.Sleep(initSettleDelay)
	}
}

func (h *Host) emit(evtType types.EventType, reason string, metadata map[string]string) {
	log.WithAgentID(h.agentID).Debug().Str("event", string(evtType)).Msg("process host event")
	if h.events == nil {
		return
	}
	h.events.Emit(types.Event{
		ID:       uuid.NewString(),
		AgentID:  h.agentID,
		Type:     evtType,
		Time:     time.Now(),
		Reason:   reason,
		Metadata: metadata,
	})
}
