package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// DefaultRequestTimeout bounds a single in-flight request (spec.md §5
// "the default per-request deadline is 30 s").
const DefaultRequestTimeout = 30 * time.Second

// StdioConfig configures a child tool-server process spoken to over
// stdin/stdout newline-delimited JSON-RPC.
type StdioConfig struct {
	Command        string
	Args           []string
	Env            []string
	ClientName     string
	ClientVersion  string
	RequestTimeout time.Duration
}

// StdioTransport is the STDIO Transport variant (spec.md §4.I).
type StdioTransport struct {
	cfg StdioConfig
	cmd *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu        sync.Mutex
	connected bool
	pending   map[string]chan Response

	onMessage    func(method string, params json.RawMessage)
	onDisconnect func(err error)

	nextID int64
}

// NewStdio builds a StdioTransport. Call Connect to spawn the process.
func NewStdio(cfg StdioConfig) *StdioTransport {
	return &StdioTransport{cfg: cfg, pending: make(map[string]chan Response)}
}

func (t *StdioTransport) Kind() Kind { return KindStdio }

// Connect spawns the configured command, wires its pipes, and sends the
// initialize handshake.
func (t *StdioTransport) Connect(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = t.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return types.NewError(types.ErrTransport, "open tool-server stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.NewError(types.ErrTransport, "open tool-server stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return types.NewError(types.ErrTransport, "open tool-server stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return types.NewError(types.ErrTransport, "start tool-server process", err)
	}
	t.cmd = cmd
	t.attach(stdin, stdout, stderr)

	name, version := t.cfg.ClientName, t.cfg.ClientVersion
	if name == "" {
		name = "agent-supervisor"
	}
	_, err = t.SendRequest(ctx, "initialize", NewInitializeParams(name, version))
	return err
}

// attach wires already-open streams, split out from Connect so tests can
// exercise the read/dispatch loop with an in-memory pipe instead of a
// real child process.
func (t *StdioTransport) attach(stdin io.WriteCloser, stdout, stderr io.Reader) {
	t.mu.Lock()
	t.stdin = stdin
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(stdout)
	if stderr != nil {
		go t.stderrLoop(stderr)
	}
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		t.handleLine(scanner.Bytes())
	}
	t.disconnect(scanner.Err())
}

func (t *StdioTransport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.WithComponent("mcptransport.stdio").Warn().Str("stderr", scanner.Text()).Msg("tool-server stderr")
	}
}

func (t *StdioTransport) handleLine(line []byte) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		log.WithComponent("mcptransport.stdio").Warn().Err(err).Msg("malformed JSON-RPC line")
		return
	}

	if envelope.Method != "" && envelope.Result == nil && envelope.Error == nil {
		var withParams struct {
			Params json.RawMessage `json:"params"`
		}
		_ = json.Unmarshal(line, &withParams)
		if t.onMessage != nil {
			t.onMessage(envelope.Method, withParams.Params)
		}
		return
	}

	id := trimJSONString(envelope.ID)
	t.mu.Lock()
	waiter, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	waiter <- Response{ID: id, Result: envelope.Result, Error: envelope.Error}
}

func trimJSONString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SendRequest writes a JSON-RPC request and blocks for its matching
// response, up to the configured (or ctx) deadline.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("%d", atomic.AddInt64(&t.nextID, 1))
	waiter := make(chan Response, 1)

	t.mu.Lock()
	t.pending[id] = waiter
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	timeout := t.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- t.writeLine(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	}()
	select {
	case err := <-writeErr:
		if err != nil {
			return nil, err
		}
	case <-rctx.Done():
		return nil, types.NewError(types.ErrTimeout, "request "+method+" timed out", rctx.Err())
	}

	select {
	case resp := <-waiter:
		if resp.Error != nil {
			return nil, types.NewError(types.ErrProtocol, resp.Error.Message, nil)
		}
		return resp.Result, nil
	case <-rctx.Done():
		return nil, types.NewError(types.ErrTimeout, "request "+method+" timed out", rctx.Err())
	}
}

// SendNotification writes a JSON-RPC notification; no response is awaited.
func (t *StdioTransport) SendNotification(_ context.Context, method string, params any) error {
	return t.writeLine(Notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return types.NewError(types.ErrProtocol, "marshal JSON-RPC message", err)
	}

	t.mu.Lock()
	stdin, connected := t.stdin, t.connected
	t.mu.Unlock()
	if !connected || stdin == nil {
		return types.NewError(types.ErrTransport, "tool-server not connected", nil)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	data = append(data, '\n')
	_, err = stdin.Write(data)
	if err != nil {
		return types.NewError(types.ErrTransport, "write to tool-server stdin", err)
	}
	return nil
}

func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *StdioTransport) OnMessage(fn func(method string, params json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *StdioTransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *StdioTransport) disconnect(err error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false
	cb := t.onDisconnect
	t.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Close signals the child process and releases its pipes.
func (t *StdioTransport) Close() error {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
	}
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	t.disconnect(nil)
	if t.cmd != nil {
		return t.cmd.Wait()
	}
	return nil
}
