package mcptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// DefaultHeartbeatInterval is the SSE health-check cadence (spec.md §4.I
// "heartbeat via periodic health check (default 30 s)").
const DefaultHeartbeatInterval = 30 * time.Second

// HTTPSSEConfig configures the HTTP+SSE Transport variant.
type HTTPSSEConfig struct {
	BaseURL              string
	Auth                 Auth
	ReconnectInterval     time.Duration // base backoff; DefaultReconnectInterval if zero
	MaxReconnectAttempts  int           // 0 = unlimited
	HeartbeatInterval     time.Duration // DefaultHeartbeatInterval if zero
	RequestTimeout        time.Duration // DefaultRequestTimeout if zero
	ClientName            string
	ClientVersion         string
	HTTPClient            *http.Client
}

// HTTPSSETransport is the HTTP+SSE Transport variant (spec.md §4.I).
type HTTPSSETransport struct {
	cfg    HTTPSSEConfig
	client *http.Client

	mu          sync.Mutex
	connected   bool
	lastEventID string
	pending     map[string]chan Response

	onMessage    func(method string, params json.RawMessage)
	onDisconnect func(err error)

	cancel context.CancelFunc
	done   chan struct{}
	nextID int64
}

// NewHTTPSSE builds an HTTPSSETransport. Call Connect to open the SSE
// session and start the heartbeat loop.
func NewHTTPSSE(cfg HTTPSSEConfig) *HTTPSSETransport {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &HTTPSSETransport{cfg: cfg, client: cfg.HTTPClient, pending: make(map[string]chan Response)}
}

func (t *HTTPSSETransport) Kind() Kind { return KindHTTPSSE }

// Connect starts the reconnecting SSE session loop and the heartbeat
// loop in the background, then performs the initialize handshake.
func (t *HTTPSSETransport) Connect(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.sessionLoop(sessionCtx)
	go t.heartbeatLoop(sessionCtx)

	name, version := t.cfg.ClientName, t.cfg.ClientVersion
	if name == "" {
		name = "agent-supervisor"
	}
	_, err := t.SendRequest(ctx, "initialize", NewInitializeParams(name, version))
	return err
}

// sessionLoop opens SSE sessions, reconnecting with capped exponential
// backoff + jitter on failure (spec.md §4.I; adapted from arkeep's
// connection-manager.go Run loop).
func (t *HTTPSSETransport) sessionLoop(ctx context.Context) {
	defer close(t.done)

	backoffBase := t.cfg.ReconnectInterval
	if backoffBase <= 0 {
		backoffBase = DefaultReconnectInterval
	}
	backoff := backoffBase
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := t.runSession(ctx)
		if t.IsConnected() {
			// The session was established: start the next reconnect cycle afresh.
			backoff = backoffBase
			attempts = 0
		}
		t.setConnected(false)
		if cb := t.onDisconnectFn(); cb != nil {
			cb(err)
		}
		if ctx.Err() != nil {
			return
		}

		attempts++
		if t.cfg.MaxReconnectAttempts > 0 && attempts >= t.cfg.MaxReconnectAttempts {
			log.WithComponent("mcptransport.sse").Error().Int("attempts", attempts).Msg("giving up reconnecting to tool-server")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}
		backoff = nextBackoff(backoff, DefaultBackoffCap)
	}
}

func (t *HTTPSSETransport) runSession(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(t.cfg.BaseURL, "/")+"/sse", nil)
	if err != nil {
		return types.NewError(types.ErrTransport, "build SSE request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if id := t.getLastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	t.cfg.Auth.apply(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrTransport, "open SSE stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.NewError(types.ErrTransport, fmt.Sprintf("SSE auth failed: %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrTransport, fmt.Sprintf("SSE unexpected status %d", resp.StatusCode), nil)
	}

	t.setConnected(true)
	return parseSSEStream(resp.Body, t.handleFrame)
}

func (t *HTTPSSETransport) handleFrame(frame sseFrame) {
	if frame.ID != "" {
		t.mu.Lock()
		t.lastEventID = frame.ID
		t.mu.Unlock()
	}
	if frame.Event == "ping" || frame.Event == "heartbeat" {
		return
	}
	if frame.Data == "" {
		return
	}

	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal([]byte(frame.Data), &envelope); err != nil {
		log.WithComponent("mcptransport.sse").Warn().Err(err).Msg("malformed SSE data frame")
		return
	}

	if len(envelope.ID) > 0 {
		id := trimJSONString(envelope.ID)
		t.mu.Lock()
		waiter, ok := t.pending[id]
		t.mu.Unlock()
		if ok {
			waiter <- Response{ID: id, Result: envelope.Result, Error: envelope.Error}
			return
		}
	}
	if envelope.Method != "" && t.onMessage != nil {
		var withParams struct {
			Params json.RawMessage `json:"params"`
		}
		_ = json.Unmarshal([]byte(frame.Data), &withParams)
		t.onMessage(envelope.Method, withParams.Params)
	}
}

func (t *HTTPSSETransport) heartbeatLoop(ctx context.Context) {
	interval := t.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pingHealth(ctx)
		}
	}
}

func (t *HTTPSSETransport) pingHealth(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(t.cfg.BaseURL, "/")+"/health", nil)
	if err != nil {
		return
	}
	t.cfg.Auth.apply(req)
	resp, err := t.client.Do(req)
	if err != nil {
		log.WithComponent("mcptransport.sse").Warn().Err(err).Msg("tool-server health check failed")
		return
	}
	resp.Body.Close()
}

// SendRequest posts a JSON-RPC request to <baseUrl>/mcp. The response may
// arrive inline (application/json body) or later over the SSE stream;
// either way SendRequest matches it by request id.
func (t *HTTPSSETransport) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
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

	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, types.NewError(types.ErrProtocol, "marshal JSON-RPC request", err)
	}

	timeout := t.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, strings.TrimRight(t.cfg.BaseURL, "/")+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "build tool-server request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.cfg.Auth.apply(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "POST tool-server request", err)
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, types.NewError(types.ErrTransport, "read tool-server response", err)
		}
		var rpcResp Response
		if err := json.Unmarshal(data, &rpcResp); err != nil {
			return nil, types.NewError(types.ErrProtocol, "malformed JSON-RPC response", err)
		}
		if rpcResp.Error != nil {
			return nil, types.NewError(types.ErrProtocol, rpcResp.Error.Message, nil)
		}
		return rpcResp.Result, nil
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

// SendNotification posts a JSON-RPC notification; no response is awaited.
func (t *HTTPSSETransport) SendNotification(ctx context.Context, method string, params any) error {
	body, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return types.NewError(types.ErrProtocol, "marshal JSON-RPC notification", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.cfg.BaseURL, "/")+"/mcp", bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrTransport, "build tool-server notification", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.cfg.Auth.apply(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrTransport, "POST tool-server notification", err)
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPSSETransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *HTTPSSETransport) OnMessage(fn func(method string, params json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

func (t *HTTPSSETransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *HTTPSSETransport) onDisconnectFn() func(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onDisconnect
}

func (t *HTTPSSETransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *HTTPSSETransport) getLastEventID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEventID
}

// Close cancels the session and heartbeat loops.
func (t *HTTPSSETransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.done != nil {
		<-t.done
	}
	t.setConnected(false)
	return nil
}
