package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer reads newline-delimited JSON-RPC requests from stdinR and
// echoes back a canned result for each, simulating a tool-server process
// without actually spawning one.
func fakeServer(t *testing.T, stdinR io.Reader, stdoutW io.WriteCloser, result func(method string) json.RawMessage) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			resp := Response{JSONRPC: "2.0", ID: req.ID, Result: result(req.Method)}
			data, _ := json.Marshal(resp)
			stdoutW.Write(append(data, '\n'))
		}
		stdoutW.Close()
	}()
}

func TestStdioSendRequestReceivesResponse(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	fakeServer(t, stdinR, stdoutW, func(method string) json.RawMessage {
		return json.RawMessage(`{"ok":true}`)
	})

	tr := NewStdio(StdioConfig{RequestTimeout: time.Second})
	tr.attach(stdinW, stdoutR, nil)

	result, err := tr.SendRequest(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestStdioSendRequestTimesOutWithoutResponse(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, _ := io.Pipe()
	defer stdinR.Close()

	tr := NewStdio(StdioConfig{RequestTimeout: 20 * time.Millisecond})
	tr.attach(stdinW, stdoutR, nil)

	_, err := tr.SendRequest(context.Background(), "ping", nil)
	require.Error(t, err)
}

func TestStdioOnMessageInvokedForServerNotification(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	stdinR, stdinW := io.Pipe()
	defer stdinR.Close()

	tr := NewStdio(StdioConfig{})
	received := make(chan string, 1)
	tr.OnMessage(func(method string, _ json.RawMessage) { received <- method })
	tr.attach(stdinW, stdoutR, nil)

	go func() {
		notif, _ := json.Marshal(Notification{JSONRPC: "2.0", Method: "agent:progress"})
		stdoutW.Write(append(notif, '\n'))
	}()

	select {
	case method := <-received:
		assert.Equal(t, "agent:progress", method)
	case <-time.After(time.Second):
		t.Fatal("onMessage never invoked")
	}
}

func TestStdioIsConnectedReflectsDisconnect(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	stdinR, stdinW := io.Pipe()
	defer stdinR.Close()

	tr := NewStdio(StdioConfig{})
	tr.attach(stdinW, stdoutR, nil)
	assert.True(t, tr.IsConnected())

	stdoutW.Close()

	require.Eventually(t, func() bool {
		return !tr.IsConnected()
	}, time.Second, 5*time.Millisecond)
}
