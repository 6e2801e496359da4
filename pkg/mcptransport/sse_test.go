package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSSESendRequestInlineJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mcp":
			var req Request
			json.NewDecoder(r.Body).Decode(&req)
			w.Header().Set("Content-Type", "application/json")
			resp := Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
			json.NewEncoder(w).Encode(resp)
		case "/sse":
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			<-r.Context().Done()
		case "/health":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	tr := NewHTTPSSE(HTTPSSEConfig{BaseURL: server.URL, RequestTimeout: time.Second, HeartbeatInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect launches background session/heartbeat loops and performs the
	// initialize handshake inline over POST /mcp.
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	result, err := tr.SendRequest(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestHTTPSSEReceivesResponseOverSSEStream(t *testing.T) {
	var capturedID string
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		capturedID = req.ID
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for i := 0; i < 40; i++ {
			if capturedID != "" {
				fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":\"%s\",\"result\":{\"async\":true}}\n\n", capturedID)
				flusher.Flush()
				<-r.Context().Done()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	server := httptest.NewServer(mux)
	defer server.Close()

	tr := NewHTTPSSE(HTTPSSEConfig{BaseURL: server.URL, RequestTimeout: 2 * time.Second, HeartbeatInterval: time.Hour})

	// Start the SSE session loop directly (skip Connect's initialize call,
	// which this handler does not serve) so the stream is live before the
	// request below is issued.
	sessionCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.sessionLoop(sessionCtx)

	require.Eventually(t, func() bool { return tr.IsConnected() }, time.Second, 5*time.Millisecond)

	result, err := tr.SendRequest(context.Background(), "tools/call", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"async":true}`, string(result))
}
