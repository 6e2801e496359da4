package mcptransport

import (
	"context"
	"encoding/json"
)

// ProtocolVersion is sent in every initialize call (spec.md §6 "Client
// initialize payload").
const ProtocolVersion = "2024-11-05"

// Kind tags which Transport variant a caller is holding, per spec.md §9's
// guidance to tag variants with an enumeration rather than a type switch.
type Kind string

const (
	KindStdio   Kind = "stdio"
	KindHTTPSSE Kind = "http_sse"
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no id, no response
// expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientInfo identifies this client in the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the payload sent on connect (spec.md §6).
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// NewInitializeParams builds the standard handshake payload for name/version.
func NewInitializeParams(name, version string) InitializeParams {
	return InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo{Name: name, Version: version},
	}
}

// Transport is the capability every variant implements (spec.md §9
// "express STDIO and HTTP+SSE as variants of a Transport capability").
type Transport interface {
	Kind() Kind
	Connect(ctx context.Context) error
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
	SendNotification(ctx context.Context, method string, params any) error
	IsConnected() bool
	OnMessage(fn func(method string, params json.RawMessage))
	OnDisconnect(fn func(err error))
	Close() error
}
