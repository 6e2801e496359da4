// Package mcptransport implements the Tool-server Transport (spec.md
// §4.I): a JSON-RPC 2.0 client with two variants, STDIO and HTTP+SSE,
// expressed behind one Transport capability so callers never type-switch
// across them (spec.md §9 "Dynamic dispatch over heterogeneous
// transports").
//
// The reconnect policy — capped exponential backoff with jitter, reset on
// a successful session, a hard attempt limit — is adapted from
// other_examples' arkeep agent connection-manager.go (nextBackoff/jitter
// helpers and the reconnect-loop shape), moved from a gRPC dial loop to
// an HTTP+SSE session loop. The STDIO variant's child-process lifecycle
// (stdin/stdout pipes, a dedicated reader goroutine, signal-on-disconnect)
// follows the same pattern pkg/processhost uses for PTY children, scaled
// down to plain pipes since a tool-server subprocess has no terminal.
package mcptransport
