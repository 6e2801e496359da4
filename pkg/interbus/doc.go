// Package interbus implements the Inter-agent Bus (spec.md §4.H): a
// pub/sub channel that lets agents send each other requests, broadcasts,
// and task handoffs, independent of the Event Bus used for lifecycle
// observability.
//
// The subscribe/publish/broadcast shape is adapted from the teacher's
// pkg/events/events.go Broker, generalized from one process-wide
// broadcast channel to per-agent mailboxes (topics "agent:<id>" and the
// broadcast sentinel) plus correlation-id-based request/response pairing
// that the teacher's Broker has no equivalent of. Backpressure policy
// (bounded per-subscriber queue, drop-oldest, "dropped" notification) is
// shared with pkg/eventbus rather than reusing the teacher's silent
// "subscriber buffer full, skip" behavior (spec.md §4.H explicitly
// requires a bus:dropped event on drop).
package interbus
