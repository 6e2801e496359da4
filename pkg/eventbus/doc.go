// Package eventbus implements the Event Bus & Logger (spec.md §4.D): a
// process-wide fan-out of lifecycle/resource/alert events to per-type and
// catch-all subscribers, backed by an in-memory ring the Logger drains to a
// rotating append-only JSON-lines file.
//
// The subscriber map and broadcast loop are adapted from the teacher's
// pkg/events Broker, generalized from a simple drop-on-full broadcast to
// per-subscriber bounded queues with explicit oldest-drop plus a
// "bus:dropped" event (spec.md §5 "Backpressure"), and extended with the
// ring-buffer-to-disk Logger the teacher's Broker never had.
package eventbus
