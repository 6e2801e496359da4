// Package lifecycle implements the Lifecycle State Machine (spec.md §4.F):
// the single-writer-locked map from agent id to state record, transition
// validation against spec.md §3's table, restart backoff scheduling, and
// graceful shutdown orchestration.
//
// The locked-map-plus-per-id-timer shape is adapted from the teacher's
// pkg/worker HealthMonitor (map of ids to cancelable per-id work, a single
// background loop reconciling against a live set), generalized from
// starting/stopping per-container health checks to driving the full agent
// state machine and its restart timers.
package lifecycle
