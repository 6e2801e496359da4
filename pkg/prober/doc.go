// Package prober implements the Health Prober (spec.md §4.B): a per-agent
// probe cycle (liveness, resource sanity, responsiveness) run on its own
// timer, plus an independent heartbeat watch.
//
// The consecutive-failure counting and start-period grace logic is adapted
// from the teacher's pkg/health Status tracker, generalized from container
// healthchecks to the three specific probes this supervisor runs against a
// PTY-backed agent.
package prober
