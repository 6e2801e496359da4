// Package supervisor wires the Process Host, Lifecycle state machine,
// Resource Sampler, Health Prober, Alert Engine, and Event Bus together
// behind the single public integrator contract (spec.md §4.G): Spawn, Kill,
// Get, List, Info, InfoAll, Stats, Events, HealthCheck, Shutdown.
//
// It is grounded on the teacher's pkg/manager/manager.go: a top-level
// struct that owns every subsystem, constructs them once in New, and tears
// them down in a deliberate order in Shutdown. Where the teacher's Manager
// replicates cluster state over Raft and issues mTLS certificates, this
// Supervisor instead owns the agent-id-keyed live map directly (no
// consensus, no certificates — see DESIGN.md for why those teacher
// dependencies were dropped) and enforces the global guardrails spec.md
// §4.G names (maxAgents) before ever touching a subsystem.
//
// Two enrichments beyond the distilled spec live here:
//   - envsecrets.go, adapted from the teacher's AES-256-GCM worker secrets
//     handler, encrypts `secret:`-prefixed environment entries at rest.
//   - the Supervisor opens pkg/checkpoint at startup and writes an agent's
//     record to it at spawn, on an unexpected exit and on kill (other
//     transitions are not written), so InfoAll can still report agents
//     that existed before a process restart even though they are not
//     auto-resumed.
package supervisor
