/*
Package types defines the core data structures shared across the agent
lifecycle supervisor.

This package contains the fundamental types that represent the supervisor's
domain model: agent identity and configuration, the agent state machine,
resource samples, alerts, lifecycle events, and inter-agent bus messages.
Every other package in this module builds on these types rather than
defining its own parallel representation.

# Architecture

	┌─────────────────────────── types ────────────────────────────┐
	│                                                                │
	│  AgentConfig ──spawn──▶ StateRecord ──history──▶ []Transition │
	│       │                      │                                │
	│       │                      ▼                                │
	│       │                 AgentState (enum + transition table)  │
	│       │                                                        │
	│       ▼                                                        │
	│  ResourceSample ──▶ Alert (kind, severity, hysteresis)         │
	│       │                                                        │
	│       ▼                                                        │
	│  Event (lifecycle/resource/alert, fanned out by the bus)       │
	│                                                                │
	│  BusMessage (inter-agent request/response/broadcast/handoff)  │
	└────────────────────────────────────────────────────────────────┘

# Core Types

Agent identity and configuration:
  - AgentConfig: caller-provided spawn parameters (id, name, model, workspace,
    env, resource limits, shutdown grace period)
  - ResourceLimits: optional memory/CPU ceilings enforced by the prober

State machine:
  - AgentState: the thirteen-value lifecycle enum
  - StateRecord: per-agent mutable record owned exclusively by Lifecycle
  - Transition: one (from, to, when, reason, detail) history entry
  - IsValidTransition: the authoritative transition table lookup

Resource accounting:
  - ResourceSample: one tick of CPU/memory/IO/network/FD/disk data

Alerting:
  - Alert: one raised-or-resolved threshold crossing
  - AlertKind, AlertSeverity: enums

Eventing:
  - Event: one lifecycle/resource/alert occurrence, as fanned out by the bus
  - EventType: the enumerated (non-exhaustive) event name set

Inter-agent bus:
  - BusMessage: one send/request/response/broadcast/handoff envelope
  - BusMessageKind: enum

# Design Notes

All types are plain structs with no behavior beyond small, pure helper
methods (Validate, Key). Mutating an agent's state is never done by
assigning to a StateRecord's Current field directly from outside
pkg/lifecycle — invariant 2 in spec.md §3 requires that Lifecycle is the
sole mutator, so StateRecord's exported fields are read normally but only
pkg/lifecycle holds a pointer to the live copy.
*/
package types
