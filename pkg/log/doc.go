/*
Package log provides structured logging for the agent lifecycle supervisor
using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific and agent-specific child loggers, a configurable level,
and helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized via log.Init(), with a safe default applied at package init
    so logging before Init runs never panics
  - Thread-safe for concurrent use across every supervisor subsystem

Context Loggers:
  - WithComponent: tags logs with the owning subsystem (sampler, prober,
    alert, eventbus, lifecycle, supervisor, interbus, mcptransport)
  - WithAgentID: tags logs with the agent the entry concerns
  - WithAlertKind / WithEventType: tags alert and event related logs

# Log Levels

Debug: verbose per-tick sampler/prober detail, development only.
Info: lifecycle transitions, spawn/shutdown milestones — the default
production level.
Warn: alert warnings, heartbeat misses, retried transport errors.
Error: operation failures requiring investigation (spawn failed, probe
deadline exceeded after retries, checkpoint write failure).
*/
package log
