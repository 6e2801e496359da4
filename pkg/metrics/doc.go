// Package metrics exposes Prometheus instrumentation for the agent
// supervisor: agent population by lifecycle state, restart outcomes, active
// alerts, event-bus throughput and drops, sampler/prober tick latency,
// inter-agent bus traffic, and tool-server call latency.
//
// It is adapted from the teacher's pkg/metrics: the same
// GaugeVec/CounterVec/HistogramVec-plus-init()-registration shape, the same
// Timer helper, and a Collector with the teacher's ticker-driven collect()
// loop. Where the teacher's Collector only polls its manager, this one also
// subscribes to the Event Bus directly for counters a poll can't
// reconstruct (restart attempts, dropped messages) — this domain has an
// event bus to listen to, so the collector uses it.
package metrics
