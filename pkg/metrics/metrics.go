package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent population
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentsupervisor_agents_total",
			Help: "Current number of agents by lifecycle state",
		},
		[]string{"state"},
	)

	ActiveAlertsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentsupervisor_active_alerts_total",
			Help: "Current number of active alerts by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	// ActiveAlertsAggregate is polled straight from the Alert Engine rather
	// than derived from raised/resolved events, so it can't drift from the
	// engine's own view even if an event is ever dropped.
	ActiveAlertsAggregate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentsupervisor_active_alerts_aggregate",
			Help: "Current total number of active alerts across all agents",
		},
	)

	// Restart / lifecycle operations
	RestartAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsupervisor_restart_attempts_total",
			Help: "Total number of automatic restart attempts by outcome",
		},
		[]string{"outcome"}, // attempted, succeeded, failed
	)

	AgentSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsupervisor_agent_spawn_duration_seconds",
			Help:    "Time taken to spawn a new Process Host",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentKillDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsupervisor_agent_kill_duration_seconds",
			Help:    "Time taken for Kill to observe termination or escalate",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event bus
	EventBusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsupervisor_eventbus_events_total",
			Help: "Total number of events emitted on the event bus by type",
		},
		[]string{"type"},
	)

	EventBusDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentsupervisor_eventbus_dropped_total",
			Help: "Total number of events dropped because a subscriber's queue was full",
		},
	)

	// Sampler / Prober tick latency
	SamplerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsupervisor_sampler_tick_duration_seconds",
			Help:    "Time taken for one Resource Sampler tick across all registered agents",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProberCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentsupervisor_prober_check_duration_seconds",
			Help:    "Time taken for one Health Prober responsiveness check",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Inter-agent bus
	InterBusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsupervisor_interbus_messages_total",
			Help: "Total number of inter-agent bus messages by kind",
		},
		[]string{"kind"},
	)

	// Tool-server transport
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentsupervisor_tool_calls_total",
			Help: "Total number of JSON-RPC tool-server calls by method and status",
		},
		[]string{"method", "status"},
	)

	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentsupervisor_tool_call_duration_seconds",
			Help:    "JSON-RPC tool-server call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(ActiveAlertsTotal)
	prometheus.MustRegister(ActiveAlertsAggregate)
	prometheus.MustRegister(RestartAttemptsTotal)
	prometheus.MustRegister(AgentSpawnDuration)
	prometheus.MustRegister(AgentKillDuration)
	prometheus.MustRegister(EventBusEventsTotal)
	prometheus.MustRegister(EventBusDroppedTotal)
	prometheus.MustRegister(SamplerTickDuration)
	prometheus.MustRegister(ProberCheckDuration)
	prometheus.MustRegister(InterBusMessagesTotal)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(ToolCallDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
