package alert

import "github.com/CodingButter/agent-supervisor/pkg/types"

// Strategy inspects a sample and returns zero or more alerts it wants
// active. The Engine does not interpret the alerts further than keying and
// de-duplicating them; all threshold logic lives in the strategy.
type Strategy interface {
	// Name identifies the strategy for logging and priority ordering.
	Name() string
	// Priority controls evaluation order, descending (spec.md §4.C "sorts
	// strategies by descending priority").
	Priority() int
	// Evaluate returns the alerts this strategy currently believes should
	// be active for the sample.
	Evaluate(sample types.ResourceSample) []types.Alert
}

// thresholdStrategy is shared by the CPU and memory default strategies: a
// warning and a critical threshold, both subject to hysteresis on
// resolution (handled by the Engine, not here).
type thresholdStrategy struct {
	name             string
	priority         int
	kind             types.AlertKind
	warningThreshold float64
	criticalThreshold float64
	observe          func(types.ResourceSample) (value float64, ok bool)
}

func (s *thresholdStrategy) Name() string  { return s.name }
func (s *thresholdStrategy) Priority() int { return s.priority }

func (s *thresholdStrategy) Evaluate(sample types.ResourceSample) []types.Alert {
	value, ok := s.observe(sample)
	if !ok {
		return nil
	}

	var alerts []types.Alert
	switch {
	case value >= s.criticalThreshold:
		alerts = append(alerts, types.Alert{
			AgentID:   sample.AgentID,
			Kind:      s.kind,
			Severity:  types.SeverityCritical,
			Observed:  value,
			Threshold: s.criticalThreshold,
			Timestamp: sample.Timestamp,
			Message:   s.name + " critical threshold exceeded",
		})
	case value >= s.warningThreshold:
		alerts = append(alerts, types.Alert{
			AgentID:   sample.AgentID,
			Kind:      s.kind,
			Severity:  types.SeverityWarning,
			Observed:  value,
			Threshold: s.warningThreshold,
			Timestamp: sample.Timestamp,
			Message:   s.name + " warning threshold exceeded",
		})
	}
	return alerts
}

// DefaultCPUWarning, DefaultCPUCritical, DefaultMemoryWarning, and
// DefaultMemoryCritical are spec.md §4.C's default thresholds ("default
// 90/95 for CPU/memory").
const (
	DefaultCPUWarning      = 90.0
	DefaultCPUCritical     = 95.0
	DefaultMemoryWarning   = 90.0
	DefaultMemoryCritical  = 95.0
)

// NewCPUStrategy returns the default CPU-percent threshold strategy.
func NewCPUStrategy(warning, critical float64) Strategy {
	return &thresholdStrategy{
		name:              "cpu_threshold",
		priority:          100,
		kind:              types.AlertKindCPU,
		warningThreshold:  warning,
		criticalThreshold: critical,
		observe: func(s types.ResourceSample) (float64, bool) {
			return s.CPUPercent, true
		},
	}
}

// NewMemoryStrategy returns the default memory-percent-of-host threshold
// strategy.
func NewMemoryStrategy(warning, critical float64) Strategy {
	return &thresholdStrategy{
		name:              "memory_threshold",
		priority:          90,
		kind:              types.AlertKindMemory,
		warningThreshold:  warning,
		criticalThreshold: critical,
		observe: func(s types.ResourceSample) (float64, bool) {
			if s.MemoryPercentOfHost <= 0 {
				return 0, false
			}
			return s.MemoryPercentOfHost, true
		},
	}
}
