// Package sampler implements the Resource Sampler (spec.md §4.A): a
// per-agent ticking loop that reads process figures via pkg/procstat,
// assembles a types.ResourceSample, pushes it to the agent's history sink
// (pkg/lifecycle's ring buffer), and hands it to the Alert Engine.
//
// The per-agent loop shape is grounded on the teacher's metrics Collector
// (ticker + stop channel, immediate first collection), generalized from one
// global collect() sweep to one loop per agent so a slow or wedged /proc read
// for one agent cannot delay another's tick.
package sampler
