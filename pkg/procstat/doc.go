// Package procstat reads per-process resource figures from /proc on Linux
// and falls back to zero-valued fields elsewhere, per spec.md §4.A. Host-level
// aggregates (core count, total memory, disk usage) come from gopsutil so the
// per-process percentages can be normalized against the real host rather than
// an assumed single core.
//
// Sample is stateless per call; callers (pkg/sampler) keep a Reader alive
// per agent so jiffy/byte counters have a previous value to delta against.
package procstat
