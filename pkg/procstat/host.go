package procstat

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats holds the host-wide figures the Resource Sampler normalizes
// per-process percentages against. Per-process figures come from raw /proc
// parsing (reader.go); these come from gopsutil since the host doesn't have
// a single canonical /proc entry the way a pid does.
type HostStats struct {
	NumCPU         int
	TotalMemBytes  uint64
	DiskTotalBytes uint64
	DiskFreeBytes  uint64
	DiskPercent    float64
}

// defaultDiskPath is the default mount path sampled for disk usage.
// Supervisors running in a container typically bind-mount the agent's
// workspace here; a different path can be set through sampler.Config's
// DiskPath field.
const defaultDiskPath = "/"

// HostAggregator reads host-wide figures on demand. It caches nothing: core
// count and total memory rarely change, but disk free space does, so every
// call re-reads through gopsutil.
type HostAggregator struct {
	diskPath string
}

// NewHostAggregator builds a HostAggregator that reports disk usage for
// diskPath (defaultDiskPath if empty).
func NewHostAggregator(diskPath string) *HostAggregator {
	if diskPath == "" {
		diskPath = defaultDiskPath
	}
	return &HostAggregator{diskPath: diskPath}
}

// Stats gathers current host-level figures.
func (h *HostAggregator) Stats(ctx context.Context) (HostStats, error) {
	var out HostStats

	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = 1
	}
	out.NumCPU = n

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.TotalMemBytes = vm.Total
	}

	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		out.DiskTotalBytes = du.Total
		out.DiskFreeBytes = du.Free
		out.DiskPercent = du.UsedPercent
	}

	return out, nil
}
