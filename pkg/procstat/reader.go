package procstat

import (
	"runtime"
	"time"
)

// Snapshot is one tick of raw process figures, already normalized into the
// units pkg/sampler assembles into a types.ResourceSample.
type Snapshot struct {
	Exists bool

	CPUPercent float64

	MemoryResidentBytes int64

	IOReadBytes  uint64
	IOWriteBytes uint64
	IOReadOps    uint64
	IOWriteOps   uint64

	OpenFDCount int
}

// Reader samples one pid repeatedly, keeping the previous tick's counters so
// CPU percent can be derived as a delta over wall-clock time (spec.md §4.A
// step 2). A Reader is not safe for concurrent use; pkg/sampler keeps one
// per agent behind its own per-agent serialization.
type Reader struct {
	pid int

	hasPrev  bool
	prevAt   time.Time
	prevCPU  uint64 // utime+stime jiffies
	tickHz   int
	numCPU   int
}

// NewReader constructs a Reader for pid. numCPU should be the host's logical
// core count (pkg/sampler obtains it once from the Host aggregator) so CPU
// percent is normalized the same way regardless of how many cores the agent
// process happens to be scheduled across.
func NewReader(pid int, numCPU int) *Reader {
	if numCPU < 1 {
		numCPU = 1
	}
	return &Reader{pid: pid, tickHz: clockTicks(), numCPU: numCPU}
}

// Sample reads the current figures and returns a Snapshot. The very first
// call after construction always reports CPUPercent=0 and seeds the delta
// cache, matching spec.md §4.A step 2's "first sample after start emits
// CPU=0".
func (r *Reader) Sample() Snapshot {
	raw := readRaw(r.pid)
	if !raw.exists {
		return Snapshot{Exists: false}
	}

	cpuJiffies := raw.utime + raw.stime
	var cpuPercent float64

	if !r.hasPrev {
		r.hasPrev = true
		r.prevAt = raw.at
		r.prevCPU = cpuJiffies
	} else {
		dtSec := raw.at.Sub(r.prevAt).Seconds()
		if dtSec > 0 {
			deltaJiffies := deltaU64(cpuJiffies, r.prevCPU)
			cpuSeconds := float64(deltaJiffies) / float64(r.tickHz)
			cpuPercent = clampPercent(cpuSeconds / (dtSec * float64(r.numCPU)) * 100)
		}
		r.prevAt = raw.at
		r.prevCPU = cpuJiffies
	}

	return Snapshot{
		Exists:              true,
		CPUPercent:          cpuPercent,
		MemoryResidentBytes: int64(raw.rssBytes),
		IOReadBytes:         raw.readBytes,
		IOWriteBytes:        raw.writeBytes,
		IOReadOps:           raw.readOps,
		IOWriteOps:          raw.writeOps,
		OpenFDCount:         raw.openFDs,
	}
}

func deltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Platform reports the runtime GOOS, exposed so callers can log which
// sampling path (proc-based vs fallback) produced a given Snapshot.
func Platform() string { return runtime.GOOS }
