//go:build !linux

package procstat

import (
	"os"
	"time"
)

// On non-Linux platforms there is no /proc to read. Liveness is only what
// os.FindProcess reports (see readRaw); every other figure is reported as 0 without
// erroring, per spec.md §4.A "on other platforms, fall back to whatever
// process-level accounting is available".
type rawSample struct {
	exists               bool
	utime, stime         uint64
	rssBytes             uint64
	readBytes, writeBytes uint64
	readOps, writeOps     uint64
	openFDs               int
	at                    time.Time
}

func readRaw(pid int) rawSample {
	now := time.Now()
	// os.FindProcess never fails to find a pid on POSIX platforms; the
	// caller's own liveness probe (pkg/prober) is the authoritative check
	// here, this is best-effort only.
	_, err := os.FindProcess(pid)
	if err != nil {
		return rawSample{exists: false, at: now}
	}
	return rawSample{exists: true, at: now}
}

func clockTicks() int { return 100 }
