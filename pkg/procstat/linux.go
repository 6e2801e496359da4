//go:build linux

package procstat

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicks returns jiffies (clock ticks) per second. CLK_TCK lets tests
// override it; production falls back to the near-universal default of 100
// since sysconf(_SC_CLK_TCK) would require cgo.
func clockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	return 100
}

// pageSize returns the system memory page size in bytes.
func pageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return os.Getpagesize()
}

// procExists reports whether /proc/<pid> exists.
func procExists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

// readStat parses /proc/<pid>/stat, returning user+system CPU jiffies.
// comm (field 2) is parenthesized and may itself contain spaces or closing
// parens, so the split point is the LAST ") " in the line.
func readStat(pid int) (utime, stime uint64, err error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, 0, ErrNoStat
	}
	line := sc.Text()

	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, 0, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])

	get := func(idx int) uint64 {
		if idx >= len(fields) {
			return 0
		}
		v, _ := strconv.ParseUint(fields[idx], 10, 64)
		return v
	}

	// utime is field 14 overall, stime field 15; after stripping pid+comm
	// the remaining fields are 0-indexed from field 3, so utime => [11],
	// stime => [12].
	if len(fields) < 13 {
		return 0, 0, ErrShortStat
	}
	utime = get(11)
	stime = get(12)
	return utime, stime, nil
}

// readRSS returns resident set size in bytes, preferring smaps_rollup
// (aggregated since kernel 4.14) and falling back to statm.
func readRSS(pid int) (uint64, error) {
	if f, err := os.Open(fmt.Sprintf("/proc/%d/smaps_rollup", pid)); err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "Rss:") {
				fs := strings.Fields(sc.Text())
				if len(fs) >= 2 {
					kb, _ := strconv.ParseUint(fs[1], 10, 64)
					return kb * 1024, nil
				}
			}
		}
	}
	if b, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid)); err == nil {
		fs := strings.Fields(string(b))
		if len(fs) >= 2 {
			pages, _ := strconv.ParseUint(fs[1], 10, 64)
			return pages * uint64(pageSize()), nil
		}
	}
	return 0, nil
}

// readIO reads /proc/<pid>/io. Not all processes expose every counter; a
// missing file yields all-zero without error, matching spec.md §4.A's
// "values not derivable are reported as 0 without erroring".
func readIO(pid int) (readBytes, writeBytes, readOps, writeOps uint64) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/io", pid))
	if err != nil {
		return 0, 0, 0, 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "read_bytes:"):
			readBytes, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "read_bytes:")), 10, 64)
		case strings.HasPrefix(line, "write_bytes:"):
			writeBytes, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "write_bytes:")), 10, 64)
		case strings.HasPrefix(line, "syscr:"):
			readOps, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "syscr:")), 10, 64)
		case strings.HasPrefix(line, "syscw:"):
			writeOps, _ = strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "syscw:")), 10, 64)
		}
	}
	return readBytes, writeBytes, readOps, writeOps
}

// countFDs counts entries under /proc/<pid>/fd. Returns 0 on any read error
// (permission denied on another user's process, process just exited).
func countFDs(pid int) int {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return 0
	}
	return len(entries)
}

// rawSample is the platform-specific figures gathered for one pid at one
// instant, before CPU percent is derived from the previous tick's delta.
type rawSample struct {
	exists               bool
	utime, stime         uint64
	rssBytes             uint64
	readBytes, writeOps  uint64
	writeBytes, readOps  uint64
	openFDs              int
	at                   time.Time
}

func readRaw(pid int) rawSample {
	now := time.Now()
	if !procExists(pid) {
		return rawSample{exists: false, at: now}
	}
	ut, st, err := readStat(pid)
	if err != nil {
		ut, st = 0, 0
	}
	rss, _ := readRSS(pid)
	rb, wb, ro, wo := readIO(pid)
	fds := countFDs(pid)
	return rawSample{
		exists:     true,
		utime:      ut,
		stime:      st,
		rssBytes:   rss,
		readBytes:  rb,
		writeBytes: wb,
		readOps:    ro,
		writeOps:   wo,
		openFDs:    fds,
		at:         now,
	}
}
