package procstat

import "errors"

var (
	// ErrNoStat indicates /proc/<pid>/stat was empty or malformed.
	ErrNoStat = errors.New("procstat: malformed or empty stat")

	// ErrShortStat indicates /proc/<pid>/stat had fewer fields than expected.
	ErrShortStat = errors.New("procstat: short stat")

	// ErrProcessGone indicates the target pid no longer exists.
	ErrProcessGone = errors.New("procstat: process gone")
)
