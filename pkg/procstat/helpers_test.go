package procstat

import (
	"os"
	"testing"
)

// missingPID is chosen high enough to be very unlikely to be a live pid on
// any test runner, without relying on a reserved/sentinel value.
const missingPID = 1 << 22

func currentPID(t *testing.T) int {
	t.Helper()
	return os.Getpid()
}
