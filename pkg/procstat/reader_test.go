package procstat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeltaU64(t *testing.T) {
	assert.Equal(t, uint64(10), deltaU64(110, 100))
	assert.Equal(t, uint64(0), deltaU64(100, 100))
	assert.Equal(t, uint64(0), deltaU64(99, 100), "counter wrap or reset should yield 0, not underflow")
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-5))
	assert.Equal(t, 100.0, clampPercent(150))
	assert.InDelta(t, 42.5, clampPercent(42.5), 0.0001)
}

func TestReaderFirstSampleIsZeroCPU(t *testing.T) {
	pid := currentPID(t)
	r := NewReader(pid, 4)
	snap := r.Sample()
	assert.True(t, snap.Exists)
	assert.Equal(t, 0.0, snap.CPUPercent, "first sample must seed the cache, not report a spurious percent")
}

func TestReaderSecondSampleDerivesFromDelta(t *testing.T) {
	pid := currentPID(t)
	r := NewReader(pid, 4)
	r.Sample()
	time.Sleep(5 * time.Millisecond)
	snap := r.Sample()
	assert.True(t, snap.Exists)
	assert.GreaterOrEqual(t, snap.CPUPercent, 0.0)
	assert.LessOrEqual(t, snap.CPUPercent, 100.0)
}

func TestReaderMissingProcess(t *testing.T) {
	r := NewReader(missingPID, 1)
	snap := r.Sample()
	assert.False(t, snap.Exists)
}
