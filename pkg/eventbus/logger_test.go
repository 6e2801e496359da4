package eventbus

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
	}
	return n
}

func TestLoggerFlushesOnTimer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	bus := New(100)
	mock := clock.NewMock(time.Unix(0, 0))
	logger := NewLogger(DefaultLoggerConfig(path), bus, mock)
	require.NoError(t, logger.Start())
	defer logger.Stop()

	bus.Emit(types.Event{Type: types.EventAgentStarted, AgentID: "a1"})

	require.Eventually(t, func() bool {
		mock.Advance(DefaultFlushInterval)
		return countLines(t, path) >= 1
	}, time.Second, time.Millisecond)
}

func TestLoggerFlushesImmediatelyWhenRingFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	bus := New(3)
	cfg := DefaultLoggerConfig(path)
	cfg.FlushInterval = time.Hour
	mock := clock.NewMock(time.Unix(0, 0))
	logger := NewLogger(cfg, bus, mock)
	require.NoError(t, logger.Start())
	defer logger.Stop()

	for i := 0; i < 3; i++ {
		bus.Emit(types.Event{Type: types.EventAgentStarted})
	}

	require.Eventually(t, func() bool {
		return countLines(t, path) >= 3
	}, time.Second, time.Millisecond)
}

func TestLoggerWritesSpecWireFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	bus := New(100)
	mock := clock.NewMock(time.Unix(100, 0))
	logger := NewLogger(DefaultLoggerConfig(path), bus, mock)
	require.NoError(t, logger.Start())

	bus.Emit(types.Event{
		Type:     types.EventAgentStarted,
		AgentID:  "a1",
		Time:     mock.Now(),
		Reason:   "spawned",
		Metadata: map[string]string{"k": "v"},
	})

	require.Eventually(t, func() bool {
		mock.Advance(DefaultFlushInterval)
		return countLines(t, path) >= 1
	}, time.Second, time.Millisecond)

	logger.Stop()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &raw))

	assert.True(t, strings.HasPrefix(raw["id"].(string), "evt_"))
	assert.Equal(t, "a1", raw["agentId"])
	assert.Equal(t, string(types.EventAgentStarted), raw["type"])
	assert.EqualValues(t, mock.Now().UnixMilli(), raw["timestamp"])
	dataObj, ok := raw["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "spawned", dataObj["reason"])
	metadata, ok := raw["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v", metadata["k"])
}

func TestLoggerRotatesAtSizeCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	bus := New(1)
	cfg := DefaultLoggerConfig(path)
	cfg.SizeCapBytes = 10
	cfg.FlushInterval = time.Hour
	mock := clock.NewMock(time.Unix(0, 0))
	logger := NewLogger(cfg, bus, mock)
	require.NoError(t, logger.Start())
	defer logger.Stop()

	bus.Emit(types.Event{Type: types.EventAgentStarted, AgentID: "a1"})

	require.Eventually(t, func() bool {
		return fileExists(rotatedName(path, 1))
	}, time.Second, time.Millisecond)

	assert.FileExists(t, rotatedName(path, 1))
}
