package mcptransport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSEStreamReassemblesMultilineData(t *testing.T) {
	raw := "id: 1\nevent: message\ndata: line one\ndata: line two\n\n"

	var frames []sseFrame
	require.NoError(t, parseSSEStream(strings.NewReader(raw), func(f sseFrame) {
		frames = append(frames, f)
	}))

	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0].ID)
	assert.Equal(t, "message", frames[0].Event)
	assert.Equal(t, "line one\nline two", frames[0].Data)
}

func TestParseSSEStreamHandlesRetryField(t *testing.T) {
	raw := "retry: 2500\ndata: hi\n\n"

	var frames []sseFrame
	require.NoError(t, parseSSEStream(strings.NewReader(raw), func(f sseFrame) {
		frames = append(frames, f)
	}))

	require.Len(t, frames, 1)
	assert.Equal(t, 2500*time.Millisecond, frames[0].Retry)
}

func TestParseSSEStreamMultipleFrames(t *testing.T) {
	raw := "data: first\n\ndata: second\n\n"

	var frames []sseFrame
	require.NoError(t, parseSSEStream(strings.NewReader(raw), func(f sseFrame) {
		frames = append(frames, f)
	}))

	require.Len(t, frames, 2)
	assert.Equal(t, "first", frames[0].Data)
	assert.Equal(t, "second", frames[1].Data)
}

func TestParseSSEStreamTrailingFrameWithoutBlankLine(t *testing.T) {
	raw := "event: ping\ndata: beat"

	var frames []sseFrame
	require.NoError(t, parseSSEStream(strings.NewReader(raw), func(f sseFrame) {
		frames = append(frames, f)
	}))

	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
}
