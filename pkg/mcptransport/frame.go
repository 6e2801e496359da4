package mcptransport

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// sseFrame is one reassembled Server-Sent Events frame (spec.md §6 "SSE
// frames per RFC: id:, event:, data: (accumulating), retry:; blank line
// terminates a frame").
type sseFrame struct {
	ID    string
	Event string
	Data  string
	Retry time.Duration
}

func (f sseFrame) empty() bool {
	return f.ID == "" && f.Event == "" && f.Data == "" && f.Retry == 0
}

// parseSSEStream reads r line by line, reassembling multiline "data:"
// fields and invoking handle once per blank-line-terminated frame. It
// returns when r is exhausted or errors.
func parseSSEStream(r io.Reader, handle func(sseFrame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var frame sseFrame
	var data []string

	flush := func() {
		frame.Data = strings.Join(data, "\n")
		if !frame.empty() {
			handle(frame)
		}
		frame = sseFrame{}
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		field, value := splitSSEField(line)
		switch field {
		case "id":
			frame.ID = value
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				frame.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if len(data) > 0 || !frame.empty() {
		flush()
	}
	return scanner.Err()
}

func splitSSEField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = strings.TrimPrefix(line[idx+1:], " ")
	return field, value
}
