package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/clock"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/CodingButter/agent-supervisor/pkg/types"
)

// DefaultFlushInterval is how often the Logger drains the ring absent a
// full signal (spec.md §4.D "default 5 s").
const DefaultFlushInterval = 5 * time.Second

// DefaultSizeCapBytes is the rotation size cap (spec.md §4.D "default 10 MB").
const DefaultSizeCapBytes = 10 * 1024 * 1024

// DefaultMaxLogFiles bounds the number of rotated files retained.
const DefaultMaxLogFiles = 5

// LoggerConfig controls flush cadence and rotation.
type LoggerConfig struct {
	Path          string
	FlushInterval time.Duration
	SizeCapBytes  int64
	MaxLogFiles   int
}

// DefaultLoggerConfig returns spec.md §4.D's default Logger configuration
// for a log file at path.
func DefaultLoggerConfig(path string) LoggerConfig {
	return LoggerConfig{
		Path:          path,
		FlushInterval: DefaultFlushInterval,
		SizeCapBytes:  DefaultSizeCapBytes,
		MaxLogFiles:   DefaultMaxLogFiles,
	}
}

// Logger drains a Bus's ring on a timer or full signal, appends each event
// as one JSON object per line, fsyncs, and rotates the file when it exceeds
// the size cap (spec.md §4.D).
type Logger struct {
	cfg LoggerConfig
	bus *Bus
	clk clock.Clock

	mu   sync.Mutex
	file *os.File
	size int64
	seq  uint64

	stop chan struct{}
	done chan struct{}
}

// wireEvent is the on-disk shape spec.md §6 documents for the event log
// file: lowercase field names, an epoch-ms timestamp, and every field
// besides id/agentId/type/timestamp/metadata folded into "data".
type wireEvent struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agentId"`
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Data      wireEventData     `json:"data"`
	Metadata  map[string]string `json:"metadata"`
}

type wireEventData struct {
	Previous    string                `json:"previous,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	DurationMS  int64                 `json:"durationMs,omitempty"`
	Sample      *types.ResourceSample `json:"sample,omitempty"`
	Alert       *types.Alert          `json:"alert,omitempty"`
	ErrDetail   string                `json:"error,omitempty"`
}

// toWire converts ev to the spec's on-disk shape. seq is this event's
// position in the file's id sequence (evt_<ms>_<seq>).
func toWire(ev types.Event, seq uint64) wireEvent {
	return wireEvent{
		ID:        fmt.Sprintf("evt_%d_%d", ev.Time.UnixMilli(), seq),
		AgentID:   ev.AgentID,
		Type:      string(ev.Type),
		Timestamp: ev.Time.UnixMilli(),
		Data: wireEventData{
			Previous:   string(ev.Previous),
			Reason:     ev.Reason,
			DurationMS: ev.Duration.Milliseconds(),
			Sample:     ev.Sample,
			Alert:      ev.Alert,
			ErrDetail:  ev.ErrDetail,
		},
		Metadata: ev.Metadata,
	}
}

// NewLogger builds a Logger draining bus into the file named by cfg.Path.
// clk defaults to clock.System{} if nil.
func NewLogger(cfg LoggerConfig, bus *Bus, clk clock.Clock) *Logger {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.SizeCapBytes <= 0 {
		cfg.SizeCapBytes = DefaultSizeCapBytes
	}
	if cfg.MaxLogFiles <= 0 {
		cfg.MaxLogFiles = DefaultMaxLogFiles
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Logger{
		cfg:  cfg,
		bus:  bus,
		clk:  clk,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start opens the log file and begins the drain loop.
func (l *Logger) Start() error {
	if err := os.MkdirAll(filepath.Dir(l.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("eventbus: create log dir: %w", err)
	}
	if err := l.openLocked(); err != nil {
		return err
	}
	go l.run()
	return nil
}

// Stop halts the drain loop and closes the log file, flushing any
// remaining ring contents first.
func (l *Logger) Stop() {
	close(l.stop)
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Sync()
		_ = l.file.Close()
		l.file = nil
	}
}

func (l *Logger) openLocked() error {
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventbus: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("eventbus: stat log file: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *Logger) run() {
	defer close(l.done)

	timer := l.clk.NewTimer(l.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			l.flush()
			return
		case <-timer.C():
			l.flush()
			timer.Reset(l.cfg.FlushInterval)
		case <-l.bus.fullSignal():
			l.flush()
		}
	}
}

// flush drains the bus ring and appends every event to the log file.
func (l *Logger) flush() {
	events := l.bus.drain()
	if len(events) == 0 {
		return
	}

	if err := l.appendAndSync(events); err != nil {
		log.Errorf("eventbus: flush failed, requeuing events", err)
		l.bus.requeue(events)
	}
}

func (l *Logger) appendAndSync(events []types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.openLocked(); err != nil {
			return err
		}
	}

	for _, ev := range events {
		l.seq++
		line, err := json.Marshal(toWire(ev, l.seq))
		if err != nil {
			return fmt.Errorf("eventbus: marshal event: %w", err)
		}
		line = append(line, '\n')
		n, err := l.file.Write(line)
		if err != nil {
			return fmt.Errorf("eventbus: write event: %w", err)
		}
		l.size += int64(n)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("eventbus: fsync: %w", err)
	}

	if l.size >= l.cfg.SizeCapBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked renames X.log -> X.1.log (shifting existing .N.log to
// .N+1.log, dropping the oldest beyond MaxLogFiles) then opens a fresh
// X.log, per spec.md §4.D "Rotation".
func (l *Logger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("eventbus: close before rotate: %w", err)
	}
	l.file = nil

	if oldest := rotatedName(l.cfg.Path, l.cfg.MaxLogFiles); fileExists(oldest) {
		_ = os.Remove(oldest)
	}
	for n := l.cfg.MaxLogFiles - 1; n >= 1; n-- {
		src := rotatedName(l.cfg.Path, n)
		if !fileExists(src) {
			continue
		}
		_ = os.Rename(src, rotatedName(l.cfg.Path, n+1))
	}

	if err := os.Rename(l.cfg.Path, rotatedName(l.cfg.Path, 1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eventbus: rotate: %w", err)
	}

	return l.openLocked()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func rotatedName(path string, n int) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return fmt.Sprintf("%s.%d%s", base, n, ext)
}
