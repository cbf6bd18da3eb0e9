// Package logger is a small leveled logger writing to an append-only file.
// Loggers derived with WithPrefix share their parent's output and level, so
// changing the level of the global logger takes effect everywhere.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents a logging level
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables all logging
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// sink is the output shared by a logger and everything derived from it.
type sink struct {
	level atomic.Int32

	mu   sync.Mutex
	out  io.Writer
	file *os.File
}

func newSink(level Level, out io.Writer) *sink {
	s := &sink{out: out}
	s.level.Store(int32(level))
	return s
}

// open points the sink at logPath. An empty path or LevelNone discards.
func (s *sink) open(level Level, logPath string) error {
	var (
		out  io.Writer
		file *os.File
	)
	if level != LevelNone && logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out, file = f, f
	}

	s.mu.Lock()
	old := s.file
	s.out, s.file = out, file
	s.mu.Unlock()
	s.level.Store(int32(level))

	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	io.WriteString(s.out, line)
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.file
	s.out, s.file = nil, nil
	if f != nil {
		return f.Close()
	}
	return nil
}

// Logger writes leveled, prefixed lines.
type Logger struct {
	sink   *sink
	prefix string
}

var global = &Logger{sink: newSink(LevelNone, nil)}

// Init points the global logger at logPath. Loggers already derived from
// Global follow.
func Init(level Level, logPath string) error {
	return global.sink.open(level, logPath)
}

// New creates a logger with its own output file.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	s := newSink(level, nil)
	if err := s.open(level, logPath); err != nil {
		return nil, err
	}
	return &Logger{sink: s, prefix: prefix}, nil
}

// NewWriter creates a logger writing to w.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{sink: newSink(level, w), prefix: prefix}
}

// Global returns the process-wide logger. It discards everything until
// Init is called.
func Global() *Logger {
	return global
}

// WithPrefix derives a logger whose lines carry an additional prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + ":" + prefix
	}
	return &Logger{sink: l.sink, prefix: prefix}
}

// SetLevel changes the level of this logger and every logger sharing its
// output.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.Store(int32(level))
}

func (l *Logger) GetLevel() Level {
	return Level(l.sink.level.Load())
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level Level) bool {
	current := l.GetLevel()
	return current != LevelNone && level >= current
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString("[" + l.prefix + "] ")
	}
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')
	l.sink.write(b.String())
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying file. Loggers sharing it stop writing.
func (l *Logger) Close() error {
	return l.sink.close()
}

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	global.Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	global.Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	global.Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	global.Error(format, args...)
}
