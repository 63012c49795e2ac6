package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level filters which entries a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a textual level to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options configures where a Logger writes.
type Options struct {
	// Dir is the log directory. Defaults to ~/.sessionpilot/logs
	Dir string

	// Writer bypasses the log file entirely when set
	Writer io.Writer

	// Level is the minimum level written
	Level Level

	// RunID names the log file. A uuid is generated when empty
	RunID string
}

// sink is shared by a logger and every child created with With.
type sink struct {
	mu        sync.Mutex
	w         io.Writer
	file      *os.File
	path      string
	closeOnce sync.Once
}

// Logger writes component-tagged lines for one authentication run.
// All loggers derived from the same root append to the same file.
type Logger struct {
	component string
	level     Level
	runID     string
	out       *sink
}

// New creates a logger for a component.
// The logger writes to <dir>/<run-id>-sessionpilot.log.
//
// If the log directory cannot be created or the file cannot be opened,
// it returns a logger that writes to stderr along with the error so
// callers can report the fallback.
func New(component string, opts Options) (*Logger, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	if opts.Writer != nil {
		return &Logger{component: component, level: opts.Level, runID: runID, out: &sink{w: opts.Writer}}, nil
	}

	dir := opts.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return newFallback(component, opts.Level, runID, fmt.Errorf("failed to get home directory: %w", err))
		}
		dir = filepath.Join(home, ".sessionpilot", "logs")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return newFallback(component, opts.Level, runID, fmt.Errorf("failed to create log directory: %w", err))
	}

	path := filepath.Join(dir, runID+"-sessionpilot.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return newFallback(component, opts.Level, runID, fmt.Errorf("failed to open log file: %w", err))
	}

	return &Logger{
		component: component,
		level:     opts.Level,
		runID:     runID,
		out:       &sink{w: file, file: file, path: path},
	}, nil
}

func newFallback(component string, level Level, runID string, cause error) (*Logger, error) {
	l := &Logger{component: component, level: level, runID: runID, out: &sink{w: os.Stderr}}
	l.Warnf("failed to initialize file logging: %v", cause)
	l.Warnf("falling back to stderr logging")
	return l, cause
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{component: "nop", level: LevelError + 1, out: &sink{w: io.Discard}}
}

// With returns a child logger for another component sharing the same output.
func (l *Logger) With(component string) *Logger {
	return &Logger{component: component, level: l.level, runID: l.runID, out: l.out}
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	message := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	entry := fmt.Sprintf("[%s] [%s] [%s] %s\n", timestamp, l.component, level, message)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = io.WriteString(l.out.w, entry)
}

// Printf logs a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) { l.write(LevelWarn, format, v...) }

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// RunID returns the identifier shared by every logger of this run.
func (l *Logger) RunID() string { return l.runID }

// LogPath returns the path to the log file, or "" when not file backed.
func (l *Logger) LogPath() string { return l.out.path }

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.out.closeOnce.Do(func() {
		if l.out.file != nil {
			err = l.out.file.Close()
		}
	})
	return err
}
