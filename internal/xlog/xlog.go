// Package xlog is a small structured logger modeled on the
// github.com/saferwall/pe/log package: a Logger that accepts alternating
// key/value pairs, a level Filter, and a Helper with printf-style and
// plain convenience methods on top.
package xlog

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is a logging severity.
type Level int8

// Logging levels, lowest to highest severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the human readable name of the level.
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger logs a level and a sequence of alternating key/value pairs.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes to an io.Writer using the standard library logger.
type stdLogger struct {
	mu  sync.Mutex
	std *log.Logger
}

// NewStdLogger returns a Logger that writes to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags)}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buf := fmt.Sprintf("level=%s", level.String())
	for i := 0; i < len(keyvals); i += 2 {
		buf += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	l.std.Println(buf)
	return nil
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// FilterLevel sets the minimum level that passes through the filter.
func FilterLevel(level Level) FilterOption {
	return func(f *Filter) {
		f.level = level
	}
}

// Filter wraps a Logger and drops records below a minimum level.
type Filter struct {
	logger Logger
	level  Level
}

// NewFilter returns a level-filtering Logger.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	f := &Filter{logger: logger, level: LevelInfo}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Log implements Logger.
func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}

// Helper adds printf-style and plain convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, msg string) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", msg)
}

// Debugf logs at debug level with formatting.
func (h *Helper) Debugf(format string, a ...interface{}) { h.log(LevelDebug, fmt.Sprintf(format, a...)) }

// Infof logs at info level with formatting.
func (h *Helper) Infof(format string, a ...interface{}) { h.log(LevelInfo, fmt.Sprintf(format, a...)) }

// Warnf logs at warn level with formatting.
func (h *Helper) Warnf(format string, a ...interface{}) { h.log(LevelWarn, fmt.Sprintf(format, a...)) }

// Errorf logs at error level with formatting.
func (h *Helper) Errorf(format string, a ...interface{}) { h.log(LevelError, fmt.Sprintf(format, a...)) }

// Debug logs its arguments at debug level.
func (h *Helper) Debug(a ...interface{}) { h.log(LevelDebug, fmt.Sprint(a...)) }

// Info logs its arguments at info level.
func (h *Helper) Info(a ...interface{}) { h.log(LevelInfo, fmt.Sprint(a...)) }

// Warn logs its arguments at warn level.
func (h *Helper) Warn(a ...interface{}) { h.log(LevelWarn, fmt.Sprint(a...)) }

// Error logs its arguments at error level.
func (h *Helper) Error(a ...interface{}) { h.log(LevelError, fmt.Sprint(a...)) }
