// Package log provides structured logging for quill services.
package log

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str builds a string Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int Field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 Field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Err builds an error Field under the conventional "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Component tags a logger with the owning component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Logger is the logging interface passed into quill components. Loggers are
// constructed at process start and handed down explicitly; there is no
// package-level default.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying additional fields.
	With(fields ...Field) Logger
}

// Option configures a logger under construction.
type Option func(*options)

type options struct {
	level  Level
	format string
	out    io.Writer
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) Option {
	return func(o *options) { o.level = level }
}

// WithFormat selects the output format: "text" or "json".
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithOutput sets the destination writer.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

type slogLogger struct {
	sl *slog.Logger
}

// NewLogger creates a logger backed by log/slog.
func NewLogger(opts ...Option) Logger {
	o := options{level: InfoLevel, format: "text", out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	hopts := &slog.HandlerOptions{Level: toSlogLevel(o.level)}
	var h slog.Handler
	if o.format == "json" {
		h = slog.NewJSONHandler(o.out, hopts)
	} else {
		h = slog.NewTextHandler(o.out, hopts)
	}
	return &slogLogger{sl: slog.New(h)}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() Logger {
	return &slogLogger{sl: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.sl.Debug(msg, attrs(fields)...) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.sl.Info(msg, attrs(fields)...) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, attrs(fields)...) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.sl.Error(msg, attrs(fields)...) }

func (l *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{sl: l.sl.With(attrs(fields)...)}
}

// RedirectStdLog routes the standard library logger (used by Pebble internals)
// through the provided Logger at Info level.
func RedirectStdLog(logger Logger) {
	log.SetFlags(0)
	log.SetOutput(stdlogWriter{logger})
}

type stdlogWriter struct{ logger Logger }

func (w stdlogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func attrs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
