package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel is a backend independent level.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names fail.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the minimal logging interface accepted by every component.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// attacher is implemented by adapters that can bind fixed attributes.
type attacher interface {
	With(args ...any) Logger
}

// With returns a logger that adds args to every entry. Loggers that cannot
// bind attributes get them appended per call.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	if len(args) == 0 {
		return l
	}
	if a, ok := l.(attacher); ok {
		return a.With(args...)
	}
	return &boundLogger{next: l, args: args}
}

type boundLogger struct {
	next Logger
	args []any
}

func (b *boundLogger) merge(args []any) []any {
	out := make([]any, 0, len(b.args)+len(args))
	return append(append(out, b.args...), args...)
}

func (b *boundLogger) Debug(msg string, args ...any) { b.next.Debug(msg, b.merge(args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.next.Info(msg, b.merge(args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.next.Warn(msg, b.merge(args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.next.Error(msg, b.merge(args)...) }

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// With binds attributes.
func (s *SlogAdapter) With(args ...any) Logger { return &SlogAdapter{Logger: s.Logger.With(args...)} }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// Config selects backend, level and format.
type Config struct {
	Level LogLevel
	// Format is "json" (default) or "text"; zap maps text to its console encoder.
	Format string
	// Backend is "slog" (default) or "zap".
	Backend   string
	Output    io.Writer
	AddSource bool
}

// New builds a Logger from cfg.
func New(cfg Config) (Logger, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "slog":
		return newSlog(cfg), nil
	case "zap":
		return NewZapLogger(cfg)
	}
	return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
}

func newSlog(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return NewSlogAdapter(slog.New(handler))
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
