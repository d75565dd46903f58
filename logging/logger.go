package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
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

// ParseLevel maps a config string (debug, info, warn, error) to a LogLevel.
// Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface for querymesh.
// Arguments after msg are slog key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger. A nil logger maps to
// slog.Default().
func NewSlogAdapter(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{Logger: logger}
}

// RunLogger wraps slog.Logger adding run / component scoping and domain
// helpers. With* methods return copies; the receiver is never mutated.
type RunLogger struct {
	logger    *slog.Logger
	component string
	runID     string
	sessionID string
}

// LoggerConfig configures construction of a RunLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a RunLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *RunLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
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
	return &RunLogger{logger: slog.New(handler), component: cfg.Component}
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

// WithComponent sets the logical component (runtime, collector, orchestrator, stage name).
func (l *RunLogger) WithComponent(c string) *RunLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithRun attaches run and session identifiers.
func (l *RunLogger) WithRun(runID, sessionID string) *RunLogger {
	nl := *l
	nl.runID = runID
	nl.sessionID = sessionID
	return &nl
}

func (l *RunLogger) attrs(args []any) []any {
	out := make([]any, 0, len(args)+6)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.runID != "" {
		out = append(out, "run_id", l.runID)
	}
	if l.sessionID != "" {
		out = append(out, "session_id", l.sessionID)
	}
	return append(out, args...)
}

// Debug logs at debug level.
func (l *RunLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.attrs(args)...) }

// Info logs at info level.
func (l *RunLogger) Info(msg string, args ...any) { l.logger.Info(msg, l.attrs(args)...) }

// Warn logs at warn level.
func (l *RunLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, l.attrs(args)...) }

// Error logs at error level.
func (l *RunLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.attrs(args)...) }

// LogDelivery records one handler invocation on the bus. Extra key/value
// pairs are appended after the standard attributes.
func (l *RunLogger) LogDelivery(agent, kind string, dur time.Duration, err error, extra ...any) {
	args := []any{"agent", agent, "message_kind", kind, "duration", dur, "success", err == nil}
	args = append(args, extra...)
	level := slog.LevelDebug
	msg := "Delivery completed"
	if err != nil {
		args = append(args, "error", err.Error())
		level = slog.LevelError
		msg = "Delivery failed"
	}
	l.logger.Log(context.Background(), level, msg, l.attrs(args)...)
}

// LogStage records the execution of one pipeline stage.
func (l *RunLogger) LogStage(stage string, dur time.Duration, err error) {
	args := []any{"stage", stage, "duration", dur, "success", err == nil}
	level := slog.LevelInfo
	msg := "Stage completed"
	if err != nil {
		args = append(args, "error", err.Error())
		level = slog.LevelError
		msg = "Stage failed"
	}
	l.logger.Log(context.Background(), level, msg, l.attrs(args)...)
}

// LogModelCall records model call latency and outcome.
func (l *RunLogger) LogModelCall(model string, dur time.Duration, err error) {
	args := []any{"model", model, "duration", dur, "success", err == nil}
	level := slog.LevelInfo
	msg := "Model call completed"
	if err != nil {
		args = append(args, "error", err.Error())
		level = slog.LevelError
		msg = "Model call failed"
	}
	l.logger.Log(context.Background(), level, msg, l.attrs(args)...)
}

// RecordDelivery logs a handler invocation on l. A *RunLogger gets its
// LogDelivery entry; any other logger gets the same attributes as a plain
// debug or error line.
func RecordDelivery(l Logger, agent, kind string, dur time.Duration, err error, extra ...any) {
	if rl, ok := l.(*RunLogger); ok {
		rl.LogDelivery(agent, kind, dur, err, extra...)
		return
	}
	args := append([]any{"agent", agent, "message_kind", kind, "duration", dur}, extra...)
	outcome(l, "Delivery", false, err, args)
}

// RecordStage logs a finished pipeline stage on l.
func RecordStage(l Logger, stage string, dur time.Duration, err error) {
	if rl, ok := l.(*RunLogger); ok {
		rl.LogStage(stage, dur, err)
		return
	}
	outcome(l, "Stage", true, err, []any{"stage", stage, "duration", dur})
}

// RecordModelCall logs model call latency and outcome on l.
func RecordModelCall(l Logger, model string, dur time.Duration, err error) {
	if rl, ok := l.(*RunLogger); ok {
		rl.LogModelCall(model, dur, err)
		return
	}
	outcome(l, "Model call", true, err, []any{"model", model, "duration", dur})
}

func outcome(l Logger, what string, info bool, err error, args []any) {
	if l == nil {
		return
	}
	args = append(args, "success", err == nil)
	switch {
	case err != nil:
		l.Error(what+" failed", append(args, "error", err.Error())...)
	case info:
		l.Info(what+" completed", args...)
	default:
		l.Debug(what+" completed", args...)
	}
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// Scoped returns l scoped to component when it is a *RunLogger, or l unchanged.
func Scoped(l Logger, component string) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	if rl, ok := l.(*RunLogger); ok {
		return rl.WithComponent(component)
	}
	return l
}

// ForRun returns l bound to a run when it is a *RunLogger, or l unchanged.
func ForRun(l Logger, runID, sessionID string) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	if rl, ok := l.(*RunLogger); ok {
		return rl.WithRun(runID, sessionID)
	}
	return l
}
