package logging

import (
	"context"
	"fmt"
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

// ParseLevel maps a case-insensitive level name to a LogLevel. Unknown names
// yield LogLevelInfo and false.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, true
	case "info", "":
		return LogLevelInfo, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "error":
		return LogLevelError, true
	default:
		return LogLevelInfo, false
	}
}

// Logger defines the minimal logging interface used across meshchat.
// Users may provide their own implementation or use one of the adapters.
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

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// LoggerConfig configures construction of a MeshLogger.
type LoggerConfig struct {
	// Level can be changed at runtime through MeshLogger.SetLevel.
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// MeshLogger wraps slog.Logger with a runtime adjustable level. Loggers
// derived through With share it, so a config reload affects all of them.
type MeshLogger struct {
	logger    *slog.Logger
	level     *slog.LevelVar
	component string
}

// NewLogger builds a MeshLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *MeshLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	lv := new(slog.LevelVar)
	lv.Set(slogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &MeshLogger{logger: slog.New(handler), level: lv, component: cfg.Component}
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

// SetLevel changes the minimum level for this logger and every logger derived
// from it through With.
func (l *MeshLogger) SetLevel(level LogLevel) {
	l.level.Set(slogLevel(level))
}

func (l *MeshLogger) buildAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, 1+len(args)/2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}

	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			attrs = append(attrs, slog.Any("!BADKEY", args[i]))
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
		i++
	}

	return attrs
}

func (l *MeshLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.LogAttrs(ctx, level, msg, l.buildAttrs(args)...)
}

// Debug logs at debug level.
func (l *MeshLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *MeshLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *MeshLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *MeshLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// With returns a Logger that adds args to every entry written through l.
func With(l Logger, args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	if _, ok := l.(NoOpLogger); ok {
		return l
	}
	if c, ok := l.(*contextLogger); ok {
		return &contextLogger{base: c.base, args: append(append([]any{}, c.args...), args...)}
	}
	return &contextLogger{base: l, args: args}
}

// WithComponent tags entries with the logical component (orchestrator,
// memory, http, ...).
func WithComponent(l Logger, component string) Logger {
	return With(l, "component", component)
}

// WithConversation attaches the conversation and task identifiers.
func WithConversation(l Logger, conversationID, taskID string) Logger {
	var args []any
	if conversationID != "" {
		args = append(args, "conversation_id", conversationID)
	}
	if taskID != "" {
		args = append(args, "task_id", taskID)
	}
	return With(l, args...)
}

type contextLogger struct {
	base Logger
	args []any
}

func (c *contextLogger) merge(args []any) []any {
	return append(append(make([]any, 0, len(c.args)+len(args)), c.args...), args...)
}

func (c *contextLogger) Debug(msg string, args ...any) { c.base.Debug(msg, c.merge(args)...) }

func (c *contextLogger) Info(msg string, args ...any) { c.base.Info(msg, c.merge(args)...) }

func (c *contextLogger) Warn(msg string, args ...any) { c.base.Warn(msg, c.merge(args)...) }

func (c *contextLogger) Error(msg string, args ...any) { c.base.Error(msg, c.merge(args)...) }

// LogAgentCall records latency, token usage and success of one agent
// invocation. Failures are logged at warn level, successes at debug.
func LogAgentCall(l Logger, agentID string, tokens int, dur time.Duration, attempts int, err error) {
	args := []any{"agent_id", agentID, "tokens", tokens, "duration", dur, "attempts", attempts, "success", err == nil}

	if err != nil {
		args = append(args, "error", err.Error(), "error_type", fmt.Sprintf("%T", err))
		l.Warn("agent call failed", args...)

		return
	}

	l.Debug("agent call completed", args...)
}

// LogExecution records the aggregate outcome of one orchestrated task.
func LogExecution(l Logger, state string, agents int, tokens int, cost float64, dur time.Duration) {
	l.Info("task execution finished",
		"state", state,
		"agent_count", agents,
		"total_tokens", tokens,
		"total_cost", cost,
		"duration", dur,
	)
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

var (
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*MeshLogger)(nil)
	_ Logger = NoOpLogger{}
	_ Logger = (*contextLogger)(nil)
)
