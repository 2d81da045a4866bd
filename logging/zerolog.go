package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps zerolog.Logger to implement the Logger interface.
// Variadic args are interpreted as alternating key/value pairs.
type ZerologAdapter struct {
	zlog  zerolog.Logger
	level atomic.Int32
}

// NewZerologAdapter creates a Logger from an existing zerolog.Logger. The
// wrapped logger's own level still applies.
func NewZerologAdapter(zlog zerolog.Logger) *ZerologAdapter {
	z := &ZerologAdapter{zlog: zlog}
	z.level.Store(int32(LogLevelDebug))
	return z
}

// NewConsoleLogger builds a human readable zerolog logger, used by the CLI.
func NewConsoleLogger(out io.Writer, level LogLevel) *ZerologAdapter {
	if out == nil {
		out = os.Stderr
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("app", "meshchat").
		Logger()

	z := &ZerologAdapter{zlog: zlog}
	z.SetLevel(level)

	return z
}

// SetLevel changes the minimum level at runtime.
func (z *ZerologAdapter) SetLevel(level LogLevel) {
	z.level.Store(int32(level))
}

func (z *ZerologAdapter) enabled(level LogLevel) bool {
	return level >= LogLevel(z.level.Load())
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) {
	if z.enabled(LogLevelDebug) {
		emit(z.zlog.Debug(), msg, args)
	}
}

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) {
	if z.enabled(LogLevelInfo) {
		emit(z.zlog.Info(), msg, args)
	}
}

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) {
	if z.enabled(LogLevelWarn) {
		emit(z.zlog.Warn(), msg, args)
	}
}

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { emit(z.zlog.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}

	ev.Msg(msg)
}

var _ Logger = (*ZerologAdapter)(nil)
