// Package logging provides the structured logger used across Focus.
//
// It wraps zerolog behind the same minimal capability interface the rest of
// the codebase programs against, so call sites never import zerolog
// directly and tests can swap in a no-op or recording logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logging capability every subsystem receives
// explicitly at construction time. fields is an alternating key/value list,
// e.g. Info("task_claimed", "task_id", id, "project", tag).
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	// Bind returns a child logger with fields permanently attached.
	Bind(fields ...any) Logger
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	z zerolog.Logger
}

// Options configures the root logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Pretty bool   // console writer instead of JSON
	Output io.Writer
}

// New builds the root logger from Options. Unknown levels fall back to info.
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &zerologLogger{z: z}
}

// Noop returns a logger that discards everything, for tests.
func Noop() Logger {
	return &zerologLogger{z: zerolog.Nop()}
}

func (l *zerologLogger) event(e *zerolog.Event, msg string, fields ...any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, fields[i+1])
	}
	e.Msg(msg)
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.event(l.z.Debug(), msg, fields...) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.event(l.z.Info(), msg, fields...) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.event(l.z.Warn(), msg, fields...) }
func (l *zerologLogger) Error(msg string, fields ...any) { l.event(l.z.Error(), msg, fields...) }

func (l *zerologLogger) Bind(fields ...any) Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zerologLogger{z: ctx.Logger()}
}
