// Package telemetry provides structured, component-tagged logging for
// tiercache, built on zerolog.
//
// Usage:
//
//	log := telemetry.New("fscache", zerolog.InfoLevel)
//	log.Info("replay", "accepted file", "file", "tlv00000003.fsc")
//	log.Error("append", "write failed", "err", err)
package telemetry

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger writes structured log lines tagged with a component name.
type Logger struct {
	component string
	zl        zerolog.Logger
}

// New creates a Logger for the given component, gated at level.
func New(component string, level zerolog.Level) *Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"}

	return &Logger{
		component: component,
		zl:        zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger(),
	}
}

// Component returns a Logger for a sub-component, sharing the same
// underlying writer and level (e.g. log.Component("fscache")).
func (l *Logger) Component(name string) *Logger {
	return &Logger{component: name, zl: l.zl.With().Str("component", name).Logger()}
}

// Debug logs a debug-level message with optional key/value pairs.
func (l *Logger) Debug(action, msg string, kv ...any) { l.write(l.zl.Debug(), action, msg, kv) }

// Info logs an info-level message with optional key/value pairs.
func (l *Logger) Info(action, msg string, kv ...any) { l.write(l.zl.Info(), action, msg, kv) }

// Warn logs a warn-level message with optional key/value pairs.
func (l *Logger) Warn(action, msg string, kv ...any) { l.write(l.zl.Warn(), action, msg, kv) }

// Error logs an error-level message with optional key/value pairs.
func (l *Logger) Error(action, msg string, kv ...any) { l.write(l.zl.Error(), action, msg, kv) }

func (l *Logger) write(e *zerolog.Event, action, msg string, kv []any) {
	e = e.Str("action", action)

	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}

		e = e.Interface(key, kv[i+1])
	}

	e.Msg(msg)
}
