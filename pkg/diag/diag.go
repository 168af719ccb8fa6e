// Package diag provides the process diagnostic logger. Output goes to
// stderr in a compact single-line form:
//
//	[15:04:05] INFO: consumer - queue attached
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog behind the logfan.Logger interface.
type Logger struct {
	logger zerolog.Logger
}

// New creates a Logger writing to stderr under the given component name.
func New(name string) *Logger {
	return NewWithWriter(name, os.Stderr)
}

// NewWithWriter creates a Logger writing to w. Used by tests to capture output.
func NewWithWriter(name string, w io.Writer) *Logger {
	cw := zerolog.ConsoleWriter{
		Out:           w,
		NoColor:       true,
		TimeFormat:    "15:04:05",
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, "name", zerolog.MessageFieldName},
		FieldsExclude: []string{"name"},
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprintf("[%v]", i)
		},
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%v:", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("- %v", i)
		},
	}
	return &Logger{
		logger: zerolog.New(cw).With().Timestamp().Str("name", name).Logger(),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// Named returns a copy of l reporting under a different component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("name", name).Logger()}
}

func (l *Logger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// Debug logs a debug-level message with structured key/value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

// Info logs an info-level message with structured key/value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning-level message with structured key/value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error-level message with structured key/value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Error(), msg, keysAndValues...)
}
