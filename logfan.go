package logfan

import (
	"context"
	"time"
)

// Level is the severity carried by a log record.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
	LevelDebug   Level = "debug"
	LevelAlert   Level = "alert"
	LevelUnknown Level = "unknown"
)

// Levels lists every accepted level, in wire order.
var Levels = []Level{LevelInfo, LevelWarning, LevelError, LevelFatal, LevelDebug, LevelAlert, LevelUnknown}

// Valid reports whether l is one of the accepted levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelFatal, LevelDebug, LevelAlert, LevelUnknown:
		return true
	}
	return false
}

// Record is one validated log entry. Timestamp is always a UTC instant.
type Record struct {
	Project   string    `json:"project"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Module    string    `json:"module"`
	Function  string    `json:"function"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
}

// Sink consumes validated records. Implementations own their state
// exclusively; Write errors are record-scoped and must leave the sink
// usable for the next record.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Logger is the process diagnostic logger carried by every component.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
