package common

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the logging interface used across the library.
type Logger interface {
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

var _ Logger = (*LevelLogger)(nil)

// NewLoggerFromEnv returns a LevelLogger with the name prefix and
// severity taken from the named environment variable, falling back
// to LevelWarn when it's missing or unknown.
//
// Output goes through the standard log.Print function so it can be
// redirected with the usual log configuration calls.
func NewLoggerFromEnv(name, key string) *LevelLogger {
	lvl := LevelWarn
	switch strings.ToLower(os.Getenv(key)) {
	case "e", "err", "error":
		lvl = LevelError
	case "w", "warn", "warning":
		lvl = LevelWarn
	case "i", "info":
		lvl = LevelInfo
	case "d", "debug":
		lvl = LevelDebug
	}
	return NewLogger(name, lvl, log.Print)
}

// LogLevel is logging severity.
type LogLevel uint8

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns log level string representation.
func (lvl LogLevel) String() string {
	switch lvl {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return ""
	}
}

// PrintFunc is used for writing logs, it works like fmt.Print.
type PrintFunc func(v ...interface{})

// NewLogger creates a new leveled logger instance with the given parameters.
func NewLogger(name string, lvl LogLevel, print PrintFunc) *LevelLogger {
	return &LevelLogger{name: name, lvl: lvl, print: print}
}

// LevelLogger is a logger that suppresses records
// less severe than its configured level.
type LevelLogger struct {
	name  string
	lvl   LogLevel
	print PrintFunc
}

func (l *LevelLogger) Errorf(format string, v ...interface{}) {
	l.logf(LevelError, format, v...)
}

func (l *LevelLogger) Warnf(format string, v ...interface{}) {
	l.logf(LevelWarn, format, v...)
}

func (l *LevelLogger) Infof(format string, v ...interface{}) {
	l.logf(LevelInfo, format, v...)
}

func (l *LevelLogger) Debugf(format string, v ...interface{}) {
	l.logf(LevelDebug, format, v...)
}

func (l *LevelLogger) logf(lvl LogLevel, format string, v ...interface{}) {
	if l.print != nil && lvl <= l.lvl {
		l.print(l.name, ": ", lvl.String(), " ", fmt.Sprintf(format, v...))
	}
}
