// Package logger provides the leveled logging seam used by the registration
// engine and the command line front end.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel orders log messages by severity
type LogLevel int

const (
	// LogDebug is per-candidate detail
	LogDebug LogLevel = iota

	// LogInfo is progress and summaries
	LogInfo

	// LogError is for failures; it never exits the process
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ILogger is implemented by every logger in this package
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// StdOutLogger writes timestamped lines at or above its level
type StdOutLogger struct {
	logLevel LogLevel
	out      io.Writer
}

// NewStdOutLogger creates a logger writing to stdout
func NewStdOutLogger(level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level, out: os.Stdout}
}

// NewWriterLogger creates a logger writing to w
func NewWriterLogger(w io.Writer, level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level, out: w}
}

func (l *StdOutLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.logLevel {
		return
	}
	fmt.Fprintf(l.out, "%s %s: %s\n", time.Now().Format("15:04:05.000"), logLevelPrefix[level], fmt.Sprintf(format, a...))
}
func (l *StdOutLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdOutLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdOutLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdOutLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}

// NullLogger discards everything; used in tests
type NullLogger struct {
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {
}
func (l *NullLogger) Debugf(format string, a ...interface{}) {
}
func (l *NullLogger) Infof(format string, a ...interface{}) {
}
func (l *NullLogger) Errorf(format string, a ...interface{}) {
}
