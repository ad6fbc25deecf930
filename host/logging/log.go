// Package logging is the host log, backed by pterm's logger.
//
// Lines carry a timestamp and, for loggers made with For, a component
// field naming the part of the host that wrote them. Output goes to
// stderr unless the pterm default logger is pointed elsewhere.
package logging

import (
	"fmt"

	"github.com/pterm/pterm"
)

var logger = &pterm.DefaultLogger

func init() {
	logger.ShowTime = true
	logger.TimeFormat = "02 Jan 15:04:05.000"
	logger.MaxWidth = 1000
}

// Logger writes lines tagged with a component
type Logger struct {
	component string
}

// For returns a logger tagging its lines with component
func For(component string) Logger {
	return Logger{component: component}
}

func (l Logger) Debug(format string, args ...any) { l.log(pterm.LogLevelDebug, format, args) }
func (l Logger) Info(format string, args ...any)  { l.log(pterm.LogLevelInfo, format, args) }
func (l Logger) Warn(format string, args ...any)  { l.log(pterm.LogLevelWarn, format, args) }
func (l Logger) Error(format string, args ...any) { l.log(pterm.LogLevelError, format, args) }

func (l Logger) log(level pterm.LogLevel, format string, args []any) {
	// Skip formatting for filtered levels, debug lines sit on the read path
	if !logger.CanPrint(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	var fields []pterm.LoggerArgument
	if l.component != "" {
		fields = logger.Args("component", l.component)
	}

	switch level {
	case pterm.LogLevelDebug:
		logger.Debug(msg, fields)
	case pterm.LogLevelInfo:
		logger.Info(msg, fields)
	case pterm.LogLevelWarn:
		logger.Warn(msg, fields)
	default:
		logger.Error(msg, fields)
	}
}

var std Logger

// Debug, Info, Warn and Error log without a component, for the CLI
func Debug(format string, args ...any) { std.Debug(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Error(format string, args ...any) { std.Error(format, args...) }

// EnableDebug configures the logger to show debug messages
func EnableDebug() {
	logger.Level = pterm.LogLevelDebug
}
