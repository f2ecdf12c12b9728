package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the service
type Logger struct {
	prefix string
	zl     zerolog.Logger
}

var (
	output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	level            = zerolog.InfoLevel
)

// Configure sets the process-wide level and format ("console" or "json").
// Loggers created afterwards pick up the new settings.
func Configure(levelName, format string) {
	ConfigureTo(levelName, format, os.Stdout)
}

// ConfigureTo is Configure with an explicit destination.
func ConfigureTo(levelName, format string, w io.Writer) {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(levelName)); err == nil && levelName != "" {
		level = lvl
	}
	if format == "json" {
		output = w
	} else {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(prefix, output)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(prefix string, w io.Writer) *Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Str("component", prefix).Logger()
	return &Logger{prefix: prefix, zl: zl}
}

// With returns a child logger carrying the given key-value pairs on every line.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{prefix: l.prefix, zl: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Debug(), msg, keysAndValues...)
}

// Printf logs a preformatted informational line.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) logWithKV(evt *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key := fmt.Sprint(keysAndValues[i])
			if err, ok := keysAndValues[i+1].(error); ok {
				evt = evt.AnErr(key, err)
				continue
			}
			evt = evt.Interface(key, keysAndValues[i+1])
		}
	}
	evt.Msg(msg)
}
