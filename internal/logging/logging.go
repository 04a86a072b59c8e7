// Package logging configures the process-wide structured logger and a set
// of panic/error helpers reused by every worker goroutine in the refresh
// pipeline.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
	Dir    string // when set, also append to a date-stamped file here
}

// New builds a zerolog.Logger with a timestamp, caller info, and a fixed
// service field, matching the shape every log line in this service carries.
// With Dir set, lines are additionally appended to a per-day log file in
// that directory; a directory or file that cannot be opened degrades to
// stdout-only rather than failing startup.
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if opts.Dir != "" {
		if f := openLogFile(opts.Dir); f != nil {
			output = io.MultiWriter(output, f)
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "bingx-refresh").
		Logger()
}

// openLogFile opens (appending) today's log file under dir, creating the
// directory if needed. Returns nil on any failure.
func openLogFile(dir string) *os.File {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	name := filepath.Join(dir, "bingx-refresh-"+time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// LogError logs an error with contextual fields attached.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogErrorWithStack logs an error together with the current stack trace.
// Use for unexpected failures where the call path matters.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogPanic logs a recovered panic with a stack trace. Call from a deferred
// recover() in every long-lived goroutine so a single batch or session
// failure never takes down the process.
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
