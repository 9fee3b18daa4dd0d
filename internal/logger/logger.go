// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the CLI logger. Output is human-readable on stderr unless
// OMAS_LOG_FORMAT=json is set. Verbosity maps -v flags to levels:
// 0 info, 1 debug, 2+ trace.
func New(verbosity int) zerolog.Logger {
	return NewTo(os.Stderr, verbosity)
}

// NewTo creates a logger writing to w. Used by tests to capture output.
func NewTo(w io.Writer, verbosity int) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
	}
	if os.Getenv("OMAS_LOG_FORMAT") == "json" {
		out = w
	}

	return zerolog.New(out).
		Level(level(verbosity)).
		With().
		Timestamp().
		Logger()
}

func level(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.InfoLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
