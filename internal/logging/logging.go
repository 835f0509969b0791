// Package logging builds the zerolog logger used across the CLI.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the process logger. Human-readable console output by
// default; set FIELDMEND_LOG_JSON for machine-readable logs.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if os.Getenv("FIELDMEND_LOG_JSON") != "" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
