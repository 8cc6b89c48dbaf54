// Package logger builds the zerolog loggers used by the pipeline and the CLI.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a timestamped logger writing to w.
// Verbose output uses the human readable console writer and debug level.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsole returns a logger on stdout
func NewConsole(verbose bool) zerolog.Logger {
	return New(os.Stdout, verbose)
}

// Stage returns a child logger tagged with a pipeline stage name
func Stage(log zerolog.Logger, stage string) zerolog.Logger {
	return log.With().Str("stage", stage).Logger()
}
