// Package logging builds the process-wide zerolog.Logger (spec.md §6.4
// LOG_LEVEL config), grounded on aristath-sentinel's pkg/logger: parse a
// level, timestamp + caller fields, pretty console output for local runs.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug"|"info"|"warn"|"error",
// defaulting to info on anything else). pretty switches to zerolog's
// human-readable console writer instead of raw JSON lines.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl < zerolog.DebugLevel || lvl > zerolog.ErrorLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	var w zerolog.ConsoleWriter
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
