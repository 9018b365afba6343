// Package clog is the shared structured logger for the download
// coordinator and the CLI: a package-level zerolog.Logger toggled by a
// single verbosity switch.
package clog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(io.Discard)

// SetVerbose toggles between discarding log output and writing
// human-readable, colorized output to stderr.
func SetVerbose(v bool) {
	if !v {
		logger = zerolog.New(io.Discard)
		return
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// Logger returns the process-wide logger. Call sites attach fields with
// .With()/.Str()/.Int() before logging, e.g.:
//
//	clog.Logger().Info().Str("peer", p.String()).Msg("dialing")
func Logger() *zerolog.Logger {
	return &logger
}
