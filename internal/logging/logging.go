// Package logging configures the process-wide zerolog logger and derives
// per-attempt loggers carrying correlation fields.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. When pretty is set, output goes
// through the console writer for local runs; otherwise JSON to stderr.
func Setup(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// ForAttempt returns a logger for one analysis attempt, tagged with the
// pull-request fingerprint and the attempt's tracking id so all lines of an
// attempt can be correlated.
func ForAttempt(fingerprint, trackingID string) zerolog.Logger {
	return log.With().
		Str("fingerprint", fingerprint).
		Str("tracking_id", trackingID).
		Logger()
}
