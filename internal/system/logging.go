// Package system carries the small pieces of process-lifetime
// scaffolding (logging setup, shutdown cleanup) that every subsystem
// wired up in cmd/reactionhub depends on.
package system

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger. LOG_FORMAT=json
// emits structured single-line JSON (production); anything else falls
// back to a human-readable console writer (local development).
func SetupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339

	if os.Getenv("LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}
