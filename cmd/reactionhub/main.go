// Command reactionhub runs the live reaction aggregation server.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("reactionhub exited with error")
		os.Exit(1)
	}
}
