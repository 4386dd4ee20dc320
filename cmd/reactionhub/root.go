package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reactionhub",
		Short: "Live reaction aggregation server",
		Long:  "Ingests per-second viewer reaction samples over WebSocket and broadcasts aggregated visual effect decisions.",
	}

	root.AddCommand(newServeCmd())
	return root
}
