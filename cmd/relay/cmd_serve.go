package main

import (
	"github.com/spf13/cobra"

	"github.com/morezero/message-relay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay (COMMS subscriber, HTTP health and metrics)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	return server.Run()
}
