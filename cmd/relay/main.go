// Package main is the entrypoint for message-relay (binary name "relay" in Docker).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay outbound messages to schedulers or the ledger",
	Long: "message-relay classifies each message target as a wallet or a process, writes the signed\n" +
		"message to the matching transport and, for processes, fetches the evaluation result.\n\n" +
		"Environment: COMMS_URL, DATABASE_URL (empty keeps classifications in memory), MIGRATION_PATH,\n" +
		"RELAY_HTTP_ADDR (default :8080), RELAY_BOOTSTRAP_FILE, GATEWAY_URL, UPLOADER_URL,\n" +
		"SCHEDULER_ROUTER_URL, CU_URLS. See README.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	// Running without a subcommand serves.
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(ensureDBCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
