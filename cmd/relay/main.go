// Command relay serves the persona chat relay and inspects its SQLite state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "0.1.0"

var dbPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Persona chat relay for the 3D avatar viewer",
		Long: `relay forwards browser chat messages to a chat-completion model under a
persona system prompt, keeps a bounded per-session history, and serves the
viewer's static files. Without a model credential it answers with canned
persona lines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("RELAY_DB_PATH", "./relay.db"), "SQLite database path")

	root.AddCommand(newServeCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
