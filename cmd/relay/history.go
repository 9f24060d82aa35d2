package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/stupiduntilnot/personarelay/internal/db"
	"github.com/stupiduntilnot/personarelay/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print a session's stored turns from the SQLite backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := history.DefaultSessionID
			if len(args) == 1 && args[0] != "" {
				sessionID = args[0]
			}
			database, err := db.OpenReadOnly(dbPath)
			if err != nil {
				return err
			}
			defer database.Close()

			turns, err := history.NewSQLiteStore(database, history.DefaultWindow).Turns(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			return printTurns(cmd.OutOrStdout(), sessionID, turns, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON format")
	return cmd
}

func printTurns(w io.Writer, sessionID string, turns []history.Turn, jsonOut bool) error {
	if jsonOut {
		if turns == nil {
			turns = []history.Turn{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	}
	if len(turns) == 0 {
		fmt.Fprintf(w, "session %q has no turns\n", sessionID)
		return nil
	}
	for i, turn := range turns {
		fmt.Fprintf(w, "%2d  %-9s  %s\n", i+1, turn.Role, turn.Content)
	}
	return nil
}
