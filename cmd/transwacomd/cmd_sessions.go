package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/cli"
	"github.com/transwacom/transwacomd/pkg/supervisor"
)

var sessionsRedisAddr string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect session history",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mirrored session history from the Redis state backend",
	Long: `List mirrored session history.

Reads the same Redis-backed mirror a running "transwacomd run
--state-backend=redis" writes to, so history survives a daemon crash and
is readable without a live daemon. Requires a Redis instance reachable at
--redis-addr; pass the same address the daemon was started with.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := supervisor.NewSessionStore(sessionsRedisAddr)
		defer store.Close()
		if err := store.Connect(); err != nil {
			return fmt.Errorf("connecting to session history backend: %w", err)
		}

		records, err := store.List()
		if err != nil {
			return fmt.Errorf("listing session history: %w", err)
		}

		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(records)
		}

		t := cli.NewTable("ID", "ROLE", "PEER", "DEVICE", "KIND", "STARTED", "ENDED", "OUTCOME")
		for _, r := range records {
			t.Row(r.ID, r.Role, r.Peer, r.Device, r.Kind, sessionTimestamp(r.StartedAt), sessionTimestamp(r.EndedAt), r.Outcome)
		}
		t.Flush()
		return nil
	},
}

// sessionTimestamp renders t for the history table, leaving an unset
// (zero) time blank rather than printing Go's zero-value date.
func sessionTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsRedisAddr, "redis-addr", "localhost:6379", "Redis address the session history mirror was written to")
	sessionsCmd.AddCommand(sessionsListCmd)
}
