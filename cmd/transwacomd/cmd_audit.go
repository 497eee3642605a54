package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/audit"
	"github.com/transwacom/transwacomd/pkg/cli"
)

var (
	auditPeer    string
	auditSession string
	auditLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded session lifecycle events",
	Long: `Inspect the audit trail written to audit.log alongside the
config file: authorization decisions, streaming starts, and teardowns for every session this machine has taken part in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Dir(app.configPath)
		if app.configPath == "" {
			d, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("resolving user config dir: %w", err)
			}
			dir = filepath.Join(d, "transwacom")
		}

		l, err := audit.NewFileLogger(filepath.Join(dir, "audit.log"), audit.RotationConfig{})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer l.Close()

		events, err := l.Query(audit.Filter{
			Peer:      auditPeer,
			SessionID: auditSession,
			Limit:     auditLimit,
		})
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		t := cli.NewTable("TIME", "SESSION", "ROLE", "PEER", "OPERATION", "OK", "DETAIL")
		for _, ev := range events {
			ok := cli.Green("yes")
			detail := ""
			if !ev.Success {
				ok = cli.Red("no")
				detail = ev.Error
			}
			t.Row(ev.Timestamp.Format("15:04:05"), ev.SessionID, ev.Role, ev.Peer, ev.Operation, ok, detail)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditPeer, "peer", "", "Filter by peer name")
	auditCmd.Flags().StringVar(&auditSession, "session", "", "Filter by session id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of events to show")

	rootCmd.AddCommand(auditCmd)
}
