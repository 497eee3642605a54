package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/cli"
	"github.com/transwacom/transwacomd/pkg/util"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

var (
	trustAsHost       bool
	trustAutoAccept   bool
	trustPeerID       string
	trustAllowDevices string
	trustAllowAdd     string
	trustAllowRemove  string
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted peers",
}

var trustAddCmd = &cobra.Command{
	Use:   "add <peer-name>",
	Short: "Add or update a trusted peer",
	Long: `Add or update a trusted peer.

By default the peer is trusted in this machine's Consumer role (a
remote Host that may stream devices to you). Pass --as-host to instead
trust the peer in this machine's Host role (a remote Consumer you may
share devices with).

Pass --allow-add/--allow-remove to amend an existing Consumer's
allowed-device list incrementally instead of replacing it wholesale with
--allow:

  transwacomd trust add my-desktop --as-host --allow-add joystick`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer := args[0]

		var err error
		autoAccept := trustAutoAccept
		if trustAsHost {
			consumerID := trustPeerID
			devices := util.SplitCommaSeparated(trustAllowDevices)

			if trustAllowAdd != "" || trustAllowRemove != "" {
				if existing, ok := app.store.TrustedConsumer(peer); ok {
					if consumerID == "" {
						consumerID = existing.ConsumerID
					}
					if !cmd.Flags().Changed("auto-accept") {
						autoAccept = existing.AutoAccept
					}
					devices = existing.AllowedDevices
				}
				csv := strings.Join(devices, ",")
				for _, add := range util.SplitCommaSeparated(trustAllowAdd) {
					csv = util.AddToCSV(csv, add)
				}
				for _, rm := range util.SplitCommaSeparated(trustAllowRemove) {
					csv = util.RemoveFromCSV(csv, rm)
				}
				devices = util.SplitCommaSeparated(csv)
			}

			err = app.store.TrustConsumer(peer, consumerID, autoAccept, devices)
		} else {
			err = app.store.TrustHost(peer, trustPeerID, trustAutoAccept)
		}

		if errors.Is(err, xerrors.ErrAlreadyTrusted) {
			fmt.Printf("%s %s already trusted with this policy\n", cli.Dim("="), peer)
			return nil
		}
		if err != nil {
			return fmt.Errorf("trusting %s: %w", peer, err)
		}

		fmt.Printf("%s %s trusted (auto_accept=%v)\n", cli.Green("✓"), peer, autoAccept)
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <peer-name>",
	Short: "Remove a trusted peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer := args[0]

		var err error
		if trustAsHost {
			err = app.store.UntrustConsumer(peer)
		} else {
			err = app.store.UntrustHost(peer)
		}
		if err != nil {
			return fmt.Errorf("untrusting %s: %w", peer, err)
		}

		fmt.Printf("%s %s untrusted\n", cli.Green("✓"), peer)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{trustAddCmd, trustRemoveCmd} {
		cmd.Flags().BoolVar(&trustAsHost, "as-host", false, "Trust this peer as a Consumer this machine may share devices with")
	}
	trustAddCmd.Flags().BoolVar(&trustAutoAccept, "auto-accept", false, "Skip the authorization prompt for this peer")
	trustAddCmd.Flags().StringVar(&trustPeerID, "id", "", "The peer's machine id, if known")
	trustAddCmd.Flags().StringVar(&trustAllowDevices, "allow", "", "Comma-separated device kinds this Consumer may request, replacing the list wholesale (--as-host only; empty means any enabled kind)")
	trustAddCmd.Flags().StringVar(&trustAllowAdd, "allow-add", "", "Comma-separated device kinds to add to this Consumer's existing allow list (--as-host only)")
	trustAddCmd.Flags().StringVar(&trustAllowRemove, "allow-remove", "", "Comma-separated device kinds to remove from this Consumer's existing allow list (--as-host only)")

	trustCmd.AddCommand(trustAddCmd, trustRemoveCmd)
}
