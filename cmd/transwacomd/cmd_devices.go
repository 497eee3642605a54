package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/cli"
	"github.com/transwacom/transwacomd/pkg/devdetect"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect input devices on this machine",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tablets and joysticks available to share",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := devdetect.NewDetector().Enumerate()
		if err != nil {
			return fmt.Errorf("enumerating devices: %w", err)
		}

		if app.jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(devices)
		}

		t := cli.NewTable("PATH", "KIND", "NAME", "CAPABILITIES")
		for _, d := range devices {
			t.Row(d.Path, string(d.Kind), d.DisplayName, fmt.Sprint(d.Capabilities))
		}
		t.Flush()
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesListCmd)
}
