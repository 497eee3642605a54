package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())
		return nil
	},
}
