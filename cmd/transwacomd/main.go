// Command transwacomd shares input devices — drawing tablets and
// joysticks — between machines on the same LAN.
//
// Noun-group CLI pattern:
//
//	transwacomd <resource> <action> [args]
//
// Examples:
//
//	transwacomd run
//	transwacomd devices list
//	transwacomd trust add my-laptop --auto-accept
//	transwacomd version
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transwacom/transwacomd/pkg/audit"
	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// App holds CLI state shared across all commands.
type App struct {
	configPath string
	verbose    bool
	jsonOutput bool

	store *config.Store
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level command error onto the daemon's exit
// codes: 2 for a permission failure (missing input-group membership or
// uinput access), 3 for the listen port already being in use, 1 for
// everything else.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrPermissionDenied):
		return 2
	case errors.Is(err, syscall.EADDRINUSE):
		return 3
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:           "transwacomd",
	Short:         "Share input devices between machines on the same LAN",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isHelpOrCompletion(cmd) {
			return nil
		}

		if app.verbose {
			logging.SetLogLevel("debug")
		} else {
			logging.SetLogLevel("info")
		}

		var err error
		if app.configPath != "" {
			app.store, err = config.LoadFrom(app.configPath)
		} else {
			app.store, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		setupAuditLog(app.configPath)

		return nil
	},
}

// setupAuditLog points the package-level audit logger at
// audit.log next to whichever config file was loaded, so session
// lifecycle events have somewhere to go without a --config-audit flag
// of their own. Failure to open it is logged, not fatal: the daemon
// still runs, just without a history trail.
func setupAuditLog(configPath string) {
	dir := filepath.Dir(configPath)
	if configPath == "" {
		if d, err := os.UserConfigDir(); err == nil {
			dir = filepath.Join(d, "transwacom")
		} else {
			return
		}
	}

	l, err := audit.NewFileLogger(filepath.Join(dir, "audit.log"), audit.RotationConfig{
		MaxSize:    10 << 20,
		MaxBackups: 3,
	})
	if err != nil {
		logging.Warnf("audit log disabled: %v", err)
		return
	}
	audit.SetDefaultLogger(l)
}

func isHelpOrCompletion(cmd *cobra.Command) bool {
	return cmd.Name() == "help" || cmd.Name() == "completion"
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "Path to config.yml (default: ~/.config/transwacom/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "Output machine-readable JSON")

	rootCmd.AddCommand(runCmd, devicesCmd, sessionsCmd, trustCmd, versionCmd)
}
