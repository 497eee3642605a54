package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/transwacom/transwacomd/pkg/cli"
	"github.com/transwacom/transwacomd/pkg/devdetect"
	"github.com/transwacom/transwacomd/pkg/hostcapture"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/session"
	"github.com/transwacom/transwacomd/pkg/supervisor"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

var (
	runSharePath    string
	runShareTo      string
	runStateBackend string
	runRedisAddr    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon: accept incoming sessions and answer authorization prompts",
	Long: `Run the daemon.

Listens for Consumer connections, advertises this machine over mDNS if
any device kind is enabled, and answers authorization prompts
interactively when connected to a terminal (otherwise by trusted-peer
policy alone, declining anything unrecognized).

Pass --share with --to to additionally open one outbound Host session
at startup, e.g. to a Consumer not reachable via discovery:

  transwacomd run --share /dev/input/event4 --to 192.168.1.50:3333`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostcapture.InstallSignalGuard()

		sv := supervisor.New(app.store, devdetect.NewDetector(), hostcapture.ExecVendorController{})

		if runStateBackend == "redis" {
			history := supervisor.NewSessionStore(runRedisAddr)
			if err := history.Connect(); err != nil {
				return fmt.Errorf("connecting to session history backend: %w", err)
			}
			defer history.Close()
			sv.SetSessionStore(history)
			logging.Infof("session history mirrored to redis at %s", runRedisAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			logging.Info("received shutdown signal, draining sessions")
			cancel()
		}()

		// Permission failures (no access to input nodes or uinput) can
		// surface asynchronously from a session's lifecycle; when not
		// interactive they must end the process with exit code 2, so
		// watchEvents escalates them here instead of just logging.
		permCh := make(chan error, 1)
		go watchEvents(sv, permCh)

		sv.StartDiscovery(app.store.Identity().MachineName)

		if runSharePath != "" {
			if runShareTo == "" {
				return fmt.Errorf("--share requires --to")
			}
			id, err := sv.Share(runSharePath, runShareTo)
			switch {
			case errors.Is(err, xerrors.ErrPermissionDenied):
				return fmt.Errorf("sharing %s: %w", runSharePath, err)
			case err != nil:
				logging.Warnf("failed to share %s: %v", runSharePath, err)
			default:
				logging.Infof("sharing %s as session %s", runSharePath, id)
			}
		}

		fmt.Printf("%s listening on port %d\n", cli.Bold("transwacomd"), app.store.Port())

		runErr := make(chan error, 1)
		go func() { runErr <- sv.Run(ctx) }()

		select {
		case err := <-runErr:
			return err
		case err := <-permCh:
			cancel()
			<-runErr
			return err
		}
	},
}

// watchEvents renders SessionEvents as log lines and answers
// AuthorizationPrompts, interactively on a TTY or by declining
// otherwise — the tray UI this daemon was designed to sit under is a
// separate collaborator, folded directly into the process here.
// Permission errors are escalated on permCh when no terminal is attached
// to tell the operator what to fix.
func watchEvents(sv *supervisor.Supervisor, permCh chan<- error) {
	for ev := range sv.Events() {
		switch ev.Type {
		case session.EventStateChanged:
			logging.Infof("session %s: %s", ev.SessionID, ev.State)
		case session.EventAuthorizationAsked:
			go answerPrompt(sv, ev.Prompt)
		case session.EventError:
			logging.Warnf("session %s: %v", ev.SessionID, ev.Err)
			if errors.Is(ev.Err, xerrors.ErrPermissionDenied) && !term.IsTerminal(int(os.Stdin.Fd())) {
				select {
				case permCh <- fmt.Errorf("check input and uinput access: %w", ev.Err):
				default:
				}
			}
		}
	}
}

func answerPrompt(sv *supervisor.Supervisor, p *session.AuthorizationPrompt) {
	if p == nil {
		return
	}
	accept, trust := promptAuthorization(p)
	if accept {
		if err := sv.Accept(p.CorrelationID, trust); err != nil {
			logging.Warnf("accepting prompt %s: %v", p.CorrelationID, err)
		}
	} else {
		if err := sv.Decline(p.CorrelationID); err != nil {
			logging.Warnf("declining prompt %s: %v", p.CorrelationID, err)
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runSharePath, "share", "", "Device path to share at startup")
	runCmd.Flags().StringVar(&runShareTo, "to", "", "address:port or discovered consumer name to share with")
	runCmd.Flags().StringVar(&runStateBackend, "state-backend", "", `Session-history mirror backend: "redis" or empty (in-memory only)`)
	runCmd.Flags().StringVar(&runRedisAddr, "redis-addr", "localhost:6379", "Redis address for --state-backend=redis")
}
