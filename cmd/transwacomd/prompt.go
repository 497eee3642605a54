package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/transwacom/transwacomd/pkg/cli"
	"github.com/transwacom/transwacomd/pkg/session"
)

// promptAuthorization answers an AuthorizationPrompt. On a terminal it
// asks the operator; otherwise it declines, since nothing is listening
// to grant consent on the operator's behalf.
func promptAuthorization(p *session.AuthorizationPrompt) (accept, trust bool) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "declining %s from %s: no terminal attached to ask\n", p.Kind, p.PeerName)
		return false, false
	}

	fmt.Printf("\n%s wants to share a %s with you (id %s).\n", cli.Bold(p.PeerName), p.Kind, p.PeerMachineID)
	fmt.Print("Accept? [y/N/t=accept and trust]: ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, false
	case "t", "trust":
		return true, true
	default:
		return false, false
	}
}
