package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/transwacom/transwacomd/pkg/model"
)

// authDecision is delivered on an AuthorizationPrompt's one-shot channel.
type authDecision struct {
	accept bool
	trust  bool
}

// AuthorizationPrompt is raised to the UI collaborator when no policy
// auto-accepts a peer. It carries a correlation id the UI echoes back,
// resolving the cyclic UI<->Supervisor<->Session ownership with a
// unidirectional event channel plus a write-only result channel; the
// Session holds no reference to any UI object.
type AuthorizationPrompt struct {
	CorrelationID string
	PeerName      string
	PeerMachineID string
	Kind          model.DeviceKind
	Deadline      time.Time

	result chan authDecision
}

func newAuthorizationPrompt(peerName, peerMachineID string, kind model.DeviceKind) *AuthorizationPrompt {
	return &AuthorizationPrompt{
		CorrelationID: uuid.NewString(),
		PeerName:      peerName,
		PeerMachineID: peerMachineID,
		Kind:          kind,
		Deadline:      time.Now().Add(AuthPromptDeadline),
		result:        make(chan authDecision, 1),
	}
}

// Accept resolves the prompt as accepted, optionally trusting the peer
// for future sessions. Only the first Accept or Decline counts: while its
// decision waits unread in the one-slot channel a later send finds the
// channel full and is skipped, and once it has been read nothing reads
// the channel again.
func (p *AuthorizationPrompt) Accept(trust bool) {
	select {
	case p.result <- authDecision{accept: true, trust: trust}:
	default:
	}
}

// Decline resolves the prompt as declined.
func (p *AuthorizationPrompt) Decline() {
	select {
	case p.result <- authDecision{accept: false}:
	default:
	}
}
