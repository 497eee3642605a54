// Package session implements the per-connection state machine shared by
// both the Host and Consumer roles: handshake, authorization, event
// streaming, liveness, and teardown.
package session

import (
	"time"

	"github.com/transwacom/transwacomd/pkg/model"
)

// State is one of the six states a Session passes through.
type State string

const (
	StateDialing      State = "dialing"
	StateHandshaking  State = "handshaking"
	StateAwaitingAuth State = "awaiting_auth"
	StateStreaming    State = "streaming"
	StateDraining     State = "draining"
	StateClosed       State = "closed"
)

// Role is which side of the wire protocol a Session plays.
type Role string

const (
	RoleHost     Role = "host"
	RoleConsumer Role = "consumer"
)

// CloseReason classifies why a Session reached Closed: cleanly, on an
// error, or because the peer refused authorization.
type CloseReason string

const (
	CloseReasonNone    CloseReason = ""
	CloseReasonError   CloseReason = "error"
	CloseReasonRefused CloseReason = "refused"
)

// Liveness and teardown timings.
const (
	KeepaliveSendSilence = 2 * time.Second
	KeepaliveRecvGrace   = 5 * time.Second
	LivenessTimeout      = 10 * time.Second
	AuthPromptDeadline   = 30 * time.Second
	DrainGrace           = 100 * time.Millisecond
)

// EventType enumerates the Supervisor-facing SessionEvent sum type.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventAuthorizationAsked EventType = "authorization_prompt"
	EventDeviceArrived      EventType = "device_arrived"
	EventDeviceDeparted     EventType = "device_departed"
	EventError              EventType = "error"
)

// SessionEvent is one notification on the Supervisor's outbound channel.
type SessionEvent struct {
	Type      EventType
	SessionID string
	State     State
	Reason    CloseReason
	Prompt    *AuthorizationPrompt
	Device    model.PhysicalDevice
	Err       error
}

// Info is a point-in-time, read-only snapshot of a Session for driver-API
// listings (ListSessions).
type Info struct {
	ID              string
	Role            Role
	PeerName        string
	PeerMachineID   string
	DevicePath      string
	Kind            model.DeviceKind
	State           State
	Reason          CloseReason
	BytesIn         uint64
	BytesOut        uint64
	LastHeartbeatAt time.Time
}
