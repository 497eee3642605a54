// Package audit provides audit logging for session lifecycle events.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event represents an auditable session lifecycle event: a handshake, an
// authorization decision, a state transition, or a restoration run.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	SessionID string        `json:"session_id"`
	Role      string        `json:"role"` // "host" or "consumer"
	Peer      string        `json:"peer,omitempty"`
	PeerID    string        `json:"peer_id,omitempty"`
	Device    string        `json:"device,omitempty"`
	Kind      string        `json:"kind,omitempty"` // "tablet" or "joystick"
	Operation string        `json:"operation"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// EventType categorizes audit events.
type EventType string

const (
	EventTypeHandshake     EventType = "handshake"
	EventTypeAuthorization EventType = "authorization"
	EventTypeStreaming     EventType = "streaming"
	EventTypeRestoration   EventType = "restoration"
	EventTypeTeardown      EventType = "teardown"
)

// Filter defines criteria for querying audit events.
type Filter struct {
	SessionID   string
	Peer        string
	Device      string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event for a session operation.
func NewEvent(sessionID, role, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		SessionID: sessionID,
		Role:      role,
		Operation: operation,
	}
}

// WithPeer sets the peer name and machine id.
func (e *Event) WithPeer(name, id string) *Event {
	e.Peer = name
	e.PeerID = id
	return e
}

// WithDevice sets the device path and kind.
func (e *Event) WithDevice(device, kind string) *Event {
	e.Device = device
	e.Kind = kind
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
