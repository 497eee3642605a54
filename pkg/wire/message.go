// Package wire frames, encodes, and decodes the session protocol's four
// message types over a reliable byte stream.
package wire

import (
	"strings"

	"github.com/transwacom/transwacomd/pkg/model"
)

// MaxFrameSize is the largest single message the codec will accept.
// Messages exceeding this are a protocol violation.
const MaxFrameSize = 64 * 1024

// Type identifies one of the four wire message kinds.
type Type string

const (
	TypeHandshake    Type = "handshake"
	TypeAuthResponse Type = "auth_response"
	TypeEvent        Type = "event"
	TypeBye          Type = "bye"
)

// ProtocolVersion is the handshake version string this build speaks.
// Mismatching major versions are a protocol error; minor differences are
// ignored.
const ProtocolVersion = "1.0"

// SynReport is the synthetic synchronization code terminating every event
// batch.
const SynReport = "SYN_REPORT"

// CompatibleVersion reports whether a peer's handshake version can speak
// to this build: major versions must match, minor versions are ignored.
// A missing or malformed version is treated as incompatible rather than
// assumed compatible.
func CompatibleVersion(peerVersion string) bool {
	ours := strings.SplitN(ProtocolVersion, ".", 2)[0]
	theirs := strings.SplitN(peerVersion, ".", 2)[0]
	return theirs != "" && theirs == ours
}

// Handshake is sent Host -> Consumer to open a session.
type Handshake struct {
	Type     Type                      `json:"type"`
	HostName string                    `json:"host_name"`
	HostID   string                    `json:"host_id"`
	Version  string                    `json:"version"`
	Devices  []model.CapabilityProfile `json:"devices"`
}

// NewHandshake builds a Handshake message offering a single device; the
// devices field is an array on the wire but always carries exactly one
// profile.
func NewHandshake(hostName, hostID string, device model.CapabilityProfile) Handshake {
	return Handshake{
		Type:     TypeHandshake,
		HostName: hostName,
		HostID:   hostID,
		Version:  ProtocolVersion,
		Devices:  []model.CapabilityProfile{device},
	}
}

// AuthResponse is sent Consumer -> Host after the authorization decision.
type AuthResponse struct {
	Type         Type   `json:"type"`
	Accepted     bool   `json:"accepted"`
	ConsumerName string `json:"consumer_name"`
	ConsumerID   string `json:"consumer_id"`
	Reason       string `json:"reason,omitempty"`
}

// NewAcceptResponse builds an accepting AuthResponse.
func NewAcceptResponse(consumerName, consumerID string) AuthResponse {
	return AuthResponse{Type: TypeAuthResponse, Accepted: true, ConsumerName: consumerName, ConsumerID: consumerID}
}

// NewRefuseResponse builds a refusing AuthResponse with reason.
func NewRefuseResponse(consumerName, consumerID, reason string) AuthResponse {
	return AuthResponse{Type: TypeAuthResponse, Accepted: false, ConsumerName: consumerName, ConsumerID: consumerID, Reason: reason}
}

// InputEvent is one code/value pair within an event batch, timestamped
// with a monotonic float-seconds clock reading.
type InputEvent struct {
	Code  string  `json:"code"`
	Value int32   `json:"value"`
	TS    float64 `json:"ts"`
}

// EventBatch is sent Host -> Consumer carrying 1..N events, the last of
// which is conventionally SYN_REPORT.
type EventBatch struct {
	Type       Type         `json:"type"`
	DeviceType string       `json:"device_type"`
	Events     []InputEvent `json:"events"`
}

// NewEventBatch builds an EventBatch, appending a defensive SYN_REPORT if
// the caller omitted one.
func NewEventBatch(deviceType string, events []InputEvent) EventBatch {
	if len(events) == 0 || events[len(events)-1].Code != SynReport {
		events = append(events, InputEvent{Code: SynReport})
	}
	return EventBatch{Type: TypeEvent, DeviceType: deviceType, Events: events}
}

// Bye is sent by either side to advisorily announce teardown; the
// receiver must still run its full teardown regardless.
type Bye struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// NewBye builds a Bye message with an optional reason.
func NewBye(reason string) Bye {
	return Bye{Type: TypeBye, Reason: reason}
}

// typeOnly is used to sniff a frame's "type" field before dispatching to
// the concrete message type.
type typeOnly struct {
	Type Type `json:"type"`
}
