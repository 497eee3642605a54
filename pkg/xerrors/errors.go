// Package xerrors defines the daemon's error taxonomy: sentinel errors for
// the failure classes described by the session and capture layers, plus
// typed wrappers that carry enough context (peer, device, operation) for
// logging and audit without losing errors.Is/As compatibility.
package xerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Components should wrap one of these with a typed error
// below rather than returning them bare, so callers retain context while
// still being able to errors.Is against the sentinel.
var (
	ErrNotFound          = errors.New("not found")
	ErrDeviceBusy        = errors.New("device busy")
	ErrUnsupported       = errors.New("unsupported")
	ErrRefused           = errors.New("refused")
	ErrProtocol          = errors.New("protocol violation")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrTransient         = errors.New("transient failure")
	ErrAlreadyTrusted    = errors.New("already trusted")
)

// SessionError wraps a failure encountered during a session operation with
// the context needed to audit and log it: which peer, which device and
// kind, and what was being attempted.
type SessionError struct {
	Op     string // operation being performed, e.g. "handshake", "authorize"
	Peer   string
	Device string
	Kind   string
	Err    error
}

func (e *SessionError) Error() string {
	switch {
	case e.Peer != "" && e.Device != "":
		return fmt.Sprintf("session: %s: peer %s device %s: %v", e.Op, e.Peer, e.Device, e.Err)
	case e.Peer != "":
		return fmt.Sprintf("session: %s: peer %s: %v", e.Op, e.Peer, e.Err)
	default:
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError builds a SessionError wrapping err.
func NewSessionError(op, peer, device, kind string, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Device: device, Kind: kind, Err: err}
}

// CaptureError wraps a failure encountered while opening, grabbing, or
// changing the local mode of a physical input device.
type CaptureError struct {
	Op     string // "open", "grab", "relative_mode", "disable_local"
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// NewCaptureError builds a CaptureError wrapping err.
func NewCaptureError(op, device string, err error) *CaptureError {
	return &CaptureError{Op: op, Device: device, Err: err}
}

// RefusalError describes a session refused at the authorization stage, with
// a machine-stable reason string intended for the wire protocol's
// auth_response.reason field.
type RefusalError struct {
	Peer   string
	Reason string // e.g. "kind_disabled", "timeout", "declined"
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("refused peer %s: %s", e.Peer, e.Reason)
}

func (e *RefusalError) Unwrap() error {
	return ErrRefused
}

// NewRefusalError builds a RefusalError with the given reason.
func NewRefusalError(peer, reason string) *RefusalError {
	return &RefusalError{Peer: peer, Reason: reason}
}

// ValidationError collects configuration or message validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Errors[0])
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), e.Errors[0])
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// ValidationBuilder accumulates validation errors across several checks
// before producing a single ValidationError, so a config load or a wire
// message decode can report everything wrong with it at once.
type ValidationBuilder struct {
	errors []string
}

// Add appends msg as a validation failure.
func (b *ValidationBuilder) Add(msg string) {
	b.errors = append(b.errors, msg)
}

// Addf appends a formatted validation failure.
func (b *ValidationBuilder) Addf(format string, args ...interface{}) {
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any validation failures were recorded.
func (b *ValidationBuilder) HasErrors() bool {
	return len(b.errors) > 0
}

// Build returns a *ValidationError if any failures were recorded, or nil.
func (b *ValidationBuilder) Build() error {
	if !b.HasErrors() {
		return nil
	}
	return &ValidationError{Errors: b.errors}
}
