package xerrors

import (
	"errors"
	"testing"
)

func TestSessionError(t *testing.T) {
	underlying := ErrDeviceBusy
	err := NewSessionError("handshake", "HostA", "/dev/input/event4", "tablet", underlying)

	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("expected SessionError to wrap ErrDeviceBusy")
	}

	msg := err.Error()
	if msg == "" {
		t.Error("expected non-empty error message")
	}
}

func TestSessionErrorNoPeer(t *testing.T) {
	err := NewSessionError("authorize", "", "", "", ErrRefused)
	if !errors.Is(err, ErrRefused) {
		t.Error("expected SessionError to wrap ErrRefused")
	}
}

func TestCaptureError(t *testing.T) {
	err := NewCaptureError("grab", "/dev/input/event4", ErrDeviceBusy)

	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("expected CaptureError to wrap ErrDeviceBusy")
	}
	if err.Device != "/dev/input/event4" {
		t.Errorf("Device = %q, want /dev/input/event4", err.Device)
	}
}

func TestRefusalError(t *testing.T) {
	tests := []struct {
		reason string
	}{
		{"kind_disabled"},
		{"timeout"},
		{"declined"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := NewRefusalError("ConsumerB", tt.reason)
			if !errors.Is(err, ErrRefused) {
				t.Error("expected RefusalError to wrap ErrRefused")
			}
			if err.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", err.Reason, tt.reason)
			}
		})
	}
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		var b ValidationBuilder
		if b.HasErrors() {
			t.Error("expected no errors")
		}
		if b.Build() != nil {
			t.Error("expected Build to return nil")
		}
	})

	t.Run("with errors", func(t *testing.T) {
		var b ValidationBuilder
		b.Add("missing machine_id")
		b.Addf("unknown kind %q", "mouse")

		if !b.HasErrors() {
			t.Error("expected errors")
		}

		err := b.Build()
		if err == nil {
			t.Fatal("expected non-nil error")
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Error("expected ValidationError to wrap ErrInvalidConfig")
		}

		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatal("expected errors.As to find *ValidationError")
		}
		if len(ve.Errors) != 2 {
			t.Errorf("len(Errors) = %d, want 2", len(ve.Errors))
		}
	})

	t.Run("chaining", func(t *testing.T) {
		var b ValidationBuilder
		b.Add("first")
		b.Add("second")
		b.Add("third")

		err := b.Build()
		var ve *ValidationError
		errors.As(err, &ve)
		if len(ve.Errors) != 3 {
			t.Errorf("len(Errors) = %d, want 3", len(ve.Errors))
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrDeviceBusy,
		ErrUnsupported,
		ErrRefused,
		ErrProtocol,
		ErrPermissionDenied,
		ErrResourceExhausted,
		ErrInvalidConfig,
		ErrTransient,
		ErrAlreadyTrusted,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Errorf("sentinel %d (%v) should not match sentinel %d (%v)", i, a, j, b)
			}
		}
	}
}

func TestErrorsIsWrapping(t *testing.T) {
	session := NewSessionError("stream", "HostA", "/dev/input/event4", "tablet", ErrProtocol)
	capture := NewCaptureError("read", "/dev/input/event4", ErrDeviceBusy)

	if !errors.Is(session, ErrProtocol) {
		t.Error("expected session error chain to contain ErrProtocol")
	}
	if errors.Is(session, ErrDeviceBusy) {
		t.Error("did not expect session error chain to contain ErrDeviceBusy")
	}
	if !errors.Is(capture, ErrDeviceBusy) {
		t.Error("expected capture error chain to contain ErrDeviceBusy")
	}
}
