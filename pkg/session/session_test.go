package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/wire"
)

// newTestStoreWithKindEnabled writes a config file with the given device
// kind already accepted, then loads it — the accept gate lives in the YAML
// document, so this is the only way to flip it without reaching past the
// Store's public API.
func newTestStoreWithKindEnabled(t *testing.T, kind model.DeviceKind) *config.Store {
	t.Helper()
	field := "tablet_enabled"
	if kind == model.KindJoystick {
		field = "joystick_enabled"
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "general:\n  machine_name: test-consumer\n  machine_id: consumer-abc\nconsumer:\n  devices:\n    " + field + ": true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}
	store, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return store
}

func TestNewSessionInitialState(t *testing.T) {
	hostConn, consumerConn := net.Pipe()
	defer hostConn.Close()
	defer consumerConn.Close()

	hostSide := newSession(RoleHost, hostConn, nil)
	if hostSide.State() != StateDialing {
		t.Errorf("host initial state = %s, want dialing", hostSide.State())
	}

	consumerSide := newSession(RoleConsumer, consumerConn, nil)
	if consumerSide.State() != StateHandshaking {
		t.Errorf("consumer initial state = %s, want handshaking", consumerSide.State())
	}
}

func TestSetStateEmitsEvent(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	events := make(chan SessionEvent, 4)
	s := newSession(RoleHost, conn, events)

	s.setState(StateStreaming, CloseReasonNone)

	select {
	case ev := <-events:
		if ev.Type != EventStateChanged || ev.State != StateStreaming {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected an event to be emitted")
	}
}

func TestEmitDropsWhenChannelFull(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	events := make(chan SessionEvent) // unbuffered, nobody reading
	s := newSession(RoleHost, conn, events)

	// Must not block.
	done := make(chan struct{})
	go func() {
		s.emit(SessionEvent{Type: EventError})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full channel")
	}
}

func TestDrainIsIdempotentAndRunsTeardownLIFO(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	s := newSession(RoleHost, conn, nil)

	var order []int
	s.pushTeardown(func() { order = append(order, 1) })
	s.pushTeardown(func() { order = append(order, 2) })
	s.pushTeardown(func() { order = append(order, 3) })

	s.drain(CloseReasonError)
	s.drain(CloseReasonError) // second call must be a no-op

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("teardown order = %v, want [3 2 1]", order)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() channel should be closed after drain")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	s := newSession(RoleHost, conn, nil)
	s.Cancel()
	s.Cancel() // must not panic on double-close
}

func TestDecideAuthorizationKindDisabledRefusesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "general:\n  machine_name: test-consumer\nconsumer:\n  devices:\n    tablet_enabled: false\n    joystick_enabled: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}
	store, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	s := newSession(RoleConsumer, conn, nil)
	s.profile = model.CapabilityProfile{Kind: model.KindTablet}
	s.peerName = "test-host"

	decision, reason := s.decideAuthorization(store)
	if decision.accept {
		t.Error("expected refusal for a disabled device kind")
	}
	if reason != "kind_disabled" {
		t.Errorf("reason = %q, want kind_disabled", reason)
	}
}

func TestDecideAuthorizationAutoAcceptsTrustedHost(t *testing.T) {
	store := newTestStoreWithKindEnabled(t, model.KindTablet)
	if err := store.TrustHost("test-host", "host-123", true); err != nil {
		t.Fatalf("TrustHost: %v", err)
	}

	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	s := newSession(RoleConsumer, conn, nil)
	s.profile = model.CapabilityProfile{Kind: model.KindTablet}
	s.peerName = "test-host"

	decision, reason := s.decideAuthorization(store)
	if !decision.accept {
		t.Errorf("expected auto-accept, got refusal: %s", reason)
	}
}

func TestDecideAuthorizationPromptTimeout(t *testing.T) {
	store := newTestStoreWithKindEnabled(t, model.KindJoystick)

	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	s := newSession(RoleConsumer, conn, nil)
	s.profile = model.CapabilityProfile{Kind: model.KindJoystick}
	s.peerName = "untrusted-host"

	if testing.Short() {
		t.Skip("skipping 30s prompt-timeout test in short mode")
	}

	decision, reason := s.decideAuthorization(store)
	if decision.accept {
		t.Error("expected timeout refusal")
	}
	if reason != "timeout" {
		t.Errorf("reason = %q, want timeout", reason)
	}
}

func TestAcceptConsumerRefusesIncompatibleMajorVersion(t *testing.T) {
	store := newTestStoreWithKindEnabled(t, model.KindTablet)

	hostConn, consumerConn := net.Pipe()
	defer hostConn.Close()

	events := make(chan SessionEvent, 8)
	AcceptConsumer(consumerConn, store, events)

	enc := wire.NewEncoder(hostConn)
	hs := wire.NewHandshake("test-host", "host-123", model.CapabilityProfile{Kind: model.KindTablet})
	hs.Version = "2.0"
	if err := enc.Encode(hs); err != nil {
		t.Fatalf("encoding handshake: %v", err)
	}

	dec := wire.NewDecoder(hostConn)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	resp, ok := msg.(wire.AuthResponse)
	if !ok {
		t.Fatalf("expected AuthResponse, got %T", msg)
	}
	if resp.Accepted {
		t.Error("expected refusal for an incompatible major version")
	}
	if resp.Reason != "protocol_version" {
		t.Errorf("reason = %q, want protocol_version", resp.Reason)
	}

	sawError := false
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-events:
			if ev.Type == EventError {
				sawError = true
				break loop
			}
			if ev.Type == EventStateChanged && ev.State == StateClosed {
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	if !sawError {
		t.Error("expected an EventError for the version mismatch")
	}
}

func TestAcceptConsumerSendsAcceptanceBeforeDeviceCreation(t *testing.T) {
	store := newTestStoreWithKindEnabled(t, model.KindTablet)
	if err := store.TrustHost("test-host", "host-123", true); err != nil {
		t.Fatalf("TrustHost: %v", err)
	}

	hostConn, consumerConn := net.Pipe()
	defer hostConn.Close()

	events := make(chan SessionEvent, 8)
	AcceptConsumer(consumerConn, store, events)

	enc := wire.NewEncoder(hostConn)
	profile := model.CapabilityProfile{Kind: model.KindTablet, Capabilities: []string{"ABS_X", "ABS_Y"}}
	if err := enc.Encode(wire.NewHandshake("test-host", "host-123", profile)); err != nil {
		t.Fatalf("encoding handshake: %v", err)
	}

	// The acceptance must arrive whether or not this machine can actually
	// construct a uinput device: it is the authorization decision, sent
	// strictly before virtual-device construction is attempted.
	dec := wire.NewDecoder(hostConn)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	resp, ok := msg.(wire.AuthResponse)
	if !ok {
		t.Fatalf("expected AuthResponse, got %T", msg)
	}
	if !resp.Accepted {
		t.Errorf("expected acceptance for an auto-accepted trusted host, got refusal %q", resp.Reason)
	}
}

func TestDecideAuthorizationPromptAccept(t *testing.T) {
	store := newTestStoreWithKindEnabled(t, model.KindJoystick)

	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	events := make(chan SessionEvent, 4)
	s := newSession(RoleConsumer, conn, events)
	s.profile = model.CapabilityProfile{Kind: model.KindJoystick}
	s.peerName = "untrusted-host"

	go func() {
		ev := <-events
		if ev.Type != EventAuthorizationAsked || ev.Prompt == nil {
			t.Errorf("unexpected event: %+v", ev)
			return
		}
		ev.Prompt.Accept(false)
	}()

	decision, reason := s.decideAuthorization(store)
	if !decision.accept {
		t.Errorf("expected acceptance, got refusal: %s", reason)
	}
}
