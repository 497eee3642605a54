package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/transwacom/transwacomd/pkg/audit"
	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/vdev"
	"github.com/transwacom/transwacomd/pkg/wire"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// handshakeDeadline bounds how long a freshly-accepted connection has to
// deliver its handshake before it is abandoned.
const handshakeDeadline = 10 * time.Second

// AcceptConsumer takes ownership of an accepted connection and runs the
// full Consumer-role lifecycle to completion in a background goroutine:
// handshake, authorization, virtual-device creation, streaming, and
// teardown. It returns immediately with the Session in Handshaking state;
// callers observe progress via events.
func AcceptConsumer(conn net.Conn, store *config.Store, events chan<- SessionEvent) *Session {
	s := newSession(RoleConsumer, conn, events)
	go s.consumerLifecycle(store)
	return s
}

func (s *Session) consumerLifecycle(store *config.Store) {
	s.conn.SetReadDeadline(time.Now().Add(handshakeDeadline))
	msg, err := s.dec.Decode()
	s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		logging.Warnf("session %s: %v", s.id, xerrors.NewSessionError("handshake", "", "", "", err))
		s.drain(CloseReasonError)
		return
	}

	hs, ok := msg.(wire.Handshake)
	if !ok {
		logging.Warnf("session %s: %v", s.id, xerrors.NewSessionError("handshake", "", "", "", xerrors.ErrProtocol))
		s.drain(CloseReasonError)
		return
	}

	s.peerName = hs.HostName
	s.peerMachineID = hs.HostID
	if len(hs.Devices) > 0 {
		s.profile = hs.Devices[0]
	}

	if !wire.CompatibleVersion(hs.Version) {
		logging.Warnf("session %s: incompatible protocol version %q from %s", s.id, hs.Version, s.peerName)
		resp := wire.NewRefuseResponse(store.Identity().MachineName, store.Identity().MachineID, "protocol_version")
		if err := s.enc.Encode(resp); err != nil {
			logging.Warnf("session %s: failed to send version refusal: %v", s.id, err)
		}
		s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: fmt.Errorf("%w: %w", xerrors.ErrProtocol, xerrors.NewRefusalError(s.peerName, "protocol_version"))})
		s.drain(CloseReasonError)
		return
	}

	s.setState(StateAwaitingAuth, CloseReasonNone)

	decision, reason := s.decideAuthorization(store)
	s.auditAuthorization(decision.accept, reason)
	if !decision.accept {
		resp := wire.NewRefuseResponse(store.Identity().MachineName, store.Identity().MachineID, reason)
		if err := s.enc.Encode(resp); err != nil {
			logging.Warnf("session %s: failed to send refusal: %v", s.id, err)
		}
		s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: xerrors.NewRefusalError(s.peerName, reason)})
		s.drain(CloseReasonRefused)
		return
	}

	if decision.trust {
		if err := store.TrustHost(s.peerName, s.peerMachineID, true); err != nil && !errors.Is(err, xerrors.ErrAlreadyTrusted) {
			logging.Warnf("session %s: failed to persist new trust: %v", s.id, err)
		}
	}

	accept := wire.NewAcceptResponse(store.Identity().MachineName, store.Identity().MachineID)
	if err := s.enc.Encode(accept); err != nil {
		logging.Warnf("session %s: failed to send acceptance: %v", s.id, err)
		s.drain(CloseReasonError)
		return
	}

	// The virtual device exists only on the far side of an accepted
	// auth_response; a construction failure after acceptance is announced
	// with a bye so the Host tears down instead of streaming into a void.
	device, err := vdev.Create(store, s.peerName, s.profile)
	if err != nil {
		sessErr := xerrors.NewSessionError("create_virtual_device", s.peerName, s.device.Path, string(s.profile.Kind), err)
		logging.Warnf("session %s: %v", s.id, sessErr)
		if berr := s.enc.Encode(wire.NewBye("device_unavailable")); berr != nil {
			logging.Warnf("session %s: failed to send bye: %v", s.id, berr)
		}
		s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: sessErr})
		s.drain(CloseReasonError)
		return
	}
	s.vdevice = device
	s.pushTeardown(func() {
		if err := device.Destroy(); err != nil {
			logging.Warnf("session %s: virtual device teardown: %v", s.id, err)
		}
	})

	s.setState(StateStreaming, CloseReasonNone)
	go s.consumerReadLoop()
	go s.runLiveness()
}

// auditAuthorization records the authorization decision for a connecting
// Host, including the refusal reason when the session is turned away.
func (s *Session) auditAuthorization(accepted bool, refuseReason string) {
	ev := audit.NewEvent(s.id, string(s.role), string(audit.EventTypeAuthorization)).
		WithPeer(s.peerName, s.peerMachineID).
		WithDevice(s.device.Path, string(s.profile.Kind))
	if accepted {
		ev.WithSuccess()
	} else {
		ev.WithError(xerrors.NewRefusalError(s.peerName, refuseReason))
	}
	if err := audit.Log(ev); err != nil {
		logging.Warnf("session %s: audit log write failed: %v", s.id, err)
	}
}

// decideAuthorization implements the three-step authorization decision
// algorithm: a disabled device kind refuses immediately; a trusted peer
// with auto-accept proceeds silently; otherwise a time-boxed prompt is
// raised to whatever is listening on the events channel.
func (s *Session) decideAuthorization(store *config.Store) (authDecision, string) {
	if !store.KindEnabled(s.profile.Kind) {
		return authDecision{accept: false}, "kind_disabled"
	}

	if store.ShouldAutoAcceptHost(s.peerName) {
		return authDecision{accept: true}, ""
	}

	prompt := newAuthorizationPrompt(s.peerName, s.peerMachineID, s.profile.Kind)
	s.emit(SessionEvent{Type: EventAuthorizationAsked, SessionID: s.id, Prompt: prompt})

	timer := time.NewTimer(AuthPromptDeadline)
	defer timer.Stop()

	select {
	case d := <-prompt.result:
		if !d.accept {
			return authDecision{accept: false}, "declined"
		}
		return d, ""
	case <-timer.C:
		return authDecision{accept: false}, "timeout"
	}
}

// consumerReadLoop decodes inbound event batches and bye messages while
// Streaming, injecting batches into the virtual device.
func (s *Session) consumerReadLoop() {
	for {
		msg, err := s.dec.Decode()
		if err != nil {
			select {
			case <-s.closedCh:
				return
			default:
			}
			logging.Warnf("session %s: read error, draining: %v", s.id, err)
			go s.drain(CloseReasonError)
			return
		}

		switch m := msg.(type) {
		case wire.Bye:
			go s.drain(CloseReasonNone)
			return
		case wire.EventBatch:
			if len(m.Events) == 0 {
				continue
			}
			if err := s.vdevice.Inject(m.Events); err != nil {
				logging.Warnf("session %s: injecting events: %v", s.id, err)
			}
		default:
			logging.Warnf("session %s: unexpected message while streaming: %v", s.id, xerrors.ErrProtocol)
		}
	}
}
