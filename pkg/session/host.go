package session

import (
	"fmt"
	"net"
	"time"

	"github.com/transwacom/transwacomd/pkg/hostcapture"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/wire"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// dialTimeout bounds the TCP connect to a Consumer.
const dialTimeout = 10 * time.Second

// authResponseDeadline bounds how long the Host waits for the Consumer's
// auth_response, covering the Consumer's own 30s authorization prompt
// plus network and processing slack.
const authResponseDeadline = AuthPromptDeadline + 10*time.Second

// captureSink adapts a hostcapture.Capture's batch callback onto the
// session's outbound socket, encoding each batch as a wire EventBatch.
type captureSink struct {
	s *Session
}

func (c captureSink) HandleBatch(batch []wire.InputEvent) error {
	msg := wire.NewEventBatch(string(c.s.profile.Kind), batch)
	if err := c.s.enc.Encode(msg); err != nil {
		return fmt.Errorf("writing event batch: %w", err)
	}
	return nil
}

// DialHost opens a Host-role session to addr, offering device. It returns
// immediately with the Session in Dialing state; the dial, handshake,
// authorization wait, and capture start all run in a background goroutine,
// with progress reported on events.
func DialHost(addr string, identity model.MachineIdentity, device model.PhysicalDevice, opts hostcapture.CaptureOptions, vendor hostcapture.VendorModeController, events chan<- SessionEvent) *Session {
	s := newSession(RoleHost, nil, events)
	s.device = device
	s.profile = model.FromPhysicalDevice(device)
	go s.hostLifecycle(addr, identity, opts, vendor)
	return s
}

// hostLifecycle runs the Host side of the state machine to completion:
// dial, handshake, await authorization, start capture, stream.
func (s *Session) hostLifecycle(addr string, identity model.MachineIdentity, opts hostcapture.CaptureOptions, vendor hostcapture.VendorModeController) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		s.failBeforeConnect(xerrors.NewSessionError("dial", "", s.device.Path, string(s.profile.Kind), fmt.Errorf("%w: %v", xerrors.ErrTransient, err)))
		return
	}

	s.mu.Lock()
	if s.state != StateDialing {
		// Cancelled while the dial was in flight.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.attachConn(conn)
	s.mu.Unlock()

	s.setState(StateHandshaking, CloseReasonNone)

	hs := wire.NewHandshake(identity.MachineName, identity.MachineID, s.profile)
	if err := s.enc.Encode(hs); err != nil {
		s.failSession("handshake", err)
		return
	}

	s.setState(StateAwaitingAuth, CloseReasonNone)

	conn.SetReadDeadline(time.Now().Add(authResponseDeadline))
	msg, err := s.dec.Decode()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.failSession("await_auth_response", err)
		return
	}

	resp, ok := msg.(wire.AuthResponse)
	if !ok {
		s.failSession("await_auth_response", xerrors.ErrProtocol)
		return
	}

	if !resp.Accepted {
		refusal := xerrors.NewRefusalError(resp.ConsumerName, resp.Reason)
		logging.Infof("session %s: %v", s.id, refusal)
		s.peerName = resp.ConsumerName
		s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: refusal})
		s.drain(CloseReasonRefused)
		return
	}

	s.peerName = resp.ConsumerName
	s.peerMachineID = resp.ConsumerID

	capture, err := hostcapture.Start(s.device, captureSink{s: s}, opts, vendor)
	if err != nil {
		s.failSession("start_capture", err)
		return
	}
	s.capture = capture
	s.pushTeardown(func() {
		if err := capture.Stop(); err != nil {
			logging.Warnf("session %s: capture stop: %v", s.id, err)
		}
	})

	s.setState(StateStreaming, CloseReasonNone)
	go s.hostReadLoop()
	go s.runLiveness()
}

// failBeforeConnect closes a session whose transport never came up:
// connect failure goes straight to Closed(Error) with no Draining pass.
func (s *Session) failBeforeConnect(err error) {
	logging.Warnf("session %s: %v", s.id, err)
	s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: err})
	s.setState(StateClosed, CloseReasonError)
	s.closeOnce.Do(func() { close(s.closedCh) })
}

// failSession reports a post-connect failure and drains the session.
func (s *Session) failSession(op string, err error) {
	sessErr := xerrors.NewSessionError(op, s.peerName, s.device.Path, string(s.profile.Kind), err)
	logging.Warnf("session %s: %v", s.id, sessErr)
	s.emit(SessionEvent{Type: EventError, SessionID: s.id, Err: sessErr})
	s.drain(CloseReasonError)
}

// hostReadLoop watches for a Bye or protocol error from the Consumer
// while Streaming; the Host otherwise only writes (events flow
// Host->Consumer).
func (s *Session) hostReadLoop() {
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

		if _, ok := msg.(wire.Bye); ok {
			go s.drain(CloseReasonNone)
			return
		}
	}
}

// Stop ends the session: sends a bye (best-effort; the bye and the capture
// sink's batches are each one whole-frame write on the same connection, so
// the bye never lands inside an in-flight batch), then drains and tears
// down. Always safe and idempotent.
func (s *Session) Stop() {
	if s.State() == StateStreaming {
		if err := s.enc.Encode(wire.NewBye("")); err != nil {
			logging.Warnf("session %s: failed to send bye: %v", s.id, err)
		}
	}
	s.drain(CloseReasonNone)
}
