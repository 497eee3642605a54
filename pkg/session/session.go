package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/transwacom/transwacomd/pkg/audit"
	"github.com/transwacom/transwacomd/pkg/hostcapture"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/vdev"
	"github.com/transwacom/transwacomd/pkg/wire"
)

// Session is a single cross-machine input stream, identical in shape for
// both roles; Role parameterizes which transitions and side effects
// apply.
type Session struct {
	id            string
	role          Role
	peerName      string
	peerMachineID string
	device        model.PhysicalDevice    // set for RoleHost
	profile       model.CapabilityProfile // offered (host) or received (consumer)

	conn net.Conn
	enc  *wire.Encoder
	dec  *wire.Decoder

	capture *hostcapture.Capture // non-nil once Streaming on the Host side
	vdevice *vdev.VirtualDevice  // non-nil once Streaming on the Consumer side

	events chan<- SessionEvent

	mu              sync.Mutex
	state           State
	reason          CloseReason
	bytesIn         uint64
	bytesOut        uint64
	lastRecvAt      time.Time
	lastSendAt      time.Time
	lastHeartbeatAt time.Time

	cancelOnce sync.Once
	closeOnce  sync.Once
	cancelCh   chan struct{}
	closedCh   chan struct{}

	teardown []func()
}

// newSession builds a Session in Dialing (Host) or Handshaking (Consumer)
// state, wired to emit SessionEvents on events. A Host session starts
// without a transport; hostLifecycle attaches one once the dial lands.
func newSession(role Role, conn net.Conn, events chan<- SessionEvent) *Session {
	s := &Session{
		id:       uuid.NewString(),
		role:     role,
		conn:     conn,
		events:   events,
		cancelCh: make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	if conn != nil {
		s.attachConn(conn)
	}
	if role == RoleHost {
		s.state = StateDialing
	} else {
		s.state = StateHandshaking
	}
	return s
}

// attachConn wires the codec over conn through a metering wrapper, so
// byte accounting and the liveness timestamps reflect actual socket I/O
// rather than frame counts.
func (s *Session) attachConn(conn net.Conn) {
	mc := meteredConn{Conn: conn, s: s}
	s.conn = conn
	s.enc = wire.NewEncoder(mc)
	s.dec = wire.NewDecoder(mc)
}

// meteredConn updates the owning session's byte counters and liveness
// clocks on every read and write.
type meteredConn struct {
	net.Conn
	s *Session
}

func (c meteredConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.s.recordRecv(n)
	}
	return n, err
}

func (c meteredConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.s.recordSend(n)
	}
	return n, err
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info snapshots the session for driver-API listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:              s.id,
		Role:            s.role,
		PeerName:        s.peerName,
		PeerMachineID:   s.peerMachineID,
		DevicePath:      s.device.Path,
		Kind:            s.profile.Kind,
		State:           s.state,
		Reason:          s.reason,
		BytesIn:         atomic.LoadUint64(&s.bytesIn),
		BytesOut:        atomic.LoadUint64(&s.bytesOut),
		LastHeartbeatAt: s.lastHeartbeatAt,
	}
}

// setState transitions the session and emits a state_changed event.
func (s *Session) setState(state State, reason CloseReason) {
	s.mu.Lock()
	s.state = state
	s.reason = reason
	peer, peerID, devPath, kind := s.peerName, s.peerMachineID, s.device.Path, string(s.profile.Kind)
	s.mu.Unlock()

	s.emit(SessionEvent{Type: EventStateChanged, SessionID: s.id, State: state, Reason: reason})
	s.auditState(state, reason, peer, peerID, devPath, kind)
}

// auditState records Streaming and Closed transitions to the audit log;
// the intermediate states aren't interesting once the session is gone.
func (s *Session) auditState(state State, reason CloseReason, peer, peerID, devPath, kind string) {
	var op audit.EventType
	switch state {
	case StateStreaming:
		op = audit.EventTypeStreaming
	case StateClosed:
		op = audit.EventTypeTeardown
	default:
		return
	}

	ev := audit.NewEvent(s.id, string(s.role), string(op)).WithPeer(peer, peerID).WithDevice(devPath, kind)
	if state == StateClosed && reason != CloseReasonNone {
		ev.WithError(fmt.Errorf("closed: %s", reason))
	} else {
		ev.WithSuccess()
	}
	if err := audit.Log(ev); err != nil {
		logging.Warnf("session %s: audit log write failed: %v", s.id, err)
	}
}

func (s *Session) emit(ev SessionEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		logging.Warnf("session %s: event channel full, dropping %s event", s.id, ev.Type)
	}
}

// recordRecv marks inbound bytes for liveness and byte accounting. Any
// inbound byte counts as evidence the peer is alive.
func (s *Session) recordRecv(n int) {
	atomic.AddUint64(&s.bytesIn, uint64(n))
	s.mu.Lock()
	s.lastRecvAt = time.Now()
	s.lastHeartbeatAt = s.lastRecvAt
	s.mu.Unlock()
}

// recordSend marks outbound bytes for liveness and byte accounting.
func (s *Session) recordSend(n int) {
	atomic.AddUint64(&s.bytesOut, uint64(n))
	s.mu.Lock()
	s.lastSendAt = time.Now()
	s.mu.Unlock()
}

// pushTeardown registers a cleanup hook run exactly once, in LIFO order,
// when the session reaches Closed.
func (s *Session) pushTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = append(s.teardown, fn)
	s.mu.Unlock()
}

// Cancel pushes an internal cancel signal: the state machine transitions
// to Draining from any pre-terminal state and runs its teardown. Safe to
// call more than once and from any goroutine.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
		go s.drain(CloseReasonNone)
	})
}

// Done is closed once the session has fully reached Closed and every
// teardown hook has run.
func (s *Session) Done() <-chan struct{} {
	return s.closedCh
}

// drain transitions to Draining (unless already there or Closed), waits
// up to DrainGrace for in-flight frames, closes the socket, then runs
// every teardown hook in LIFO order and marks Closed exactly once.
func (s *Session) drain(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateDraining || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	// Claim the transition under the same lock as the check, so exactly
	// one caller runs the teardown sequence.
	s.state = StateDraining
	s.reason = reason
	s.mu.Unlock()

	s.emit(SessionEvent{Type: EventStateChanged, SessionID: s.id, State: StateDraining, Reason: reason})
	time.Sleep(DrainGrace)

	s.mu.Lock()
	conn := s.conn
	hooks := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	s.setState(StateClosed, reason)
	s.closeOnce.Do(func() { close(s.closedCh) })
}

// runLiveness enforces the Streaming-state liveness contract: a
// zero-event keepalive frame goes out once this side has been send-silent
// for KeepaliveSendSilence or heard nothing for KeepaliveRecvGrace, so a
// peer that only receives (the Consumer, on an active stream) still
// produces the inbound bytes the other side's timeout watches for; total
// inbound silence for LivenessTimeout drains the session with
// CloseReasonError.
func (s *Session) runLiveness() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.cancelCh:
			return
		case <-s.closedCh:
			return
		case <-ticker.C:
			if s.State() != StateStreaming {
				return
			}

			s.mu.Lock()
			sinceRecv := time.Since(s.lastRecvAt)
			sinceSend := time.Since(s.lastSendAt)
			s.mu.Unlock()

			if sinceRecv >= LivenessTimeout {
				logging.Warnf("session %s: no inbound bytes for %s, draining", s.id, LivenessTimeout)
				go s.drain(CloseReasonError)
				return
			}

			if sinceRecv >= KeepaliveRecvGrace || sinceSend >= KeepaliveSendSilence {
				if err := s.enc.Encode(wire.EventBatch{Type: wire.TypeEvent}); err != nil {
					logging.Warnf("session %s: keepalive send failed: %v", s.id, err)
				}
			}
		}
	}
}
