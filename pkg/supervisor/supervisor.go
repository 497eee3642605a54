// Package supervisor owns the single mutable registry of active sessions
// and exposes the driver API a UI collaborator uses to list devices and
// peers, start and stop sessions, and answer authorization prompts.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/transwacom/transwacomd/pkg/config"
	"github.com/transwacom/transwacomd/pkg/devdetect"
	"github.com/transwacom/transwacomd/pkg/discovery"
	"github.com/transwacom/transwacomd/pkg/hostcapture"
	"github.com/transwacom/transwacomd/pkg/logging"
	"github.com/transwacom/transwacomd/pkg/model"
	"github.com/transwacom/transwacomd/pkg/session"
	"github.com/transwacom/transwacomd/pkg/util"
	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// ShutdownGrace is the hard deadline for a global stop: the process exits
// once every session has finished draining or this elapses, whichever
// comes first.
const ShutdownGrace = 3 * time.Second

// eventBacklog bounds the outbound SessionEvent channel so a slow or
// absent UI collaborator never blocks session progress.
const eventBacklog = 64

// Supervisor is constructed with its collaborators as explicit
// dependencies rather than reaching for package-level singletons.
type Supervisor struct {
	store    *config.Store
	detector *devdetect.Detector
	vendor   hostcapture.VendorModeController

	publisher *discovery.Publisher
	browser   *discovery.Browser

	mu            sync.Mutex
	sessions      map[string]*session.Session
	prompts       map[string]*session.AuthorizationPrompt
	discovered    map[string]discovery.DiscoveredConsumer
	listener      net.Listener
	sessionEvts   chan session.SessionEvent
	events        chan session.SessionEvent
	shuttingDown  bool
	history       *SessionStore
	historyStarts map[string]time.Time
}

// New builds a Supervisor ready to Run.
func New(store *config.Store, detector *devdetect.Detector, vendor hostcapture.VendorModeController) *Supervisor {
	return &Supervisor{
		store:         store,
		detector:      detector,
		vendor:        vendor,
		sessions:      make(map[string]*session.Session),
		prompts:       make(map[string]*session.AuthorizationPrompt),
		discovered:    make(map[string]discovery.DiscoveredConsumer),
		sessionEvts:   make(chan session.SessionEvent, eventBacklog),
		events:        make(chan session.SessionEvent, eventBacklog),
		historyStarts: make(map[string]time.Time),
	}
}

// SetSessionStore attaches a Redis-backed session-history mirror; once
// set, every Streaming transition and terminal Closed transition is
// persisted so "sessions list" and crash recovery can read history back
// without a live Supervisor. Optional: a nil or never-set store leaves
// the registry in-memory only.
func (sv *Supervisor) SetSessionStore(st *SessionStore) {
	sv.mu.Lock()
	sv.history = st
	sv.mu.Unlock()
}

// Events returns the channel a UI collaborator subscribes to for
// SessionStateChanged, AuthorizationPrompt, DeviceArrived, DeviceDeparted,
// and Error notifications.
func (sv *Supervisor) Events() <-chan session.SessionEvent {
	return sv.events
}

// Run starts listening for inbound Consumer connections on the
// configured port. It neither publishes nor browses; StartDiscovery does
// both. It blocks until ctx is cancelled, at which point it performs the global drain
// described in the concurrency model.
func (sv *Supervisor) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(sv.store.Port()))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	sv.mu.Lock()
	sv.listener = ln
	sv.mu.Unlock()

	go sv.forwardEvents(ctx)
	go sv.acceptLoop(ln)

	<-ctx.Done()
	return sv.Shutdown()
}

// acceptLoop accepts inbound connections until the listener is closed by
// Shutdown, handing each off to the Consumer-role session lifecycle.
func (sv *Supervisor) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			sv.mu.Lock()
			down := sv.shuttingDown
			sv.mu.Unlock()
			if down {
				return
			}
			logging.Warnf("supervisor: accept failed: %v", err)
			return
		}
		s := session.AcceptConsumer(conn, sv.store, sv.sessionEvts)
		sv.register(s)
	}
}

func (sv *Supervisor) register(s *session.Session) {
	sv.mu.Lock()
	sv.sessions[s.ID()] = s
	sv.mu.Unlock()

	// A session that failed instantly may have reached Closed before it
	// was registered, in which case the pruning pass in forwardEvents has
	// already run and missed it.
	if s.State() == session.StateClosed {
		sv.mu.Lock()
		delete(sv.sessions, s.ID())
		sv.mu.Unlock()
	}
}

// recordSessionStart mirrors the Streaming transition to the history
// store, if one is attached, and notes the start time locally so the
// matching Closed transition can fill in both ends of the record.
func (sv *Supervisor) recordSessionStart(sessionID string) {
	sv.mu.Lock()
	s := sv.sessions[sessionID]
	history := sv.history
	started := time.Now()
	sv.historyStarts[sessionID] = started
	sv.mu.Unlock()

	if history == nil || s == nil {
		return
	}
	info := s.Info()
	if err := history.Put(SessionRecord{
		ID:        sessionID,
		Peer:      info.PeerName,
		PeerID:    info.PeerMachineID,
		Device:    info.DevicePath,
		Kind:      string(info.Kind),
		Role:      string(info.Role),
		StartedAt: started,
	}); err != nil {
		logging.Warnf("supervisor: mirroring session start for %s: %v", sessionID, err)
	}
}

// recordSessionEnd mirrors a session's terminal state, closing out the
// record recordSessionStart opened (or opening one now, for sessions
// refused or errored before ever reaching Streaming).
func (sv *Supervisor) recordSessionEnd(s *session.Session) {
	sv.mu.Lock()
	history := sv.history
	started, hadStart := sv.historyStarts[s.ID()]
	delete(sv.historyStarts, s.ID())
	sv.mu.Unlock()

	if history == nil {
		return
	}
	info := s.Info()
	rec := SessionRecord{
		ID:      s.ID(),
		Peer:    info.PeerName,
		PeerID:  info.PeerMachineID,
		Device:  info.DevicePath,
		Kind:    string(info.Kind),
		Role:    string(info.Role),
		EndedAt: time.Now(),
		Outcome: outcomeForReason(string(info.Reason)),
	}
	if hadStart {
		rec.StartedAt = started
	}
	if err := history.Put(rec); err != nil {
		logging.Warnf("supervisor: mirroring session end for %s: %v", s.ID(), err)
	}
}

// SessionHistory returns the mirrored session records from the attached
// history store of this live Supervisor. It returns an error if no
// history store is attached. The "sessions list" command does not use it;
// it reads the mirror through a SessionStore of its own.
func (sv *Supervisor) SessionHistory() ([]SessionRecord, error) {
	sv.mu.Lock()
	history := sv.history
	sv.mu.Unlock()
	if history == nil {
		return nil, fmt.Errorf("no session history store configured: %w", xerrors.ErrUnsupported)
	}
	return history.List()
}

// forwardEvents relays per-session events onto the public channel,
// tracking authorization prompts and pruning closed sessions from the
// registry as it goes.
func (sv *Supervisor) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sv.sessionEvts:
			if !ok {
				return
			}
			if ev.Type == session.EventAuthorizationAsked && ev.Prompt != nil {
				sv.mu.Lock()
				sv.prompts[ev.Prompt.CorrelationID] = ev.Prompt
				sv.mu.Unlock()
			}
			if ev.Type == session.EventStateChanged && ev.State == session.StateStreaming {
				sv.recordSessionStart(ev.SessionID)
			}
			if ev.Type == session.EventStateChanged && ev.State == session.StateClosed {
				sv.mu.Lock()
				s := sv.sessions[ev.SessionID]
				delete(sv.sessions, ev.SessionID)
				sv.mu.Unlock()
				if s != nil {
					sv.recordSessionEnd(s)
				}
			}
			select {
			case sv.events <- ev:
			default:
				logging.Warnf("supervisor: outbound event channel full, dropping %s event", ev.Type)
			}
		}
	}
}

// StartDiscovery advertises this machine as a Consumer for every enabled
// device kind and begins browsing for other Consumers. Either side is a
// no-op (logged, not fatal) if the underlying mDNS responder is
// unavailable; discovery is advisory and a Host can always dial a
// literal address.
func (sv *Supervisor) StartDiscovery(instanceName string) {
	kinds := sv.enabledKinds()
	if len(kinds) > 0 {
		pub, err := discovery.NewPublisher()
		if err != nil {
			logging.Warnf("supervisor: discovery publish unavailable: %v", err)
		} else if err := pub.Publish(util.SanitizeName(instanceName), sv.store.Identity().MachineID, kinds, sv.store.Port()); err != nil {
			logging.Warnf("supervisor: discovery publish failed: %v", err)
		} else {
			sv.mu.Lock()
			sv.publisher = pub
			sv.mu.Unlock()
		}
	}

	added := make(chan discovery.DiscoveredConsumer, 16)
	removed := make(chan discovery.DiscoveredConsumer, 16)
	browser, err := discovery.Browse(context.Background(), added, removed)
	if err != nil {
		logging.Warnf("supervisor: discovery browse unavailable: %v", err)
		return
	}
	sv.mu.Lock()
	sv.browser = browser
	sv.mu.Unlock()

	go sv.trackDiscovered(added, removed)
}

func (sv *Supervisor) trackDiscovered(added, removed <-chan discovery.DiscoveredConsumer) {
	for {
		select {
		case c, ok := <-added:
			if !ok {
				return
			}
			sv.mu.Lock()
			sv.discovered[c.Name] = c
			sv.mu.Unlock()
			sv.emit(session.SessionEvent{Type: session.EventDeviceArrived})
		case c, ok := <-removed:
			if !ok {
				return
			}
			sv.mu.Lock()
			delete(sv.discovered, c.Name)
			sv.mu.Unlock()
			sv.emit(session.SessionEvent{Type: session.EventDeviceDeparted})
		}
	}
}

func (sv *Supervisor) emit(ev session.SessionEvent) {
	select {
	case sv.events <- ev:
	default:
		logging.Warnf("supervisor: outbound event channel full, dropping %s event", ev.Type)
	}
}

func (sv *Supervisor) enabledKinds() []model.DeviceKind {
	var kinds []model.DeviceKind
	if sv.store.KindEnabled(model.KindTablet) {
		kinds = append(kinds, model.KindTablet)
	}
	if sv.store.KindEnabled(model.KindJoystick) {
		kinds = append(kinds, model.KindJoystick)
	}
	return kinds
}

// ListLocalDevices enumerates candidate input devices on this machine.
func (sv *Supervisor) ListLocalDevices() ([]model.PhysicalDevice, error) {
	return sv.detector.Enumerate()
}

// ListDiscoveredConsumers returns a snapshot of Consumers currently
// visible on the network.
func (sv *Supervisor) ListDiscoveredConsumers() []discovery.DiscoveredConsumer {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]discovery.DiscoveredConsumer, 0, len(sv.discovered))
	for _, c := range sv.discovered {
		out = append(out, c)
	}
	return out
}

// ListSessions returns a snapshot of every session currently tracked by
// the registry.
func (sv *Supervisor) ListSessions() []session.Info {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]session.Info, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Share starts a Host-role session offering devicePath to consumer,
// which is either a literal "address:port" or the name of a
// previously-discovered Consumer. It returns the new session's id
// immediately; outcome is reported asynchronously on Events().
func (sv *Supervisor) Share(devicePath, consumer string) (string, error) {
	if err := sv.checkDeviceFree(devicePath); err != nil {
		return "", err
	}

	device, err := sv.detector.Describe(devicePath)
	if err != nil {
		return "", fmt.Errorf("describing %s: %w", devicePath, err)
	}

	addr, err := sv.resolveConsumerAddr(consumer)
	if err != nil {
		return "", err
	}

	identity := sv.store.Identity()
	opts := hostcapture.CaptureOptions{
		RelativeMode: sv.store.RelativeMode(),
		DisableLocal: sv.store.DisableLocal(),
	}

	s, err := session.DialDirect(addr, identity, device, opts, sv.vendor, sv.sessionEvts)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addr, err)
	}
	sv.register(s)
	return s.ID(), nil
}

// checkDeviceFree enforces the one-session-per-device rule: a device
// already owned by a live Host session cannot be shared again until that
// session closes.
func (sv *Supervisor) checkDeviceFree(devicePath string) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, s := range sv.sessions {
		if s == nil {
			continue
		}
		info := s.Info()
		if info.Role == session.RoleHost && info.DevicePath == devicePath && info.State != session.StateClosed {
			return fmt.Errorf("device %s already shared by session %s: %w", devicePath, info.ID, xerrors.ErrDeviceBusy)
		}
	}
	return nil
}

func (sv *Supervisor) resolveConsumerAddr(consumer string) (string, error) {
	if _, _, err := net.SplitHostPort(consumer); err == nil {
		return consumer, nil
	}
	sv.mu.Lock()
	c, ok := sv.discovered[consumer]
	sv.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown consumer %q: %w", consumer, xerrors.ErrNotFound)
	}
	return discovery.FormatAddress(c.Address, c.Port), nil
}

// Stop ends the named session. Always safe and idempotent; an unknown
// session id is reported as ErrNotFound rather than panicking.
func (sv *Supervisor) Stop(sessionID string) error {
	sv.mu.Lock()
	s, ok := sv.sessions[sessionID]
	sv.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, xerrors.ErrNotFound)
	}
	s.Stop()
	return nil
}

// Accept resolves a pending AuthorizationPrompt as accepted, optionally
// trusting the peer for future sessions.
func (sv *Supervisor) Accept(promptID string, trust bool) error {
	p, err := sv.takePrompt(promptID)
	if err != nil {
		return err
	}
	p.Accept(trust)
	return nil
}

// Decline resolves a pending AuthorizationPrompt as declined.
func (sv *Supervisor) Decline(promptID string) error {
	p, err := sv.takePrompt(promptID)
	if err != nil {
		return err
	}
	p.Decline()
	return nil
}

func (sv *Supervisor) takePrompt(promptID string) (*session.AuthorizationPrompt, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, ok := sv.prompts[promptID]
	if !ok {
		return nil, fmt.Errorf("prompt %s: %w", promptID, xerrors.ErrNotFound)
	}
	delete(sv.prompts, promptID)
	return p, nil
}

// Shutdown drains every active session concurrently and closes the
// listener, returning once all sessions reach Closed or ShutdownGrace
// elapses.
func (sv *Supervisor) Shutdown() error {
	sv.mu.Lock()
	sv.shuttingDown = true
	ln := sv.listener
	if sv.publisher != nil {
		sv.publisher.Unpublish()
	}
	if sv.browser != nil {
		sv.browser.Stop()
	}
	sessions := make([]*session.Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Stop()
			<-s.Done()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		logging.Warnf("supervisor: shutdown grace period elapsed with sessions still draining")
	}
	return nil
}
