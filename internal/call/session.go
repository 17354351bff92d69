package call

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// defaultWatchdog is the fixed window for reaching Connected before the
// negotiator re-offers with an ICE restart.
const defaultWatchdog = 30 * time.Second

// SessionConfig wires one call attempt. Identity comes from the booking
// service; Provider/Dial are the platform seams (real hardware and relay in
// production, fakes in tests).
type SessionConfig struct {
	Identity     CallIdentity
	Mode         MediaMode
	Provider     DeviceProvider
	Dial         DialFunc
	ICEServers   []webrtc.ICEServer
	SignalingURL string

	// Watchdog defaults to 30s, MeterInterval to ~33ms.
	Watchdog      time.Duration
	MeterInterval time.Duration
}

// Session is one call between two participants: it owns the local media, the
// peer connection and the signaling link exclusively, composes them into the
// lifecycle state machine and exposes the typed event stream.
//
// All public operations are safe for concurrent use; internal async
// completions re-check the ended flag so nothing touches a torn-down
// connection (an End during device acquisition is the canonical race).
type Session struct {
	id   CallIdentity
	mode MediaMode
	cfg  SessionConfig

	events *Events
	gate   *MediaGate

	mu       sync.Mutex
	state    CallState
	started  bool
	ended    bool
	media    *LocalMedia
	neg      *negotiator
	link     Signaling
	meter    *Meter
	watchdog *time.Timer

	done chan struct{}
}

// NewSession builds a session in StateIdle. Start may be called once.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = defaultWatchdog
	}
	return &Session{
		id:     cfg.Identity,
		mode:   cfg.Mode,
		cfg:    cfg,
		events: newEvents(),
		gate:   NewMediaGate(cfg.Provider),
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// Events returns the session's event surface.
func (s *Session) Events() *Events { return s.events }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires devices, creates the peer connection, opens signaling and —
// on the initiator side — sends the first offer. Device failures are both
// returned and emitted on the error stream, since the caller may be awaiting
// Start while another consumer only watches events.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()
	s.transition(StatePermission)

	media, pcf, cerr := s.gate.Acquire(s.mode)
	if cerr != nil {
		if errors.Is(cerr.Err, ErrSessionEnded) {
			// End won the race during acquisition; tracks are already
			// stopped and no events beyond state(ended) may fire.
			return ErrSessionEnded
		}
		s.transition(StateFailed)
		s.events.emitError(cerr)
		return cerr
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.gate.Release()
		return ErrSessionEnded
	}
	s.media = media
	s.mu.Unlock()

	pc, err := pcf(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		cerr := &CallError{Kind: ErrorDevice, Err: err}
		s.failStart(cerr)
		return cerr
	}

	neg := newNegotiator(s.id, pc, s.sendSignal)
	neg.onRemote = s.onRemoteStream
	neg.onConnState = s.onConnState
	neg.onICEState = s.onICEState
	neg.bind()
	if err := neg.attachTracks(media); err != nil {
		neg.close()
		cerr := &CallError{Kind: ErrorDevice, Err: err}
		s.failStart(cerr)
		return cerr
	}

	link, err := s.cfg.Dial(ctx, s.cfg.SignalingURL, s.handleSignal, s.onLinkClosed)
	if err != nil {
		neg.close()
		cerr := &CallError{Kind: ErrorSignaling, Err: err}
		s.failStart(cerr)
		return cerr
	}

	meter := newMeter(media.analyzer, s.cfg.MeterInterval, neg.states, s.emitMetric)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		neg.close()
		_ = link.Close()
		s.gate.Release()
		return ErrSessionEnded
	}
	s.neg = neg
	s.link = link
	s.meter = meter
	s.mu.Unlock()

	s.events.emitLocal(media)
	s.transition(StateConnecting)
	s.armWatchdog()
	meter.Start()

	if s.id.Initiator {
		if err := neg.sendOffer(false); err != nil {
			// Recoverable: the watchdog will re-offer.
			log.Printf("CALL [%s]: initial offer failed: %v", s.id.SessionID, err)
			s.events.emitError(&CallError{Kind: ErrorSignaling, Err: err})
		}
	}
	return nil
}

// failStart marks a terminal setup failure and surfaces it on both channels.
func (s *Session) failStart(cerr *CallError) {
	s.gate.Release()
	s.transition(StateFailed)
	s.events.emitError(cerr)
}

// ToggleMute flips the mic and returns the new enabled state. Before
// acquisition, or after End, it returns false without error.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return false
	}
	on := s.gate.ToggleAudio()
	log.Printf("CALL [%s]: audio enabled=%v", s.id.SessionID, on)
	return on
}

// ToggleVideo flips the camera and returns the new enabled state. In audio
// mode it is a stable no-op returning false.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return false
	}
	on := s.gate.ToggleVideo()
	log.Printf("CALL [%s]: video enabled=%v", s.id.SessionID, on)
	return on
}

// End tears the session down: meter, tracks, peer connection, link, watchdog,
// in that order, then emits the nil streams and the terminal state. Idempotent
// — a second call observes ended and returns immediately. Ended is never
// exited; a new Session must be built for another attempt.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	meter := s.meter
	neg := s.neg
	link := s.link
	wd := s.watchdog
	s.watchdog = nil
	s.state = StateEnded
	s.mu.Unlock()

	if wd != nil {
		wd.Stop()
	}
	if meter != nil {
		meter.Stop()
	}
	s.gate.Release()
	if neg != nil {
		neg.close()
	}
	if link != nil {
		_ = link.Close()
	}

	s.events.emitLocal(nil)
	s.events.emitRemote(nil)
	s.events.emitState(StateEnded)
	close(s.done)
	log.Printf("CALL [%s]: ended", s.id.SessionID)
}

// Status returns a diagnostic snapshot for debug surfaces.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	st := SessionStatus{
		SessionID: s.id.SessionID,
		UserID:    s.id.UserID,
		Initiator: s.id.Initiator,
		State:     s.state.String(),
	}
	media := s.media
	neg := s.neg
	meter := s.meter
	s.mu.Unlock()

	if media != nil {
		if media.Audio != nil {
			st.AudioOn = media.Audio.Enabled()
		}
		if media.Video != nil {
			st.VideoOn = media.Video.Enabled()
		}
	}
	if neg != nil {
		st.ConnectionState, st.ICEState = neg.states()
		st.RemoteTracks = neg.remote.Len()
	}
	if meter != nil {
		st.RecentLevels = meter.Recent()
	}
	return st
}

// ── internal plumbing ────────────────────────────────────────────────────────

// transition moves to st unless ended or already there, and emits outside the
// lock. Same-state changes are deduplicated so e.g. Connected fires once.
func (s *Session) transition(st CallState) {
	s.mu.Lock()
	if s.ended || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	log.Printf("CALL [%s]: state → %s", s.id.SessionID, st)
	s.events.emitState(st)
}

func (s *Session) sendSignal(msg SignalMessage) error {
	s.mu.Lock()
	link := s.link
	ended := s.ended
	s.mu.Unlock()
	if ended || link == nil {
		return ErrLinkClosed
	}
	msg.SenderID = s.id.UserID
	return link.Send(msg)
}

// handleSignal is the inbound route from the signaling link.
func (s *Session) handleSignal(msg SignalMessage) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	if msg.Type == SignalPeerLeft {
		log.Printf("CALL [%s]: peer left", s.id.SessionID)
		s.transition(StateDisconnected)
		s.events.emitError(&CallError{Kind: ErrorPeerLeft})
		return
	}
	if neg == nil {
		return
	}
	if err := neg.handleSignal(msg); err != nil {
		// Never propagate out of the read loop; surface as a warning.
		log.Printf("CALL [%s]: signal %s failed: %v", s.id.SessionID, msg.Type, err)
		s.events.emitError(&CallError{Kind: ErrorSignaling, Err: err})
	}
}

// onLinkClosed fires on unexpected signaling loss. The socket is not
// reopened; if the peer connection survives, the call carries on and ICE
// restart handles transport recovery.
func (s *Session) onLinkClosed(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.transition(StateDisconnected)
	s.events.emitError(&CallError{Kind: ErrorSignaling, Err: err})
}

func (s *Session) onConnState(st webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	cur := s.state
	s.mu.Unlock()

	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.stopWatchdog()
		s.transition(StateConnected)
	case webrtc.PeerConnectionStateConnecting:
		// Only meaningful as the recovery path back from a degraded
		// state; the initial Connecting is set by Start.
		if cur == StateFailed || cur == StateDisconnected {
			s.transition(StateConnecting)
		}
	case webrtc.PeerConnectionStateDisconnected:
		s.transition(StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		s.transition(StateFailed)
	}
}

// onICEState drives the recovery path: a reported ICE failure flips the
// observable state to Failed but negotiation continues — the state reads as
// "degraded, auto-recovering", not "abandoned".
func (s *Session) onICEState(st webrtc.ICEConnectionState) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	switch st {
	case webrtc.ICEConnectionStateFailed:
		s.transition(StateFailed)
		s.events.emitError(&CallError{Kind: ErrorIceFailed})
		if neg != nil {
			neg.restartICE()
		}
		s.armWatchdog()
	case webrtc.ICEConnectionStateDisconnected:
		s.transition(StateDisconnected)
	}
}

// armWatchdog (re)starts the fixed connection timer. If it fires before the
// session reaches Connected, the initiator re-offers with an ICE restart and
// the timer re-arms — indefinitely, by design.
func (s *Session) armWatchdog() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.cfg.Watchdog, s.onWatchdog)
	s.mu.Unlock()
}

func (s *Session) stopWatchdog() {
	s.mu.Lock()
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.mu.Unlock()
}

func (s *Session) onWatchdog() {
	s.mu.Lock()
	if s.ended || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	log.Printf("CALL [%s]: watchdog fired before connected", s.id.SessionID)
	s.events.emitError(&CallError{Kind: ErrorTimeout})
	if neg != nil {
		neg.restartICE()
	}
	s.armWatchdog()
}

func (s *Session) onRemoteStream(r *RemoteStream) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.events.emitRemote(r)
}

func (s *Session) emitMetric(m CallMetrics) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.events.emitMetric(m)
}
