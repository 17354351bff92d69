package call

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested for each inbound video
// track. Without periodic PLIs a receiver that joins mid-stream can stare at
// grey frames until the sender happens to emit a keyframe.
const pliInterval = 3 * time.Second

// PeerConn is the subset of *webrtc.PeerConnection the negotiator uses.
// *webrtc.PeerConnection satisfies it directly; tests substitute a fake so
// the negotiation core runs without any network stack.
type PeerConn interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	WriteRTCP(pkts []rtcp.Packet) error
	Close() error
}

// PCFactory builds a peer connection for the given configuration. The real
// factory comes from the device provider so the media engine matches the
// captured codecs.
type PCFactory func(cfg webrtc.Configuration) (PeerConn, error)

// RemoteStream is the single aggregate stream of inbound tracks. It is a view
// owned by the session but backed by the peer connection — it is invalidated
// when the peer connection closes. The same aggregate is re-emitted for every
// added track, never a fresh stream per track.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func (r *RemoteStream) add(t *webrtc.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

// Tracks returns the inbound tracks received so far.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.RLock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	r.mu.RUnlock()
	return out
}

// Len returns the number of inbound tracks.
func (r *RemoteStream) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// negotiator owns the peer connection and drives offer/answer/candidate
// exchange. Nothing outside the session may hold a reference to the pc.
type negotiator struct {
	sessionID string
	selfID    string
	initiator bool
	pc        PeerConn
	send      func(SignalMessage) error

	onRemote    func(*RemoteStream)
	onConnState func(webrtc.PeerConnectionState)
	onICEState  func(webrtc.ICEConnectionState)

	remote *RemoteStream

	mu        sync.Mutex
	closed    bool
	connState webrtc.PeerConnectionState
	iceState  webrtc.ICEConnectionState
	done      chan struct{}
}

func newNegotiator(id CallIdentity, pc PeerConn, send func(SignalMessage) error) *negotiator {
	return &negotiator{
		sessionID: id.SessionID,
		selfID:    id.UserID,
		initiator: id.Initiator,
		pc:        pc,
		send:      send,
		remote:    &RemoteStream{},
		done:      make(chan struct{}),
	}
}

// bind installs the peer connection callbacks. Called once, before any
// signaling can arrive.
func (n *negotiator) bind() {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || n.isClosed() {
			// nil marks end of gathering; trickle ICE sends each
			// candidate as discovered, so there is nothing to flush.
			return
		}
		init := c.ToJSON()
		if err := n.send(SignalMessage{Type: SignalCandidate, Candidate: &init}); err != nil {
			log.Printf("CALL [%s]: candidate send failed: %v", n.sessionID, err)
		}
	})

	n.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.handleRemoteTrack(t)
	})

	n.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		n.mu.Lock()
		n.connState = st
		closed := n.closed
		n.mu.Unlock()
		log.Printf("CALL [%s]: connection state → %s", n.sessionID, st)
		if !closed && n.onConnState != nil {
			n.onConnState(st)
		}
	})

	n.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		n.mu.Lock()
		n.iceState = st
		closed := n.closed
		n.mu.Unlock()
		log.Printf("CALL [%s]: ICE state → %s", n.sessionID, st)
		if !closed && n.onICEState != nil {
			n.onICEState(st)
		}
	})
}

// attachTracks adds the acquired local tracks to the peer connection.
func (n *negotiator) attachTracks(media *LocalMedia) error {
	for _, t := range media.Tracks() {
		if _, err := n.pc.AddTrack(t.track); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

// sendOffer creates an SDP offer, installs it locally and ships it to the
// remote peer. restart requests fresh ICE credentials for recovery.
func (n *negotiator) sendOffer(restart bool) error {
	if n.isClosed() {
		return nil
	}
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := n.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	log.Printf("CALL [%s]: sending offer (restart=%v)", n.sessionID, restart)
	return n.send(SignalMessage{Type: SignalOffer, SDP: offer.SDP, Restart: restart})
}

// handleSignal routes one inbound signaling message into the peer connection.
// Messages arriving after close are silently dropped: the link gives no
// delivery or ordering guarantees, so strays and duplicates are expected.
func (n *negotiator) handleSignal(msg SignalMessage) error {
	if n.isClosed() {
		return nil
	}
	switch msg.Type {
	case SignalOffer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := n.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := n.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		log.Printf("CALL [%s]: sending answer", n.sessionID)
		return n.send(SignalMessage{Type: SignalAnswer, SDP: answer.SDP})

	case SignalAnswer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil

	case SignalCandidate:
		if msg.Candidate == nil {
			return nil
		}
		if err := n.pc.AddICECandidate(*msg.Candidate); err != nil {
			// Candidates racing a close or a restart are harmless.
			log.Printf("CALL [%s]: add candidate: %v", n.sessionID, err)
		}
		return nil

	default:
		return nil
	}
}

// restartICE re-negotiates transport after an ICE failure. Only the initiator
// re-offers; the responder recovers when the restarted offer arrives.
// Restarts are unbounded on purpose — availability over giving up.
func (n *negotiator) restartICE() {
	if !n.initiator {
		return
	}
	if err := n.sendOffer(true); err != nil {
		log.Printf("CALL [%s]: ICE restart offer failed: %v", n.sessionID, err)
	}
}

// handleRemoteTrack folds an inbound track into the aggregate remote stream,
// keeps its RTP flowing and, for video, asks for keyframes periodically.
func (n *negotiator) handleRemoteTrack(t *webrtc.TrackRemote) {
	log.Printf("CALL [%s]: remote %s track %s", n.sessionID, t.Kind(), t.ID())
	n.remote.add(t)
	if n.onRemote != nil {
		n.onRemote(n.remote)
	}

	if t.Kind() == webrtc.RTPCodecTypeVideo {
		go n.pliLoop(uint32(t.SSRC()))
	}
	go n.drainTrack(t)
}

// drainTrack reads RTP until the track or the peer connection dies. The
// packets themselves are consumed by whatever renderer the owner attached via
// the remote stream; reading here keeps interceptors and stats alive even
// when nobody renders.
func (n *negotiator) drainTrack(t *webrtc.TrackRemote) {
	first := true
	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			return
		}
		if first {
			first = false
			log.Printf("CALL [%s]: inbound %s RTP flowing (pt=%d ssrc=%d)",
				n.sessionID, t.Kind(), pkt.PayloadType, pkt.SSRC)
		}
	}
}

func (n *negotiator) pliLoop(ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			if err := n.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			}); err != nil {
				return
			}
		}
	}
}

// states returns the last observed aggregate and ICE connection states.
func (n *negotiator) states() (conn, ice string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, i := "", ""
	if n.connState != webrtc.PeerConnectionState(0) {
		c = n.connState.String()
	}
	if n.iceState != webrtc.ICEConnectionState(0) {
		i = n.iceState.String()
	}
	return c, i
}

func (n *negotiator) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// close shuts the peer connection down. Idempotent; the remote stream is
// invalidated with it.
func (n *negotiator) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.done)
	n.mu.Unlock()

	if err := n.pc.Close(); err != nil {
		log.Printf("CALL [%s]: pc close: %v", n.sessionID, err)
	}
}
