package call

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// fakeTrack satisfies webrtc.TrackLocal without any media pipeline.
type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake-stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

// fakeProvider hands out fake tracks and a factory for the given fakePC.
type fakeProvider struct {
	pc       *fakePC
	err      error
	analyzer AudioAnalyzer

	// acquireGate, when non-nil, blocks GetUserMedia until closed.
	// acquireEntered is closed once GetUserMedia has been entered.
	acquireGate    chan struct{}
	acquireEntered chan struct{}

	mu           sync.Mutex
	releaseCount int
}

func (p *fakeProvider) GetUserMedia(mode MediaMode) (*LocalMedia, PCFactory, error) {
	if p.acquireEntered != nil {
		close(p.acquireEntered)
		p.acquireEntered = nil
	}
	if p.acquireGate != nil {
		<-p.acquireGate
	}
	if p.err != nil {
		return nil, nil, p.err
	}

	media := &LocalMedia{
		Audio:    newLocalTrack(&fakeTrack{id: "a0", kind: webrtc.RTPCodecTypeAudio}),
		analyzer: p.analyzer,
		release: func() {
			p.mu.Lock()
			p.releaseCount++
			p.mu.Unlock()
		},
	}
	if mode == ModeVideo {
		media.Video = newLocalTrack(&fakeTrack{id: "v0", kind: webrtc.RTPCodecTypeVideo})
	}
	factory := func(cfg webrtc.Configuration) (PeerConn, error) {
		return p.pc, nil
	}
	return media, factory, nil
}

func (p *fakeProvider) releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseCount
}

// fakePC records negotiator operations and lets tests fire state callbacks.
type fakePC struct {
	mu            sync.Mutex
	ops           []string
	addedTracks   []webrtc.TrackLocal
	offerCount    int
	restartOffers int
	answerCount   int
	localDescs    []webrtc.SessionDescription
	remoteDescs   []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	closed        bool

	onCandidate func(*webrtc.ICECandidate)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConn      func(webrtc.PeerConnectionState)
	onICE       func(webrtc.ICEConnectionState)
}

func newFakePC() *fakePC { return &fakePC{} }

func (p *fakePC) record(op string) {
	p.ops = append(p.ops, op)
}

func (p *fakePC) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("add-track")
	p.addedTracks = append(p.addedTracks, track)
	return nil, nil
}

func (p *fakePC) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create-offer")
	p.offerCount++
	if options != nil && options.ICERestart {
		p.restartOffers++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (p *fakePC) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create-answer")
	p.answerCount++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (p *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-local")
	p.localDescs = append(p.localDescs, desc)
	return nil
}

func (p *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("set-remote")
	p.remoteDescs = append(p.remoteDescs, desc)
	return nil
}

func (p *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("add-candidate")
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePC) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

func (p *fakePC) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = f
}

func (p *fakePC) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConn = f
}

func (p *fakePC) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = f
}

func (p *fakePC) WriteRTCP(pkts []rtcp.Packet) error { return nil }

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) fireConn(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onConn
	p.mu.Unlock()
	if f != nil {
		f(st)
	}
}

func (p *fakePC) fireICE(st webrtc.ICEConnectionState) {
	p.mu.Lock()
	f := p.onICE
	p.mu.Unlock()
	if f != nil {
		f(st)
	}
}

func (p *fakePC) snapshot() (ops []string, offers, restarts, answers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops = append([]string(nil), p.ops...)
	return ops, p.offerCount, p.restartOffers, p.answerCount
}

// fakeLink records outbound signaling.
type fakeLink struct {
	mu     sync.Mutex
	sent   []SignalMessage
	closed bool
}

func (l *fakeLink) Send(msg SignalMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.sent = append(l.sent, msg)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) messages() []SignalMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SignalMessage(nil), l.sent...)
}

// fakeRelay satisfies DialFunc and exposes the callbacks it was given.
type fakeRelay struct {
	link    *fakeLink
	dialErr error

	mu        sync.Mutex
	onMessage func(SignalMessage)
	onClose   func(error)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{link: &fakeLink{}}
}

func (r *fakeRelay) dial(_ context.Context, _ string, onMessage func(SignalMessage), onClose func(error)) (Signaling, error) {
	if r.dialErr != nil {
		return nil, r.dialErr
	}
	r.mu.Lock()
	r.onMessage = onMessage
	r.onClose = onClose
	r.mu.Unlock()
	return r.link, nil
}

func (r *fakeRelay) deliver(msg SignalMessage) {
	r.mu.Lock()
	f := r.onMessage
	r.mu.Unlock()
	if f != nil {
		f(msg)
	}
}

func (r *fakeRelay) drop(err error) {
	r.mu.Lock()
	f := r.onClose
	r.mu.Unlock()
	if f != nil {
		f(err)
	}
}

// recorder collects emitted events for assertions.
type recorder struct {
	mu      sync.Mutex
	states  []CallState
	errs    []*CallError
	locals  []*LocalMedia
	remotes []*RemoteStream
	metrics []CallMetrics
}

func (rec *recorder) attach(ev *Events) {
	ev.OnState(func(s CallState) {
		rec.mu.Lock()
		rec.states = append(rec.states, s)
		rec.mu.Unlock()
	})
	ev.OnError(func(e *CallError) {
		rec.mu.Lock()
		rec.errs = append(rec.errs, e)
		rec.mu.Unlock()
	})
	ev.OnLocalStream(func(m *LocalMedia) {
		rec.mu.Lock()
		rec.locals = append(rec.locals, m)
		rec.mu.Unlock()
	})
	ev.OnRemoteStream(func(r *RemoteStream) {
		rec.mu.Lock()
		rec.remotes = append(rec.remotes, r)
		rec.mu.Unlock()
	})
	ev.OnMetric(func(m CallMetrics) {
		rec.mu.Lock()
		rec.metrics = append(rec.metrics, m)
		rec.mu.Unlock()
	})
}

func (rec *recorder) stateList() []CallState {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]CallState(nil), rec.states...)
}

func (rec *recorder) stateCount(s CallState) int {
	n := 0
	for _, st := range rec.stateList() {
		if st == s {
			n++
		}
	}
	return n
}

func (rec *recorder) errKinds() []ErrorKind {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]ErrorKind, 0, len(rec.errs))
	for _, e := range rec.errs {
		out = append(out, e.Kind)
	}
	return out
}

func (rec *recorder) hasErrKind(k ErrorKind) bool {
	for _, kind := range rec.errKinds() {
		if kind == k {
			return true
		}
	}
	return false
}

func (rec *recorder) localCount() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.locals)
}

func (rec *recorder) metricCount() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.metrics)
}

// testEnv bundles a session wired to fakes.
type testEnv struct {
	sess     *Session
	provider *fakeProvider
	pc       *fakePC
	relay    *fakeRelay
	rec      *recorder
}

func newTestEnv(identity CallIdentity, mode MediaMode, watchdog time.Duration) *testEnv {
	pc := newFakePC()
	provider := &fakeProvider{pc: pc}
	relay := newFakeRelay()
	sess := NewSession(SessionConfig{
		Identity:     identity,
		Mode:         mode,
		Provider:     provider,
		Dial:         relay.dial,
		SignalingURL: "ws://test/signal/" + identity.SessionID + "?userId=" + identity.UserID,
		Watchdog:     watchdog,
	})
	rec := &recorder{}
	rec.attach(sess.Events())
	return &testEnv{sess: sess, provider: provider, pc: pc, relay: relay, rec: rec}
}

func initiatorIdentity() CallIdentity {
	return CallIdentity{SessionID: "sess-1", UserID: "alice", Initiator: true}
}

func responderIdentity() CallIdentity {
	return CallIdentity{SessionID: "sess-1", UserID: "bob", Initiator: false}
}
