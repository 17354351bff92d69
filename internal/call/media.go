package call

import (
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DeviceProvider abstracts local camera/microphone capture so the engine core
// stays testable without real hardware. The returned PCFactory builds peer
// connections whose media engine matches the captured codecs.
//
// Real implementations live in media_linux.go / media_other.go.
type DeviceProvider interface {
	GetUserMedia(mode MediaMode) (*LocalMedia, PCFactory, error)
}

// LocalTrack pairs a webrtc-attachable track with a mute flag. Toggling the
// flag never destroys the track or triggers renegotiation; consumers read
// Enabled to decide whether to render or forward the media.
type LocalTrack struct {
	track webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
}

func newLocalTrack(t webrtc.TrackLocal) *LocalTrack {
	return &LocalTrack{track: t, enabled: true}
}

// Kind reports whether this is the audio or the video track.
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

// Enabled reports the current mute flag.
func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// toggle flips the enabled flag and returns the new value.
func (t *LocalTrack) toggle() bool {
	t.mu.Lock()
	t.enabled = !t.enabled
	v := t.enabled
	t.mu.Unlock()
	return v
}

// LocalMedia is the acquired local stream: exactly one audio track and, in
// video mode, exactly one video track. It is owned by one Session.
type LocalMedia struct {
	Audio *LocalTrack
	Video *LocalTrack

	// analyzer taps the audio capture for RMS metering. Nil when the
	// platform cannot provide raw samples — metering then degrades
	// silently, it never blocks call setup.
	analyzer AudioAnalyzer

	release func()
}

// Tracks returns the acquired tracks, audio first.
func (m *LocalMedia) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, 0, 2)
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

// MediaGate owns local device acquisition and release for one session.
// Acquisition is serialized; Release is idempotent and stops every track.
type MediaGate struct {
	provider DeviceProvider

	mu        sync.Mutex
	media     *LocalMedia
	acquiring bool
	released  bool
}

func NewMediaGate(p DeviceProvider) *MediaGate {
	return &MediaGate{provider: p}
}

// Acquire requests devices for mode. Failures are classified into the
// permission/not-found/device taxonomy and are not retried here; the caller
// may call Acquire again.
//
// The lock is not held across the provider call: Release must stay callable
// while acquisition is in flight. If Release won that race, the tracks are
// stopped as soon as acquisition resolves and ErrSessionEnded is returned.
func (g *MediaGate) Acquire(mode MediaMode) (*LocalMedia, PCFactory, *CallError) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil, nil, &CallError{Kind: ErrorDevice, Err: ErrSessionEnded}
	}
	if g.media != nil || g.acquiring {
		g.mu.Unlock()
		return nil, nil, &CallError{Kind: ErrorDevice, Err: ErrAlreadyStarted}
	}
	g.acquiring = true
	g.mu.Unlock()

	media, pcf, err := g.provider.GetUserMedia(mode)

	g.mu.Lock()
	g.acquiring = false
	if err != nil {
		g.mu.Unlock()
		cerr := classifyDeviceErr(err)
		log.Printf("MEDIA: acquire (%s) failed: %v", mode, cerr)
		return nil, nil, cerr
	}
	if g.released {
		g.mu.Unlock()
		if media.release != nil {
			media.release()
		}
		return nil, nil, &CallError{Kind: ErrorDevice, Err: ErrSessionEnded}
	}
	g.media = media
	g.mu.Unlock()
	return media, pcf, nil
}

// Media returns the acquired local media, if any.
func (g *MediaGate) Media() *LocalMedia {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.media
}

// ToggleAudio flips the mic mute flag and returns the new enabled state.
// Before acquisition it is a no-op returning false.
func (g *MediaGate) ToggleAudio() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.media == nil || g.media.Audio == nil || g.released {
		return false
	}
	return g.media.Audio.toggle()
}

// ToggleVideo flips the camera flag and returns the new enabled state.
// In audio mode, or before acquisition, it is a no-op returning false.
func (g *MediaGate) ToggleVideo() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.media == nil || g.media.Video == nil || g.released {
		return false
	}
	return g.media.Video.toggle()
}

// Release stops and releases every acquired track. Safe to call any number
// of times; double release never panics and never double-stops a track.
func (g *MediaGate) Release() {
	g.mu.Lock()
	media := g.media
	already := g.released
	g.released = true
	g.media = nil
	g.mu.Unlock()

	if already || media == nil {
		return
	}
	if media.release != nil {
		media.release()
	}
}
