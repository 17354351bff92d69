//go:build linux

package call

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// ProviderOptions tune the capture provider and the ICE timeouts of the peer
// connections it builds.
type ProviderOptions struct {
	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call. The default disconnectedTimeout of
	// 5s is far too short for relay paths with short outages during
	// re-keying or failover.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func (o *ProviderOptions) defaults() {
	if o.DisconnectedTimeout <= 0 {
		o.DisconnectedTimeout = 30 * time.Second
	}
	if o.FailedTimeout <= 0 {
		o.FailedTimeout = 120 * time.Second
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 2 * time.Second
	}
}

// NewDeviceProvider returns the mediadevices-backed capture provider
// (V4L2 + malgo on Linux).
func NewDeviceProvider(opts ProviderOptions) DeviceProvider {
	opts.defaults()
	return &linuxProvider{opts: opts}
}

type linuxProvider struct {
	opts ProviderOptions
}

func (p *linuxProvider) GetUserMedia(mode MediaMode) (*LocalMedia, PCFactory, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, nil, fmt.Errorf("no media devices found")
	}
	for _, d := range devices {
		log.Printf("MEDIA: device — kind=%v label=%q", d.Kind, d.Label)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if mode == ModeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
			// that produces malformed JPEG frames, which poisons the
			// VP8 encoder. Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			// Cap at 640×480 — higher resolutions increase VP8
			// encoding latency.
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, nil, err
	}

	media := &LocalMedia{}
	tracks := stream.GetTracks()
	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Printf("MEDIA: local track ended: %v", err)
			}
		})
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			media.Audio = newLocalTrack(track)
			media.analyzer = tapAudio(track)
		case webrtc.RTPCodecTypeVideo:
			media.Video = newLocalTrack(track)
		}
	}
	media.release = func() {
		for _, t := range tracks {
			t.Close()
		}
	}

	if media.Audio == nil {
		media.release()
		return nil, nil, fmt.Errorf("no microphone track captured")
	}
	if mode == ModeVideo && media.Video == nil {
		media.release()
		return nil, nil, fmt.Errorf("no camera track captured")
	}
	log.Printf("MEDIA: local media captured (%s) — %d tracks", mode, len(tracks))

	factory := p.pcFactory(codecSelector)
	return media, factory, nil
}

// pcFactory builds peer connections whose media engine carries the selected
// VP8/Opus codecs.
func (p *linuxProvider) pcFactory(selector *mediadevices.CodecSelector) PCFactory {
	return func(cfg webrtc.Configuration) (PeerConn, error) {
		mediaEngine := &webrtc.MediaEngine{}
		selector.Populate(mediaEngine)

		interceptorRegistry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
			return nil, err
		}

		se := webrtc.SettingEngine{}
		se.SetICETimeouts(p.opts.DisconnectedTimeout, p.opts.FailedTimeout, p.opts.KeepAliveInterval)

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		)
		return api.NewPeerConnection(cfg)
	}
}

// rawAudioReader is the optional raw-PCM surface of a mediadevices audio
// track. Declared locally so the tap degrades to nil instead of failing when
// a driver cannot broadcast raw chunks.
type rawAudioReader interface {
	NewReader(copyChunks bool) audio.Reader
}

// tapAudio attaches an RMS analyzer to the audio capture. Best-effort: when
// the track exposes no raw reader the analyzer is nil and metering is skipped.
func tapAudio(track mediadevices.Track) AudioAnalyzer {
	raw, ok := track.(rawAudioReader)
	if !ok {
		log.Printf("MEDIA: audio track exposes no raw reader — level metering disabled")
		return nil
	}
	a := &rmsAnalyzer{}
	go a.consume(raw.NewReader(false))
	return a
}

// rmsAnalyzer folds capture chunks into a normalized RMS level. The level is
// published through an atomic so the meter tick reads it without allocating.
type rmsAnalyzer struct {
	bits atomic.Uint64
	seen atomic.Bool
}

func (a *rmsAnalyzer) Level() (float64, bool) {
	if !a.seen.Load() {
		return 0, false
	}
	return math.Float64frombits(a.bits.Load()), true
}

func (a *rmsAnalyzer) consume(r audio.Reader) {
	const fullScale = float64(math.MaxInt64)
	for {
		chunk, release, err := r.Read()
		if err != nil {
			return
		}
		info := chunk.ChunkInfo()
		if info.Len > 0 {
			var sum float64
			for i := 0; i < info.Len; i++ {
				v := float64(chunk.At(i, 0).Int()) / fullScale
				sum += v * v
			}
			level := math.Sqrt(sum / float64(info.Len))
			a.bits.Store(math.Float64bits(level))
			a.seen.Store(true)
		}
		if release != nil {
			release()
		}
	}
}
