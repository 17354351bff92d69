//go:build !linux

package call

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ProviderOptions tune the ICE timeouts of the peer connections the provider
// builds. Capture options are Linux-only.
type ProviderOptions struct {
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

// NewDeviceProvider returns a receive-only provider on non-Linux platforms.
// Camera/mic capture via pion/mediadevices needs platform drivers (V4L2 +
// malgo on Linux); elsewhere the session can still receive remote media.
func NewDeviceProvider(opts ProviderOptions) DeviceProvider {
	opts.defaults()
	return &recvOnlyProvider{opts: opts}
}

type recvOnlyProvider struct {
	opts ProviderOptions
}

func (p *recvOnlyProvider) GetUserMedia(mode MediaMode) (*LocalMedia, PCFactory, error) {
	log.Printf("MEDIA: no local capture on this platform — receive-only (%s)", mode)
	media := &LocalMedia{release: func() {}}
	return media, p.pcFactory(mode), nil
}

func (p *recvOnlyProvider) pcFactory(mode MediaMode) PCFactory {
	return func(cfg webrtc.Configuration) (PeerConn, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}

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
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		// Recvonly transceivers so CreateOffer/CreateAnswer always
		// produces valid m-lines with ICE credentials.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("MEDIA: AddTransceiver(audio) error: %v", err)
		}
		if mode == ModeVideo {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				log.Printf("MEDIA: AddTransceiver(video) error: %v", err)
			}
		}
		return pc, nil
	}
}
