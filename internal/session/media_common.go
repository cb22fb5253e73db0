package session

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
)

var iceServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// mediaFactory binds the configured capture bounds to the platform media
// factory. It is the default PCFactory.
func mediaFactory(m config.Media) PCFactory {
	return func() (*webrtc.PeerConnection, func(), frame.Source, error) {
		return newMediaPC(m)
	}
}

// captureAttempt is one GetUserMedia request in the fallback ladder.
type captureAttempt struct {
	video bool
	audio bool
	label string
}

// captureAttempts builds the GetUserMedia fallback ladder. GetUserMedia
// fails as a unit when either requested track cannot be opened, so attempts
// degrade from the full request down to single tracks. With audio disabled
// in config only the camera is requested.
func captureAttempts(audio bool) []captureAttempt {
	if !audio {
		return []captureAttempt{{video: true, label: "video-only"}}
	}
	return []captureAttempt{
		{video: true, audio: true, label: "video+audio"},
		{video: true, label: "video-only"},
		{audio: true, label: "audio-only"},
	}
}

// settingEngine returns ICE timeouts tuned for flaky booth networks. The
// default 5 s disconnectedTimeout drops the call on brief NAT hiccups; 30 s
// gives ICE time to recover without the participants noticing.
func settingEngine() webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	return se
}

// addRecvOnlyTransceivers adds recvonly video/audio transceivers so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE
// credentials even without local capture.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("SESSION: AddTransceiver(video) error: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("SESSION: AddTransceiver(audio) error: %v", err)
	}
}

// NewRecvOnlyPC builds a peer connection with default codecs and no local
// capture. Used on platforms without camera drivers and by tests.
func NewRecvOnlyPC() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine()),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	addRecvOnlyTransceivers(pc)
	return pc, nil
}
