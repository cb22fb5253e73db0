//go:build linux && cgo

package session

import (
	"errors"
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	mdframe "github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
)

// videoConstraints excludes MJPEG (some cameras expose a V4L2 MJPEG node
// that emits malformed JPEG, which poisons the VP8 encoder) and caps the
// resolution at the configured bounds to keep encode latency low.
func videoConstraints(m config.Media) func(c *mediadevices.MediaTrackConstraints) {
	w, h := m.Geometry()
	return func(c *mediadevices.MediaTrackConstraints) {
		c.FrameFormat = prop.FrameFormatOneOf{
			mdframe.FormatYUYV,
			mdframe.FormatI420,
			mdframe.FormatI444,
			mdframe.FormatRGBA,
		}
		c.Width = prop.IntRanged{Max: w}
		c.Height = prop.IntRanged{Max: h}
	}
}

// newMediaPC creates the peer connection with VP8+Opus codecs and captures
// the local camera/mic via pion/mediadevices (V4L2 + malgo), within the
// configured media bounds. The returned frame source is nil when no camera
// opened.
func newMediaPC(m config.Media) (*webrtc.PeerConnection, func(), frame.Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine()),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nil, nil, err
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Printf("SESSION: no media devices found")
	}
	for _, d := range devices {
		log.Printf("SESSION: media device kind=%v label=%q", d.Kind, d.Label)
	}

	for _, a := range captureAttempts(m.Audio) {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = videoConstraints(m)
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("SESSION: GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		var local frame.Source
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("SESSION: local track ended: %v", err)
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Printf("SESSION: AddTrack error: %v", err)
			}
			// Raw frames are broadcast to multiple consumers, so this
			// reader runs alongside the RTP encoder.
			if vt, ok := track.(*mediadevices.VideoTrack); ok {
				local = vt.NewReader(true)
			}
		}

		log.Printf("SESSION: local media captured (%s), %d tracks", a.label, len(tracks))
		closeFn := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, closeFn, local, nil
	}

	log.Printf("SESSION: all media capture attempts failed")
	addRecvOnlyTransceivers(pc)
	return pc, nil, nil, nil
}

// OpenCamera captures the local camera without any peer connection: solo
// sessions read frames straight off the V4L2 device.
func OpenCamera(m config.Media) (frame.Source, func(), error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints(m),
	})
	if err != nil {
		return nil, nil, err
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, nil, errors.New("no video track")
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		tracks[0].Close()
		return nil, nil, errors.New("unexpected track type")
	}

	closeFn := func() {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
	}
	return vt.NewReader(true), closeFn, nil
}
