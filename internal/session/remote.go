package session

import (
	"bytes"
	"errors"
	"image"
	"log"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"golang.org/x/image/vp8"

	"github.com/petervdpas/bloomstrip/internal/frame"
)

const (
	// maxLatePackets is the samplebuilder reorder window.
	maxLatePackets = 64

	// pliInterval is how often a keyframe is requested from the partner.
	// The still decoder only consumes keyframes, so this bounds how stale
	// the remote preview can get.
	pliInterval = 3 * time.Second
)

var errNotKeyframe = errors.New("not a keyframe")

// VideoDecoder turns one complete encoded video frame into an image.
// Frames it cannot use (inter frames, for the default decoder) are rejected
// with an error and skipped.
type VideoDecoder interface {
	Decode(data []byte) (image.Image, error)
}

// vp8StillDecoder decodes VP8 keyframes. Inter frames are skipped; the
// session requests fresh keyframes via PLI instead of tracking references.
type vp8StillDecoder struct {
	dec *vp8.Decoder
}

func (d *vp8StillDecoder) Decode(data []byte) (image.Image, error) {
	// VP8 frame tag: low bit of the first byte is 0 for keyframes.
	if len(data) < 10 || data[0]&0x01 != 0 {
		return nil, errNotKeyframe
	}
	if d.dec == nil {
		d.dec = vp8.NewDecoder()
	}
	d.dec.Init(bytes.NewReader(data), len(data))
	if _, err := d.dec.DecodeFrameHeader(); err != nil {
		return nil, err
	}
	return d.dec.DecodeFrame()
}

// RemoteSource holds the most recent decoded frame of the partner's video
// track and serves it as a frame.Source. Until the first frame arrives,
// Read fails with frame.ErrSourceNotReady.
type RemoteSource struct {
	dec VideoDecoder

	mu     sync.Mutex
	latest image.Image
}

func NewRemoteSource() *RemoteSource {
	return &RemoteSource{dec: &vp8StillDecoder{}}
}

// Read returns the latest remote frame. The image is replaced, never
// mutated, so no release callback is needed.
func (r *RemoteSource) Read() (image.Image, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, nil, frame.ErrSourceNotReady
	}
	return r.latest, nil, nil
}

// Ready reports whether at least one remote frame has been decoded.
func (r *RemoteSource) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest != nil
}

// Reset drops the latest frame. Called when the peer connection is torn
// down so a rebuilt connection never serves the previous partner's frame.
func (r *RemoteSource) Reset() {
	r.mu.Lock()
	r.latest = nil
	r.mu.Unlock()
}

// Store replaces the latest frame. Exported for test seeding.
func (r *RemoteSource) Store(img image.Image) {
	r.mu.Lock()
	r.latest = img
	r.mu.Unlock()
}

// Consume reads the remote video track until it ends or done closes:
// depacketize VP8 with a sample builder, decode keyframes, keep the latest.
// A PLI loop keeps keyframes coming. Blocks; run from the OnTrack handler.
func (r *RemoteSource) Consume(done <-chan struct{}, pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	stopPLI := make(chan struct{})
	defer close(stopPLI)
	go pliLoop(done, stopPLI, pc, uint32(track.SSRC()))

	builder := samplebuilder.New(maxLatePackets, &codecs.VP8Packet{}, track.Codec().ClockRate)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("SESSION: remote track ended: %v", err)
			return
		}
		builder.Push(pkt)

		for {
			sample := builder.Pop()
			if sample == nil {
				break
			}
			img, err := r.dec.Decode(sample.Data)
			if err != nil {
				continue // inter frame or corrupt sample
			}
			r.Store(img)
		}
	}
}

func pliLoop(done, stop <-chan struct{}, pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	send := func() {
		err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
		if err != nil {
			log.Printf("SESSION: PLI send error: %v", err)
		}
	}
	send()
	for {
		select {
		case <-done:
			return
		case <-stop:
			return
		case <-ticker.C:
			send()
		}
	}
}
