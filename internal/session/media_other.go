//go:build !linux || !cgo

package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bloomstrip/internal/config"
	"github.com/petervdpas/bloomstrip/internal/frame"
)

// newMediaPC on non-Linux platforms builds a receive-only peer connection.
// Camera/mic capture via pion/mediadevices needs platform drivers (V4L2 and
// malgo on Linux); booths run on Linux, other platforms are relay-only.
func newMediaPC(_ config.Media) (*webrtc.PeerConnection, func(), frame.Source, error) {
	pc, err := NewRecvOnlyPC()
	if err != nil {
		return nil, nil, nil, err
	}
	return pc, nil, nil, nil
}

// OpenCamera reports no camera on platforms without capture drivers.
func OpenCamera(_ config.Media) (frame.Source, func(), error) {
	return nil, nil, ErrMediaUnavailable
}
