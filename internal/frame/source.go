// Package frame captures single photo frames from live video sources:
// center-crop to a target aspect ratio, optional horizontal mirror, and a
// named pixel filter. Dual-subject frames place a local and a remote crop
// side by side in one buffer.
package frame

import "image"

// Source yields raw video frames. The method set matches the reader
// interfaces of pion/mediadevices, so a camera track reader can be used as a
// Source directly. release may be nil; when non-nil the caller must invoke
// it once the frame pixels have been consumed.
type Source interface {
	Read() (img image.Image, release func(), err error)
}

// Origin tags which participant(s) a captured frame shows.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginDual   Origin = "dual"
)

// Frame is one captured, cropped, filtered image buffer representing a pose.
type Frame struct {
	Img    *image.RGBA
	Origin Origin
	Pose   int
}

// StillSource adapts a fixed image to the Source interface. Used by tests
// and by the review presentation path.
type StillSource struct {
	Img image.Image
}

func (s *StillSource) Read() (image.Image, func(), error) {
	return s.Img, nil, nil
}
