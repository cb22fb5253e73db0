package frame

import (
	"errors"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ErrSourceNotReady is returned when a video source has not produced a frame
// yet (zero intrinsic dimensions). Callers must not retry in a tight loop;
// the sequencer aborts the pose attempt instead.
var ErrSourceNotReady = errors.New("video source not ready")

// CropRect computes the center-crop "cover" rectangle for a source of
// srcW×srcH pixels and the given target aspect ratio (width/height). If the
// source is wider than the target, the excess is cropped left/right
// symmetrically; if taller, top/bottom. Returned geometry is in source
// pixel coordinates, kept as floats so callers can verify the math before
// rounding.
func CropRect(srcW, srcH int, target float64) (x, y, w, h float64) {
	rawRatio := float64(srcW) / float64(srcH)
	if rawRatio > target {
		h = float64(srcH)
		w = h * target
		x = (float64(srcW) - w) / 2
		y = 0
	} else {
		w = float64(srcW)
		h = w / target
		x = 0
		y = (float64(srcH) - h) / 2
	}
	return x, y, w, h
}

// Capture grabs one frame from src, center-crops it to target, applies filt
// to every pixel and mirrors horizontally when mirror is set (self-facing
// local video, so the strip matches what the subject saw).
func Capture(src Source, target float64, mirror bool, filt Filter) (*image.RGBA, error) {
	img, release, err := src.Read()
	if release != nil {
		defer release()
	}
	if err != nil || img == nil {
		return nil, ErrSourceNotReady
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrSourceNotReady
	}

	if filt == nil {
		filt = Natural
	}

	fx, fy, fw, fh := CropRect(b.Dx(), b.Dy(), target)
	sx := b.Min.X + int(math.Round(fx))
	sy := b.Min.Y + int(math.Round(fy))
	w := int(math.Round(fw))
	h := int(math.Round(fh))

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			px := color.RGBAModel.Convert(img.At(sx+i, sy+j)).(color.RGBA)
			dx := i
			if mirror {
				dx = w - 1 - i
			}
			out.SetRGBA(dx, j, filt(px))
		}
	}
	return out, nil
}

// CaptureDual grabs one frame from each source and places the crops side by
// side in a single buffer: local on the left (mirrored), remote on the right
// (not mirrored). Both halves are cropped to the same per-subject target
// ratio; the remote half is scaled to the local crop size so the buffer
// stays rectangular when the two cameras disagree on resolution.
func CaptureDual(local, remote Source, target float64, filt Filter) (*image.RGBA, error) {
	left, err := Capture(local, target, true, filt)
	if err != nil {
		return nil, err
	}
	right, err := Capture(remote, target, false, filt)
	if err != nil {
		return nil, err
	}

	w := left.Bounds().Dx()
	h := left.Bounds().Dy()

	out := image.NewRGBA(image.Rect(0, 0, 2*w, h))
	xdraw.Draw(out, image.Rect(0, 0, w, h), left, image.Point{}, xdraw.Src)
	if right.Bounds().Dx() != w || right.Bounds().Dy() != h {
		xdraw.ApproxBiLinear.Scale(out, image.Rect(w, 0, 2*w, h), right, right.Bounds(), xdraw.Src, nil)
	} else {
		xdraw.Draw(out, image.Rect(w, 0, 2*w, h), right, image.Point{}, xdraw.Src)
	}
	return out, nil
}
