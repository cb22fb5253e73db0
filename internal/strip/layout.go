// Package strip renders the final photo strip: a fixed 1080×1350 canvas
// with a header band, a photo area laid out per the chosen strip layout,
// decorative ornaments and an optional caption footer.
package strip

import (
	"fmt"
	"image"
)

// Layout names the arrangement of kept frames on the strip.
type Layout string

const (
	LayoutSingle      Layout = "single"
	LayoutVerticalDuo Layout = "vertical-duo"
	LayoutQuadGrid    Layout = "quad-grid"
)

// Fixed canvas geometry, in logical pixels.
const (
	CanvasWidth  = 1080
	CanvasHeight = 1350
	Padding      = 40
	HeaderHeight = 150
	FooterHeight = 200

	photoAreaX = Padding
	photoAreaY = HeaderHeight
	photoAreaW = CanvasWidth - 2*Padding
	photoAreaH = CanvasHeight - HeaderHeight - FooterHeight

	innerGap = 40
)

// Per-frame capture aspect ratios (width/height). Tall frames fill single
// and quad-grid slots; wide frames fill the stacked duo slots.
const (
	AspectTall = 100.0 / 107.0
	AspectWide = 1000.0 / 515.0
)

// ParseLayout validates a layout name from the session options.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutSingle, LayoutVerticalDuo, LayoutQuadGrid:
		return Layout(s), nil
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// FrameCount returns how many kept frames the layout demands.
func (l Layout) FrameCount() int {
	switch l {
	case LayoutVerticalDuo:
		return 2
	case LayoutQuadGrid:
		return 4
	default:
		return 1
	}
}

// AspectRatio returns the capture target ratio for a single frame of this
// layout, so the Frame Capture Unit pre-crops to the slot shape and the
// compositor can stretch without distortion.
func (l Layout) AspectRatio() float64 {
	if l == LayoutVerticalDuo {
		return AspectWide
	}
	return AspectTall
}

// Slots returns the placement rectangles for each frame inside the canvas,
// in pose order.
func (l Layout) Slots() []image.Rectangle {
	switch l {
	case LayoutVerticalDuo:
		h := (photoAreaH - innerGap) / 2
		return []image.Rectangle{
			rect(photoAreaX, photoAreaY, photoAreaW, h),
			rect(photoAreaX, photoAreaY+h+innerGap, photoAreaW, h),
		}
	case LayoutQuadGrid:
		w := (photoAreaW - innerGap) / 2
		h := (photoAreaH - innerGap) / 2
		return []image.Rectangle{
			rect(photoAreaX, photoAreaY, w, h),
			rect(photoAreaX+w+innerGap, photoAreaY, w, h),
			rect(photoAreaX, photoAreaY+h+innerGap, w, h),
			rect(photoAreaX+w+innerGap, photoAreaY+h+innerGap, w, h),
		}
	default:
		return []image.Rectangle{rect(photoAreaX, photoAreaY, photoAreaW, photoAreaH)}
	}
}

// PhotoArea returns the region between header and footer where frames and
// ornaments are drawn.
func PhotoArea() image.Rectangle {
	return rect(photoAreaX, photoAreaY, photoAreaW, photoAreaH)
}

func rect(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}
