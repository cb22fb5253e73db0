package frame

import "image/color"

// Filter transforms a single pixel. Filters run on the cropped output, not
// the raw source, so dual-subject halves can carry different filters.
type Filter func(color.RGBA) color.RGBA

// ByID resolves a filter name from the session options. Unknown ids fall
// back to the natural (identity) filter.
func ByID(id string) Filter {
	switch id {
	case "vintage":
		return Vintage
	case "bw":
		return Grayscale
	default:
		return Natural
	}
}

// Natural leaves pixels untouched.
func Natural(c color.RGBA) color.RGBA { return c }

// Grayscale converts to luminance (Rec. 601 weights).
func Grayscale(c color.RGBA) color.RGBA {
	y := uint8((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
	return color.RGBA{R: y, G: y, B: y, A: c.A}
}

// Vintage applies a warm sepia tone blended 40% over the original, with a
// slight brightness lift.
func Vintage(c color.RGBA) color.RGBA {
	sr := clamp8(393*int(c.R)/1000 + 769*int(c.G)/1000 + 189*int(c.B)/1000)
	sg := clamp8(349*int(c.R)/1000 + 686*int(c.G)/1000 + 168*int(c.B)/1000)
	sb := clamp8(272*int(c.R)/1000 + 534*int(c.G)/1000 + 131*int(c.B)/1000)

	blend := func(orig int, sepia uint8) uint8 {
		v := (orig*6 + int(sepia)*4) / 10
		return clamp8(v * 105 / 100)
	}
	return color.RGBA{
		R: blend(int(c.R), sr),
		G: blend(int(c.G), sg),
		B: blend(int(c.B), sb),
		A: c.A,
	}
}

func clamp8(v int) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
