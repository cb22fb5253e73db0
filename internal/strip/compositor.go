package strip

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/opentype"

	"github.com/petervdpas/bloomstrip/internal/frame"
)

// DefaultTitle is the fixed header text on every strip.
const DefaultTitle = "Memories in Bloom"

const (
	titleStartSize   = 60
	captionStartSize = 45
	fontFloorSize    = 20

	// Texts must fit the usable photo width minus a margin.
	textMaxWidth = float64(photoAreaW - 40)

	titleBaselineY   = 90
	captionBaselineY = CanvasHeight - FooterHeight/2
)

// ErrNoFrames is returned when compositing is attempted with an empty frame
// list. No partial strip is ever produced.
var ErrNoFrames = errors.New("no frames to composite")

// Compositor renders kept frames into the final strip image. One instance
// per session; the background color and caption are fixed at construction.
type Compositor struct {
	bg      color.RGBA
	caption string

	// Rand drives the cosmetic ornament placement. Seeded from the clock
	// by New; tests may replace it, though ornament positions are never
	// part of any output contract.
	Rand *rand.Rand
}

func New(bgHex, caption string) *Compositor {
	return &Compositor{
		bg:      ParseColor(bgHex),
		caption: caption,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Compose lays out frames per layout on the fixed canvas. The frame list is
// expected to match layout.FrameCount(); a missing slot is rendered as a
// neutral placeholder rather than failing the whole strip.
func (c *Compositor) Compose(frames []*frame.Frame, layout Layout) (*image.RGBA, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}

	textColor, ornamentColor := c.palette()

	dc := gg.NewContext(CanvasWidth, CanvasHeight)
	dc.SetColor(c.bg)
	dc.Clear()

	if err := c.drawText(dc, DefaultTitle, titleFont, titleStartSize, titleBaselineY, textColor); err != nil {
		return nil, fmt.Errorf("composite header: %w", err)
	}
	if c.caption != "" {
		if err := c.drawText(dc, c.caption, captionFont, captionStartSize, captionBaselineY, textColor); err != nil {
			return nil, fmt.Errorf("composite footer: %w", err)
		}
	}

	for i, slot := range layout.Slots() {
		if i < len(frames) && frames[i] != nil && frames[i].Img != nil {
			drawStretched(dc, frames[i].Img, slot)
		} else {
			dc.SetColor(color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff})
			dc.DrawRectangle(float64(slot.Min.X), float64(slot.Min.Y), float64(slot.Dx()), float64(slot.Dy()))
			dc.Fill()
		}
	}

	c.drawOrnaments(dc, PhotoArea(), ornamentColor)

	return dc.Image().(*image.RGBA), nil
}

// palette returns the two-tone text and ornament colors: dark brown on a
// light background, cream on a dark one.
func (c *Compositor) palette() (text, ornament color.RGBA) {
	if relativeLuminance(c.bg) > 0.5 {
		return color.RGBA{R: 0x5d, G: 0x40, B: 0x37, A: 0xff},
			color.RGBA{R: 0x8d, G: 0x6e, B: 0x63, A: 0xff}
	}
	return color.RGBA{R: 0xf5, G: 0xf5, B: 0xdc, A: 0xff},
		color.RGBA{R: 0xa1, G: 0x88, B: 0x7f, A: 0xff}
}

func (c *Compositor) drawText(dc *gg.Context, text string, f *opentype.Font, startSize, baselineY int, col color.RGBA) error {
	face, err := fitFace(f, text, startSize, fontFloorSize, textMaxWidth)
	if err != nil {
		return err
	}
	dc.SetFontFace(face)
	dc.SetColor(col)
	dc.DrawStringAnchored(text, CanvasWidth/2, float64(baselineY), 0.5, 0)
	return nil
}

// drawStretched draws img stretch-to-fit into slot. Frames arrive
// pre-cropped to the slot's aspect ratio, so stretching does not distort.
func drawStretched(dc *gg.Context, img image.Image, slot image.Rectangle) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return
	}
	dc.Push()
	dc.Translate(float64(slot.Min.X), float64(slot.Min.Y))
	dc.Scale(float64(slot.Dx())/float64(b.Dx()), float64(slot.Dy())/float64(b.Dy()))
	dc.DrawImage(img, 0, 0)
	dc.Pop()
}

// drawOrnaments sketches the hand-drawn star and lightning zigzags at
// pseudo-random spots inside the photo area. Cosmetic only — placement is
// intentionally not reproducible.
func (c *Compositor) drawOrnaments(dc *gg.Context, area image.Rectangle, col color.RGBA) {
	randIn := func(min, max float64) float64 {
		return min + c.Rand.Float64()*(max-min)
	}

	dc.SetColor(col)
	dc.SetLineWidth(3)
	dc.SetLineCap(gg.LineCapRound)

	// Star: five strokes, each rotated 0.8π from the last.
	dc.Push()
	dc.Translate(float64(area.Max.X)-randIn(30, 60), float64(area.Min.Y)+randIn(30, 60))
	dc.Rotate(randIn(-0.2, 0.2))
	dc.MoveTo(0, 0)
	for i := 0; i < 5; i++ {
		dc.LineTo(0, 15)
		dc.Translate(0, 15)
		dc.Rotate(math.Pi * 0.8)
	}
	dc.ClosePath()
	dc.Stroke()
	dc.Pop()

	// Lightning bolt.
	dc.Push()
	dc.Translate(float64(area.Min.X)+randIn(30, 60), float64(area.Min.Y)+float64(area.Dy())/2+randIn(-30, 30))
	dc.MoveTo(0, 0)
	dc.LineTo(20, 10)
	dc.LineTo(0, 20)
	dc.LineTo(20, 30)
	dc.Stroke()
	dc.Pop()
}

// ParseColor parses a #rrggbb string; malformed input falls back to the
// cream preset.
func ParseColor(hex string) color.RGBA {
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{R: 0xef, G: 0xeb, B: 0xe9, A: 0xff}
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func relativeLuminance(c color.RGBA) float64 {
	return (0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)) / 255
}
