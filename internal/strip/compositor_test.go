package strip

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/fogleman/gg"

	"github.com/petervdpas/bloomstrip/internal/frame"
)

func solidFrame(w, h int, c color.RGBA, pose int) *frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return &frame.Frame{Img: img, Origin: frame.OriginLocal, Pose: pose}
}

func TestComposeCanvasAndBackground(t *testing.T) {
	c := New("#222222", "")
	out, err := c.Compose([]*frame.Frame{solidFrame(100, 107, color.RGBA{R: 200, A: 255}, 1)}, LayoutSingle)
	if err != nil {
		t.Fatal(err)
	}

	b := out.Bounds()
	if b.Dx() != CanvasWidth || b.Dy() != CanvasHeight {
		t.Fatalf("canvas is %dx%d, want %dx%d", b.Dx(), b.Dy(), CanvasWidth, CanvasHeight)
	}

	// Corners are outside header text, photo area and footer.
	if got := out.RGBAAt(2, CanvasHeight-2); got != (color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}) {
		t.Errorf("background pixel = %v, want #222222", got)
	}

	// The frame fills the single slot.
	area := PhotoArea()
	center := out.RGBAAt((area.Min.X+area.Max.X)/2, (area.Min.Y+area.Max.Y)/2)
	if center.R != 200 {
		t.Errorf("photo area center = %v, want the frame's red fill", center)
	}
}

func TestComposeEmptyCaptionLeavesFooterClean(t *testing.T) {
	bg := color.RGBA{R: 0xef, G: 0xeb, B: 0xe9, A: 0xff}
	c := New("#efebe9", "")
	out, err := c.Compose([]*frame.Frame{solidFrame(100, 107, color.RGBA{B: 255, A: 255}, 1)}, LayoutSingle)
	if err != nil {
		t.Fatal(err)
	}

	// No caption: every footer pixel stays background.
	for y := CanvasHeight - FooterHeight + 1; y < CanvasHeight; y += 7 {
		for x := 0; x < CanvasWidth; x += 7 {
			if got := out.RGBAAt(x, y); got != bg {
				t.Fatalf("footer pixel (%d,%d) = %v, want background", x, y, got)
			}
		}
	}
}

func TestComposeCaptionMarksFooter(t *testing.T) {
	bg := color.RGBA{R: 0xef, G: 0xeb, B: 0xe9, A: 0xff}
	c := New("#efebe9", "summer of '26")
	out, err := c.Compose([]*frame.Frame{solidFrame(100, 107, color.RGBA{B: 255, A: 255}, 1)}, LayoutSingle)
	if err != nil {
		t.Fatal(err)
	}

	marked := false
	for y := CanvasHeight - FooterHeight; y < CanvasHeight && !marked; y++ {
		for x := 0; x < CanvasWidth; x++ {
			if out.RGBAAt(x, y) != bg {
				marked = true
				break
			}
		}
	}
	if !marked {
		t.Error("caption left no mark in the footer band")
	}
}

func TestComposeMissingSlotGetsPlaceholder(t *testing.T) {
	c := New("#222222", "")
	// Only one frame for a two-slot layout.
	out, err := c.Compose([]*frame.Frame{solidFrame(200, 103, color.RGBA{G: 255, A: 255}, 1)}, LayoutVerticalDuo)
	if err != nil {
		t.Fatal(err)
	}

	slots := LayoutVerticalDuo.Slots()
	second := slots[1]
	got := out.RGBAAt((second.Min.X+second.Max.X)/2, (second.Min.Y+second.Max.Y)/2)
	if got != (color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}) {
		t.Errorf("empty slot center = %v, want #cccccc placeholder", got)
	}
}

func TestComposeNoFrames(t *testing.T) {
	c := New("#efebe9", "")
	if _, err := c.Compose(nil, LayoutSingle); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err = %v, want ErrNoFrames", err)
	}
}

func TestFitFaceShrinksLongText(t *testing.T) {
	if err := loadFonts(); err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("wide caption ", 3) + "!" // near the 40-char limit
	face, err := fitFace(captionFont, long, captionStartSize, fontFloorSize, textMaxWidth)
	if err != nil {
		t.Fatal(err)
	}

	dc := gg.NewContext(1, 1)
	dc.SetFontFace(face)
	if w, _ := dc.MeasureString(long); w > textMaxWidth {
		t.Errorf("fitted text measures %.1f, exceeds max width %.1f", w, textMaxWidth)
	}

	// Short text keeps the starting size: it should measure wider per rune
	// than the shrunken long text.
	shortFace, err := fitFace(captionFont, "hi", captionStartSize, fontFloorSize, textMaxWidth)
	if err != nil {
		t.Fatal(err)
	}
	dc.SetFontFace(shortFace)
	if w, _ := dc.MeasureString("hi"); w > textMaxWidth {
		t.Errorf("short text measures %.1f, exceeds max width", w)
	}
}

func TestPaletteFollowsBackground(t *testing.T) {
	light := New("#efebe9", "")
	text, _ := light.palette()
	if text != (color.RGBA{R: 0x5d, G: 0x40, B: 0x37, A: 0xff}) {
		t.Errorf("light background text = %v, want dark brown", text)
	}

	dark := New("#222222", "")
	text, _ = dark.palette()
	if text != (color.RGBA{R: 0xf5, G: 0xf5, B: 0xdc, A: 0xff}) {
		t.Errorf("dark background text = %v, want cream", text)
	}
}

func TestParseColorFallback(t *testing.T) {
	if got := ParseColor("not-a-color"); got != (color.RGBA{R: 0xef, G: 0xeb, B: 0xe9, A: 0xff}) {
		t.Errorf("fallback = %v, want cream", got)
	}
	if got := ParseColor("#5d4037"); got != (color.RGBA{R: 0x5d, G: 0x40, B: 0x37, A: 0xff}) {
		t.Errorf("parsed = %v", got)
	}
}
