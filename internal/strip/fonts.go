package strip

import (
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/opentype"
)

var (
	fontOnce    sync.Once
	titleFont   *opentype.Font
	captionFont *opentype.Font
	fontErr     error
)

func loadFonts() error {
	fontOnce.Do(func() {
		titleFont, fontErr = opentype.Parse(gobold.TTF)
		if fontErr != nil {
			return
		}
		captionFont, fontErr = opentype.Parse(goitalic.TTF)
	})
	return fontErr
}

func newFace(f *opentype.Font, size int) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// fitFace builds a face at startSize and shrinks it in integer steps until
// text measures within maxWidth or the size reaches floorSize. Texts that
// still overflow at the floor are drawn at the floor size; they stay inside
// the canvas for any caption the config layer accepts.
func fitFace(f *opentype.Font, text string, startSize, floorSize int, maxWidth float64) (font.Face, error) {
	size := startSize
	for {
		face, err := newFace(f, size)
		if err != nil {
			return nil, err
		}
		w := float64(font.MeasureString(face, text).Ceil())
		if w <= maxWidth || size <= floorSize {
			return face, nil
		}
		size--
	}
}
