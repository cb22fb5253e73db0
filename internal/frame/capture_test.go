package frame

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func TestCropRect(t *testing.T) {
	t.Run("wide source, tall target", func(t *testing.T) {
		// 640×480 camera frame cropped to the 100:107 photo slot.
		x, y, w, h := CropRect(640, 480, 100.0/107.0)

		if math.Abs(w-448.598) > 0.01 {
			t.Errorf("w = %.3f, want ≈448.598", w)
		}
		if math.Abs(x-95.700) > 0.01 {
			t.Errorf("x = %.3f, want ≈95.700", x)
		}
		if h != 480 || y != 0 {
			t.Errorf("h,y = %.1f,%.1f, want 480,0", h, y)
		}
	})

	t.Run("tall source, wide target", func(t *testing.T) {
		x, y, w, h := CropRect(480, 640, 2.0)

		if w != 480 || x != 0 {
			t.Errorf("w,x = %.1f,%.1f, want 480,0", w, x)
		}
		if math.Abs(h-240) > 0.01 {
			t.Errorf("h = %.3f, want 240", h)
		}
		if math.Abs(y-200) > 0.01 {
			t.Errorf("y = %.3f, want 200", y)
		}
	})

	t.Run("matching aspect is a no-op", func(t *testing.T) {
		x, y, w, h := CropRect(400, 400, 1.0)
		if x != 0 || y != 0 || w != 400 || h != 400 {
			t.Errorf("got %v %v %v %v, want full frame", x, y, w, h)
		}
	})
}

func horizontalGradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: 0, B: 0, A: 255})
		}
	}
	return img
}

func TestCaptureMirror(t *testing.T) {
	src := &StillSource{Img: horizontalGradient(8, 8)}

	plain, err := Capture(src, 1.0, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	mirrored, err := Capture(src, 1.0, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	for x := 0; x < 8; x++ {
		want := plain.RGBAAt(7-x, 3)
		got := mirrored.RGBAAt(x, 3)
		if got != want {
			t.Fatalf("column %d: got %v, want %v", x, got, want)
		}
	}
}

func TestCaptureAppliesFilter(t *testing.T) {
	src := &StillSource{Img: horizontalGradient(4, 4)}

	out, err := Capture(src, 1.0, false, Grayscale)
	if err != nil {
		t.Fatal(err)
	}
	px := out.RGBAAt(2, 2)
	if px.R != px.G || px.G != px.B {
		t.Errorf("grayscale pixel has unequal channels: %v", px)
	}
}

func TestCaptureSourceNotReady(t *testing.T) {
	_, err := Capture(&StillSource{}, 1.0, false, nil)
	if !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("err = %v, want ErrSourceNotReady", err)
	}

	_, err = Capture(&StillSource{Img: image.NewRGBA(image.Rect(0, 0, 0, 0))}, 1.0, false, nil)
	if !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("zero-size frame: err = %v, want ErrSourceNotReady", err)
	}
}

func TestCaptureDual(t *testing.T) {
	local := &StillSource{Img: horizontalGradient(8, 8)}
	remote := &StillSource{Img: horizontalGradient(16, 16)} // different resolution

	out, err := CaptureDual(local, remote, 1.0, nil)
	if err != nil {
		t.Fatal(err)
	}

	b := out.Bounds()
	if b.Dx() != 2*b.Dy() {
		t.Fatalf("dual frame is %dx%d, want width = 2×height", b.Dx(), b.Dy())
	}

	// Local half is mirrored: its left edge shows the gradient's right side.
	left := out.RGBAAt(0, 4)
	if left.R != 7 {
		t.Errorf("mirrored local edge pixel R = %d, want 7", left.R)
	}
}
