package gallery

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), A: 255})
		}
	}
	return img
}

func TestSaveAndList(t *testing.T) {
	store, err := NewStore(t.TempDir() + "/strips")
	if err != nil {
		t.Fatal(err)
	}

	path, err := store.Save(testImage())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("saved path %q lacks .png", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("saved file is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 10 {
		t.Errorf("decoded width = %d, want 10", decoded.Bounds().Dx())
	}

	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("list = %v, want one strip", names)
	}

	data, err := store.Read(names[0])
	if err != nil || len(data) == 0 {
		t.Fatalf("Read(%q) = %d bytes, %v", names[0], len(data), err)
	}
}

func TestReadRejectsPathEscape(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Read("../../etc/passwd"); err == nil {
		t.Error("Read accepted a path with traversal")
	}
}

func TestDataURL(t *testing.T) {
	url, err := DataURL(testImage())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("data url prefix wrong: %.40s", url)
	}
}
