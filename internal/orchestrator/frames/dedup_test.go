package frames

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// patternPNG creates test images with distinct patterns for pHash testing.
func patternPNG(pattern int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var c color.RGBA
			switch pattern {
			case 0: // solid gray
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1: // checkerboard
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{A: 255}
				}
			case 2: // horizontal gradient
				c = color.RGBA{R: uint8(x * 4), B: uint8(255 - x*4), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestFirstFrameMisses(t *testing.T) {
	d := New(0)
	if _, ok := d.Lookup(patternPNG(0)); ok {
		t.Error("first frame should not match")
	}
}

func TestRepeatedFrameReusesText(t *testing.T) {
	d := New(0)
	img := patternPNG(1)
	d.Lookup(img)
	d.Remember("Hello")

	text, ok := d.Lookup(img)
	if !ok || text != "Hello" {
		t.Errorf("Lookup = %q, %v; want %q, true", text, ok, "Hello")
	}
	if d.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", d.Skipped())
	}
}

func TestNoTextRememberedMisses(t *testing.T) {
	d := New(0)
	img := patternPNG(1)
	d.Lookup(img)
	// OCR failed, nothing remembered
	if _, ok := d.Lookup(img); ok {
		t.Error("frame without remembered text should not match")
	}
}

func TestDifferentFramesMiss(t *testing.T) {
	d := New(2)
	d.Lookup(patternPNG(1))
	d.Remember("Hello")
	if _, ok := d.Lookup(patternPNG(2)); ok {
		t.Error("visually distinct frames should not match")
	}
	// the new frame has no text yet
	if _, ok := d.Lookup(patternPNG(2)); ok {
		t.Error("frame after a miss should need fresh text")
	}
}

func TestDisabled(t *testing.T) {
	d := New(-1)
	img := patternPNG(0)
	d.Lookup(img)
	d.Remember("x")
	if _, ok := d.Lookup(img); ok {
		t.Error("disabled dedup should never match")
	}
}

func TestUndecodableFrame(t *testing.T) {
	d := New(0)
	d.Lookup(patternPNG(0))
	d.Remember("x")
	if _, ok := d.Lookup([]byte("not an image")); ok {
		t.Error("undecodable frame should not match")
	}
	if _, ok := d.Lookup(patternPNG(0)); ok {
		t.Error("undecodable frame should reset the previous hash")
	}
}

func TestReset(t *testing.T) {
	d := New(0)
	img := patternPNG(0)
	d.Lookup(img)
	d.Remember("x")
	d.Reset()
	if _, ok := d.Lookup(img); ok {
		t.Error("Lookup after Reset should miss")
	}
}
