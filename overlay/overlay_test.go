package overlay

import (
	"image"
	"image/color"
	"testing"
)

func blank(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestRectStroke(t *testing.T) {
	img := blank(100, 80)
	Rect(img, image.Rect(10, 20, 60, 70), Green, 2)

	onStroke := []image.Point{
		{10, 20}, {60, 20}, {10, 70}, {60, 70}, // corners
		{35, 20}, {35, 21}, {35, 70}, {35, 69}, // top and bottom edges
		{10, 45}, {11, 45}, {60, 45}, {59, 45}, // left and right edges
	}
	for _, p := range onStroke {
		if got := img.NRGBAAt(p.X, p.Y); got != Green {
			t.Errorf("pixel %v = %v, want stroke colour", p, got)
		}
	}

	offStroke := []image.Point{{35, 45}, {12, 45}, {35, 22}, {9, 20}, {61, 70}, {35, 71}}
	for _, p := range offStroke {
		if got := img.NRGBAAt(p.X, p.Y); got == Green {
			t.Errorf("pixel %v was painted, want untouched", p)
		}
	}
}

func TestRectClipsToBounds(t *testing.T) {
	img := blank(20, 20)
	Rect(img, image.Rect(-5, -5, 30, 30), Green, 1)
	Rect(img, image.Rect(15, 15, 5, 5), Green, 1)

	if got := img.NRGBAAt(5, 5); got != Green {
		t.Errorf("non-canonical rectangle not drawn: pixel (5,5) = %v", got)
	}
}

func TestTextPaintsAboveBaseline(t *testing.T) {
	img := blank(200, 60)
	white := color.NRGBA{255, 255, 255, 255}
	bounds := Text(img, "FPS: 12.00", image.Pt(10, 30), white, 2)

	if bounds.Empty() {
		t.Fatalf("Text() painted nothing")
	}
	if bounds.Max.Y > 30+2*face.Metrics().Descent.Ceil() || bounds.Min.Y >= 30 {
		t.Errorf("text bounds %v not anchored at baseline y=30", bounds)
	}

	painted := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.NRGBAAt(x, y) == white {
				painted++
			}
		}
	}
	if painted == 0 {
		t.Errorf("no glyph pixels found inside %v", bounds)
	}
	if img.NRGBAAt(150, 55) == white {
		t.Errorf("pixel outside text bounds was painted")
	}
}
