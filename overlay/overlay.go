package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	Green  = color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.NRGBA{R: 255, G: 255, B: 0, A: 255}
)

var face = basicfont.Face7x13

// Rect strokes r with the given thickness. The stroke covers the corner
// pixels r.Min and r.Max and grows inward. Drawing is clipped to dst.
func Rect(dst *image.NRGBA, r image.Rectangle, c color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r = r.Canon()
	src := image.NewUniform(c)
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X+1, r.Max.Y+1

	bands := []image.Rectangle{
		image.Rect(x1, y1, x2, y1+thickness),
		image.Rect(x1, y2-thickness, x2, y2),
		image.Rect(x1, y1, x1+thickness, y2),
		image.Rect(x2-thickness, y1, x2, y2),
	}
	for _, b := range bands {
		draw.Draw(dst, b.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// Text draws s with its baseline starting at org, magnified by an integer
// scale. Returns the bounds that were painted.
func Text(dst *image.NRGBA, s string, org image.Point, c color.Color, scale int) image.Rectangle {
	if scale < 1 {
		scale = 1
	}
	if s == "" {
		return image.Rectangle{}
	}

	ascent := face.Metrics().Ascent.Ceil()
	height := face.Metrics().Height.Ceil()
	width := font.MeasureString(face, s).Ceil()

	glyphs := image.NewNRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(s)

	var src image.Image = glyphs
	if scale > 1 {
		src = imaging.Resize(glyphs, width*scale, height*scale, imaging.NearestNeighbor)
	}

	top := image.Pt(org.X, org.Y-ascent*scale)
	bounds := image.Rectangle{Min: top, Max: top.Add(src.Bounds().Size())}
	draw.Draw(dst, bounds, src, src.Bounds().Min, draw.Over)
	return bounds.Intersect(dst.Bounds())
}
