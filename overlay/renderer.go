// Package overlay annotates detection frames and writes them to disk.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Box is one detection to draw.
type Box struct {
	Rect       image.Rectangle
	Class      string
	Confidence float64
}

var (
	detectGreen = color.RGBA{R: 0x11, G: 0x8a, B: 0x28, A: 255}
	bannerWhite = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 255}
	bannerShade = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 255}
)

// Renderer draws detection boxes and a caption banner onto frames.
type Renderer struct {
	Thickness  int
	BracketLen int
	FontScale  float64
}

// NewRenderer returns a renderer with the default line and font sizes.
func NewRenderer() *Renderer {
	return &Renderer{Thickness: 2, BracketLen: 15, FontScale: 0.5}
}

// DrawDetections draws every box with its class and confidence.
func (r *Renderer) DrawDetections(img *gocv.Mat, boxes []Box) {
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	for _, b := range boxes {
		rect := b.Rect.Intersect(bounds)
		if rect.Empty() {
			continue
		}
		gocv.Rectangle(img, rect, detectGreen, 1)
		r.drawCornerBrackets(img, rect, detectGreen)

		label := fmt.Sprintf("%s (%.0f%%)", b.Class, b.Confidence*100)
		pos := image.Pt(rect.Min.X, rect.Min.Y-6)
		// Keep the label inside the frame.
		if pos.Y < 15 {
			pos.Y = rect.Max.Y + 18
		}
		gocv.PutText(img, label, pos, gocv.FontHersheySimplex, r.FontScale, detectGreen, 1)
	}
}

// DrawCaption writes a caption on a shaded strip across the top of the frame.
func (r *Renderer) DrawCaption(img *gocv.Mat, caption string) {
	size := gocv.GetTextSize(caption, gocv.FontHersheySimplex, r.FontScale, 1)
	strip := image.Rect(0, 0, img.Cols(), size.Y+12)
	gocv.Rectangle(img, strip, bannerShade, -1)
	gocv.PutText(img, caption, image.Pt(6, size.Y+6), gocv.FontHersheySimplex, r.FontScale, bannerWhite, 1)
}

func (r *Renderer) drawCornerBrackets(img *gocv.Mat, rect image.Rectangle, c color.RGBA) {
	l := min(r.BracketLen, rect.Dx()/2, rect.Dy()/2)
	t := r.Thickness
	corners := []struct{ p, h, v image.Point }{
		{rect.Min, image.Pt(l, 0), image.Pt(0, l)},
		{image.Pt(rect.Max.X, rect.Min.Y), image.Pt(-l, 0), image.Pt(0, l)},
		{image.Pt(rect.Min.X, rect.Max.Y), image.Pt(l, 0), image.Pt(0, -l)},
		{rect.Max, image.Pt(-l, 0), image.Pt(0, -l)},
	}
	for _, k := range corners {
		gocv.Line(img, k.p, k.p.Add(k.h), c, t)
		gocv.Line(img, k.p, k.p.Add(k.v), c, t)
	}
}
