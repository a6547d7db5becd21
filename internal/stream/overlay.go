package stream

import (
	"fmt"
	"image"
	"image/color"

	"pepperbot/internal/pipeline"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BoxColor is the outline and text color for detected people
var BoxColor = color.RGBA{0, 255, 0, 255}

// Annotate draws a box and label for every human on a copy of img
func Annotate(img image.Image, humans []pipeline.Human) image.Image {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, h := range humans {
		x, y := bounds.Min.X+h.BBox.X, bounds.Min.Y+h.BBox.Y
		drawBox(rgba, x, y, h.BBox.Width, h.BBox.Height, BoxColor, 2)
		drawLabel(rgba, x, y-14, Label(h), BoxColor)
	}
	return rgba
}

// Label renders "Person 0.87" with the emotion appended when present
func Label(h pipeline.Human) string {
	label := fmt.Sprintf("Person %.2f", h.Confidence)
	if h.Emotion != nil {
		label += fmt.Sprintf(" (%s)", h.Emotion.Label)
	}
	return label
}

// drawBox draws a rectangle outline, skipping pixels outside the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(bounds) {
			img.SetRGBA(px, py, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w; i++ {
			set(i, y+t)
			set(i, y+h-1-t)
		}
		for j := y; j < y+h; j++ {
			set(x+t, j)
			set(x+w-1-t, j)
		}
	}
}

// drawLabel draws text on a dark background strip
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	if y < bounds.Min.Y+2 {
		y = bounds.Min.Y + 2
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	bg := image.Rect(x-2, y-2, x+textWidth+2, y+12).Intersect(bounds)
	draw.Draw(img, bg, image.NewUniform(bgColor), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
