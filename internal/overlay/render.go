package overlay

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
)

var (
	headerColor  = color.RGBA{R: 28, G: 28, B: 32, A: 255}
	controlColor = color.RGBA{R: 64, G: 128, B: 220, A: 255}
	textColor    = color.RGBA{R: 235, G: 235, B: 235, A: 255}
	hintColor    = color.RGBA{R: 150, G: 150, B: 160, A: 255}
)

const labelPadding = 8

// DrawHeader paints the header strip: background, control square, the
// source label and a right-aligned key hint that is dropped when it would
// overlap the label.
func DrawHeader(dst *image.RGBA, label, hint string) {
	width := dst.Bounds().Dx()
	strip := image.Rect(0, 0, width, view.HeaderHeight).Intersect(dst.Bounds())
	draw.Draw(dst, strip, image.NewUniform(headerColor), image.Point{}, draw.Src)
	draw.Draw(dst, HitZone.Intersect(strip), image.NewUniform(controlColor), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	baseline := (view.HeaderHeight + face.Ascent - face.Descent) / 2

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(textColor), Face: face}
	labelX := HitZone.Max.X + labelPadding
	hintW := d.MeasureString(hint).Ceil()
	maxLabel := width - labelX - labelPadding
	if hint != "" && width-hintW-labelPadding > labelX+labelPadding {
		maxLabel -= hintW + labelPadding
	} else {
		hint = ""
	}

	d.Dot = fixed.P(labelX, baseline)
	d.DrawString(truncate(d, label, maxLabel))

	if hint != "" {
		d.Src = image.NewUniform(hintColor)
		d.Dot = fixed.P(width-hintW-labelPadding, baseline)
		d.DrawString(hint)
	}
}

// truncate shortens s with an ellipsis until it fits in maxWidth pixels.
func truncate(d *font.Drawer, s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if d.MeasureString(s).Ceil() <= maxWidth {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if d.MeasureString(candidate).Ceil() <= maxWidth {
			return candidate
		}
	}
	return ""
}

// DrawFrame scales f into the content area of the view.
func DrawFrame(dst *image.RGBA, f *capture.Frame, v view.State) {
	content := v.ContentRect().Intersect(dst.Bounds())
	if f == nil || content.Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, content, f.RGBA(), f.Bounds(), xdraw.Src, nil)
}

// Fade scales every channel inside r by opacity. image.RGBA is
// alpha-premultiplied, so this keeps pixels valid for an ARGB visual.
func Fade(img *image.RGBA, r image.Rectangle, opacity float64) {
	if opacity >= 1 {
		return
	}
	if opacity < 0 {
		opacity = 0
	}
	a := uint32(opacity*255 + 0.5)
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[img.PixOffset(r.Min.X, y):img.PixOffset(r.Max.X, y)]
		for i := range row {
			row[i] = uint8(uint32(row[i]) * a / 255)
		}
	}
}

// Compose renders a complete overlay image for v: header plus frame,
// faded to the view opacity.
func Compose(f *capture.Frame, v view.State, label, hint string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, v.Size.X, v.Size.Y))
	DrawHeader(img, label, hint)
	DrawFrame(img, f, v)
	Fade(img, img.Bounds(), v.Opacity)
	return img
}
