package view

import "image"

// Mode is the transform a drag gesture applies.
type Mode int

const (
	ModeNone Mode = iota
	ModeMove
	ModeResize
	ModeTrim
	ModeOpacity
)

func (m Mode) String() string {
	switch m {
	case ModeMove:
		return "move"
	case ModeResize:
		return "resize"
	case ModeTrim:
		return "trim"
	case ModeOpacity:
		return "opacity"
	default:
		return "none"
	}
}

// ApplyGesture computes the state reached by dragging delta pixels from
// start in the given mode. It depends only on start and the cumulative
// delta, so intermediate pointer events never accumulate drift.
func ApplyGesture(mode Mode, start State, delta image.Point, srcW, srcH int) State {
	next := start
	switch mode {
	case ModeMove:
		next.Pos = start.Pos.Add(delta)
	case ModeResize:
		next.Size = ClampSize(start.Size.Add(delta))
	case ModeTrim:
		next.Crop = Trim(start.Crop, delta, srcW, srcH)
	case ModeOpacity:
		next.Opacity = clampFloat(start.Opacity-float64(delta.Y)*OpacitySensitivity, MinOpacity, MaxOpacity)
	}
	return next
}

// Trim moves crop edges by delta. A positive horizontal delta eats into the
// left edge, a negative one into the right edge; the vertical axis works the
// same way on top and bottom. When the minimum span is hit the moving edge
// yields, never the opposite one.
func Trim(start image.Rectangle, delta image.Point, srcW, srcH int) image.Rectangle {
	c := start
	switch {
	case delta.X > 0:
		c.Min.X += delta.X
	case delta.X < 0:
		c.Max.X += delta.X
	}
	switch {
	case delta.Y > 0:
		c.Min.Y += delta.Y
	case delta.Y < 0:
		c.Max.Y += delta.Y
	}

	c.Min.X, c.Max.X = clampInt(c.Min.X, 0, srcW), clampInt(c.Max.X, 0, srcW)
	c.Min.Y, c.Max.Y = clampInt(c.Min.Y, 0, srcH), clampInt(c.Max.Y, 0, srcH)

	if spanW := min(MinCropSpan, srcW); c.Dx() < spanW {
		if delta.X > 0 {
			c.Min.X = c.Max.X - spanW
		} else {
			c.Max.X = c.Min.X + spanW
		}
	}
	if spanH := min(MinCropSpan, srcH); c.Dy() < spanH {
		if delta.Y > 0 {
			c.Min.Y = c.Max.Y - spanH
		} else {
			c.Max.Y = c.Min.Y + spanH
		}
	}
	return ClampCrop(c, srcW, srcH)
}
