// Package view holds the overlay's view state and the geometry rules that
// keep it valid: crop clamping against the source extent, minimum sizes and
// the opacity range.
package view

import (
	"fmt"
	"image"
)

const (
	// MinCropSpan is the smallest crop width/height in source pixels.
	MinCropSpan = 50

	// MinWidth and MinHeight bound the overlay size in display pixels.
	MinWidth  = 100
	MinHeight = 80

	DefaultOpacity = 0.85
	MinOpacity     = 0.2
	MaxOpacity     = 1.0

	// OpacitySensitivity is the opacity change per pixel of vertical drag.
	OpacitySensitivity = 0.003

	// HeaderHeight is the strip at the top of the overlay holding the control
	// square and the source label. Source content is drawn below it.
	HeaderHeight = 30
)

var (
	DefaultPos  = image.Pt(100, 100)
	DefaultSize = image.Pt(640, 380)
)

// State is the complete geometry of one overlay: where it sits on screen,
// how large it is, which part of the source it shows and how opaque it is.
type State struct {
	Pos     image.Point     `json:"pos"`
	Size    image.Point     `json:"size"`
	Crop    image.Rectangle `json:"crop"`
	Opacity float64         `json:"opacity"`
}

// Default returns the state used for a source with no persisted config.
func Default(srcW, srcH int) State {
	return State{
		Pos:     DefaultPos,
		Size:    DefaultSize,
		Crop:    FullCrop(srcW, srcH),
		Opacity: DefaultOpacity,
	}
}

// FullCrop is the crop covering the whole source extent.
func FullCrop(srcW, srcH int) image.Rectangle {
	return image.Rect(0, 0, srcW, srcH)
}

// Normalize clamps every field into its valid range for a source of the
// given size. A source size of zero leaves the crop untouched because the
// extent is unknown.
func (s State) Normalize(srcW, srcH int) State {
	s.Size = ClampSize(s.Size)
	s.Opacity = clampFloat(s.Opacity, MinOpacity, MaxOpacity)
	if srcW > 0 && srcH > 0 {
		s.Crop = ClampCrop(s.Crop, srcW, srcH)
	}
	return s
}

// ContentRect is the destination rectangle, in overlay-local coordinates,
// that source pixels are drawn into.
func (s State) ContentRect() image.Rectangle {
	top := HeaderHeight
	if s.Size.Y <= top {
		top = 0
	}
	return image.Rect(0, top, s.Size.X, s.Size.Y)
}

func (s State) String() string {
	return fmt.Sprintf("pos=%v size=%v crop=%v opacity=%.2f", s.Pos, s.Size, s.Crop, s.Opacity)
}

// ClampSize enforces the minimum overlay size.
func ClampSize(p image.Point) image.Point {
	return image.Pt(max(MinWidth, p.X), max(MinHeight, p.Y))
}

// ClampCrop moves every edge of r into [0,srcW]x[0,srcH] and then enforces
// the minimum span. When the source itself is smaller than the minimum span
// the crop becomes the full extent on that axis.
func ClampCrop(r image.Rectangle, srcW, srcH int) image.Rectangle {
	minX, maxX := clampSpan(r.Min.X, r.Max.X, srcW)
	minY, maxY := clampSpan(r.Min.Y, r.Max.Y, srcH)
	return image.Rect(minX, minY, maxX, maxY)
}

func clampSpan(lo, hi, extent int) (int, int) {
	if extent <= 0 {
		return 0, 0
	}
	span := min(MinCropSpan, extent)
	lo = clampInt(lo, 0, extent)
	hi = clampInt(hi, 0, extent)
	if hi-lo < span {
		hi = lo + span
		if hi > extent {
			hi = extent
			lo = extent - span
		}
	}
	return lo, hi
}

// ValidCrop reports whether r satisfies the crop invariants for the source.
func ValidCrop(r image.Rectangle, srcW, srcH int) bool {
	if r.Min.X < 0 || r.Min.Y < 0 || r.Max.X > srcW || r.Max.Y > srcH {
		return false
	}
	return r.Dx() >= min(MinCropSpan, srcW) && r.Dy() >= min(MinCropSpan, srcH) && r.Dx() > 0 && r.Dy() > 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
