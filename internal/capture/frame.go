package capture

import (
	"fmt"
	"image"
	"sync/atomic"
)

const (
	// PlaceholderSize is the edge length of the blank frame shown in place of
	// a frame that failed to convert.
	PlaceholderSize = 100

	rgbChannels = 3
)

// Frame is an RGB pixel buffer handed to the renderer.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Blank returns a black frame of the given size.
func Blank(w, h int) *Frame {
	return &Frame{
		Width:    w,
		Height:   h,
		Channels: rgbChannels,
		Pix:      make([]byte, w*h*rgbChannels),
	}
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// FromBGRA converts a captured BGRA buffer into an RGB frame, reordering
// channels and dropping alpha.
func FromBGRA(raw *RawFrame) (*Frame, error) {
	if raw == nil || raw.Width <= 0 || raw.Height <= 0 {
		return nil, fmt.Errorf("empty buffer: %w", ErrConversionFailed)
	}
	rowBytes := raw.Width * 4
	stride := raw.Stride
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return nil, fmt.Errorf("stride %d shorter than row %d: %w", stride, rowBytes, ErrConversionFailed)
	}
	if need := stride*(raw.Height-1) + rowBytes; len(raw.Data) < need {
		return nil, fmt.Errorf("buffer holds %d bytes, need %d: %w", len(raw.Data), need, ErrConversionFailed)
	}

	f := Blank(raw.Width, raw.Height)
	for y := 0; y < raw.Height; y++ {
		src := raw.Data[y*stride : y*stride+rowBytes]
		dst := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		for x := 0; x < raw.Width; x++ {
			dst[x*3] = src[x*4+2]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4]
		}
	}
	return f, nil
}

// Crop returns a copy of the part of f inside r. A crop that misses the
// frame entirely returns f unchanged so a resized source still shows
// something.
func (f *Frame) Crop(r image.Rectangle) *Frame {
	r = r.Intersect(f.Bounds())
	if r.Empty() || r == f.Bounds() {
		return f
	}
	out := &Frame{Width: r.Dx(), Height: r.Dy(), Channels: f.Channels}
	out.Pix = make([]byte, out.Width*out.Height*out.Channels)
	for y := 0; y < out.Height; y++ {
		start := (r.Min.Y+y)*f.Stride() + r.Min.X*f.Channels
		copy(out.Pix[y*out.Stride():(y+1)*out.Stride()], f.Pix[start:start+out.Stride()])
	}
	return out
}

// RGBA expands the frame into an opaque *image.RGBA for drawing.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	for i, j := 0, 0; i+f.Channels <= len(f.Pix) && j+3 < len(img.Pix); i, j = i+f.Channels, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Slot is a single-frame latest-wins handoff between the capture worker and
// the presentation goroutine. A store overwrites an undelivered frame.
type Slot struct {
	p atomic.Pointer[Frame]
}

// Store publishes f and reports whether an undelivered frame was replaced.
func (s *Slot) Store(f *Frame) bool {
	return s.p.Swap(f) != nil
}

// Take removes and returns the pending frame, if any.
func (s *Slot) Take() *Frame {
	return s.p.Swap(nil)
}
