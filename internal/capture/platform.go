package capture

import (
	"context"
	"image"
)

// ThumbnailProps are the properties pushed to a compositor thumbnail.
type ThumbnailProps struct {
	// Dest is the destination rectangle in surface coordinates.
	Dest image.Rectangle
	// Source is the crop rectangle in source pixels.
	Source  image.Rectangle
	Opacity float64
	Visible bool
}

// Compositor registers live thumbnails of source windows onto a destination
// surface. Pixels never pass through the process.
type Compositor interface {
	Register(dest, src uint32) (uint32, error)
	SourceSize(thumb uint32) (int, int, error)
	Update(thumb uint32, props ThumbnailProps) error
	Unregister(thumb uint32) error
}

// RawFrame is a captured buffer in the device's native BGRA order.
type RawFrame struct {
	Width  int
	Height int
	Stride int
	Data   []byte
}

// Device opens capture streams against source windows.
type Device interface {
	Open(src uint32) (Stream, error)
}

// Stream delivers frames from one source.
type Stream interface {
	// Next waits until ctx is done for a new frame. It returns nil, nil when
	// no frame arrived in time.
	Next(ctx context.Context) (*RawFrame, error)

	// Size returns the current source size.
	Size() (int, int, error)

	// Close releases the stream. Closing a stream whose source is gone must
	// not fail loudly.
	Close() error
}
