package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
)

// Grabber implements capture.Device by reading window contents with
// GetImage. With Composite available the window is redirected first so
// covered regions are captured too.
type Grabber struct {
	x   *Context
	log *zerolog.Logger
}

// NewGrabber creates a frame grabber on x.
func NewGrabber(x *Context) *Grabber {
	return &Grabber{x: x, log: logger.WithComponent("frame-grabber")}
}

// Open starts a capture stream on src.
func (g *Grabber) Open(src uint32) (capture.Stream, error) {
	win := xproto.Window(src)
	if _, err := xproto.GetWindowAttributes(g.x.conn, win).Reply(); err != nil {
		return nil, classify(err)
	}

	s := &grabStream{x: g.x, win: win, drawable: xproto.Drawable(win), log: g.log}
	if g.x.compositeEnabled {
		if err := composite.RedirectWindowChecked(g.x.conn, win, composite.RedirectAutomatic).Check(); err != nil {
			g.log.Debug().Err(err).Uint32("window", src).Msg("Failed to redirect window, capturing on-screen contents")
		} else {
			s.redirected = true
		}
	}
	return s, nil
}

type grabStream struct {
	x          *Context
	win        xproto.Window
	drawable   xproto.Drawable
	pixmap     xproto.Pixmap
	redirected bool
	width      int
	height     int

	mu     sync.Mutex
	closed bool

	log *zerolog.Logger
}

// Next grabs the current contents. GetImage answers immediately, so every
// call yields a frame unless ctx is already done.
func (s *grabStream) Next(ctx context.Context) (*capture.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: stream closed", capture.ErrDeviceLost)
	}

	w, h, err := s.size()
	if err != nil {
		return nil, err
	}
	if w != s.width || h != s.height {
		s.rebind()
		s.width, s.height = w, h
	}

	reply, err := xproto.GetImage(
		s.x.conn,
		xproto.ImageFormatZPixmap,
		s.drawable,
		0, 0,
		uint16(w), uint16(h),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, classify(err)
	}

	return &capture.RawFrame{
		Width:  w,
		Height: h,
		Stride: rowBytes(s.x.setup.PixmapFormats, reply.Depth, w),
		Data:   reply.Data,
	}, nil
}

// rebind names a fresh backing pixmap after a resize. Without one the
// window itself is read.
func (s *grabStream) rebind() {
	if !s.redirected {
		return
	}
	if s.pixmap != 0 {
		xproto.FreePixmap(s.x.conn, s.pixmap)
		s.pixmap = 0
		s.drawable = xproto.Drawable(s.win)
	}
	pixmap, err := xproto.NewPixmapId(s.x.conn)
	if err != nil {
		return
	}
	if err := composite.NameWindowPixmapChecked(s.x.conn, s.win, pixmap).Check(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to name window pixmap, using window drawable")
		return
	}
	s.pixmap = pixmap
	s.drawable = xproto.Drawable(pixmap)
}

func (s *grabStream) Size() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size()
}

func (s *grabStream) size() (int, int, error) {
	geom, err := xproto.GetGeometry(s.x.conn, xproto.Drawable(s.win)).Reply()
	if err != nil {
		return 0, 0, classify(err)
	}
	return int(geom.Width), int(geom.Height), nil
}

// Close frees the stream's resources. Errors from a vanished window are
// ignored.
func (s *grabStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pixmap != 0 {
		xproto.FreePixmap(s.x.conn, s.pixmap)
	}
	if s.redirected {
		composite.UnredirectWindow(s.x.conn, s.win, composite.RedirectAutomatic)
	}
	return nil
}

// rowBytes computes the padded scanline length of a ZPixmap image.
// Formats that are not 32 bits per pixel report -1, which the converter
// rejects.
func rowBytes(formats []xproto.Format, depth byte, width int) int {
	for _, f := range formats {
		if f.Depth != depth {
			continue
		}
		if f.BitsPerPixel != 32 {
			return -1
		}
		bits := width * int(f.BitsPerPixel)
		pad := int(f.ScanlinePad)
		if pad == 0 {
			pad = 32
		}
		return ((bits + pad - 1) / pad) * pad / 8
	}
	return -1
}
