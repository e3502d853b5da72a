package platform

import (
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
)

const (
	surfaceTitle    = "WindowPeek"
	surfaceInstance = "windowpeek"
	surfaceClass    = "WindowPeek"

	surfaceEventMask = xproto.EventMaskButtonPress |
		xproto.EventMaskButtonRelease |
		xproto.EventMaskPointerMotion |
		xproto.EventMaskExposure |
		xproto.EventMaskStructureNotify

	// putImageHeader is the fixed size of a PutImage request.
	putImageHeader = 24
)

// Surface implements overlay.Surface as an undecorated, always-on-top,
// translucent X window. Only the control square accepts input; everything
// else is click-through.
type Surface struct {
	x        *Context
	win      xproto.Window
	gc       xproto.Gcontext
	colormap xproto.Colormap
	depth    byte
	visual   xproto.Visualid

	hint string
	help io.Writer

	mu     sync.Mutex
	label  string
	view   view.State
	last   *image.RGBA
	closed bool

	log *zerolog.Logger
}

// NewSurface creates and maps the overlay window. hint is drawn at the right
// of the header; help text goes to help, or stderr when nil.
func NewSurface(x *Context, hint string, help io.Writer) (*Surface, error) {
	if help == nil {
		help = os.Stderr
	}
	s := &Surface{
		x:    x,
		hint: hint,
		help: help,
		view: view.State{Pos: view.DefaultPos, Size: view.DefaultSize, Opacity: view.DefaultOpacity},
		log:  logger.WithComponent("surface"),
	}

	if err := s.create(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) create() error {
	conn := s.x.conn
	s.depth, s.visual = argbVisual(s.x.screen)
	if s.depth != 32 {
		s.log.Warn().Msg("No 32-bit visual available - overlay will be opaque")
	}

	cmap, err := xproto.NewColormapId(conn)
	if err != nil {
		return fmt.Errorf("failed to allocate colormap ID: %w", err)
	}
	if err := xproto.CreateColormapChecked(conn, xproto.ColormapAllocNone, cmap, s.x.root, s.visual).Check(); err != nil {
		return fmt.Errorf("failed to create colormap: %w", err)
	}
	s.colormap = cmap

	win, err := xproto.NewWindowId(conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	s.win = win

	// Value order follows the CW bit order.
	mask := uint32(xproto.CwBackPixel | xproto.CwBorderPixel | xproto.CwOverrideRedirect | xproto.CwEventMask | xproto.CwColormap)
	values := []uint32{
		0x00000000, // transparent background
		0,
		1,
		surfaceEventMask,
		uint32(cmap),
	}
	err = xproto.CreateWindowChecked(
		conn,
		s.depth,
		s.win,
		s.x.root,
		int16(s.view.Pos.X), int16(s.view.Pos.Y),
		uint16(s.view.Size.X), uint16(s.view.Size.Y),
		0,
		xproto.WindowClassInputOutput,
		s.visual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := s.setWindowTitle(surfaceTitle); err != nil {
		s.log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := s.setWindowClass(surfaceInstance, surfaceClass); err != nil {
		s.log.Warn().Err(err).Msg("Failed to set window class")
	}
	if err := s.limitInput(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to restrict input region - overlay will capture clicks")
	}

	if err := xproto.MapWindowChecked(conn, s.win).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(s.win), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	s.gc = gc

	s.log.Info().
		Uint32("window_id", uint32(s.win)).
		Uint8("depth", s.depth).
		Msg("Overlay window created")
	return nil
}

// limitInput shrinks the input shape to the control square so clicks
// elsewhere reach the window below.
func (s *Surface) limitInput() error {
	if !s.x.shapeEnabled {
		return fmt.Errorf("shape extension unavailable")
	}
	r := overlay.HitZone
	rects := []xproto.Rectangle{{
		X:      int16(r.Min.X),
		Y:      int16(r.Min.Y),
		Width:  uint16(r.Dx()),
		Height: uint16(r.Dy()),
	}}
	return shape.RectanglesChecked(
		s.x.conn,
		shape.SoSet,
		shape.SkInput,
		xproto.ClipOrderingUnsorted,
		s.win,
		0, 0,
		rects,
	).Check()
}

// ID implements overlay.Surface.
func (s *Surface) ID() uint32 { return uint32(s.win) }

// Apply moves and resizes the window and repaints the header.
func (s *Surface) Apply(v view.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return overlay.ErrClosed
	}

	if v.Pos != s.view.Pos || v.Size != s.view.Size {
		err := xproto.ConfigureWindowChecked(
			s.x.conn,
			s.win,
			xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
			[]uint32{
				uint32(int32(v.Pos.X)),
				uint32(int32(v.Pos.Y)),
				uint32(v.Size.X),
				uint32(v.Size.Y),
			},
		).Check()
		if err != nil {
			return fmt.Errorf("failed to configure window: %w", err)
		}
	}
	if v.Size != s.view.Size {
		s.last = nil
	}
	s.view = v
	return s.drawHeader()
}

// Present draws a full overlay image with f in the content area.
func (s *Surface) Present(f *capture.Frame, v view.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return overlay.ErrClosed
	}
	img := overlay.Compose(f, v, s.label, s.hint)
	s.last = img
	return s.putImage(img, image.Point{})
}

// HitTest implements overlay.Surface.
func (s *Surface) HitTest(p image.Point) bool {
	return p.In(overlay.HitZone)
}

// Raise restacks the window above its siblings.
func (s *Surface) Raise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return overlay.ErrClosed
	}
	return xproto.ConfigureWindowChecked(
		s.x.conn,
		s.win,
		xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeAbove},
	).Check()
}

// SetLabel changes the header label.
func (s *Surface) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
	if s.closed {
		return
	}
	if err := s.drawHeader(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to draw header")
	}
}

// ShowHelp writes the help text for the user.
func (s *Surface) ShowHelp(text string) {
	fmt.Fprintln(s.help, text)
}

// Expose repaints after the server discarded window contents.
func (s *Surface) Expose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var err error
	if s.last != nil {
		err = s.putImage(s.last, image.Point{})
	} else {
		err = s.drawHeader()
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("Failed to repaint after expose")
	}
}

// Close destroys the window. It is safe to call more than once.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.gc != 0 {
		xproto.FreeGC(s.x.conn, s.gc)
	}
	err := xproto.DestroyWindowChecked(s.x.conn, s.win).Check()
	xproto.FreeColormap(s.x.conn, s.colormap)
	if err != nil {
		return fmt.Errorf("failed to destroy window: %w", err)
	}
	s.log.Info().Msg("Overlay window closed")
	return nil
}

func (s *Surface) drawHeader() error {
	width := s.view.Size.X
	if width <= 0 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, width, view.HeaderHeight))
	overlay.DrawHeader(img, s.label, s.hint)
	overlay.Fade(img, img.Bounds(), s.view.Opacity)
	if s.last != nil {
		copy(s.last.Pix, img.Pix)
	}
	return s.putImage(img, image.Point{})
}

// putImage uploads img at off, split into row bands that fit in a single
// request.
func (s *Surface) putImage(img *image.RGBA, off image.Point) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}

	stride := w * 4
	data := toBGRA(img, s.depth == 32)
	rows := rowsPerRequest(stride, uint32(s.x.setup.MaximumRequestLength)*4)

	for y := 0; y < h; y += rows {
		n := min(rows, h-y)
		xproto.PutImage(
			s.x.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(s.win),
			s.gc,
			uint16(w), uint16(n),
			int16(off.X), int16(off.Y+y),
			0,
			s.depth,
			data[y*stride:(y+n)*stride],
		)
	}
	s.x.conn.Sync()
	return nil
}

// setWindowTitle sets the window title.
func (s *Surface) setWindowTitle(title string) error {
	titleAtom, err := s.x.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := s.x.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		s.x.conn,
		xproto.PropModeReplace,
		s.win,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets the window class.
func (s *Surface) setWindowClass(instance, class string) error {
	classAtom, err := s.x.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		s.x.conn,
		xproto.PropModeReplace,
		s.win,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// argbVisual finds a 32-bit TrueColor visual, falling back to the root
// visual.
func argbVisual(screen *xproto.ScreenInfo) (byte, xproto.Visualid) {
	for _, d := range screen.AllowedDepths {
		if d.Depth != 32 {
			continue
		}
		for _, v := range d.Visuals {
			if v.Class == xproto.VisualClassTrueColor {
				return 32, v.VisualId
			}
		}
	}
	return screen.RootDepth, screen.RootVisual
}

// toBGRA converts premultiplied RGBA into the server's 32bpp byte order.
// Without an alpha channel the fourth byte is padding.
func toBGRA(img *image.RGBA, alpha bool) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out[y*w*4:]
		for x := 0; x < w; x++ {
			dst[x*4] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4]
			if alpha {
				dst[x*4+3] = src[x*4+3]
			}
		}
	}
	return out
}

// rowsPerRequest returns how many rows of stride bytes fit in one PutImage
// of at most maxBytes.
func rowsPerRequest(stride int, maxBytes uint32) int {
	budget := int(maxBytes) - putImageHeader
	if stride <= 0 || budget < stride {
		return 1
	}
	return budget / stride
}
