// Package platform implements the window-system side of the overlay on
// X11: window probing and listing, compositor thumbnails built on the
// Composite and RENDER extensions, frame grabbing, the overlay surface and
// the pointer input pump.
package platform

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
)

// Context is the process-wide X11 connection and the state derived from it.
// Every platform component takes one explicitly.
type Context struct {
	conn   *xgb.Conn
	setup  *xproto.SetupInfo
	screen *xproto.ScreenInfo
	root   xproto.Window

	compositeEnabled bool
	renderEnabled    bool
	shapeEnabled     bool

	// visualFormats maps a visual to its RENDER picture format.
	visualFormats map[xproto.Visualid]render.Pictformat

	atomMu sync.Mutex
	atoms  map[string]xproto.Atom

	log *zerolog.Logger
}

// Open connects to display, or to $DISPLAY when display is empty, and
// initializes the extensions the overlay uses. Missing extensions are
// logged; the features that need them fail when used.
func Open(display string) (*Context, error) {
	log := logger.WithComponent("x11-platform")

	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	c := &Context{
		conn:          conn,
		setup:         setup,
		screen:        screen,
		root:          screen.Root,
		visualFormats: make(map[xproto.Visualid]render.Pictformat),
		atoms:         make(map[string]xproto.Atom),
		log:           log,
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available - thumbnails and off-screen capture disabled")
	} else {
		c.compositeEnabled = true
	}

	if err := render.Init(conn); err != nil {
		log.Warn().Err(err).Msg("RENDER extension not available - thumbnails disabled")
	} else if err := c.loadPictFormats(); err != nil {
		log.Warn().Err(err).Msg("Failed to query picture formats - thumbnails disabled")
	} else {
		c.renderEnabled = true
	}

	if err := shape.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Shape extension not available - overlay will not be click-through")
	} else {
		c.shapeEnabled = true
	}

	log.Debug().
		Uint32("root", uint32(c.root)).
		Uint8("depth", screen.RootDepth).
		Bool("composite", c.compositeEnabled).
		Bool("render", c.renderEnabled).
		Bool("shape", c.shapeEnabled).
		Msg("Connected to X server")

	return c, nil
}

// Close closes the X connection. Goroutines blocked on it return.
func (c *Context) Close() {
	c.conn.Close()
}

func (c *Context) loadPictFormats() error {
	reply, err := render.QueryPictFormats(c.conn).Reply()
	if err != nil {
		return err
	}
	for _, s := range reply.Screens {
		for _, d := range s.Depths {
			for _, v := range d.Visuals {
				c.visualFormats[v.Visual] = v.Format
			}
		}
	}
	return nil
}

// getAtom interns name, caching the result.
func (c *Context) getAtom(name string) (xproto.Atom, error) {
	c.atomMu.Lock()
	defer c.atomMu.Unlock()

	if atom, ok := c.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(c.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	c.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// getProperty returns the raw value of a window property.
func (c *Context) getProperty(win xproto.Window, name string) ([]byte, error) {
	atom, err := c.getAtom(name)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(
		c.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, err
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("empty property %s", name)
	}
	return reply.Value, nil
}

// getCardinals decodes a 32-bit list property such as _NET_CLIENT_LIST.
func (c *Context) getCardinals(win xproto.Window, name string) ([]uint32, error) {
	raw, err := c.getProperty(win, name)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		out = append(out, xgb.Get32(raw[i:]))
	}
	return out, nil
}

// classify maps X protocol errors onto the capture error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case xproto.WindowError, xproto.DrawableError, xproto.PixmapError, xproto.MatchError:
		return fmt.Errorf("%w: %v", capture.ErrInvalidSource, err)
	default:
		return fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
}
