package platform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
)

// DefaultRefreshInterval is how often registered thumbnails are redrawn.
const DefaultRefreshInterval = 16 * time.Millisecond

const filterBilinear = "bilinear"

type thumbnail struct {
	src    xproto.Window
	dest   xproto.Window
	pixmap xproto.Pixmap
	srcPic render.Picture
	dstPic render.Picture
	mask   render.Picture
	format render.Pictformat

	width, height int
	props         capture.ThumbnailProps
	opacity       float64
}

// Compositor implements capture.Compositor with the Composite and RENDER
// extensions. The source window is redirected off-screen and its backing
// pixmap is scaled into the destination window on every refresh, so hidden
// or covered windows still show their current contents.
type Compositor struct {
	x        *Context
	interval time.Duration

	mu     sync.Mutex
	thumbs map[uint32]*thumbnail
	next   uint32

	log *zerolog.Logger
}

// NewCompositor creates a compositor that redraws every interval once Run
// is started.
func NewCompositor(x *Context, interval time.Duration) *Compositor {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Compositor{
		x:        x,
		interval: interval,
		thumbs:   make(map[uint32]*thumbnail),
		log:      logger.WithComponent("compositor"),
	}
}

// Register starts mirroring src into dest.
func (c *Compositor) Register(dest, src uint32) (uint32, error) {
	if !c.x.compositeEnabled || !c.x.renderEnabled {
		return 0, fmt.Errorf("%w: composite or render extension unavailable", capture.ErrDeviceLost)
	}

	srcWin := xproto.Window(src)
	srcAttrs, err := xproto.GetWindowAttributes(c.x.conn, srcWin).Reply()
	if err != nil {
		return 0, classify(err)
	}
	dstAttrs, err := xproto.GetWindowAttributes(c.x.conn, xproto.Window(dest)).Reply()
	if err != nil {
		return 0, fmt.Errorf("%w: destination window: %v", capture.ErrDeviceLost, err)
	}
	srcFormat, ok := c.x.visualFormats[srcAttrs.Visual]
	if !ok {
		return 0, fmt.Errorf("%w: no picture format for source visual %d", capture.ErrDeviceLost, srcAttrs.Visual)
	}
	dstFormat, ok := c.x.visualFormats[dstAttrs.Visual]
	if !ok {
		return 0, fmt.Errorf("%w: no picture format for destination visual %d", capture.ErrDeviceLost, dstAttrs.Visual)
	}

	if err := composite.RedirectWindowChecked(c.x.conn, srcWin, composite.RedirectAutomatic).Check(); err != nil {
		return 0, classify(err)
	}

	t := &thumbnail{src: srcWin, dest: xproto.Window(dest), format: srcFormat}
	if err := c.bindSource(t); err != nil {
		composite.UnredirectWindow(c.x.conn, srcWin, composite.RedirectAutomatic)
		return 0, err
	}

	dstPic, err := render.NewPictureId(c.x.conn)
	if err != nil {
		c.release(t)
		return 0, fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
	if err := render.CreatePictureChecked(c.x.conn, dstPic, xproto.Drawable(dest), dstFormat, 0, nil).Check(); err != nil {
		c.release(t)
		return 0, fmt.Errorf("%w: destination picture: %v", capture.ErrDeviceLost, err)
	}
	t.dstPic = dstPic

	c.mu.Lock()
	c.next++
	id := c.next
	c.thumbs[id] = t
	c.mu.Unlock()

	c.log.Debug().
		Uint32("thumbnail", id).
		Uint32("source", src).
		Int("width", t.width).
		Int("height", t.height).
		Msg("Registered thumbnail")
	return id, nil
}

// bindSource names the source's current backing pixmap and wraps it in a
// picture. It is called again whenever the source is resized.
func (c *Compositor) bindSource(t *thumbnail) error {
	geom, err := xproto.GetGeometry(c.x.conn, xproto.Drawable(t.src)).Reply()
	if err != nil {
		return classify(err)
	}

	pixmap, err := xproto.NewPixmapId(c.x.conn)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
	// BadMatch here means the window is not viewable.
	if err := composite.NameWindowPixmapChecked(c.x.conn, t.src, pixmap).Check(); err != nil {
		return classify(err)
	}

	pic, err := render.NewPictureId(c.x.conn)
	if err != nil {
		xproto.FreePixmap(c.x.conn, pixmap)
		return fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
	if err := render.CreatePictureChecked(c.x.conn, pic, xproto.Drawable(pixmap), t.format, 0, nil).Check(); err != nil {
		xproto.FreePixmap(c.x.conn, pixmap)
		return classify(err)
	}
	render.SetPictureFilter(c.x.conn, pic, uint16(len(filterBilinear)), filterBilinear, nil)

	if t.srcPic != 0 {
		render.FreePicture(c.x.conn, t.srcPic)
		xproto.FreePixmap(c.x.conn, t.pixmap)
	}
	t.pixmap = pixmap
	t.srcPic = pic
	t.width, t.height = int(geom.Width), int(geom.Height)
	return nil
}

// SourceSize returns the current size of the mirrored window, rebinding
// the backing pixmap if it changed.
func (c *Compositor) SourceSize(id uint32) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.thumbs[id]
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown thumbnail %d", capture.ErrInvalidSource, id)
	}
	if err := c.refreshSize(t); err != nil {
		return 0, 0, err
	}
	return t.width, t.height, nil
}

// Update replaces the thumbnail's properties and redraws it immediately.
func (c *Compositor) Update(id uint32, props capture.ThumbnailProps) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.thumbs[id]
	if !ok {
		return fmt.Errorf("%w: unknown thumbnail %d", capture.ErrInvalidSource, id)
	}
	if err := c.refreshSize(t); err != nil {
		return err
	}
	if t.mask == 0 || props.Opacity != t.opacity {
		if err := c.setOpacity(t, props.Opacity); err != nil {
			return err
		}
	}
	t.props = props
	c.draw(t)
	return nil
}

// Unregister stops mirroring and releases every server-side resource.
func (c *Compositor) Unregister(id uint32) error {
	c.mu.Lock()
	t, ok := c.thumbs[id]
	delete(c.thumbs, id)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown thumbnail %d", id)
	}
	c.release(t)
	c.log.Debug().Uint32("thumbnail", id).Msg("Unregistered thumbnail")
	return nil
}

// Run redraws every registered thumbnail until ctx is cancelled.
func (c *Compositor) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			for _, t := range c.thumbs {
				c.draw(t)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Compositor) refreshSize(t *thumbnail) error {
	geom, err := xproto.GetGeometry(c.x.conn, xproto.Drawable(t.src)).Reply()
	if err != nil {
		return classify(err)
	}
	if int(geom.Width) == t.width && int(geom.Height) == t.height {
		return nil
	}
	return c.bindSource(t)
}

func (c *Compositor) setOpacity(t *thumbnail, opacity float64) error {
	mask, err := render.NewPictureId(c.x.conn)
	if err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
	color := render.Color{Alpha: alpha16(opacity)}
	if err := render.CreateSolidFillChecked(c.x.conn, mask, color).Check(); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceLost, err)
	}
	if t.mask != 0 {
		render.FreePicture(c.x.conn, t.mask)
	}
	t.mask = mask
	t.opacity = opacity
	return nil
}

// draw composites the crop of the source into the destination rectangle.
// Errors from these unchecked requests surface on the event queue.
func (c *Compositor) draw(t *thumbnail) {
	dest := t.props.Dest
	if !t.props.Visible || dest.Empty() || t.props.Source.Empty() {
		return
	}
	render.SetPictureTransform(c.x.conn, t.srcPic, cropTransform(t.props.Source, dest.Size()))
	render.Composite(c.x.conn, render.PictOpSrc, t.srcPic, t.mask, t.dstPic,
		0, 0, 0, 0,
		int16(dest.Min.X), int16(dest.Min.Y),
		uint16(dest.Dx()), uint16(dest.Dy()))
}

func (c *Compositor) release(t *thumbnail) {
	for _, pic := range []render.Picture{t.mask, t.dstPic, t.srcPic} {
		if pic != 0 {
			render.FreePicture(c.x.conn, pic)
		}
	}
	if t.pixmap != 0 {
		xproto.FreePixmap(c.x.conn, t.pixmap)
	}
	err := composite.UnredirectWindowChecked(c.x.conn, t.src, composite.RedirectAutomatic).Check()
	var winErr xproto.WindowError
	if err != nil && !errors.As(err, &winErr) {
		c.log.Debug().Err(err).Uint32("source", uint32(t.src)).Msg("Failed to unredirect window")
	}
}

// cropTransform maps destination pixels of a size-dst rectangle onto the
// crop rectangle in source coordinates.
func cropTransform(crop image.Rectangle, dst image.Point) render.Transform {
	sx := float64(crop.Dx()) / float64(dst.X)
	sy := float64(crop.Dy()) / float64(dst.Y)
	return render.Transform{
		Matrix11: toFixed(sx), Matrix12: 0, Matrix13: toFixed(float64(crop.Min.X)),
		Matrix21: 0, Matrix22: toFixed(sy), Matrix23: toFixed(float64(crop.Min.Y)),
		Matrix31: 0, Matrix32: 0, Matrix33: toFixed(1),
	}
}

// toFixed converts to RENDER's signed 16.16 fixed point.
func toFixed(v float64) render.Fixed {
	return render.Fixed(int32(v * 65536))
}

func alpha16(opacity float64) uint16 {
	switch {
	case opacity <= 0:
		return 0
	case opacity >= 1:
		return 0xffff
	}
	return uint16(opacity * 0xffff)
}
