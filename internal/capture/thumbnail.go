package capture

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// ThumbnailEngine mirrors the source through a compositor thumbnail drawn
// straight onto the overlay surface. Poll always returns nil.
type ThumbnailEngine struct {
	compositor Compositor
	prober     window.Prober
	dest       uint32

	ref      window.Ref
	thumb    uint32
	attached bool
	srcW     int
	srcH     int

	log *zerolog.Logger
}

// NewThumbnailEngine creates an engine drawing onto the dest surface.
func NewThumbnailEngine(c Compositor, p window.Prober, dest uint32) *ThumbnailEngine {
	return &ThumbnailEngine{
		compositor: c,
		prober:     p,
		dest:       dest,
		log:        logger.WithComponent("thumbnail-engine"),
	}
}

// Kind implements Engine.
func (e *ThumbnailEngine) Kind() Kind { return KindThumbnail }

// Attach implements Engine.
func (e *ThumbnailEngine) Attach(ref window.Ref) (Handle, error) {
	if e.attached {
		e.Detach()
	}
	if err := validateSource(e.prober, ref); err != nil {
		return 0, err
	}

	thumb, err := e.compositor.Register(e.dest, ref.ID)
	if err != nil {
		return 0, fmt.Errorf("register thumbnail for %#x: %w", ref.ID, classify(err))
	}
	w, h, err := e.compositor.SourceSize(thumb)
	if err != nil {
		if uerr := e.compositor.Unregister(thumb); uerr != nil {
			e.log.Debug().Err(uerr).Msg("Unregister after failed size query")
		}
		return 0, fmt.Errorf("query thumbnail source size: %w", classify(err))
	}

	e.ref = ref
	e.thumb = thumb
	e.srcW, e.srcH = w, h
	e.attached = true

	e.log.Debug().
		Uint32("window_id", ref.ID).
		Uint32("thumbnail", thumb).
		Int("width", w).
		Int("height", h).
		Msg("Thumbnail registered")
	return Handle(thumb), nil
}

// NativeSize implements Engine. The size is re-queried so a source that was
// resized since Attach reports its new extent.
func (e *ThumbnailEngine) NativeSize() (int, int) {
	if !e.attached {
		return 0, 0
	}
	if w, h, err := e.compositor.SourceSize(e.thumb); err == nil && w > 0 && h > 0 {
		e.srcW, e.srcH = w, h
	}
	return e.srcW, e.srcH
}

// UpdateView implements Engine.
func (e *ThumbnailEngine) UpdateView(v view.State) error {
	if !e.attached {
		return fmt.Errorf("thumbnail not registered: %w", ErrDeviceLost)
	}
	props := ThumbnailProps{
		Dest:    v.ContentRect(),
		Source:  v.Crop,
		Opacity: v.Opacity,
		Visible: true,
	}
	if err := e.compositor.Update(e.thumb, props); err != nil {
		return fmt.Errorf("update thumbnail %d: %w", e.thumb, classify(err))
	}
	return nil
}

// Poll implements Engine. The compositor draws the thumbnail itself.
func (e *ThumbnailEngine) Poll() *Frame { return nil }

// Detach implements Engine.
func (e *ThumbnailEngine) Detach() {
	if !e.attached {
		return
	}
	if err := e.compositor.Unregister(e.thumb); err != nil {
		// The source may already be gone; the registration is dead either way.
		e.log.Debug().Err(err).Uint32("thumbnail", e.thumb).Msg("Unregister failed")
	}
	e.attached = false
	e.thumb = 0
	e.ref = window.Ref{}
}
