package overlay

import (
	"context"
	"errors"

	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

func (c *Controller) handlePointer(ctx context.Context, ev PointerEvent) {
	switch ev.Kind {
	case Press:
		c.press(ctx, ev)
	case Move:
		d, ok := c.gesture.(dragging)
		if !ok {
			return
		}
		next := view.ApplyGesture(d.mode, d.startView, ev.Root.Sub(d.startPointer), c.srcW, c.srcH)
		if next == c.view {
			return
		}
		c.view = next
		c.apply()
	case Release:
		if d, ok := c.gesture.(dragging); ok {
			c.gesture = idle{}
			c.log.Debug().Stringer("mode", d.mode).Stringer("view", c.view).Msg("Gesture finished")
			c.notify()
		}
	}
}

// press handles a button press. Chords are single-shot and take priority
// over starting a drag.
func (c *Controller) press(ctx context.Context, ev PointerEvent) {
	if _, busy := c.gesture.(dragging); busy {
		return
	}
	if !c.surface.HitTest(ev.Local) {
		return
	}
	if c.chord(ctx, ev) {
		return
	}

	mode := c.modeFor(ev)
	c.gesture = dragging{
		mode:         mode,
		startPointer: ev.Root,
		startView:    c.view,
	}
	c.log.Debug().Stringer("mode", mode).Msg("Gesture started")
	c.notify()
}

func (c *Controller) chord(ctx context.Context, ev PointerEvent) bool {
	keys := c.settings.Keys
	switch {
	case ev.Holding(keys.Help):
		c.showHelp()
	case ev.Holding(keys.Reselect):
		c.beginReselect(ctx)
	case ev.Holding(keys.Reset):
		c.resetCrop()
	case ev.Holding(keys.Close):
		c.close()
	default:
		return false
	}
	return true
}

// modeFor reads the gesture mode once, at press time.
func (c *Controller) modeFor(ev PointerEvent) view.Mode {
	switch {
	case ev.Mods&ModCtrl != 0:
		return view.ModeResize
	case ev.Mods&ModAlt != 0:
		return view.ModeTrim
	case ev.Holding(c.settings.Keys.Opacity):
		return view.ModeOpacity
	default:
		return view.ModeMove
	}
}

func (c *Controller) showHelp() {
	text := HelpText(c.settings.Keys)
	c.surface.ShowHelp(text)
	c.log.Info().Msg("Help requested")
}

// beginReselect saves the current view and runs the selector on its own
// goroutine so the overlay keeps handling events meanwhile.
func (c *Controller) beginReselect(ctx context.Context) {
	if c.selecting {
		return
	}
	if c.lister == nil || c.selector == nil {
		c.log.Warn().Msg("Window re-selection is not available")
		return
	}
	c.persist()

	candidates, err := c.lister.ListCandidates()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list windows")
		return
	}
	if len(candidates) == 0 {
		c.log.Warn().Msg("No windows to choose from")
		return
	}

	c.selecting = true
	c.notify()
	go func() {
		ref, err := c.selector.Choose(ctx, candidates)
		c.post(func() { c.finishReselect(ref, err) })
	}()
}

func (c *Controller) finishReselect(ref window.Ref, err error) {
	c.selecting = false
	defer c.notify()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Info().Err(err).Msg("Window re-selection cancelled")
		return
	}
	if c.closed {
		return
	}
	if err := c.switchSource(ref); err != nil {
		c.log.Warn().Err(err).Msg("Window re-selection failed")
	}
}
