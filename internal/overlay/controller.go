package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// ErrClosed is returned by calls made after the overlay shut down.
var ErrClosed = errors.New("overlay closed")

// Deps are the collaborators a Controller drives.
type Deps struct {
	Engine   capture.Engine
	Surface  Surface
	Prober   window.Prober
	Lister   window.Lister
	Selector Selector
	Store    Store
	Settings Settings
}

// gestureState is either idle or dragging.
type gestureState interface {
	isGesture()
}

type idle struct{}

// dragging holds everything a gesture is computed from. Every move is
// applied to startView with the cumulative delta from startPointer.
type dragging struct {
	mode         view.Mode
	startPointer image.Point
	startView    view.State
}

func (idle) isGesture()     {}
func (dragging) isGesture() {}

// Controller owns the view state of one overlay. All state is confined to
// the goroutine running Run; other goroutines talk to it through Dispatch
// and the command methods.
type Controller struct {
	engine   capture.Engine
	surface  Surface
	prober   window.Prober
	lister   window.Lister
	selector Selector
	store    Store
	settings Settings

	events   chan PointerEvent
	commands chan func()
	done     chan struct{}
	runOnce  sync.Once

	source    window.Ref
	view      view.State
	srcW      int
	srcH      int
	gesture   gestureState
	suspended bool
	failures  int
	selecting bool
	closed    bool

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}

	log *zerolog.Logger
}

// New creates a controller. Lister and Selector may be nil, which disables
// interactive re-selection.
func New(deps Deps) (*Controller, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("overlay: engine is required")
	case deps.Surface == nil:
		return nil, fmt.Errorf("overlay: surface is required")
	case deps.Prober == nil:
		return nil, fmt.Errorf("overlay: prober is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("overlay: store is required")
	}
	return &Controller{
		engine:   deps.Engine,
		surface:  deps.Surface,
		prober:   deps.Prober,
		lister:   deps.Lister,
		selector: deps.Selector,
		store:    deps.Store,
		settings: deps.Settings.withDefaults(),
		events:   make(chan PointerEvent, 64),
		commands: make(chan func(), 8),
		done:     make(chan struct{}),
		gesture:  idle{},
		subs:     make(map[chan Snapshot]struct{}),
		log:      logger.WithComponent("controller"),
	}, nil
}

// Attach mirrors ref, restoring its persisted view if one exists. It must
// be called before Run; afterwards use SelectSource.
func (c *Controller) Attach(ref window.Ref) error {
	return c.attach(ref, false)
}

// Run processes pointer events, commands and the periodic liveness, topmost
// and frame presentation ticks until ctx is cancelled or the overlay is
// closed. The view is persisted on the way out.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("overlay: controller already ran")
	}
	defer close(c.done)

	liveness := time.NewTicker(c.settings.LivenessInterval)
	defer liveness.Stop()
	topmost := time.NewTicker(c.settings.TopmostInterval)
	defer topmost.Stop()

	var render <-chan time.Time
	if c.engine.Kind() == capture.KindFrame {
		t := time.NewTicker(c.settings.FrameInterval)
		defer t.Stop()
		render = t.C
	}

	c.log.Info().
		Str("source", c.source.Label()).
		Str("engine", string(c.engine.Kind())).
		Msg("Overlay running")

	for !c.closed {
		select {
		case <-ctx.Done():
			c.close()
		case ev := <-c.events:
			c.handlePointer(ctx, ev)
		case fn := <-c.commands:
			fn()
		case <-liveness.C:
			c.checkLiveness()
		case <-topmost.C:
			c.raise()
		case <-render:
			c.present()
		}
	}
	return nil
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Dispatch hands a pointer event to the controller. It blocks while the
// event queue is full and drops the event once the controller has stopped.
func (c *Controller) Dispatch(ev PointerEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Snapshot returns the current overlay state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() { s = c.snapshot() })
	return s, err
}

// SelectSource switches the overlay to ref, as a confirmed re-selection does.
func (c *Controller) SelectSource(ctx context.Context, ref window.Ref) error {
	var err error
	if derr := c.do(ctx, func() { err = c.switchSource(ref) }); derr != nil {
		return derr
	}
	return err
}

// ResetCrop shows the whole source again.
func (c *Controller) ResetCrop(ctx context.Context) error {
	return c.do(ctx, c.resetCrop)
}

// Close persists the view, releases the source and closes the surface.
func (c *Controller) Close(ctx context.Context) error {
	err := c.do(ctx, c.close)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Subscribe returns a channel receiving a snapshot after every state
// change. Slow subscribers miss updates rather than stall the overlay.
func (c *Controller) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 16)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (c *Controller) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

// do runs fn on the controller goroutine and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.commands <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn for the controller goroutine without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

func (c *Controller) snapshot() Snapshot {
	mode := view.ModeNone
	if d, ok := c.gesture.(dragging); ok {
		mode = d.mode
	}
	return Snapshot{
		Source:    c.source,
		View:      c.view,
		Mode:      mode.String(),
		Engine:    c.engine.Kind(),
		Suspended: c.suspended,
		Failures:  c.failures,
		SourceW:   c.srcW,
		SourceH:   c.srcH,
		Selecting: c.selecting,
		Closed:    c.closed,
	}
}

func (c *Controller) notify() {
	s := c.snapshot()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// attach registers ref and loads its view. With keepView the current view
// stands in for a missing persisted record; otherwise the defaults do.
func (c *Controller) attach(ref window.Ref, keepView bool) error {
	if _, err := c.engine.Attach(ref); err != nil {
		return fmt.Errorf("attach %s: %w", ref.Label(), err)
	}

	w, h := c.engine.NativeSize()
	if w <= 0 || h <= 0 {
		if pw, ph, err := c.prober.ClientSize(ref.ID); err == nil {
			w, h = pw, ph
		}
	}

	fallback := view.Default(w, h)
	if keepView {
		fallback = c.view
	}
	next := fallback.Normalize(w, h)
	if rec, ok := c.store.Load(ref.Title, ref.Exe); ok {
		next = rec.Resolve(w, h, fallback)
	}

	c.source = ref
	c.srcW, c.srcH = w, h
	c.view = next
	c.gesture = idle{}
	c.suspended = false
	c.failures = 0

	c.surface.SetLabel(ref.Label())
	c.log.Info().
		Uint32("window_id", ref.ID).
		Str("source", ref.Label()).
		Int("width", w).
		Int("height", h).
		Stringer("view", c.view).
		Msg("Attached source")

	c.apply()
	return nil
}

// apply pushes the view to the surface and the engine.
func (c *Controller) apply() {
	if err := c.surface.Apply(c.view); err != nil {
		c.log.Debug().Err(err).Msg("Surface update failed")
	}
	if !c.suspended {
		if err := c.engine.UpdateView(c.view); err != nil {
			c.recover(err)
		}
	}
	c.notify()
}

// recover re-registers the source after the engine reported its resource
// invalid. Repeated failures leave the overlay frozen and are counted.
func (c *Controller) recover(cause error) {
	if !errors.Is(cause, capture.ErrInvalidSource) && !errors.Is(cause, capture.ErrDeviceLost) {
		c.log.Debug().Err(cause).Msg("View update failed")
		return
	}
	if err := c.reregister(); err != nil {
		c.failures++
		ev := c.log.Debug()
		if c.failures == 1 || c.failures%100 == 0 {
			ev = c.log.Warn()
		}
		ev.Err(err).Int("failures", c.failures).Msg("Re-registering source failed")
		return
	}
	c.log.Debug().Err(cause).Msg("Re-registered source")
	c.failures = 0
}

func (c *Controller) reregister() error {
	c.engine.Detach()
	if _, err := c.engine.Attach(c.source); err != nil {
		return err
	}
	if w, h := c.engine.NativeSize(); w > 0 && h > 0 && (w != c.srcW || h != c.srcH) {
		c.srcW, c.srcH = w, h
		c.view = c.view.Normalize(w, h)
	}
	return c.engine.UpdateView(c.view)
}

// checkLiveness is the liveness tick.
func (c *Controller) checkLiveness() {
	if c.source.IsZero() {
		return
	}

	status := c.prober.Probe(c.source.ID)
	if status != window.StatusAlive {
		if !c.suspended {
			c.suspended = true
			c.log.Info().
				Str("source", c.source.Label()).
				Stringer("status", status).
				Msg("Source unavailable, suspending updates")
			c.notify()
		}
		return
	}

	if c.suspended {
		c.suspended = false
		c.log.Info().Str("source", c.source.Label()).Msg("Source available again, re-registering")
		if err := c.reregister(); err != nil {
			c.failures++
			c.log.Warn().Err(err).Int("failures", c.failures).Msg("Re-registering source failed")
		} else {
			c.failures = 0
		}
		if err := c.surface.Apply(c.view); err != nil {
			c.log.Debug().Err(err).Msg("Surface update failed")
		}
		c.notify()
		return
	}

	if err := c.engine.UpdateView(c.view); err != nil {
		before := c.failures
		c.recover(err)
		if c.failures != before {
			c.notify()
		}
	}
}

func (c *Controller) raise() {
	if err := c.surface.Raise(); err != nil {
		c.log.Debug().Err(err).Msg("Raise failed")
	}
}

// present shows the newest captured frame, if any.
func (c *Controller) present() {
	if c.suspended {
		return
	}
	f := c.engine.Poll()
	if f == nil {
		return
	}
	if err := c.surface.Present(f, c.view); err != nil {
		c.log.Debug().Err(err).Msg("Present failed")
	}
}

func (c *Controller) resetCrop() {
	c.view.Crop = view.FullCrop(c.srcW, c.srcH)
	c.log.Info().Stringer("crop", c.view.Crop).Msg("Crop reset")
	c.apply()
}

// persist saves the view under the current source identity.
func (c *Controller) persist() {
	if c.source.IsZero() {
		return
	}
	if err := c.store.Save(config.RecordFromView(c.view), c.source.Title, c.source.Exe); err != nil {
		c.log.Warn().Err(err).Str("source", c.source.Label()).Msg("Failed to save view")
	}
}

// switchSource moves the overlay to ref. The old registration is released
// before the new one is made; if the new source cannot be attached the old
// one is restored.
func (c *Controller) switchSource(ref window.Ref) error {
	if c.closed {
		return ErrClosed
	}
	old := c.source
	c.persist()
	c.engine.Detach()

	err := c.attach(ref, true)
	if err == nil {
		return nil
	}
	c.log.Warn().Err(err).Str("source", ref.Label()).Msg("Could not attach new source")

	if !old.IsZero() {
		if rerr := c.attach(old, true); rerr != nil {
			c.suspended = true
			c.log.Warn().Err(rerr).Str("source", old.Label()).Msg("Could not restore previous source")
			c.notify()
		}
	}
	return err
}

func (c *Controller) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.gesture = idle{}
	c.persist()
	c.engine.Detach()
	if err := c.surface.Close(); err != nil {
		c.log.Debug().Err(err).Msg("Surface close failed")
	}
	c.log.Info().Str("source", c.source.Label()).Msg("Overlay closed")
	c.notify()
}
