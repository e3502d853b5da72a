package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// Failure taxonomy for acquisition engines. Platform errors are wrapped
// around one of these so callers can classify with errors.Is.
var (
	// ErrInvalidSource means the source handle is stale, closed or not drawable.
	ErrInvalidSource = errors.New("invalid source window")
	// ErrDeviceLost means the compositor link or capture device went away.
	ErrDeviceLost = errors.New("capture device lost")
	// ErrConversionFailed means a captured frame could not be decoded.
	ErrConversionFailed = errors.New("frame conversion failed")
)

// Handle identifies the live resource an engine registered for a source.
type Handle uint32

// Kind selects an acquisition strategy.
type Kind string

const (
	// KindThumbnail lets the compositor mirror the source with no pixel transfer.
	KindThumbnail Kind = "thumbnail"
	// KindFrame pulls frames into process memory on a worker goroutine.
	KindFrame Kind = "frame"
)

// ParseKind accepts the names used in config files and flags.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "thumbnail", "compositor":
		return KindThumbnail, nil
	case "frame", "capture":
		return KindFrame, nil
	default:
		return "", fmt.Errorf("unknown engine %q (use 'thumbnail' or 'frame')", s)
	}
}

// Engine turns a source window into something the overlay can display.
type Engine interface {
	// Attach validates the source and registers the backing resource.
	// Attaching an already attached engine releases the old resource first.
	Attach(ref window.Ref) (Handle, error)

	// NativeSize returns the source's current client-area size.
	NativeSize() (int, int)

	// UpdateView pushes destination rect, crop and opacity to the backing
	// resource. Errors wrap ErrInvalidSource or ErrDeviceLost.
	UpdateView(v view.State) error

	// Poll returns the newest undelivered frame, already cropped for
	// presentation, or nil. It never blocks.
	Poll() *Frame

	// Detach releases the backing resource. Safe to call repeatedly and
	// after the source vanished.
	Detach()

	// Kind reports which strategy this engine implements.
	Kind() Kind
}

// Deps is the platform context injected into engines.
type Deps struct {
	Prober     window.Prober
	Compositor Compositor
	Device     Device

	// Surface is the destination drawable for compositor thumbnails.
	Surface uint32

	// FrameInterval is the worker's pull cadence; FrameWait bounds each pull.
	FrameInterval time.Duration
	FrameWait     time.Duration
}

// New builds the engine for kind.
func New(kind Kind, deps Deps) (Engine, error) {
	if deps.Prober == nil {
		return nil, fmt.Errorf("capture: prober is required")
	}
	switch kind {
	case KindThumbnail:
		if deps.Compositor == nil {
			return nil, fmt.Errorf("capture: thumbnail engine needs a compositor")
		}
		return NewThumbnailEngine(deps.Compositor, deps.Prober, deps.Surface), nil
	case KindFrame:
		if deps.Device == nil {
			return nil, fmt.Errorf("capture: frame engine needs a capture device")
		}
		return NewFrameEngine(deps.Device, deps.Prober, deps.FrameInterval, deps.FrameWait), nil
	default:
		return nil, fmt.Errorf("capture: unknown engine kind %q", kind)
	}
}

// validateSource rejects sources that are gone or not currently drawn.
func validateSource(prober window.Prober, ref window.Ref) error {
	switch status := prober.Probe(ref.ID); status {
	case window.StatusAlive:
		return nil
	default:
		return fmt.Errorf("window %#x is %s: %w", ref.ID, status, ErrInvalidSource)
	}
}

// classify maps an arbitrary platform error onto the taxonomy. Unknown
// failures count as a lost device so the liveness loop re-registers.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidSource) || errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrConversionFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceLost, err)
}
