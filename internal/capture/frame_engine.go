package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

const (
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultFrameWait     = 16 * time.Millisecond
)

// FrameStats counts what the capture worker did.
type FrameStats struct {
	Delivered    uint64 `json:"delivered"`
	Overwritten  uint64 `json:"overwritten"`
	Placeholders uint64 `json:"placeholders"`
	Discarded    uint64 `json:"discarded"`
}

// FrameEngine pulls frames on a worker goroutine and hands the newest one to
// the presentation goroutine through a Slot. Only the slot and the lost
// error cross goroutines.
type FrameEngine struct {
	device   Device
	prober   window.Prober
	interval time.Duration
	wait     time.Duration

	slot Slot
	lost atomic.Pointer[error]

	delivered    atomic.Uint64
	overwritten  atomic.Uint64
	placeholders atomic.Uint64
	discarded    atomic.Uint64

	// Owned by the presentation goroutine.
	ref    window.Ref
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
	view   view.State
	srcW   int
	srcH   int

	log *zerolog.Logger
}

// NewFrameEngine creates a frame engine. Zero durations use the defaults.
func NewFrameEngine(d Device, p window.Prober, interval, wait time.Duration) *FrameEngine {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if wait <= 0 {
		wait = DefaultFrameWait
	}
	return &FrameEngine{
		device:   d,
		prober:   p,
		interval: interval,
		wait:     wait,
		log:      logger.WithComponent("frame-engine"),
	}
}

// Kind implements Engine.
func (e *FrameEngine) Kind() Kind { return KindFrame }

// Attach implements Engine. It opens a stream and starts the worker.
func (e *FrameEngine) Attach(ref window.Ref) (Handle, error) {
	if e.stream != nil {
		e.Detach()
	}
	if err := validateSource(e.prober, ref); err != nil {
		return 0, err
	}

	stream, err := e.device.Open(ref.ID)
	if err != nil {
		return 0, fmt.Errorf("open capture stream for %#x: %w", ref.ID, classify(err))
	}
	w, h, err := stream.Size()
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			e.log.Debug().Err(cerr).Msg("Close after failed size query")
		}
		return 0, fmt.Errorf("query stream size: %w", classify(err))
	}

	e.lost.Store(nil)
	e.slot.Take()

	ctx, cancel := context.WithCancel(context.Background())
	e.ref = ref
	e.stream = stream
	e.cancel = cancel
	e.done = make(chan struct{})
	e.srcW, e.srcH = w, h

	go e.run(ctx, stream, e.done)

	e.log.Debug().
		Uint32("window_id", ref.ID).
		Int("width", w).
		Int("height", h).
		Dur("interval", e.interval).
		Msg("Capture worker started")
	return Handle(ref.ID), nil
}

// NativeSize implements Engine.
func (e *FrameEngine) NativeSize() (int, int) {
	if e.stream == nil {
		return 0, 0
	}
	if w, h, err := e.stream.Size(); err == nil && w > 0 && h > 0 {
		e.srcW, e.srcH = w, h
	} else if w, h, err := e.prober.ClientSize(e.ref.ID); err == nil && w > 0 && h > 0 {
		e.srcW, e.srcH = w, h
	}
	return e.srcW, e.srcH
}

// UpdateView implements Engine. Only the crop is used, at presentation time;
// placement and opacity belong to the surface. A failure recorded by the
// worker is reported here so the liveness loop can recover.
func (e *FrameEngine) UpdateView(v view.State) error {
	if e.stream == nil {
		return fmt.Errorf("capture stream not open: %w", ErrDeviceLost)
	}
	e.view = v
	if p := e.lost.Load(); p != nil {
		return *p
	}
	return nil
}

// Poll implements Engine.
func (e *FrameEngine) Poll() *Frame {
	if e.stream == nil {
		return nil
	}
	f := e.slot.Take()
	if f == nil {
		return nil
	}
	return f.Crop(e.view.Crop)
}

// Detach implements Engine. It stops the worker and waits for it before
// closing the stream, so no frame is published after Detach returns.
func (e *FrameEngine) Detach() {
	if e.stream == nil {
		return
	}
	e.cancel()
	<-e.done

	if err := e.stream.Close(); err != nil {
		e.log.Debug().Err(err).Uint32("window_id", e.ref.ID).Msg("Stream close failed")
	}
	e.slot.Take()
	e.lost.Store(nil)
	e.stream = nil
	e.cancel = nil
	e.done = nil
	e.ref = window.Ref{}
}

// Stats returns the worker counters.
func (e *FrameEngine) Stats() FrameStats {
	return FrameStats{
		Delivered:    e.delivered.Load(),
		Overwritten:  e.overwritten.Load(),
		Placeholders: e.placeholders.Load(),
		Discarded:    e.discarded.Load(),
	}
}

func (e *FrameEngine) run(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.pull(ctx, stream) {
				return
			}
		}
	}
}

// pull fetches at most one frame. It returns false once the stream has
// failed and the worker should stop.
func (e *FrameEngine) pull(ctx context.Context, stream Stream) bool {
	waitCtx, cancel := context.WithTimeout(ctx, e.wait)
	raw, err := stream.Next(waitCtx)
	cancel()

	if ctx.Err() != nil {
		if raw != nil {
			e.discarded.Add(1)
		}
		return false
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		lost := classify(err)
		e.lost.Store(&lost)
		e.log.Warn().Err(err).Msg("Capture stream failed")
		return false
	}
	if raw == nil {
		return true
	}

	frame, err := FromBGRA(raw)
	if err != nil {
		e.log.Debug().Err(err).Msg("Frame conversion failed, showing placeholder")
		frame = Blank(PlaceholderSize, PlaceholderSize)
		e.placeholders.Add(1)
	}

	if ctx.Err() != nil {
		e.discarded.Add(1)
		return false
	}
	if e.slot.Store(frame) {
		e.overwritten.Add(1)
	}
	e.delivered.Add(1)
	return true
}
