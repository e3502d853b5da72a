package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

type fakeProber struct {
	mu     sync.Mutex
	status map[uint32]window.Status
	size   [2]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{status: map[uint32]window.Status{}, size: [2]int{1920, 1080}}
}

func (p *fakeProber) set(id uint32, s window.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id] = s
}

func (p *fakeProber) Probe(id uint32) window.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status[id]
}

func (p *fakeProber) ClientSize(id uint32) (int, int, error) {
	if p.Probe(id) == window.StatusGone {
		return 0, 0, ErrInvalidSource
	}
	return p.size[0], p.size[1], nil
}

type fakeCompositor struct {
	next      uint32
	live      map[uint32]uint32
	maxLive   int
	last      ThumbnailProps
	updateErr error
	w, h      int
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{live: map[uint32]uint32{}, w: 1920, h: 1080}
}

func (c *fakeCompositor) Register(dest, src uint32) (uint32, error) {
	c.next++
	c.live[c.next] = src
	c.maxLive = max(c.maxLive, len(c.live))
	return c.next, nil
}

func (c *fakeCompositor) SourceSize(thumb uint32) (int, int, error) {
	if _, ok := c.live[thumb]; !ok {
		return 0, 0, ErrInvalidSource
	}
	return c.w, c.h, nil
}

func (c *fakeCompositor) Update(thumb uint32, props ThumbnailProps) error {
	if c.updateErr != nil {
		return c.updateErr
	}
	c.last = props
	return nil
}

func (c *fakeCompositor) Unregister(thumb uint32) error {
	if _, ok := c.live[thumb]; !ok {
		return errors.New("unknown thumbnail")
	}
	delete(c.live, thumb)
	return nil
}

type fakeStream struct {
	frames chan *RawFrame
	errs   chan error
	closed atomic.Int32
	w, h   int
}

func newFakeStream(w, h int) *fakeStream {
	return &fakeStream{
		frames: make(chan *RawFrame, 8),
		errs:   make(chan error, 1),
		w:      w,
		h:      h,
	}
}

func (s *fakeStream) Next(ctx context.Context) (*RawFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Size() (int, int, error) { return s.w, s.h, nil }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeDevice struct {
	streams []*fakeStream
	w, h    int
}

func (d *fakeDevice) Open(src uint32) (Stream, error) {
	s := newFakeStream(d.w, d.h)
	d.streams = append(d.streams, s)
	return s, nil
}

// solidBGRA builds a BGRA buffer filled with one color.
func solidBGRA(w, h int, b, g, r byte) *RawFrame {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = b, g, r, 0xff
	}
	return &RawFrame{Width: w, Height: h, Stride: w * 4, Data: data}
}

// stalledStream blocks in Next until its context is cancelled and then
// returns a frame anyway, like a conversion that finishes after stop.
type stalledStream struct {
	started chan struct{}
	closed  atomic.Int32
	w, h    int
}

func newStalledStream(w, h int) *stalledStream {
	return &stalledStream{started: make(chan struct{}, 1), w: w, h: h}
}

func (s *stalledStream) Next(ctx context.Context) (*RawFrame, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return solidBGRA(s.w, s.h, 0, 0, 200), nil
}

func (s *stalledStream) Size() (int, int, error) { return s.w, s.h, nil }

func (s *stalledStream) Close() error {
	s.closed.Add(1)
	return nil
}

type stalledDevice struct {
	stream *stalledStream
}

func (d stalledDevice) Open(src uint32) (Stream, error) {
	return d.stream, nil
}
