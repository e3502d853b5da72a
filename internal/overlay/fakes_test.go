package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

type fakeProber struct {
	mu     sync.Mutex
	status map[uint32]window.Status
	sizes  map[uint32]image.Point
}

func newFakeProber() *fakeProber {
	return &fakeProber{status: map[uint32]window.Status{}, sizes: map[uint32]image.Point{}}
}

func (p *fakeProber) add(id uint32, w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id] = window.StatusAlive
	p.sizes[id] = image.Pt(w, h)
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
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sizes[id]
	if !ok {
		return 0, 0, capture.ErrInvalidSource
	}
	return s.X, s.Y, nil
}

// fakeEngine records registrations the way a compositor would see them.
type fakeEngine struct {
	prober    *fakeProber
	kind      capture.Kind
	attached  uint32
	live      int
	maxLive   int
	log       []string
	views     []view.State
	updateErr error
	failNext  map[uint32]error
	frames    []*capture.Frame
}

func newFakeEngine(p *fakeProber) *fakeEngine {
	return &fakeEngine{prober: p, kind: capture.KindThumbnail, failNext: map[uint32]error{}}
}

func (e *fakeEngine) Attach(ref window.Ref) (capture.Handle, error) {
	if e.attached != 0 {
		e.Detach()
	}
	if err, ok := e.failNext[ref.ID]; ok {
		return 0, err
	}
	if e.prober.Probe(ref.ID) != window.StatusAlive {
		return 0, capture.ErrInvalidSource
	}
	e.attached = ref.ID
	e.live++
	e.maxLive = max(e.maxLive, e.live)
	e.log = append(e.log, fmt.Sprintf("attach %d", ref.ID))
	return capture.Handle(ref.ID), nil
}

func (e *fakeEngine) NativeSize() (int, int) {
	if e.attached == 0 {
		return 0, 0
	}
	w, h, _ := e.prober.ClientSize(e.attached)
	return w, h
}

func (e *fakeEngine) UpdateView(v view.State) error {
	if e.attached == 0 {
		return capture.ErrDeviceLost
	}
	if e.updateErr != nil {
		err := e.updateErr
		e.updateErr = nil
		return err
	}
	e.views = append(e.views, v)
	return nil
}

func (e *fakeEngine) Poll() *capture.Frame {
	if len(e.frames) == 0 {
		return nil
	}
	f := e.frames[0]
	e.frames = e.frames[1:]
	return f
}

func (e *fakeEngine) Detach() {
	if e.attached == 0 {
		return
	}
	e.log = append(e.log, fmt.Sprintf("detach %d", e.attached))
	e.attached = 0
	e.live--
}

func (e *fakeEngine) Kind() capture.Kind { return e.kind }

func (e *fakeEngine) lastView() view.State {
	return e.views[len(e.views)-1]
}

type fakeSurface struct {
	applied   []view.State
	presented int
	label     string
	help      string
	raised    int
	closed    bool
}

func (s *fakeSurface) ID() uint32                 { return 99 }
func (s *fakeSurface) Apply(v view.State) error   { s.applied = append(s.applied, v); return nil }
func (s *fakeSurface) HitTest(p image.Point) bool { return p.In(HitZone) }
func (s *fakeSurface) Raise() error               { s.raised++; return nil }
func (s *fakeSurface) SetLabel(label string)      { s.label = label }
func (s *fakeSurface) ShowHelp(text string)       { s.help = text }
func (s *fakeSurface) Close() error               { s.closed = true; return nil }

func (s *fakeSurface) Present(f *capture.Frame, v view.State) error {
	s.presented++
	return nil
}

type fakeLister struct {
	candidates []window.Candidate
}

func (l *fakeLister) ListCandidates() ([]window.Candidate, error) {
	if len(l.candidates) == 0 {
		return nil, errors.New("no windows")
	}
	return l.candidates, nil
}

type fakeSelector struct {
	choice window.Ref
	err    error
}

func (s *fakeSelector) Choose(ctx context.Context, candidates []window.Candidate) (window.Ref, error) {
	return s.choice, s.err
}

type memStore struct {
	records map[string]config.ViewRecord
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]config.ViewRecord{}}
}

func (m *memStore) Load(title, exe string) (config.ViewRecord, bool) {
	if r, ok := m.records["t:"+title]; ok {
		return r, true
	}
	r, ok := m.records["e:"+exe]
	return r, ok
}

func (m *memStore) Save(rec config.ViewRecord, title, exe string) error {
	m.saves++
	m.records["t:"+title] = rec
	m.records["e:"+exe] = rec
	return nil
}
