package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

type fakeOverlay struct {
	mu       sync.Mutex
	snap     overlay.Snapshot
	selected []window.Ref
	resets   int
	err      error
	subs     chan chan overlay.Snapshot
	done     chan struct{}
}

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{
		snap: overlay.Snapshot{Source: window.Ref{ID: 1, Exe: "mpv", Title: "movie"}, Engine: capture.KindThumbnail},
		subs: make(chan chan overlay.Snapshot, 4),
		done: make(chan struct{}),
	}
}

func (f *fakeOverlay) Snapshot(ctx context.Context) (overlay.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeOverlay) SelectSource(ctx context.Context, ref window.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.selected = append(f.selected, ref)
	return nil
}

func (f *fakeOverlay) ResetCrop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.err
}

func (f *fakeOverlay) Subscribe() chan overlay.Snapshot {
	ch := make(chan overlay.Snapshot, 4)
	f.subs <- ch
	return ch
}

func (f *fakeOverlay) Unsubscribe(ch chan overlay.Snapshot) {}

func (f *fakeOverlay) Done() <-chan struct{} { return f.done }

type fakeLister struct {
	candidates []window.Candidate
	err        error
}

func (l fakeLister) ListCandidates() ([]window.Candidate, error) {
	return l.candidates, l.err
}

func newTestServer(ov *fakeOverlay) *Server {
	lister := fakeLister{candidates: []window.Candidate{
		{Ref: window.Ref{ID: 7, Exe: "code", Title: "main.go"}, Width: 1600, Height: 1000, Status: window.StatusAlive, TopLevel: true},
	}}
	return NewServer(ov, lister, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(newFakeOverlay()), "GET", "/api/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body)
	}
}

func TestGetOverlay(t *testing.T) {
	rec := do(t, newTestServer(newFakeOverlay()), "GET", "/api/overlay", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var snap overlay.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Source.Exe != "mpv" || snap.Engine != capture.KindThumbnail {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestGetOverlayAfterClose(t *testing.T) {
	ov := newFakeOverlay()
	ov.err = overlay.ErrClosed
	rec := do(t, newTestServer(ov), "GET", "/api/overlay", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestListWindows(t *testing.T) {
	rec := do(t, newTestServer(newFakeOverlay()), "GET", "/api/windows", "")
	var got []window.Candidate
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Ref.ID != 7 {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestSelectSource(t *testing.T) {
	ov := newFakeOverlay()
	s := newTestServer(ov)

	rec := do(t, s, "POST", "/api/overlay/source", `{"id":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if len(ov.selected) != 1 || ov.selected[0].Title != "main.go" {
		t.Fatalf("expected resolved ref, got %+v", ov.selected)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"id":99}`, http.StatusNotFound},
		{`{}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(t, s, "POST", "/api/overlay/source", tt.body); rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.want, rec.Code)
		}
	}
}

func TestSelectSourceInvalidWindow(t *testing.T) {
	ov := newFakeOverlay()
	ov.err = fmt.Errorf("attach: %w", capture.ErrInvalidSource)
	rec := do(t, newTestServer(ov), "POST", "/api/overlay/source", `{"id":7}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestResetCrop(t *testing.T) {
	ov := newFakeOverlay()
	rec := do(t, newTestServer(ov), "POST", "/api/overlay/reset-crop", "")
	if rec.Code != http.StatusOK || ov.resets != 1 {
		t.Fatalf("expected one reset, got %d (status %d)", ov.resets, rec.Code)
	}
	if rec := do(t, newTestServer(ov), "GET", "/api/overlay/reset-crop", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET should not be routed, got %d", rec.Code)
	}
}

func TestMethodMismatchAndUnknownRoute(t *testing.T) {
	srv := newTestServer(newFakeOverlay())
	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/overlay/source", http.StatusMethodNotAllowed},
		{"POST", "/api/health", http.StatusMethodNotAllowed},
		{"DELETE", "/api/overlay", http.StatusMethodNotAllowed},
		{"GET", "/api/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, srv, tt.method, tt.path, ""); rec.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}

func TestConfigWithoutManager(t *testing.T) {
	if rec := do(t, newTestServer(newFakeOverlay()), "GET", "/api/config", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOverlayStream(t *testing.T) {
	ov := newFakeOverlay()
	srv := httptest.NewServer(newTestServer(ov).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/overlay/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first overlay.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Source.ID != 1 {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	sub := <-ov.subs
	sub <- overlay.Snapshot{Source: window.Ref{ID: 2}, Suspended: true}

	var next overlay.Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Source.ID != 2 || !next.Suspended {
		t.Fatalf("unexpected update %+v", next)
	}
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8787", true},
		{"http://[::1]:8787", true},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/overlay/stream", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := isLocalOrigin(req); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
