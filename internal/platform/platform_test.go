package platform

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
)

func TestCropTransform(t *testing.T) {
	crop := image.Rect(100, 50, 1100, 550)
	got := cropTransform(crop, image.Pt(500, 250))

	want := render.Transform{
		Matrix11: 2 << 16, Matrix13: 100 << 16,
		Matrix22: 2 << 16, Matrix23: 50 << 16,
		Matrix33: 1 << 16,
	}
	if got != want {
		t.Fatalf("unexpected transform %+v", got)
	}
}

func TestToFixedFraction(t *testing.T) {
	if got := toFixed(0.5); got != 1<<15 {
		t.Errorf("toFixed(0.5) = %d", got)
	}
	if got := toFixed(-1); got != -(1 << 16) {
		t.Errorf("toFixed(-1) = %d", got)
	}
}

func TestAlpha16(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-1, 0},
		{0, 0},
		{1, 0xffff},
		{2, 0xffff},
		{0.5, 0x7fff},
	}
	for _, tt := range tests {
		if got := alpha16(tt.in); got != tt.want {
			t.Errorf("alpha16(%v) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestRowBytes(t *testing.T) {
	formats := []xproto.Format{
		{Depth: 1, BitsPerPixel: 1, ScanlinePad: 32},
		{Depth: 16, BitsPerPixel: 16, ScanlinePad: 32},
		{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32},
		{Depth: 32, BitsPerPixel: 32, ScanlinePad: 32},
	}

	if got := rowBytes(formats, 24, 641); got != 641*4 {
		t.Errorf("depth 24: got %d", got)
	}
	if got := rowBytes(formats, 32, 10); got != 40 {
		t.Errorf("depth 32: got %d", got)
	}
	if got := rowBytes(formats, 16, 10); got != -1 {
		t.Errorf("depth 16 should be rejected, got %d", got)
	}
	if got := rowBytes(formats, 8, 10); got != -1 {
		t.Errorf("unknown depth should be rejected, got %d", got)
	}
}

func TestRowBytesFeedsConverter(t *testing.T) {
	formats := []xproto.Format{{Depth: 16, BitsPerPixel: 16, ScanlinePad: 32}}
	raw := &capture.RawFrame{Width: 4, Height: 2, Stride: rowBytes(formats, 16, 4), Data: make([]byte, 16)}
	if _, err := capture.FromBGRA(raw); !errors.Is(err, capture.ErrConversionFailed) {
		t.Fatalf("expected conversion failure, got %v", err)
	}
}

func TestRowsPerRequest(t *testing.T) {
	if got := rowsPerRequest(640*4, 262140); got != (262140-24)/(640*4) {
		t.Errorf("unexpected row count %d", got)
	}
	if got := rowsPerRequest(1<<20, 262140); got != 1 {
		t.Errorf("oversized rows should still send one at a time, got %d", got)
	}
}

func TestToBGRA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 200})
	img.SetRGBA(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})

	got := toBGRA(img, true)
	want := []byte{30, 20, 10, 200, 3, 2, 1, 4}
	if string(got) != string(want) {
		t.Errorf("with alpha: got %v, want %v", got, want)
	}

	got = toBGRA(img, false)
	if got[3] != 0 || got[7] != 0 {
		t.Errorf("padding byte should be zero without alpha: %v", got)
	}
}

func TestModifiers(t *testing.T) {
	got := modifiers(xproto.ModMaskControl | xproto.ModMask1 | xproto.ButtonMask1)
	if got != overlay.ModCtrl|overlay.ModAlt {
		t.Errorf("unexpected modifiers %b", got)
	}
	if modifiers(xproto.ModMaskShift) != overlay.ModShift {
		t.Error("shift not mapped")
	}
}

func TestKeymapDecoding(t *testing.T) {
	// Two keysyms per keycode starting at 8: x, Z, 1, a.
	syms := []xproto.Keysym{'x', 'X', 'Z', 'z', '1', '!', 'a', 'A'}
	letters := letterKeycodes(8, 2, syms)

	if len(letters) != 3 || letters[8] != 'x' || letters[9] != 'z' || letters[11] != 'a' {
		t.Fatalf("unexpected letter map %v", letters)
	}

	bits := make([]byte, 32)
	bits[1] = 1<<0 | 1<<2 | 1<<3 // keycodes 8, 10, 11
	if got := decodeKeymap(bits, letters); got != "xa" {
		t.Errorf("expected held letters \"xa\", got %q", got)
	}
}

func TestParseClass(t *testing.T) {
	if got := parseClass([]byte("navigator\x00Firefox\x00")); got != "Firefox" {
		t.Errorf("got %q", got)
	}
	if got := parseClass([]byte("xterm")); got != "xterm" {
		t.Errorf("got %q", got)
	}
}

func TestProcessName(t *testing.T) {
	dir := t.TempDir()
	old := procRoot
	procRoot = dir
	t.Cleanup(func() { procRoot = old })

	if err := os.MkdirAll(filepath.Join(dir, "42"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "42", "comm"), []byte("mpv\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := processName(42)
	if err != nil || name != "mpv" {
		t.Fatalf("processName(42) = %q, %v", name, err)
	}
	if _, err := processName(43); err == nil {
		t.Error("expected error for missing process")
	}
	if _, err := processName(0); err == nil {
		t.Error("expected error for pid 0")
	}
}

func TestClassify(t *testing.T) {
	if err := classify(xproto.WindowError{}); !errors.Is(err, capture.ErrInvalidSource) {
		t.Errorf("window error: got %v", err)
	}
	if err := classify(xproto.MatchError{}); !errors.Is(err, capture.ErrInvalidSource) {
		t.Errorf("match error: got %v", err)
	}
	if err := classify(xproto.AllocError{}); !errors.Is(err, capture.ErrDeviceLost) {
		t.Errorf("alloc error: got %v", err)
	}
	if classify(nil) != nil {
		t.Error("nil should stay nil")
	}
}
