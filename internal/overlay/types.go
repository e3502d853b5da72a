// Package overlay drives one mirrored-window overlay: the pointer gesture
// state machine, chord commands, the liveness loop that recovers from
// vanished or minimized sources, re-selection and per-window persistence.
package overlay

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/bryanchriswhite/WindowPeek/internal/capture"
	"github.com/bryanchriswhite/WindowPeek/internal/config"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// HitZone is the control square, in overlay-local coordinates. Presses
// anywhere else fall through to the window underneath.
var HitZone = image.Rect(8, 8, 36, 36)

// EventKind distinguishes pointer events.
type EventKind int

const (
	Press EventKind = iota
	Move
	Release
)

func (k EventKind) String() string {
	switch k {
	case Press:
		return "press"
	case Move:
		return "move"
	default:
		return "release"
	}
}

// Modifiers is the set of modifier keys held during a pointer event.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
)

// PointerEvent is a primary-button pointer event delivered to the overlay.
type PointerEvent struct {
	Kind EventKind
	// Root is the pointer position in screen coordinates. Gestures use it
	// because the overlay moves under the pointer while dragging.
	Root image.Point
	// Local is the position relative to the overlay's top-left corner.
	Local image.Point
	Mods  Modifiers
	// Keys holds the lowercase letter keys down at the time of the event.
	Keys string
}

// Holding reports whether key is among the held letter keys.
func (e PointerEvent) Holding(key string) bool {
	return key != "" && strings.Contains(e.Keys, key)
}

// Surface is the on-screen window that shows the mirror.
type Surface interface {
	// ID is the native drawable the compositor renders thumbnails into.
	ID() uint32
	// Apply moves and resizes the surface and redraws its header.
	Apply(v view.State) error
	// Present draws a frame into the content area.
	Present(f *capture.Frame, v view.State) error
	// HitTest reports whether a local point is inside the control hit-zone.
	HitTest(p image.Point) bool
	// Raise restacks the surface above other windows.
	Raise() error
	SetLabel(label string)
	ShowHelp(text string)
	Close() error
}

// Selector asks the user for a source window.
type Selector interface {
	Choose(ctx context.Context, candidates []window.Candidate) (window.Ref, error)
}

// Store persists views per window identity.
type Store interface {
	Load(title, exe string) (config.ViewRecord, bool)
	Save(rec config.ViewRecord, title, exe string) error
}

// Settings are the controller's tunables.
type Settings struct {
	Keys             config.KeyConfig
	LivenessInterval time.Duration
	TopmostInterval  time.Duration
	FrameInterval    time.Duration
}

// SettingsFrom picks the controller settings out of the app settings.
func SettingsFrom(s config.Settings) Settings {
	return Settings{
		Keys:             s.Keys,
		LivenessInterval: s.LivenessInterval,
		TopmostInterval:  s.TopmostInterval,
		FrameInterval:    s.FrameInterval,
	}
}

func (s Settings) withDefaults() Settings {
	d := config.Defaults("")
	if s.Keys == (config.KeyConfig{}) {
		s.Keys = d.Keys
	}
	if s.LivenessInterval <= 0 {
		s.LivenessInterval = d.LivenessInterval
	}
	if s.TopmostInterval <= 0 {
		s.TopmostInterval = d.TopmostInterval
	}
	if s.FrameInterval <= 0 {
		s.FrameInterval = d.FrameInterval
	}
	return s
}

// Snapshot is the externally visible overlay state.
type Snapshot struct {
	Source    window.Ref   `json:"source"`
	View      view.State   `json:"view"`
	Mode      string       `json:"mode"`
	Engine    capture.Kind `json:"engine"`
	Suspended bool         `json:"suspended"`
	Failures  int          `json:"failures"`
	SourceW   int          `json:"source_width"`
	SourceH   int          `json:"source_height"`
	Selecting bool         `json:"selecting"`
	Closed    bool         `json:"closed"`
}
