package window

import (
	"fmt"
	"strings"
)

// MinCandidateSize is the smallest width/height a window needs to be offered
// as an overlay source.
const MinCandidateSize = 80

// UnknownExe is used when the owning process cannot be resolved.
const UnknownExe = "Unknown"

// Ref identifies a source window. The ID is only meaningful while the window
// exists, so every use must go through a Prober first.
type Ref struct {
	ID    uint32 `json:"id"`
	Title string `json:"title"`
	Exe   string `json:"exe"`
	PID   int    `json:"pid"`
}

// Label renders the ref the way lists and the overlay header show it.
func (r Ref) Label() string {
	return fmt.Sprintf("[%s] %s", r.Exe, r.Title)
}

// IsZero reports whether no window is referenced.
func (r Ref) IsZero() bool {
	return r.ID == 0
}

// Status is the result of probing a window handle.
type Status int

const (
	// StatusGone means the handle is stale or the window was destroyed.
	StatusGone Status = iota
	// StatusHidden means the window exists but is unmapped, minimized or invisible.
	StatusHidden
	// StatusAlive means the window exists and is being drawn.
	StatusAlive
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusHidden:
		return "hidden"
	default:
		return "gone"
	}
}

// Prober checks window liveness and geometry.
type Prober interface {
	// Probe reports the current status of the window.
	Probe(id uint32) Status

	// ClientSize returns the window's client-area size in pixels.
	ClientSize(id uint32) (int, int, error)
}

// Candidate is a window offered for selection.
type Candidate struct {
	Ref      Ref    `json:"ref"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Status   Status `json:"status"`
	TopLevel bool   `json:"top_level"`
}

// Label returns the display label for a candidate.
func (c Candidate) Label() string {
	return c.Ref.Label()
}

// Lister enumerates windows that can be mirrored.
type Lister interface {
	ListCandidates() ([]Candidate, error)
}

// Filter keeps top-level, alive, titled windows of a usable size and
// collapses duplicates that share a process name and title. The first
// occurrence wins so stacking order is preserved.
func Filter(all []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(all))
	out := make([]Candidate, 0, len(all))
	for _, c := range all {
		if !c.TopLevel || c.Status != StatusAlive {
			continue
		}
		if strings.TrimSpace(c.Ref.Title) == "" {
			continue
		}
		if c.Width < MinCandidateSize || c.Height < MinCandidateSize {
			continue
		}
		key := strings.ToLower(c.Ref.Exe) + "\x00" + c.Ref.Title
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
