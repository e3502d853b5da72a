package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// procRoot is where process names are resolved from.
var procRoot = "/proc"

// Probe reports whether a window still exists and is being drawn.
func (c *Context) Probe(id uint32) window.Status {
	win := xproto.Window(id)
	attrs, err := xproto.GetWindowAttributes(c.conn, win).Reply()
	if err != nil {
		return window.StatusGone
	}
	if attrs.MapState != xproto.MapStateViewable {
		return window.StatusHidden
	}
	if c.hasWMState(win, "_NET_WM_STATE_HIDDEN") {
		return window.StatusHidden
	}
	return window.StatusAlive
}

// ClientSize returns the window's inner size.
func (c *Context) ClientSize(id uint32) (int, int, error) {
	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(id)).Reply()
	if err != nil {
		return 0, 0, classify(err)
	}
	return int(geom.Width), int(geom.Height), nil
}

// ListCandidates enumerates managed windows using EWMH _NET_CLIENT_LIST,
// falling back to the root's children, and returns the ones worth
// offering as overlay sources.
func (c *Context) ListCandidates() ([]window.Candidate, error) {
	all, err := c.listClients()
	if err != nil || len(all) == 0 {
		if err != nil {
			c.log.Debug().Err(err).Msg("ListCandidates: EWMH failed, falling back to QueryTree")
		}
		all, err = c.listTree()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate windows: %w", err)
		}
	}

	out := window.Filter(all)
	c.log.Debug().Int("windows", len(all)).Int("candidates", len(out)).Msg("Listed windows")
	return out, nil
}

func (c *Context) listClients() ([]window.Candidate, error) {
	ids, err := c.getCardinals(c.root, "_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}
	out := make([]window.Candidate, 0, len(ids))
	for _, id := range ids {
		cand, err := c.candidate(xproto.Window(id))
		if err != nil {
			continue
		}
		cand.TopLevel = true
		out = append(out, cand)
	}
	return out, nil
}

func (c *Context) listTree() ([]window.Candidate, error) {
	tree, err := xproto.QueryTree(c.conn, c.root).Reply()
	if err != nil {
		return nil, err
	}
	out := make([]window.Candidate, 0, len(tree.Children))
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(c.conn, child).Reply()
		if err != nil {
			continue
		}
		cand, err := c.candidate(child)
		if err != nil {
			continue
		}
		cand.TopLevel = !attrs.OverrideRedirect
		out = append(out, cand)
	}
	return out, nil
}

func (c *Context) candidate(win xproto.Window) (window.Candidate, error) {
	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return window.Candidate{}, err
	}
	return window.Candidate{
		Ref:    c.Ref(uint32(win)),
		Width:  int(geom.Width),
		Height: int(geom.Height),
		Status: c.Probe(uint32(win)),
	}, nil
}

// Ref resolves the title and owning process of a window.
func (c *Context) Ref(id uint32) window.Ref {
	win := xproto.Window(id)
	ref := window.Ref{ID: id, Exe: window.UnknownExe}

	if raw, err := c.getProperty(win, "_NET_WM_NAME"); err == nil {
		ref.Title = string(raw)
	} else if raw, err := c.getProperty(win, "WM_NAME"); err == nil {
		ref.Title = string(raw)
	}

	if pids, err := c.getCardinals(win, "_NET_WM_PID"); err == nil && len(pids) > 0 {
		ref.PID = int(pids[0])
		if name, err := processName(ref.PID); err == nil {
			ref.Exe = name
			return ref
		}
	}
	if raw, err := c.getProperty(win, "WM_CLASS"); err == nil {
		if class := parseClass(raw); class != "" {
			ref.Exe = class
		}
	}
	return ref
}

func (c *Context) hasWMState(win xproto.Window, state string) bool {
	want, err := c.getAtom(state)
	if err != nil {
		return false
	}
	states, err := c.getCardinals(win, "_NET_WM_STATE")
	if err != nil {
		return false
	}
	for _, s := range states {
		if xproto.Atom(s) == want {
			return true
		}
	}
	return false
}

// processName reads the executable name of pid.
func processName(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}
	raw, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return "", fmt.Errorf("empty process name for pid %d", pid)
	}
	return name, nil
}

// parseClass extracts the class from WM_CLASS, which holds instance and
// class as two NUL-terminated strings.
func parseClass(raw []byte) string {
	parts := strings.Split(string(raw), "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	if len(parts) >= 1 {
		return parts[0]
	}
	return ""
}
