package platform

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/overlay"
)

const primaryButton = 1

// InputPump reads X events for the overlay surface and turns primary-button
// activity into overlay pointer events. The server's implicit grab keeps
// motion flowing to the surface while the button is held, even once the
// pointer leaves the control square.
type InputPump struct {
	x       *Context
	surface *Surface
	letters map[xproto.Keycode]rune

	log *zerolog.Logger
}

// NewInputPump prepares the pump and caches the keyboard mapping used to
// report held letter keys.
func NewInputPump(x *Context, surface *Surface) (*InputPump, error) {
	p := &InputPump{
		x:       x,
		surface: surface,
		log:     logger.WithComponent("input"),
	}

	first := x.setup.MinKeycode
	count := byte(int(x.setup.MaxKeycode) - int(first) + 1)
	reply, err := xproto.GetKeyboardMapping(x.conn, first, count).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to read keyboard mapping: %w", err)
	}
	p.letters = letterKeycodes(first, reply.KeysymsPerKeycode, reply.Keysyms)
	return p, nil
}

// Run delivers events to sink until ctx is cancelled or the connection
// closes.
func (p *InputPump) Run(ctx context.Context, sink func(overlay.PointerEvent)) error {
	events := make(chan xgb.Event, 64)
	go p.read(ctx, events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if pe, ok := p.translate(ev); ok {
				sink(pe)
			}
		}
	}
}

func (p *InputPump) read(ctx context.Context, out chan<- xgb.Event) {
	defer close(out)
	for {
		ev, err := p.x.conn.WaitForEvent()
		switch {
		case ev == nil && err == nil:
			p.log.Debug().Msg("X connection closed")
			return
		case err != nil:
			// Errors from unchecked requests such as compositing on a
			// vanished window land here; liveness checks handle them.
			p.log.Debug().Err(err).Msg("X error")
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (p *InputPump) translate(ev xgb.Event) (overlay.PointerEvent, bool) {
	win := p.surface.win
	switch e := ev.(type) {
	case xproto.ButtonPressEvent:
		if e.Event != win || e.Detail != primaryButton {
			return overlay.PointerEvent{}, false
		}
		pe := pointerEvent(overlay.Press, e.RootX, e.RootY, e.EventX, e.EventY, e.State)
		pe.Keys = p.heldLetters()
		return pe, true
	case xproto.MotionNotifyEvent:
		if e.Event != win || e.State&xproto.ButtonMask1 == 0 {
			return overlay.PointerEvent{}, false
		}
		return pointerEvent(overlay.Move, e.RootX, e.RootY, e.EventX, e.EventY, e.State), true
	case xproto.ButtonReleaseEvent:
		if e.Event != win || e.Detail != primaryButton {
			return overlay.PointerEvent{}, false
		}
		return pointerEvent(overlay.Release, e.RootX, e.RootY, e.EventX, e.EventY, e.State), true
	case xproto.ExposeEvent:
		if e.Window == win && e.Count == 0 {
			p.surface.Expose()
		}
	}
	return overlay.PointerEvent{}, false
}

// heldLetters queries which letter keys are currently down.
func (p *InputPump) heldLetters() string {
	reply, err := xproto.QueryKeymap(p.x.conn).Reply()
	if err != nil {
		p.log.Debug().Err(err).Msg("Failed to query keymap")
		return ""
	}
	return decodeKeymap(reply.Keys, p.letters)
}

func pointerEvent(kind overlay.EventKind, rootX, rootY, x, y int16, state uint16) overlay.PointerEvent {
	return overlay.PointerEvent{
		Kind:  kind,
		Root:  image.Pt(int(rootX), int(rootY)),
		Local: image.Pt(int(x), int(y)),
		Mods:  modifiers(state),
	}
}

func modifiers(state uint16) overlay.Modifiers {
	var m overlay.Modifiers
	if state&xproto.ModMaskShift != 0 {
		m |= overlay.ModShift
	}
	if state&xproto.ModMaskControl != 0 {
		m |= overlay.ModCtrl
	}
	if state&xproto.ModMask1 != 0 {
		m |= overlay.ModAlt
	}
	return m
}

// letterKeycodes maps each keycode whose first keysym is a Latin letter to
// that lowercase letter.
func letterKeycodes(first xproto.Keycode, perCode byte, syms []xproto.Keysym) map[xproto.Keycode]rune {
	out := make(map[xproto.Keycode]rune)
	if perCode == 0 {
		return out
	}
	for i := 0; i*int(perCode) < len(syms); i++ {
		sym := syms[i*int(perCode)]
		switch {
		case sym >= 'a' && sym <= 'z':
			out[first+xproto.Keycode(i)] = rune(sym)
		case sym >= 'A' && sym <= 'Z':
			out[first+xproto.Keycode(i)] = rune(sym - 'A' + 'a')
		}
	}
	return out
}

// decodeKeymap turns a QueryKeymap bit vector into the held letters, in
// keycode order.
func decodeKeymap(bits []byte, letters map[xproto.Keycode]rune) string {
	var b strings.Builder
	for i, v := range bits {
		if v == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if v&(1<<bit) == 0 {
				continue
			}
			if r, ok := letters[xproto.Keycode(i*8+bit)]; ok {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
