package picker

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

func candidates() []window.Candidate {
	return []window.Candidate{
		{Ref: window.Ref{ID: 1, Exe: "firefox", Title: "Docs"}, Width: 1200, Height: 900},
		{Ref: window.Ref{ID: 2, Exe: "mpv", Title: "lecture.mkv"}, Width: 1920, Height: 1080},
		{Ref: window.Ref{ID: 3, Exe: "code", Title: "main.go"}, Width: 1600, Height: 1000},
	}
}

func send(m model, msgs ...tea.Msg) model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(model)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestEmptyFilterKeepsOrder(t *testing.T) {
	m := newModel(candidates())
	if len(m.visible) != 3 || m.visible[0] != 0 || m.visible[2] != 2 {
		t.Fatalf("unexpected visible %v", m.visible)
	}
}

func TestFilterNarrowsList(t *testing.T) {
	m := send(newModel(candidates()), runes("mpv"))
	if len(m.visible) != 1 || m.items[m.visible[0]].Ref.ID != 2 {
		t.Fatalf("expected only mpv, got %v", m.visible)
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace})
	if m.filter != "" || len(m.visible) != 3 {
		t.Fatalf("expected filter cleared, got %q with %d items", m.filter, len(m.visible))
	}
}

func TestEnterChoosesHighlighted(t *testing.T) {
	m := send(newModel(candidates()), tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 2 {
		t.Fatalf("cursor should stop at the last item, got %d", m.cursor)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if m.chosen == nil || m.chosen.Ref.ID != 3 {
		t.Fatalf("expected window 3 chosen, got %+v", m.chosen)
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
}

func TestEnterWithNoMatchesDoesNothing(t *testing.T) {
	m := send(newModel(candidates()), runes("zzzzqqq"))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if next.(model).chosen != nil || cmd != nil {
		t.Fatal("enter on an empty list should be ignored")
	}
	if !strings.Contains(m.View(), "no matching windows") {
		t.Error("view should say nothing matches")
	}
}

func TestEscCancels(t *testing.T) {
	next, cmd := newModel(candidates()).Update(tea.KeyMsg{Type: tea.KeyEsc})
	if next.(model).chosen != nil || cmd == nil {
		t.Fatal("esc should quit without a choice")
	}
}

func TestViewHighlightsCursor(t *testing.T) {
	v := newModel(candidates()).View()
	if !strings.Contains(v, "> [firefox] Docs") {
		t.Errorf("expected first item highlighted:\n%s", v)
	}
	if !strings.Contains(v, "[mpv] lecture.mkv") {
		t.Errorf("expected other items listed:\n%s", v)
	}
}

func TestChooseWithoutCandidates(t *testing.T) {
	_, err := New(strings.NewReader(""), &strings.Builder{}).Choose(context.Background(), nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
