// Package picker lets the user choose a source window from the terminal
// with a fuzzy-filtered list.
package picker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/window"
)

// ErrCancelled is returned when the user leaves the picker without choosing.
var ErrCancelled = errors.New("selection cancelled")

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Picker is a terminal window selector.
type Picker struct {
	in  io.Reader
	out io.Writer
}

// New creates a picker that reads keys from in and draws on out. Nil values
// use stdin and stderr so stdout stays free for command output.
func New(in io.Reader, out io.Writer) *Picker {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &Picker{in: in, out: out}
}

// Choose shows the candidates and blocks until one is chosen, the user
// cancels or ctx is done.
func (p *Picker) Choose(ctx context.Context, candidates []window.Candidate) (window.Ref, error) {
	log := logger.WithComponent("picker")
	if len(candidates) == 0 {
		return window.Ref{}, fmt.Errorf("no windows available: %w", ErrCancelled)
	}

	prog := tea.NewProgram(
		newModel(candidates),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)
	final, err := prog.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return window.Ref{}, ctxErr
	}
	if err != nil {
		return window.Ref{}, fmt.Errorf("picker: %w", err)
	}

	m, ok := final.(model)
	if !ok || m.chosen == nil {
		log.Debug().Msg("Selection cancelled")
		return window.Ref{}, ErrCancelled
	}
	log.Info().Str("window", m.chosen.Label()).Uint32("id", m.chosen.Ref.ID).Msg("Window selected")
	return m.chosen.Ref, nil
}

// model implements tea.Model with value semantics.
type model struct {
	items   []window.Candidate
	labels  []string
	visible []int
	filter  string
	cursor  int
	height  int
	chosen  *window.Candidate
}

func newModel(items []window.Candidate) model {
	m := model{items: items, height: 20}
	m.labels = make([]string, len(items))
	for i, c := range items {
		m.labels[i] = c.Label()
	}
	m.applyFilter()
	return m
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if len(m.visible) == 0 {
				return m, nil
			}
			chosen := m.items[m.visible[m.cursor]]
			m.chosen = &chosen
			return m, tea.Quit
		case tea.KeyUp, tea.KeyCtrlP:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown, tea.KeyCtrlN:
			if m.cursor < len(m.visible)-1 {
				m.cursor++
			}
		case tea.KeyBackspace:
			if r := []rune(m.filter); len(r) > 0 {
				m.filter = string(r[:len(r)-1])
				m.applyFilter()
			}
		case tea.KeyRunes, tea.KeySpace:
			m.filter += string(msg.Runes)
			m.applyFilter()
		}
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-4, 1)
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select a window to mirror"))
	b.WriteByte('\n')
	b.WriteString(promptStyle.Render("> ") + m.filter)
	b.WriteByte('\n')

	if len(m.visible) == 0 {
		b.WriteString(mutedStyle.Render("  no matching windows"))
		b.WriteByte('\n')
		return b.String()
	}

	start := 0
	if m.cursor >= m.height {
		start = m.cursor - m.height + 1
	}
	end := min(start+m.height, len(m.visible))
	for i := start; i < end; i++ {
		c := m.items[m.visible[i]]
		line := fmt.Sprintf("  %s %s", c.Label(), mutedStyle.Render(fmt.Sprintf("%dx%d", c.Width, c.Height)))
		if i == m.cursor {
			line = selectedStyle.Render(fmt.Sprintf("> %s", c.Label())) + " " + mutedStyle.Render(fmt.Sprintf("%dx%d", c.Width, c.Height))
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(mutedStyle.Render("enter: select  esc: cancel"))
	return b.String()
}

// applyFilter recomputes the visible items. An empty filter keeps the
// listing order, otherwise matches are ranked best first.
func (m *model) applyFilter() {
	m.cursor = 0
	if m.filter == "" {
		m.visible = make([]int, len(m.items))
		for i := range m.items {
			m.visible[i] = i
		}
		return
	}
	matches := fuzzy.Find(m.filter, m.labels)
	m.visible = make([]int, len(matches))
	for i, match := range matches {
		m.visible[i] = match.Index
	}
}
