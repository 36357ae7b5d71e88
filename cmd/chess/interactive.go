package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/game"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	lightSquare = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#EEEED2"))

	darkSquare = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#769656"))

	targetSquare = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#F6F669"))

	statusStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#98FB98"))

	feedbackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// refreshMsg reports that the game changed. The model reads the latest
// view itself, so late or reordered messages are harmless.
type refreshMsg struct{}

type startedMsg struct{}

type boardModel struct {
	orch  *game.Orchestrator
	input textinput.Model
	view  game.View
	reply string
}

func newBoardModel(o *game.Orchestrator) *boardModel {
	ti := textinput.New()
	ti.Placeholder = "e2e4"
	ti.Prompt = "move> "
	ti.CharLimit = 16
	ti.Width = 20
	ti.Focus()
	return &boardModel{orch: o, input: ti, view: o.View()}
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.start)
}

func (m *boardModel) start() tea.Msg {
	// A failed start shows up in the view.
	_ = m.orch.Start(context.Background())
	return startedMsg{}
}

func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "ctrl+n":
			m.reply, _ = dispatch(m.orch, "new")
			return m, nil

		case "ctrl+g":
			m.reply, _ = dispatch(m.orch, "go")
			return m, nil

		case "enter":
			line := m.input.Value()
			m.input.SetValue("")
			reply, quit := dispatch(m.orch, line)
			if quit {
				return m, tea.Quit
			}
			m.reply = reply
			m.view = m.orch.View()
			return m, nil
		}

	case refreshMsg:
		m.view = m.orch.View()
		return m, nil

	case startedMsg:
		m.view = m.orch.View()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *boardModel) View() string {
	v := m.view
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Chess"))
	b.WriteString(fmt.Sprintf(" you play %s\n\n", v.HumanSide))

	b.WriteString(m.renderBoard())
	b.WriteString("\n")

	b.WriteString(statusStyle.Render(string(v.Status)))
	if v.InCheck && v.Phase != game.PhaseGameOver {
		b.WriteString(errorStyle.Render(" Check!"))
	}
	b.WriteString("\n")
	if v.Feedback != "" {
		b.WriteString(feedbackStyle.Render(v.Feedback))
		b.WriteString("\n")
	}
	if v.Diagnostic != "" && v.Diagnostic != v.Feedback {
		b.WriteString(errorStyle.Render(v.Diagnostic))
		b.WriteString("\n")
	}
	if m.reply != "" {
		b.WriteString(m.reply)
		b.WriteString("\n")
	}
	b.WriteString(history(v.Plies))
	b.WriteString("\n")

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter move • ctrl+g engine move • ctrl+n new game • help commands • esc quit"))
	return b.String()
}

// renderBoard draws the board from the human's side, highlighting the
// destinations of the origin square typed so far.
func (m *boardModel) renderBoard() string {
	v := m.view
	rows := boardRows(v.Position, v.HumanSide)
	if rows == nil {
		return string(v.Position) + "\n"
	}

	targets := make(map[string]bool)
	if typed := strings.TrimSpace(m.input.Value()); len(typed) >= 2 {
		for _, to := range v.Destinations[typed[:2]] {
			targets[to] = true
		}
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(string(row[0].name[1]) + " ")
		for _, sq := range row {
			cell := "   "
			if g, ok := pieceGlyphs[sq.piece]; ok {
				cell = " " + g + " "
			}
			style := darkSquare
			switch {
			case targets[sq.name]:
				style = targetSquare
			case sq.light:
				style = lightSquare
			}
			b.WriteString(style.Render(cell))
		}
		b.WriteString("\n")
	}
	b.WriteString("  ")
	for _, sq := range rows[7] {
		b.WriteString(" " + string(sq.name[0]) + " ")
	}
	b.WriteString("\n")
	return b.String()
}

// history formats plies as numbered move pairs.
func history(plies []wasmchess.Move) string {
	if len(plies) == 0 {
		return ""
	}
	var parts []string
	for i := 0; i < len(plies); i += 2 {
		pair := fmt.Sprintf("%d. %s", i/2+1, plies[i])
		if i+1 < len(plies) {
			pair += " " + string(plies[i+1])
		}
		parts = append(parts, pair)
	}
	return strings.Join(parts, "  ")
}

func runInteractive(s *session) error {
	p := tea.NewProgram(newBoardModel(s.orch), tea.WithAltScreen())
	// Send blocks until the program reads it, and changes can happen inside
	// Update.
	s.orch.OnChange(func(game.View) { go p.Send(refreshMsg{}) })
	_, err := p.Run()
	return err
}
