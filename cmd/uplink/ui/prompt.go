package ui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrPromptUnavailable is returned when a prompt is needed but the
// session is non-interactive.
var ErrPromptUnavailable = errors.New("ui: prompt requires an interactive terminal")

// PromptSecret reads a masked value from the terminal.
func PromptSecret(ctx context.Context, label string) (string, error) {
	if !IsInteractive() {
		return "", ErrPromptUnavailable
	}

	in := textinput.New()
	in.Placeholder = label
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '*'
	in.Focus()

	m := &promptModel{label: label, input: in}
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	if m.cancelled {
		return "", context.Canceled
	}
	return m.input.Value(), nil
}

type promptModel struct {
	label     string
	input     textinput.Model
	done      bool
	cancelled bool
}

func (m *promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *promptModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return Bold(m.label+": ") + m.input.View()
}
