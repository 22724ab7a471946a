package picker

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/interfaces"
)

// Prompter runs list prompts on a terminal. It implements interfaces.Prompter.
type Prompter struct {
	input  io.Reader
	output io.Writer
}

// NewPrompter creates a prompter reading keys from input and drawing on
// output. Nil values select the process's terminal.
func NewPrompter(input io.Reader, output io.Writer) *Prompter {
	return &Prompter{input: input, output: output}
}

func (p *Prompter) run(m *Model) error {
	var opts []tea.ProgramOption
	if p.input != nil {
		opts = append(opts, tea.WithInput(p.input))
	}
	if p.output != nil {
		opts = append(opts, tea.WithOutput(p.output))
	}
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	if m.Cancelled() {
		return fmt.Errorf("%s: %w", m.title, errors.ErrCancelled)
	}
	return nil
}

// Select implements interfaces.Prompter
func (p *Prompter) Select(title string, choices []interfaces.Choice, defaultValue string) (string, error) {
	m := NewSelect(title, choices, defaultValue)
	if err := p.run(m); err != nil {
		return "", err
	}
	return m.Value(), nil
}

// MultiSelect implements interfaces.Prompter
func (p *Prompter) MultiSelect(title string, choices []interfaces.Choice) ([]string, error) {
	m := NewMultiSelect(title, choices)
	if err := p.run(m); err != nil {
		return nil, err
	}
	return m.Values(), nil
}

// Confirm implements interfaces.Prompter
func (p *Prompter) Confirm(title string, defaultYes bool) (bool, error) {
	def := "no"
	if defaultYes {
		def = "yes"
	}
	value, err := p.Select(title, []interfaces.Choice{
		{Label: "예", Value: "yes"},
		{Label: "아니오", Value: "no"},
	}, def)
	if err != nil {
		return false, err
	}
	return value == "yes", nil
}
