// Package picker implements the interactive prompts of ktxgo: single choice
// lists for route, date, hour and seat, and a checkbox list for choosing
// target trains. Each prompt is a small Bubble Tea program.
package picker

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ktxgo/ktxgo/internal/interfaces"
)

// Mode selects how many options the list accepts.
type Mode int

const (
	ModeSingle Mode = iota
	ModeMulti
)

// defaultVisibleRows is how many options fit on screen before the list scrolls.
const defaultVisibleRows = 12

// Model is the state of one list prompt.
type Model struct {
	title    string
	choices  []interfaces.Choice
	mode     Mode
	cursor   int
	offset   int
	selected map[int]bool

	done      bool
	cancelled bool
	notice    string

	// Terminal dimensions
	width  int
	height int
}

// NewSelect creates a single-choice list with the cursor on defaultValue.
func NewSelect(title string, choices []interfaces.Choice, defaultValue string) *Model {
	m := &Model{
		title:    title,
		choices:  choices,
		mode:     ModeSingle,
		selected: make(map[int]bool),
	}
	for i, c := range choices {
		if c.Value == defaultValue {
			m.cursor = i
			break
		}
	}
	m.scrollToCursor()
	return m
}

// NewMultiSelect creates a checkbox list with nothing selected.
func NewMultiSelect(title string, choices []interfaces.Choice) *Model {
	return &Model{
		title:    title,
		choices:  choices,
		mode:     ModeMulti,
		selected: make(map[int]bool),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return nil
}

// Done reports whether the prompt finished, either confirmed or cancelled.
func (m *Model) Done() bool {
	return m.done || m.cancelled
}

// Cancelled reports whether the operator aborted the prompt.
func (m *Model) Cancelled() bool {
	return m.cancelled
}

// Value returns the chosen value of a single-choice list.
func (m *Model) Value() string {
	if len(m.choices) == 0 {
		return ""
	}
	return m.choices[m.cursor].Value
}

// Values returns the checked values in option order.
func (m *Model) Values() []string {
	var values []string
	for i, c := range m.choices {
		if m.selected[i] {
			values = append(values, c.Value)
		}
	}
	return values
}

func (m *Model) visibleRows() int {
	rows := defaultVisibleRows
	// title, blank line, help and border take six lines
	if m.height > 0 && m.height-6 < rows {
		rows = m.height - 6
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m *Model) scrollToCursor() {
	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}
