package picker

import (
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Clear the notice on any key press
		m.notice = ""
		return m, m.handleKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.scrollToCursor()
	}
	return m, nil
}

// handleKeys processes key presses.
func (m *Model) handleKeys(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.cancelled = true
		return tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.PageUp):
		m.cursor -= m.visibleRows()
		if m.cursor < 0 {
			m.cursor = 0
		}

	case key.Matches(msg, keys.PageDown):
		m.cursor += m.visibleRows()
		if m.cursor > len(m.choices)-1 {
			m.cursor = len(m.choices) - 1
		}

	case key.Matches(msg, keys.Home):
		m.cursor = 0

	case key.Matches(msg, keys.End):
		m.cursor = len(m.choices) - 1

	case key.Matches(msg, keys.Toggle):
		if m.mode == ModeMulti && len(m.choices) > 0 {
			m.selected[m.cursor] = !m.selected[m.cursor]
		}

	case key.Matches(msg, keys.SelectAll):
		if m.mode == ModeMulti {
			for i := range m.choices {
				m.selected[i] = true
			}
		}

	case key.Matches(msg, keys.Reset):
		if m.mode == ModeMulti {
			m.selected = make(map[int]bool)
		}

	case key.Matches(msg, keys.Accept):
		if len(m.choices) == 0 {
			m.cancelled = true
			return tea.Quit
		}
		if m.mode == ModeMulti && len(m.Values()) == 0 {
			m.notice = "선택한 항목이 없습니다. Space로 선택하세요."
			return nil
		}
		m.done = true
		return tea.Quit

	default:
		// Number keys jump to an option in single-choice lists
		if i, err := strconv.Atoi(msg.String()); err == nil && m.mode == ModeSingle {
			if i >= 1 && i <= len(m.choices) {
				m.cursor = i - 1
			}
		}
	}

	if m.cursor < 0 {
		m.cursor = 0
	}
	m.scrollToCursor()
	return nil
}
