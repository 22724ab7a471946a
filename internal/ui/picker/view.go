package picker

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ktxgo/ktxgo/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#CBA6F7")).
			Padding(0, 1)

	listItemStyle    = lipgloss.NewStyle().PaddingLeft(1)
	focusedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(lipgloss.Color("#1e1e2e")).
				Background(lipgloss.Color("#FAB387"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

const (
	singleHelp = "↕: 이동, Enter: 선택, Ctrl-C: 취소"
	multiHelp  = "↕: 이동, Space: 선택, Enter: 완료, Ctrl-A: 전체선택, Ctrl-R: 선택해제, Ctrl-C: 취소"
)

// View renders the prompt.
func (m *Model) View() string {
	if m.Done() {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.viewList()))
	s.WriteString("\n")

	help := singleHelp
	if m.mode == ModeMulti {
		help = fmt.Sprintf("%s  (%d 선택됨)", multiHelp, len(m.Values()))
	}
	s.WriteString(helpStyle.Render(help))

	if m.notice != "" {
		s.WriteString("\n")
		s.WriteString(components.RenderStatus(components.StatusWarning, m.notice))
	}
	return s.String()
}

// viewList renders the visible window of options.
func (m *Model) viewList() string {
	if len(m.choices) == 0 {
		return helpStyle.Render("선택할 항목이 없습니다.")
	}

	rows := m.visibleRows()
	end := m.offset + rows
	if end > len(m.choices) {
		end = len(m.choices)
	}

	var items []string
	if m.offset > 0 {
		items = append(items, helpStyle.Render("  ↑ ..."))
	}
	for i := m.offset; i < end; i++ {
		label := m.choices[i].Label
		if m.mode == ModeMulti {
			box := "[ ]"
			if m.selected[i] {
				box = "[x]"
			}
			label = box + " " + label
		}
		if i == m.cursor {
			items = append(items, focusedItemStyle.Render("> "+label))
		} else {
			items = append(items, listItemStyle.Render("  "+label))
		}
	}
	if end < len(m.choices) {
		items = append(items, helpStyle.Render("  ↓ ..."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, items...)
}
