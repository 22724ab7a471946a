// Package components provides the styled text fragments shared by the
// prompts and the console output: status lines, error panes and the train
// table.
package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Status names
const (
	StatusPolling  = "polling"
	StatusReserved = "reserved"
	StatusPaid     = "paid"
	StatusInfo     = "info"
	StatusWarning  = "warning"
	StatusError    = "error"
)

var statusStyles = map[string]lipgloss.Style{
	StatusPolling:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	StatusReserved: lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	StatusPaid:     lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")).Bold(true),
	StatusInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	StatusWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	StatusError:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
}

var statusIcons = map[string]string{
	StatusPolling:  "⏳",
	StatusReserved: "🎫",
	StatusPaid:     "✅",
	StatusInfo:     "ℹ️",
	StatusWarning:  "⚠️",
	StatusError:    "❌",
}

// RenderStatus formats a one-line status message with its icon and color.
func RenderStatus(status, message string) string {
	style, ok := statusStyles[status]
	if !ok {
		style = lipgloss.NewStyle()
	}
	icon, ok := statusIcons[status]
	if !ok {
		icon = "🔹"
	}
	return style.Render(fmt.Sprintf("%s %s", icon, message))
}
