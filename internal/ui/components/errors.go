package components

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ktxgo/ktxgo/internal/errors"
)

var (
	errorPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder(), false, true, true, true).
			BorderForeground(lipgloss.Color("#F38BA8")).
			Padding(0, 1)

	errorHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#F38BA8"))

	errorCodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387")).
			Italic(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))
)

// hints suggest what the operator can do about an error kind.
var hints = map[errors.Kind]string{
	errors.KindSessionExpired:        "Run `ktxgo login` to sign in again.",
	errors.KindPaymentDataIncomplete: "The reservation is kept. Pay on the Korail site before the deadline.",
	errors.KindCardIncomplete:        "Store the card with `ktxgo credentials set card`.",
	errors.KindPaymentFailed:         "The reservation is kept. Pay manually before the deadline.",
	errors.KindFatal:                 "Check the log for the errors that led here.",
}

// RenderError renders err as a pane with the vendor code, the error kind
// and a hint when one applies.
func RenderError(err error, width int) string {
	if err == nil {
		return ""
	}
	kind := errors.Classify(err)

	var b strings.Builder
	b.WriteString(errorHeaderStyle.Render("❌ Error: " + err.Error()))

	var vendor *errors.VendorError
	if stderrors.As(err, &vendor) && vendor.Code != "" {
		b.WriteString("\n")
		b.WriteString(errorCodeStyle.Render(fmt.Sprintf("   Code: %s  Kind: %s", vendor.Code, kind)))
	} else {
		b.WriteString("\n")
		b.WriteString(errorCodeStyle.Render("   Kind: " + kind.String()))
	}

	if hint, ok := hints[kind]; ok {
		b.WriteString("\n")
		b.WriteString(hintStyle.Render(hint))
	}

	style := errorPaneStyle
	if width > 4 {
		style = style.Width(width - 4)
	}
	return style.Render(b.String())
}
