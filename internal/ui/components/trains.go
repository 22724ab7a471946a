package components

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ktxgo/ktxgo/internal/protocol"
)

var tableHeaderStyle = lipgloss.NewStyle().Bold(true)

// TrainBrief is the short form used in logs and confirmations.
func TrainBrief(t protocol.Train) string {
	return fmt.Sprintf("%s %s-%s %s->%s", t.TrainNo, t.DepTime, t.ArrTime, t.Departure, t.Arrival)
}

// TrainLabel is the option label of a train in the target selection list.
func TrainLabel(idx int, t protocol.Train) string {
	return fmt.Sprintf("[%2d] %-5s %s-%s %s->%s 일반:%s 특실:%s 입석:%s",
		idx, t.TrainNo, t.DepTime, t.ArrTime, t.Departure, t.Arrival,
		t.GeneralSeat, t.SpecialSeat, t.StandingSeat)
}

// Price strips the leading zeros of the vendor's fixed-width fare.
func Price(raw string) string {
	if p := strings.TrimLeft(raw, "0"); p != "" {
		return p
	}
	return "0"
}

// cell truncates s to n runes and pads it to n display columns.
func cell(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		s = string(r[:n])
	}
	if w := lipgloss.Width(s); w < n {
		s += strings.Repeat(" ", n-w)
	}
	return s
}

const trainTableHeader = "idx train    type       dep->arr        time         gen       spe       stnd      price"

// RenderTrainTable writes search results as a fixed-column table.
func RenderTrainTable(w io.Writer, trains []protocol.Train) {
	fmt.Fprintln(w, tableHeaderStyle.Render(trainTableHeader))
	fmt.Fprintln(w, strings.Repeat("-", len(trainTableHeader)))
	for idx, t := range trains {
		route := t.Departure + "->" + t.Arrival
		tm := t.DepTime + "-" + t.ArrTime
		fmt.Fprintf(w, "%3d %s %s %s %s   %s %s %s %s\n",
			idx,
			cell(t.TrainNo, 8),
			cell(t.TrainType, 10),
			cell(route, 14),
			cell(tm, 12),
			cell(t.GeneralSeat, 9),
			cell(t.SpecialSeat, 9),
			cell(t.StandingSeat, 9),
			Price(t.Price))
	}
}
