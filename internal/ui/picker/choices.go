package picker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ktxgo/ktxgo/internal/engine"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/ui/components"
)

// Prompt titles
const (
	DepartureTitle = "출발역 선택 (↕:이동, Enter: 선택, Ctrl-C: 취소)"
	ArrivalTitle   = "도착역 선택 (↕:이동, Enter: 선택, Ctrl-C: 취소)"
	DateTitle      = "출발일 선택 (↕:이동, Enter: 선택, Ctrl-C: 취소)"
	HourTitle      = "출발 시각 선택 (↕:이동, Enter: 선택, Ctrl-C: 취소)"
	SeatTitle      = "좌석 유형 선택 (↕:이동, Enter: 선택, Ctrl-C: 취소)"
	TrainsTitle    = "예약 대상 열차 선택"
)

// LeadTime is added to the clock before the date list is built.
const LeadTime = 10 * time.Minute

// StationChoices lists the known stations.
func StationChoices() []interfaces.Choice {
	choices := make([]interfaces.Choice, 0, len(protocol.Stations))
	for _, name := range protocol.Stations {
		choices = append(choices, interfaces.Choice{Label: name, Value: name})
	}
	return choices
}

// DateChoices lists the bookable departure dates starting at now plus the
// lead time. The window is one day longer from 07:00 on, when the next
// day's sales open. A current value outside the window is listed first.
func DateChoices(now time.Time, current string) []interfaces.Choice {
	start := now.Add(LeadTime)
	days := 30
	if start.Hour() >= 7 {
		days = 31
	}

	choices := make([]interfaces.Choice, 0, days+2)
	found := false
	for i := 0; i <= days; i++ {
		d := start.AddDate(0, 0, i)
		value := d.Format("20060102")
		if value == current {
			found = true
		}
		choices = append(choices, interfaces.Choice{Label: d.Format("2006/01/02 Mon"), Value: value})
	}

	if !found && current != "" {
		if d, err := time.ParseInLocation("20060102", current, now.Location()); err == nil {
			custom := interfaces.Choice{Label: d.Format("2006/01/02 Mon") + " (직접지정)", Value: current}
			choices = append([]interfaces.Choice{custom}, choices...)
		}
	}
	return choices
}

// HourChoices lists the 24 departure hours as "HH시".
func HourChoices() []interfaces.Choice {
	choices := make([]interfaces.Choice, 0, 24)
	for h := 0; h < 24; h++ {
		value := fmt.Sprintf("%02d", h)
		choices = append(choices, interfaces.Choice{Label: value + "시", Value: value})
	}
	return choices
}

// SeatChoices lists the seat preferences.
func SeatChoices() []interfaces.Choice {
	return []interfaces.Choice{
		{Label: "일반석", Value: string(engine.PreferGeneral)},
		{Label: "특석", Value: string(engine.PreferSpecial)},
		{Label: "모두 (일반석/특석)", Value: string(engine.PreferAny)},
		{Label: "입석/자유석", Value: string(engine.PreferStanding)},
	}
}

// TrainChoices lists search results for the target selection. Values are
// the result indexes.
func TrainChoices(trains []protocol.Train) []interfaces.Choice {
	choices := make([]interfaces.Choice, 0, len(trains))
	for i, t := range trains {
		choices = append(choices, interfaces.Choice{Label: components.TrainLabel(i, t), Value: strconv.Itoa(i)})
	}
	return choices
}
