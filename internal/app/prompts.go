package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/ui/components"
	"github.com/ktxgo/ktxgo/internal/ui/picker"
)

// promptConditions asks for route, date, hour and seat, starting from the
// values in opts. It repeats until departure and arrival differ.
func (c *Console) promptConditions(opts *Options) error {
	if c.prompter == nil {
		return fmt.Errorf("interactive mode needs a terminal")
	}
	fmt.Fprintln(c.out, "\n대화형 모드: 화살표(↑/↓)로 조회 조건을 선택하세요.")

	validator := protocol.NewRequestValidator()
	for {
		departure, err := c.prompter.Select(picker.DepartureTitle, picker.StationChoices(), opts.Departure)
		if err != nil {
			return err
		}
		arrival, err := c.prompter.Select(picker.ArrivalTitle, picker.StationChoices(), opts.Arrival)
		if err != nil {
			return err
		}
		date, err := c.prompter.Select(picker.DateTitle, picker.DateChoices(c.now(), opts.Date), opts.Date)
		if err != nil {
			return err
		}
		hour, err := c.prompter.Select(picker.HourTitle, picker.HourChoices(), opts.Hour)
		if err != nil {
			return err
		}
		seat, err := c.prompter.Select(picker.SeatTitle, picker.SeatChoices(), opts.Seat)
		if err != nil {
			return err
		}

		if departure == arrival {
			fmt.Fprintln(c.out, "입력 오류: 출발역과 도착역은 달라야 합니다.")
			continue
		}
		if err := validator.ValidateDate(date); err != nil {
			return err
		}
		if err := validator.ValidateHour(hour); err != nil {
			return err
		}
		opts.Departure, opts.Arrival = departure, arrival
		opts.Date, opts.Hour, opts.Seat = date, protocol.PadHour(hour), seat
		return nil
	}
}

// promptTargets searches once and lets the operator pick the trains the
// engine may reserve. An expired session is restored and the search
// repeated.
func (c *Console) promptTargets(ctx context.Context, q protocol.SearchQuery) ([]protocol.TrainKey, error) {
	if c.prompter == nil {
		return nil, fmt.Errorf("interactive mode needs a terminal")
	}
	fmt.Fprintln(c.out, "\n예약 시도할 열차를 선택하세요.")

	for {
		trains, err := c.client.Search(ctx, q)
		kind, action := errors.Resolve(errors.OpSearch, err)
		if err != nil {
			c.metrics.ErrorClassified(errors.OpSearch, kind)
		}
		switch action {
		case errors.ActionReauthenticate:
			c.printf("Session expired before selection. Re-authenticating...")
			if err := c.EnsureLogin(ctx); err != nil {
				return nil, err
			}
			continue
		case errors.ActionIgnore:
			trains = nil
		case errors.ActionContinue:
		default:
			return nil, fmt.Errorf("initial search failed: %w", err)
		}

		if len(trains) == 0 {
			c.printf("초기 조회 결과가 없습니다.")
			again, err := c.prompter.Confirm("같은 조건으로 다시 조회할까요?", true)
			if err != nil {
				return nil, err
			}
			if !again {
				return nil, fmt.Errorf("no trains to select: %w", errors.ErrCancelled)
			}
			continue
		}

		values, err := c.prompter.MultiSelect(
			picker.TrainsTitle+" (↕:이동, Space:선택, Enter:완료, Ctrl-A:전체선택, Ctrl-R:선택해제, Ctrl-C:취소)",
			picker.TrainChoices(trains))
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("no trains selected: %w", errors.ErrCancelled)
		}

		keys := make([]protocol.TrainKey, 0, len(values))
		briefs := make([]string, 0, len(values))
		for _, v := range values {
			idx, err := strconv.Atoi(v)
			if err != nil || idx < 0 || idx >= len(trains) {
				return nil, fmt.Errorf("invalid train selection %q", v)
			}
			keys = append(keys, trains[idx].Key())
			briefs = append(briefs, components.TrainBrief(trains[idx]))
		}
		fmt.Fprintf(c.out, "선택한 열차: %s\n", strings.Join(briefs, ", "))
		return keys, nil
	}
}
