package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// SeatPreference is the operator's seat requirement
type SeatPreference string

const (
	PreferGeneral  SeatPreference = "general"
	PreferSpecial  SeatPreference = "special"
	PreferAny      SeatPreference = "any"
	PreferStanding SeatPreference = "standing"
)

// ParseSeatPreference validates a preference name.
func ParseSeatPreference(name string) (SeatPreference, error) {
	switch p := SeatPreference(strings.ToLower(strings.TrimSpace(name))); p {
	case PreferGeneral, PreferSpecial, PreferAny, PreferStanding:
		return p, nil
	case "":
		return PreferAny, nil
	default:
		return "", fmt.Errorf("unknown seat preference %q (general, special, any, standing)", name)
	}
}

// IsEligible reports whether train has a seat matching pref.
func IsEligible(train protocol.Train, pref SeatPreference) bool {
	switch pref {
	case PreferGeneral:
		return train.HasGeneral()
	case PreferSpecial:
		return train.HasSpecial()
	case PreferStanding:
		return train.HasStanding()
	default:
		return train.HasAnySeat()
	}
}

// ChooseSeatClass picks the seat class to reserve for pref. "any" prefers general.
func ChooseSeatClass(train protocol.Train, pref SeatPreference) protocol.SeatClass {
	switch pref {
	case PreferGeneral:
		return protocol.SeatGeneral
	case PreferSpecial:
		return protocol.SeatSpecial
	case PreferStanding:
		return protocol.SeatStanding
	default:
		if train.HasGeneral() {
			return protocol.SeatGeneral
		}
		return protocol.SeatSpecial
	}
}

// Reserver performs reservation calls
type Reserver interface {
	Reserve(ctx context.Context, train protocol.Train, seat protocol.SeatClass, adults int) (protocol.Payload, error)
	ReserveWaitlist(ctx context.Context, train protocol.Train, seat protocol.SeatClass, adults int) (protocol.Payload, error)
}

// Reservation is a successful reservation.
type Reservation struct {
	Train      protocol.Train
	Seat       protocol.SeatClass
	Waitlisted bool
	Result     protocol.Payload
}

// PNR returns the reservation's confirmation number.
func (r *Reservation) PNR() string {
	return r.Result.Str("h_pnr_no")
}

// AttemptResult is the outcome of one pass over the candidates.
type AttemptResult struct {
	Reservation *Reservation
	// SessionExpired is set when the pass stopped because the session was lost.
	SessionExpired bool
	// Err is the error that ended the pass early, if any.
	Err error
}

// Attempter tries candidates in order until one reservation succeeds
type Attempter struct {
	reserver    Reserver
	pref        SeatPreference
	adults      int
	waitingList bool
	observer    Observer
	logger      *logging.Logger
}

// NewAttempter creates an attempter
func NewAttempter(reserver Reserver, pref SeatPreference, adults int, waitingList bool, observer Observer, logger *logging.Logger) *Attempter {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.GetReserveLogger()
	}
	return &Attempter{
		reserver:    reserver,
		pref:        pref,
		adults:      adults,
		waitingList: waitingList,
		observer:    observer,
		logger:      logger,
	}
}

// Attempt visits candidates in order. Trains without an eligible seat are
// skipped; when the waiting list is enabled, trains whose waiting list is
// open are tried after every seat candidate failed. Each train is tried at
// most once.
func (a *Attempter) Attempt(ctx context.Context, candidates []protocol.Train) AttemptResult {
	var waitlist []protocol.Train
	for _, train := range candidates {
		if !IsEligible(train, a.pref) {
			if a.waitingList && train.HasWaitingList() {
				waitlist = append(waitlist, train)
			}
			continue
		}
		seat := ChooseSeatClass(train, a.pref)
		res, stop := a.try(ctx, train, seat, false)
		if res.Reservation != nil || stop {
			return res
		}
	}

	for _, train := range waitlist {
		seat := ChooseSeatClass(train, a.pref)
		res, stop := a.try(ctx, train, seat, true)
		if res.Reservation != nil || stop {
			return res
		}
	}
	return AttemptResult{}
}

func (a *Attempter) try(ctx context.Context, train protocol.Train, seat protocol.SeatClass, waitlist bool) (AttemptResult, bool) {
	l := a.logger.WithFields(map[string]interface{}{
		"train_no": train.TrainNo,
		"dep_time": train.DepTime,
		"seat":     string(seat),
		"waitlist": waitlist,
	})
	l.Info("Seat found, reserving")

	var (
		result protocol.Payload
		err    error
	)
	if waitlist {
		result, err = a.reserver.ReserveWaitlist(ctx, train, seat, a.adults)
	} else {
		result, err = a.reserver.Reserve(ctx, train, seat, a.adults)
	}
	a.observer.ReservationAttempted(train, seat, err)

	if err == nil {
		res := &Reservation{Train: train, Seat: seat, Waitlisted: waitlist, Result: result}
		l.Info("Reservation successful", "pnr", res.PNR())
		return AttemptResult{Reservation: res}, true
	}

	kind, action := errors.Resolve(errors.OpReserve, err)
	a.observer.ErrorClassified(errors.OpReserve, kind)
	switch action {
	case errors.ActionReauthenticate:
		l.Warn("Session expired during reserve")
		return AttemptResult{SessionExpired: true, Err: err}, true
	case errors.ActionStop, errors.ActionAbort:
		return AttemptResult{Err: err}, true
	default:
		l.Info("Reserve failed", errors.Attr(err), "kind", kind.String())
		return AttemptResult{}, false
	}
}
