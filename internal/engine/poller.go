// Package engine runs the reservation state machine: poll the schedule on a
// fixed cadence, narrow the listing to selected trains, try to reserve the
// first eligible one, and recover from session loss and transient failures
// according to the error classifier. It is a single cooperative actor;
// nothing here runs concurrently.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// Defaults for the polling loop
const (
	DefaultPollInterval         = 1200 * time.Millisecond
	DefaultMaxConsecutiveErrors = 5
)

// Searcher performs schedule searches
type Searcher interface {
	Search(ctx context.Context, q protocol.SearchQuery) ([]protocol.Train, error)
}

// LoginEnsurer restores an authenticated session. It returns an error when
// the session could not be restored.
type LoginEnsurer interface {
	EnsureLogin(ctx context.Context) error
}

// Observer receives engine events for metrics and journaling
type Observer interface {
	PollCompleted(attempt int, trains []protocol.Train)
	ErrorClassified(op errors.Operation, kind errors.Kind)
	ReservationAttempted(train protocol.Train, seat protocol.SeatClass, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PollCompleted(int, []protocol.Train)                          {}
func (NopObserver) ErrorClassified(errors.Operation, errors.Kind)                {}
func (NopObserver) ReservationAttempted(protocol.Train, protocol.SeatClass, error) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) PollCompleted(attempt int, trains []protocol.Train) {
	for _, obs := range o {
		obs.PollCompleted(attempt, trains)
	}
}

func (o Observers) ErrorClassified(op errors.Operation, kind errors.Kind) {
	for _, obs := range o {
		obs.ErrorClassified(op, kind)
	}
}

func (o Observers) ReservationAttempted(train protocol.Train, seat protocol.SeatClass, err error) {
	for _, obs := range o {
		obs.ReservationAttempted(train, seat, err)
	}
}

// Config describes one polling run
type Config struct {
	Query                protocol.SearchQuery
	Preference           SeatPreference
	Targets              []protocol.TrainKey
	WaitingList          bool
	PollInterval         time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int
}

// Engine drives the poll, resolve and reserve loop
type Engine struct {
	cfg       Config
	searcher  Searcher
	login     LoginEnsurer
	attempter *Attempter
	observer  Observer
	logger    *logging.Logger

	// Sleep pauses between iterations. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates an engine
func New(cfg Config, searcher Searcher, reserver Reserver, login LoginEnsurer, observer Observer, logger *logging.Logger) (*Engine, error) {
	if searcher == nil || reserver == nil || login == nil {
		return nil, fmt.Errorf("searcher, reserver and login cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.Query.Adults < 1 {
		cfg.Query.Adults = 1
	}
	if cfg.Preference == "" {
		cfg.Preference = PreferAny
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.GetPollerLogger()
	}
	return &Engine{
		cfg:       cfg,
		searcher:  searcher,
		login:     login,
		attempter: NewAttempter(reserver, cfg.Preference, cfg.Query.Adults, cfg.WaitingList, observer, logger.WithComponent("reserve")),
		observer:  observer,
		logger:    logger,
		Sleep:     errors.Sleep,
	}, nil
}

// Run polls until a reservation succeeds, the attempt budget is spent, the
// consecutive error cap is hit, or ctx is cancelled. Cancellation returns an
// error wrapping errors.ErrCancelled.
func (e *Engine) Run(ctx context.Context) (*Reservation, error) {
	attempt := 0
	consecutive := 0
	expiries := 0
	route := e.cfg.Query.Departure + "→" + e.cfg.Query.Arrival

	for {
		if ctx.Err() != nil {
			return nil, e.cancelled(ctx)
		}
		if e.cfg.MaxAttempts > 0 && attempt >= e.cfg.MaxAttempts {
			return nil, fmt.Errorf("%w after %d searches", errors.ErrAttemptsExhausted, attempt)
		}

		trains, err := e.searcher.Search(ctx, e.cfg.Query)
		kind, action := errors.Resolve(errors.OpSearch, err)
		if err != nil {
			e.observer.ErrorClassified(errors.OpSearch, kind)
		}

		switch action {
		case errors.ActionReauthenticate:
			expiries++
			if err := e.reauthenticate(ctx, expiries, err); err != nil {
				return nil, err
			}
			continue
		case errors.ActionRetry:
			consecutive++
			e.logger.Warn("Search error",
				errors.Attr(err),
				"kind", kind.String(),
				"consecutive_errors", consecutive)
			if consecutive >= e.cfg.MaxConsecutiveErrors {
				return nil, fmt.Errorf("%w (%d): %v", errors.ErrTooManyErrors, consecutive, err)
			}
			if err := e.Sleep(ctx, 2*e.cfg.PollInterval); err != nil {
				return nil, e.cancelled(ctx)
			}
			continue
		case errors.ActionStop:
			return nil, e.cancelled(ctx)
		case errors.ActionAbort:
			return nil, err
		case errors.ActionIgnore:
			trains = nil
		}

		consecutive = 0
		attempt++
		e.observer.PollCompleted(attempt, trains)
		e.logger.Info("Search completed", "attempt", attempt, "route", route, "trains", len(trains))

		if len(trains) == 0 {
			expiries = 0
			if err := e.Sleep(ctx, e.cfg.PollInterval); err != nil {
				return nil, e.cancelled(ctx)
			}
			continue
		}
		e.logTrains(trains)

		candidates := trains
		if len(e.cfg.Targets) > 0 {
			var missing int
			candidates, missing = Resolve(trains, e.cfg.Targets)
			if missing > 0 {
				e.logger.Info("Selected trains not present now", "missing", missing, "selected", len(e.cfg.Targets))
			}
		}

		if len(candidates) > 0 {
			result := e.attempter.Attempt(ctx, candidates)
			if result.Reservation != nil {
				return result.Reservation, nil
			}
			if result.SessionExpired {
				expiries++
				if err := e.reauthenticate(ctx, expiries, result.Err); err != nil {
					return nil, err
				}
				continue
			}
			if result.Err != nil {
				if errors.Classify(result.Err) == errors.KindCancelled {
					return nil, e.cancelled(ctx)
				}
				return nil, result.Err
			}
		}

		expiries = 0
		if err := e.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil, e.cancelled(ctx)
		}
	}
}

// reauthenticate restores the session after the expiries-th expiry in a
// row. The login probe can pass while the vendor keeps reporting expiry, so
// repeats are paced by the poll interval and capped like other errors.
func (e *Engine) reauthenticate(ctx context.Context, expiries int, cause error) error {
	e.logger.Warn("Session expired, re-authenticating", "consecutive_expiries", expiries)
	if expiries >= e.cfg.MaxConsecutiveErrors {
		return fmt.Errorf("%w (%d session expiries): %v", errors.ErrTooManyErrors, expiries, cause)
	}
	if err := e.login.EnsureLogin(ctx); err != nil {
		return e.loginFailed(ctx, err)
	}
	if expiries > 1 {
		if err := e.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return e.cancelled(ctx)
		}
	}
	return nil
}

func (e *Engine) cancelled(ctx context.Context) error {
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("%w: %v", errors.ErrCancelled, cause)
	}
	return errors.ErrCancelled
}

func (e *Engine) loginFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return e.cancelled(ctx)
	}
	return fmt.Errorf("failed to restore session: %w", err)
}

func (e *Engine) logTrains(trains []protocol.Train) {
	if !e.logger.Enabled(logging.DebugLevel) {
		return
	}
	for _, t := range trains {
		e.logger.Debug("Train",
			"train_no", t.TrainNo,
			"type", t.TrainType,
			"dep_time", t.DepTime,
			"arr_time", t.ArrTime,
			"general", t.GeneralSeat,
			"special", t.SpecialSeat,
			"waiting", t.WaitingStatus(),
			"price", t.Price)
	}
}
