package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ktxgo/ktxgo/internal/auth"
	"github.com/ktxgo/ktxgo/internal/engine"
	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/journal"
	"github.com/ktxgo/ktxgo/internal/notify"
	"github.com/ktxgo/ktxgo/internal/payment"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/ui/components"
	"github.com/ktxgo/ktxgo/internal/ui/picker"
)

// Options are the run conditions after flags are layered on the profile.
type Options struct {
	Departure   string
	Arrival     string
	Date        string // YYYYMMDD
	Hour        string // HH
	Seat        string
	Interactive bool
	MaxAttempts int
	AutoPay     bool
	Telegram    bool
}

// Outcome is the result of a successful run.
type Outcome struct {
	RunID       string
	Reservation *engine.Reservation
	Payment     *payment.Result
	// PaymentErr is set when auto-pay was attempted and failed. The
	// reservation stands regardless.
	PaymentErr error
	Event      interfaces.Event
	// Calls summarises the vendor calls made by the console so far.
	Calls protocol.ConnectionStatistics
}

// Paid reports whether the reservation was paid.
func (o *Outcome) Paid() bool {
	return o.Payment != nil
}

// DefaultOptions returns the profile's conditions with the date and hour
// set to the lead time from now.
func (c *Console) DefaultOptions() Options {
	start := c.now().Add(picker.LeadTime)
	return Options{
		Departure:   c.profile.Departure,
		Arrival:     c.profile.Arrival,
		Date:        start.Format("20060102"),
		Hour:        start.Format("15"),
		Seat:        c.profile.Seat,
		MaxAttempts: c.profile.MaxAttempts,
		AutoPay:     c.profile.AutoPay,
		Telegram:    c.profile.Notify.Telegram,
	}
}

// StatusLine summarises the run conditions.
func StatusLine(opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KTXgo — %s → %s  %s %s:00  seat=%s",
		opts.Departure, opts.Arrival, opts.Date, opts.Hour, opts.Seat)
	if opts.AutoPay {
		b.WriteString(" auto-pay")
	}
	if opts.Telegram {
		b.WriteString(" telegram")
	}
	return b.String()
}

// Reserve logs in, optionally prompts for conditions and target trains,
// then polls until a seat is reserved. On success the reservation is paid
// when auto-pay is on and announced on the notification channels.
func (c *Console) Reserve(ctx context.Context, opts Options) (*Outcome, error) {
	if opts.Interactive {
		if err := c.promptConditions(&opts); err != nil {
			return nil, err
		}
	}

	pref, err := engine.ParseSeatPreference(opts.Seat)
	if err != nil {
		return nil, err
	}
	query := protocol.SearchQuery{
		Departure: opts.Departure,
		Arrival:   opts.Arrival,
		Date:      opts.Date,
		Hour:      protocol.PadHour(opts.Hour),
		Adults:    c.profile.Adults,
	}
	if err := protocol.NewRequestValidator().ValidateSearchQuery(query); err != nil {
		return nil, err
	}

	fmt.Fprintln(c.out, components.RenderStatus(components.StatusInfo, StatusLine(opts)))

	if err := c.EnsureLogin(ctx); err != nil {
		return nil, err
	}

	var targets []protocol.TrainKey
	if opts.Interactive {
		targets, err = c.promptTargets(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	runID := ""
	observers := engine.Observers{c.metrics}
	if c.journal != nil {
		id, err := c.journal.StartRun(ctx, journal.RunInfo{Query: query, Seat: string(pref), AutoPay: opts.AutoPay})
		if err != nil {
			c.logger.Warn("Could not journal run", "error", err.Error())
		} else {
			runID = id
			observers = append(observers, c.journal)
		}
	}
	logger := c.logger
	if runID != "" {
		logger = logger.WithField("run_id", runID)
	}

	eng, err := engine.New(engine.Config{
		Query:        query,
		Preference:   pref,
		Targets:      targets,
		WaitingList:  c.profile.WaitingList,
		PollInterval: c.profile.PollInterval,
		MaxAttempts:  opts.MaxAttempts,
	}, c.client, c.client, c, observers, logger.WithComponent("poller"))
	if err != nil {
		return nil, err
	}

	c.status(components.StatusPolling, "Polling %s → %s from %s %s:00", query.Departure, query.Arrival, query.Date, query.Hour)
	reservation, err := eng.Run(ctx)
	if err != nil {
		c.finishRun(ctx, runOutcome(err), "")
		return nil, err
	}

	outcome := &Outcome{RunID: runID, Reservation: reservation}
	c.printReservation(reservation)

	if opts.AutoPay {
		outcome.Payment, outcome.PaymentErr = c.pay(ctx, reservation)
	}

	outcome.Event = c.event(runID, reservation, outcome.Payment)
	c.notify(ctx, outcome.Event, opts.Telegram)
	outcome.Calls = c.finishRun(ctx, journal.OutcomeReserved, reservation.PNR())
	return outcome, nil
}

func runOutcome(err error) string {
	switch {
	case errors.Classify(err) == errors.KindCancelled:
		return journal.OutcomeCancelled
	case stderrors.Is(err, errors.ErrAttemptsExhausted):
		return journal.OutcomeExhausted
	default:
		return journal.OutcomeFailed
	}
}

// finishRun logs the vendor call summary and journals the outcome.
func (c *Console) finishRun(ctx context.Context, outcome, pnr string) protocol.ConnectionStatistics {
	stats := c.client.Statistics()
	attrs := []interface{}{
		"outcome", outcome,
		"calls", stats.TotalRequests,
		"failed_calls", stats.FailedRequests,
		"avg_response", stats.AverageResponseTime.String(),
	}
	if err := c.client.LastError(); err != nil {
		attrs = append(attrs, errors.Attr(err))
	}
	c.logger.Info("Run finished", attrs...)

	if c.journal == nil || c.journal.RunID() == "" {
		return stats
	}
	// The run context may already be cancelled; the outcome is still recorded.
	if err := c.journal.FinishRun(context.WithoutCancel(ctx), outcome, pnr); err != nil {
		c.logger.Warn("Could not journal run outcome", "error", err.Error())
	}
	return stats
}

func (c *Console) printReservation(r *engine.Reservation) {
	line := strings.Repeat("=", 50)
	fmt.Fprintf(c.out, "\n%s\n", line)
	what := "Reservation successful!"
	if r.Waitlisted {
		what = "Waiting list reservation successful!"
	}
	fmt.Fprintln(c.out, components.RenderStatus(components.StatusReserved, what))
	fmt.Fprintln(c.out, line)
	fmt.Fprintf(c.out, "  train: %s (%s)\n", components.TrainBrief(r.Train), r.Seat)
	for _, key := range []string{"h_pnr_no", "h_rsv_no", "strResult", "h_msg_txt"} {
		if r.Result.Has(key) {
			fmt.Fprintf(c.out, "  %s: %s\n", key, r.Result.Str(key))
		}
	}
}

// pay pays the reservation with the stored card. A missing card skips
// payment without error.
func (c *Console) pay(ctx context.Context, r *engine.Reservation) (*payment.Result, error) {
	card, err := auth.LoadCard(c.store)
	if err != nil {
		c.logger.Warn("Could not load card", "error", err.Error())
		c.printf("Auto-pay skipped: card could not be loaded.")
		return nil, nil
	}
	if missing := card.Missing(); len(missing) > 0 {
		c.printf("Auto-pay skipped: card not configured (missing %s).", strings.Join(missing, ", "))
		fmt.Fprintln(c.out, "  Set card info with:\n    ktxgo credentials set card")
		return nil, nil
	}

	number := protocol.DigitsOnly(card.Number)
	if len(number) >= 4 {
		number = number[len(number)-4:]
	}
	c.printf("Paying with card ending ...%s", number)

	result, err := c.payments.Pay(ctx, r.Result, card.Normalized(), payment.DefaultOptions())
	c.metrics.PaymentFinished(err)
	if c.journal != nil {
		amount := ""
		if result != nil {
			amount = result.Context.Amount
		}
		if jerr := c.journal.RecordPayment(context.WithoutCancel(ctx), r.PNR(), amount, err); jerr != nil {
			c.logger.Warn("Could not journal payment", "error", jerr.Error())
		}
	}
	if err != nil {
		c.printf("Payment failed: %v", err)
		fmt.Fprintln(c.out, "  Reservation is kept. Pay manually before the deadline.")
		return nil, err
	}

	line := strings.Repeat("=", 50)
	fmt.Fprintf(c.out, "\n%s\n", line)
	fmt.Fprintln(c.out, components.RenderStatus(components.StatusPaid, "Payment successful!"))
	fmt.Fprintln(c.out, line)
	for _, key := range []string{"strResult", "h_msg_txt", "h_pnr_no"} {
		if result.Response.Has(key) {
			fmt.Fprintf(c.out, "  %s: %s\n", key, result.Response.Str(key))
		}
	}
	return result, nil
}

func (c *Console) event(runID string, r *engine.Reservation, paid *payment.Result) interfaces.Event {
	amount := r.Result.Str("h_rsv_amt")
	if paid != nil {
		amount = paid.Context.Amount
	}
	return interfaces.Event{
		RunID:      runID,
		Paid:       paid != nil,
		PNR:        r.PNR(),
		TrainType:  r.Train.TrainType,
		TrainNo:    r.Train.TrainNo,
		Departure:  r.Train.Departure,
		Arrival:    r.Train.Arrival,
		DepDate:    r.Train.DepDate,
		DepTime:    r.Train.DepTime,
		SeatClass:  string(r.Seat),
		Amount:     amount,
		OccurredAt: c.now(),
	}
}

// buildNotifiers returns the channels for this run. Telegram joins only when
// requested and configured.
func (c *Console) buildNotifiers(telegram bool) []interfaces.Notifier {
	if c.notifiers != nil {
		return c.notifiers
	}
	var out []interfaces.Notifier
	logger := c.logger.WithComponent("notify")

	if telegram {
		creds, err := auth.LoadTelegram(c.store)
		switch {
		case err != nil:
			c.printf("Telegram skipped: %v", err)
		case !creds.Complete():
			c.printf("Telegram skipped: token/chat_id not configured.")
		default:
			var opts []notify.TelegramOption
			if c.profile.Notify.TelegramAPIURL != "" {
				opts = append(opts, notify.WithTelegramAPI(c.profile.Notify.TelegramAPIURL))
			}
			t, err := notify.NewTelegram(creds.Token, creds.ChatID, logger, opts...)
			if err != nil {
				c.printf("Telegram skipped: %v", err)
			} else {
				out = append(out, t)
			}
		}
	}

	if url := c.profile.Notify.AMQPURL; url != "" {
		p, err := notify.NewAMQPPublisher(url, c.profile.Notify.AMQPExchange, logger)
		if err != nil {
			logger.Warn("AMQP publisher disabled", "error", err.Error())
		} else {
			out = append(out, p)
		}
	}
	return out
}

// notify sends event on every channel and waits, bounded, for delivery.
// Failures are logged and counted; they never change the outcome.
func (c *Console) notify(ctx context.Context, event interfaces.Event, telegram bool) {
	notifiers := c.buildNotifiers(telegram)
	if len(notifiers) == 0 {
		return
	}
	dispatcher := notify.NewDispatcher(notifiers, c.notificationResult, c.logger.WithComponent("notify"))
	dispatcher.Dispatch(event)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notify.DefaultTimeout)
	defer cancel()
	if !dispatcher.Wait(waitCtx) {
		c.logger.Warn("Notifications still pending at exit")
	}
}

func (c *Console) notificationResult(channel string, err error) {
	c.metrics.NotificationFinished(channel, err)
	if err != nil {
		c.printf("%s notification failed: %v", channel, err)
		return
	}
	c.printf("%s notification sent.", channel)
}
