package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ktxgo/ktxgo/internal/auth"
	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/journal"
	"github.com/ktxgo/ktxgo/internal/payment"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/ui/components"
)

// Fields shown for each listed reservation or ticket
var listingFields = []string{
	"h_pnr_no", "h_trn_no", "h_dpt_dt", "h_dpt_tm", "h_dpt_rs_stn_nm",
	"h_arv_rs_stn_nm", "h_rsv_amt", "h_ntisu_lmt_dt", "h_ntisu_lmt_tm",
}

// Reservations lists the account's unpaid and paid reservations.
func (c *Console) Reservations(ctx context.Context) ([]protocol.Payload, error) {
	return c.list(ctx, "reservation", c.client.ListReservations)
}

// Tickets lists the account's issued tickets.
func (c *Console) Tickets(ctx context.Context) ([]protocol.Payload, error) {
	return c.list(ctx, "ticket", c.client.ListTickets)
}

func (c *Console) list(ctx context.Context, what string, fetch func(context.Context) ([]protocol.Payload, error)) ([]protocol.Payload, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return nil, err
	}

	var rows []protocol.Payload
	for tries := 0; ; tries++ {
		var err error
		rows, err = fetch(ctx)
		kind, action := errors.Resolve(errors.OpList, err)
		if err != nil {
			c.metrics.ErrorClassified(errors.OpList, kind)
		}
		if action == errors.ActionReauthenticate && tries == 0 {
			if err := c.EnsureLogin(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if action == errors.ActionIgnore {
			rows = nil
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %ss: %w", what, err)
		}
		break
	}

	logger := c.logger.WithComponent("list")
	if len(rows) == 0 {
		c.printf("No %ss.", what)
		return rows, nil
	}
	for i, row := range rows {
		args := []interface{}{"index", i}
		var parts []string
		for _, key := range listingFields {
			if v := row.Str(key); v != "" {
				args = append(args, key, v)
				parts = append(parts, key+"="+v)
			}
		}
		logger.Info(strings.ToUpper(what[:1])+what[1:], args...)
		fmt.Fprintf(c.out, "%3d %s\n", i, strings.Join(parts, " "))
	}
	return rows, nil
}

// History writes the most recent journalled runs to w.
func History(ctx context.Context, w io.Writer, store *journal.Store, limit int) error {
	runs, err := store.Runs(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs journalled.")
		return nil
	}
	for _, r := range runs {
		paid := ""
		if r.Paid {
			paid = " paid"
		}
		fmt.Fprintf(w, "%s  %s  %s → %s  %s %s:00  seat=%s  polls=%d errors=%d  %s %s%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID[:8],
			r.Departure, r.Arrival, r.Date, r.Hour, r.Seat,
			r.Polls, r.Errors, r.Outcome, r.PNR, paid)
	}
	return nil
}

// SetCard stores the payment card after validation.
func SetCard(w io.Writer, store interfaces.SecretStore, card payment.Card) error {
	if err := auth.SaveCard(store, card); err != nil {
		return err
	}
	fmt.Fprintln(w, components.RenderStatus(components.StatusInfo, "Card saved."))
	return nil
}

// SetTelegram stores the Telegram bot token and chat id.
func SetTelegram(w io.Writer, store interfaces.SecretStore, t auth.Telegram) error {
	if err := auth.SaveTelegram(store, t); err != nil {
		return err
	}
	fmt.Fprintln(w, components.RenderStatus(components.StatusInfo, "Telegram settings saved."))
	return nil
}

// ClearCredentials removes the card and the Telegram settings.
func ClearCredentials(w io.Writer, store interfaces.SecretStore) error {
	if err := auth.ClearCard(store); err != nil {
		return err
	}
	for _, name := range []string{auth.TelegramToken, auth.TelegramChatID} {
		if err := store.Delete(auth.Key(auth.ServiceTelegram, name)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	}
	fmt.Fprintln(w, components.RenderStatus(components.StatusInfo, "Stored credentials removed."))
	return nil
}
