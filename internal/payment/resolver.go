// Package payment assembles the payment context of a completed reservation
// and submits the card payment. Reservation responses do not always carry
// the amount and transaction key, so the resolver hydrates missing fields
// from the reservation detail and overview endpoints before paying.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// unsetJobSqno is the vendor's placeholder for an unknown job sequence.
const unsetJobSqno = "000000"

var (
	amountKeys   = []string{"h_rsv_amt", "h_rcvd_amt", "hidPayAmount"}
	wctKeys      = []string{"h_wct_no", "hidWctNo"}
	rsvChgKeys   = []string{"h_rsv_chg_no", "hidRsvChgNo"}
	legPNRKeys   = []string{"h_pnr_no", "hidPnrNo"}
	failureWords = []string{"실패", "오류", "불가", "거절", "취소", "fail", "error", "denied", "declined"}
)

// Vendor is the part of the protocol client payment needs.
type Vendor interface {
	ReservationList(ctx context.Context, pnr string) (protocol.Payload, error)
	ReservationView(ctx context.Context) (protocol.Payload, error)
	Pay(ctx context.Context, r protocol.PaymentRequest) (protocol.Payload, error)
}

// Context is everything the payment request needs from the reservation.
type Context struct {
	PNR         string
	WctNo       string
	Amount      string
	RsvChgNo    string
	TmpJobSqno1 string
	TmpJobSqno2 string
}

// Payable reports whether amount and transaction key are known.
func (c Context) Payable() bool {
	return c.amountKnown() && c.WctNo != ""
}

// Complete reports whether no field is missing.
func (c Context) Complete() bool {
	return c.Payable() && c.RsvChgNo != "" && jobKnown(c.TmpJobSqno1) && jobKnown(c.TmpJobSqno2)
}

func (c Context) amountKnown() bool {
	return c.Amount != "" && strings.TrimLeft(c.Amount, "0") != ""
}

func jobKnown(v string) bool {
	return v != "" && v != unsetJobSqno
}

// belongsTo reports whether item is unmarked or carries the context's PNR.
func (c *Context) belongsTo(item protocol.Payload) bool {
	for _, key := range legPNRKeys {
		if pnr := item.Str(key); pnr != "" {
			return pnr == c.PNR
		}
	}
	return true
}

// hydrate fills fields that are still missing from item. When matchPNR is
// set, items that carry a different PNR are ignored.
func (c *Context) hydrate(item protocol.Payload, matchPNR bool) {
	if matchPNR && !c.belongsTo(item) {
		return
	}

	if !c.amountKnown() {
		for _, key := range amountKeys {
			if v := protocol.DigitsOnly(item.Str(key)); v != "" && strings.TrimLeft(v, "0") != "" {
				c.Amount = v
				break
			}
		}
	}
	if c.WctNo == "" {
		c.WctNo = first(item, wctKeys)
	}
	if c.RsvChgNo == "" {
		c.RsvChgNo = first(item, rsvChgKeys)
	}
	if !jobKnown(c.TmpJobSqno1) {
		if v := item.Str("h_tmp_job_sqno1"); v != "" {
			c.TmpJobSqno1 = v
		}
	}
	if !jobKnown(c.TmpJobSqno2) {
		if v := item.Str("h_tmp_job_sqno2"); v != "" {
			c.TmpJobSqno2 = v
		}
	}
}

// hydrateFrom scans a response: optionally its top level, then every
// journey and every train leg under it. Journeys and legs must match the
// PNR; the legs of a journey booked under another PNR are skipped.
func (c *Context) hydrateFrom(data protocol.Payload, topLevel bool) {
	if topLevel {
		c.hydrate(data, false)
	}
	for _, jrny := range data.Child("jrny_infos").Items("jrny_info") {
		if !c.belongsTo(jrny) {
			continue
		}
		c.hydrate(jrny, false)
		for _, leg := range jrny.Child("train_infos").Items("train_info") {
			c.hydrate(leg, true)
		}
	}
}

func first(item protocol.Payload, keys []string) string {
	for _, key := range keys {
		if v := item.Str(key); v != "" {
			return v
		}
	}
	return ""
}

// Resolver hydrates payment contexts and submits payments
type Resolver struct {
	vendor Vendor
	logger *logging.Logger
}

// NewResolver creates a payment resolver
func NewResolver(vendor Vendor, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.GetPaymentLogger()
	}
	return &Resolver{vendor: vendor, logger: logger}
}

// Resolve builds the payment context for a reservation response. The
// reservation itself is scanned first; the detail endpoint keyed by PNR and
// then the unkeyed overview endpoint are consulted only while the amount or
// the transaction key is still missing. Optional fields found along the way
// are kept; the rest fall back to the vendor's placeholders. An unresolved
// amount or transaction key yields an error wrapping
// errors.ErrPaymentDataIncomplete.
func (r *Resolver) Resolve(ctx context.Context, reservation protocol.Payload) (Context, error) {
	pc := Context{PNR: reservation.Str("h_pnr_no")}
	if pc.PNR == "" {
		return pc, fmt.Errorf("%w: missing reservation number (h_pnr_no)", errors.ErrPaymentDataIncomplete)
	}
	pc.hydrateFrom(reservation, true)

	chain := errors.NewErrorChain(r.logger)
	stages := []struct {
		name     string
		fetch    func() (protocol.Payload, error)
		topLevel bool
	}{
		{"reservation detail", func() (protocol.Payload, error) { return r.vendor.ReservationList(ctx, pc.PNR) }, true},
		{"reservation overview", func() (protocol.Payload, error) { return r.vendor.ReservationView(ctx) }, false},
	}
	for _, stage := range stages {
		if pc.Payable() {
			break
		}
		r.logger.Debug("Hydrating payment context", "stage", stage.name, "pnr", pc.PNR)
		data, err := stage.fetch()
		if err != nil {
			switch errors.Classify(err) {
			case errors.KindCancelled, errors.KindSessionExpired:
				return pc, err
			}
			chain.Add(fmt.Errorf("%s: %w", stage.name, err))
			continue
		}
		pc.hydrateFrom(data, stage.topLevel)
	}

	if !pc.amountKnown() {
		return pc, r.incomplete(chain, "unable to determine payment amount")
	}
	if pc.WctNo == "" {
		return pc, r.incomplete(chain, "unable to determine payment key (h_wct_no)")
	}
	if !pc.Complete() {
		r.logger.Debug("Payment context partially resolved", "pnr", pc.PNR, "rsv_chg_no", pc.RsvChgNo)
	}
	if !jobKnown(pc.TmpJobSqno1) {
		pc.TmpJobSqno1 = unsetJobSqno
	}
	if !jobKnown(pc.TmpJobSqno2) {
		pc.TmpJobSqno2 = unsetJobSqno
	}
	return pc, nil
}

func (r *Resolver) incomplete(chain *errors.ErrorChain, message string) error {
	if combined := chain.Combined("payment", "hydration lookups failed"); combined != nil {
		return fmt.Errorf("%w: %s (%v)", errors.ErrPaymentDataIncomplete, message, combined)
	}
	return fmt.Errorf("%w: %s", errors.ErrPaymentDataIncomplete, message)
}

// Result is a completed payment.
type Result struct {
	Context  Context
	Response protocol.Payload
}

// Pay resolves the payment context of reservation and pays it with card.
// No payment request is made when the context is incomplete. A nominal
// success whose message reports a failure is returned as an error wrapping
// errors.ErrPaymentFailed.
func (r *Resolver) Pay(ctx context.Context, reservation protocol.Payload, card Card, opts Options) (*Result, error) {
	if err := card.Validate(); err != nil {
		return nil, err
	}
	pc, err := r.Resolve(ctx, reservation)
	if err != nil {
		return nil, err
	}

	holderType := opts.HolderType
	if holderType == "" {
		holderType = card.HolderType()
	}
	req := protocol.PaymentRequest{
		PNR:         pc.PNR,
		WctNo:       pc.WctNo,
		TmpJobSqno1: pc.TmpJobSqno1,
		TmpJobSqno2: pc.TmpJobSqno2,
		RsvChgNo:    pc.RsvChgNo,
		Amount:      pc.Amount,
		CardNumber:  card.Number,
		CardPwd:     card.Password,
		CardExpire:  card.Expire,
		HolderType:  holderType,
		HolderID:    card.Birthday,
		Installment: opts.Installment,
		SmartTicket: opts.SmartTicket,
	}

	l := r.logger.WithFields(map[string]interface{}{"pnr": pc.PNR, "amount": pc.Amount})
	l.Info("Submitting payment")
	resp, err := r.vendor.Pay(ctx, req)
	if err != nil {
		l.Error("Payment rejected", "error", err.Error())
		return nil, err
	}
	if msg := resp.Str("h_msg_txt"); ReportsFailure(msg) {
		l.Error("Payment reported failure", "message", msg)
		return nil, fmt.Errorf("%w: %s", errors.ErrPaymentFailed, msg)
	}
	l.Info("Payment completed")
	return &Result{Context: pc, Response: resp}, nil
}

// ReportsFailure reports whether a vendor message describes a failure.
func ReportsFailure(message string) bool {
	lower := strings.ToLower(message)
	for _, word := range failureWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
