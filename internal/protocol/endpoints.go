// Package protocol provides the typed vendor operations.
// This file contains request construction and response parsing for each
// endpoint the engine uses: schedule search, reservation, login check,
// reservation and ticket listing, and card payment.
package protocol

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/ktxgo/ktxgo/internal/errors"
)

// SearchQuery describes one schedule search
type SearchQuery struct {
	Departure string
	Arrival   string
	Date      string // YYYYMMDD
	Hour      string // HH
	Adults    int
}

// mobileBase returns the identity fields expected by the mobile endpoints.
func mobileBase() map[string]string {
	return map[string]string{
		"Device":  MobileDevice,
		"Version": MobileVersion,
		"Key":     MobileKey,
	}
}

func searchParams(q SearchQuery) map[string]string {
	return map[string]string{
		"Device":         WebDevice,
		"Version":        WebVersion,
		"radJobId":       "1",
		"selGoTrain":     TrainGroupAll,
		"txtCardPsgCnt":  "0",
		"txtGdNo":        "",
		"txtGoAbrdDt":    q.Date,
		"txtGoEnd":       q.Arrival,
		"txtGoHour":      PadHour(q.Hour) + "0000",
		"txtGoStart":     q.Departure,
		"txtJobDv":       "",
		"txtMenuId":      "11",
		"txtPsgFlg_1":    strconv.Itoa(q.Adults),
		"txtPsgFlg_2":    "0",
		"txtPsgFlg_3":    "0",
		"txtPsgFlg_4":    "0",
		"txtPsgFlg_5":    "0",
		"txtSeatAttCd_2": "000",
		"txtSeatAttCd_3": "000",
		"txtSeatAttCd_4": "015",
		"txtTrnGpCd":     TrainGroupKTX,
		"searchType":     "GENERAL",
	}
}

// Search queries the schedule and returns trains in vendor listing order.
// A response without trains yields an empty slice.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Train, error) {
	if err := NewRequestValidator().ValidateSearchQuery(q); err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}

	data, err := c.Call(ctx, EndpointSchedule, searchParams(q))
	if err != nil {
		return nil, err
	}

	rows := data.Child("trn_infos").Items("trn_info")
	trains := make([]Train, 0, len(rows))
	for _, row := range rows {
		trains = append(trains, TrainFromSchedule(row))
	}
	return trains, nil
}

func reserveParams(train Train, seat SeatClass, adults int, waitlist bool) map[string]string {
	jobID := "1101"
	if waitlist {
		jobID = "1102"
	}
	count := strconv.Itoa(adults)
	return map[string]string{
		"Device":         WebDevice,
		"Version":        WebVersion,
		"txtMenuId":      "11",
		"txtJobId":       jobID,
		"txtGdNo":        "",
		"hidFreeFlg":     "N",
		"txtTotPsgCnt":   count,
		"txtSeatAttCd1":  "000",
		"txtSeatAttCd2":  "000",
		"txtSeatAttCd3":  "000",
		"txtSeatAttCd4":  "015",
		"txtSeatAttCd5":  "000",
		"txtStndFlg":     "N",
		"txtSrcarCnt":    "0",
		"txtJrnyCnt":     "1",
		"txtJrnySqno1":   "001",
		"txtJrnyTpCd1":   "11",
		"txtDptDt1":      train.DepDate,
		"txtDptRsStnCd1": train.Raw["h_dpt_rs_stn_cd"],
		"txtDptTm1":      train.DepartureTimeParam(),
		"txtArvRsStnCd1": train.Raw["h_arv_rs_stn_cd"],
		"txtTrnNo1":      train.TrainNo,
		"txtRunDt1":      train.rawOr("h_run_dt", train.DepDate),
		"txtTrnClsfCd1":  train.rawOr("h_trn_clsf_cd", "100"),
		"txtTrnGpCd1":    train.rawOr("h_trn_gp_cd", TrainGroupKTX),
		"txtPsrmClCd1":   seat.CarClassCode(),
		"txtChgFlg1":     "",
		"txtPsgTpCd1":    "1",
		"txtDiscKndCd1":  "000",
		"txtCompaCnt1":   count,
		"txtCardCode_1":  "",
		"txtCardNo_1":    "",
		"txtCardPw_1":    "",
	}
}

// Reserve books seats of the given class on train. A vendor refusal is
// returned as *errors.RejectionError wrapping the vendor error.
func (c *Client) Reserve(ctx context.Context, train Train, seat SeatClass, adults int) (Payload, error) {
	return c.reserve(ctx, train, seat, adults, false)
}

// ReserveWaitlist puts the passengers on the train's waiting list.
func (c *Client) ReserveWaitlist(ctx context.Context, train Train, seat SeatClass, adults int) (Payload, error) {
	return c.reserve(ctx, train, seat, adults, true)
}

func (c *Client) reserve(ctx context.Context, train Train, seat SeatClass, adults int, waitlist bool) (Payload, error) {
	if adults < 1 {
		return nil, &ValidationError{Field: "adults", Message: "must be at least 1"}
	}
	data, err := c.Call(ctx, EndpointReserve, reserveParams(train, seat, adults, waitlist))
	if err != nil {
		var vendor *errors.VendorError
		if stderrors.As(err, &vendor) {
			return nil, &errors.RejectionError{TrainNo: train.TrainNo, Err: vendor}
		}
		return nil, err
	}
	return data, nil
}

// LoginCheck returns the raw login-check payload.
func (c *Client) LoginCheck(ctx context.Context) (Payload, error) {
	return c.Call(ctx, EndpointLoginCheck, map[string]string{})
}

// ReservationList returns the reservation detail for one PNR.
func (c *Client) ReservationList(ctx context.Context, pnr string) (Payload, error) {
	params := mobileBase()
	params["hidPnrNo"] = pnr
	return c.Call(ctx, EndpointReservationList, params)
}

// ReservationView returns the account's pending reservations.
func (c *Client) ReservationView(ctx context.Context) (Payload, error) {
	return c.Call(ctx, EndpointReservationView, mobileBase())
}

var reservationInheritKeys = []string{
	"h_pnr_no",
	"h_rsv_amt",
	"h_ntisu_lmt_dt",
	"h_ntisu_lmt_tm",
	"h_run_dt",
	"h_dpt_dt",
	"h_dpt_tm",
	"h_dpt_rs_stn_nm",
	"h_arv_rs_stn_nm",
	"h_trn_no",
	"h_rsv_chg_no",
	"hidRsvChgNo",
	"h_wct_no",
}

var ticketInheritKeys = []string{
	"h_pnr_no",
	"h_orgtk_sale_dt",
	"h_orgtk_wct_no",
	"h_orgtk_ret_sale_dt",
	"h_orgtk_sale_sqno",
	"h_orgtk_ret_pwd",
	"h_rcvd_amt",
	"h_buy_ps_nm",
}

// inherit copies each key from parents (nearest first) into child when the
// child's own value is blank.
func inherit(child Payload, keys []string, parents ...Payload) Payload {
	merged := child.Clone()
	for _, key := range keys {
		if merged.Str(key) != "" {
			continue
		}
		for _, parent := range parents {
			if parent.Has(key) {
				merged[key] = parent[key]
				break
			}
		}
	}
	return merged
}

// ListReservations returns one row per reserved train leg, each carrying the
// journey's PNR, amount and payment deadline. No reservations yields an empty slice.
func (c *Client) ListReservations(ctx context.Context) ([]Payload, error) {
	data, err := c.ReservationView(ctx)
	if err != nil {
		if errors.IsNoData(err) {
			return []Payload{}, nil
		}
		return nil, err
	}

	var out []Payload
	for _, jrny := range data.Child("jrny_infos").Items("jrny_info") {
		legs := jrny.Child("train_infos").Items("train_info")
		if len(legs) == 0 {
			out = append(out, jrny)
			continue
		}
		for _, leg := range legs {
			out = append(out, inherit(leg, reservationInheritKeys, jrny))
		}
	}
	if out == nil {
		out = []Payload{}
	}
	return out, nil
}

func ticketParamCandidates() []map[string]string {
	common := map[string]string{
		"txtDeviceId":    "",
		"txtIndex":       "1",
		"h_page_no":      "1",
		"h_abrd_dt_from": "",
		"h_abrd_dt_to":   "",
		"hiduserYn":      "Y",
	}
	mobile := mobileBase()
	web := map[string]string{"Device": WebDevice, "Version": WebVersion}
	for k, v := range common {
		mobile[k] = v
		web[k] = v
	}
	return []map[string]string{mobile, web}
}

// ListTickets returns one row per issued ticket leg. The mobile identity is
// tried first and the web identity second. No tickets yields an empty slice.
func (c *Client) ListTickets(ctx context.Context) ([]Payload, error) {
	var (
		data    Payload
		lastErr error
	)
	for _, params := range ticketParamCandidates() {
		result, err := c.Call(ctx, EndpointMyTicket, params)
		if err == nil {
			data = result
			break
		}
		if errors.IsNoData(err) {
			return []Payload{}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	if data == nil {
		return nil, fmt.Errorf("failed to list tickets: %w", lastErr)
	}

	out := []Payload{}
	for _, entry := range data.Items("reservation_list") {
		tickets := entry.Items("ticket_list")
		if len(tickets) == 0 {
			out = append(out, entry)
			continue
		}
		for _, ticket := range tickets {
			legs := ticket.Items("train_info")
			if len(legs) == 0 {
				out = append(out, inherit(ticket, ticketInheritKeys, entry))
				continue
			}
			for _, leg := range legs {
				out = append(out, inherit(leg, ticketInheritKeys, ticket, entry))
			}
		}
	}
	return out, nil
}

// PaymentRequest carries everything a card payment needs.
type PaymentRequest struct {
	PNR         string
	WctNo       string
	TmpJobSqno1 string
	TmpJobSqno2 string
	RsvChgNo    string
	Amount      string
	CardNumber  string
	CardPwd     string
	CardExpire  string // YYMM
	HolderType  string // J individual, S business
	HolderID    string // birthday YYMMDD or business registration number
	Installment int
	SmartTicket bool
}

func paymentParams(r PaymentRequest) map[string]string {
	params := mobileBase()
	rsvChgNo := r.RsvChgNo
	if rsvChgNo == "" {
		rsvChgNo = "000"
	}
	smart := "N"
	if r.SmartTicket {
		smart = "Y"
	}
	for k, v := range map[string]string{
		"hidPnrNo":           r.PNR,
		"hidWctNo":           r.WctNo,
		"hidTmpJobSqno1":     r.TmpJobSqno1,
		"hidTmpJobSqno2":     r.TmpJobSqno2,
		"hidRsvChgNo":        rsvChgNo,
		"hidInrecmnsGridcnt": "1",
		"hidStlMnsSqno1":     "1",
		"hidStlMnsCd1":       "02",
		"hidMnsStlAmt1":      r.Amount,
		"hidCrdInpWayCd1":    "@",
		"hidStlCrCrdNo1":     r.CardNumber,
		"hidVanPwd1":         r.CardPwd,
		"hidCrdVlidTrm1":     r.CardExpire,
		"hidIsmtMnthNum1":    strconv.Itoa(r.Installment),
		"hidAthnDvCd1":       r.HolderType,
		"hidAthnVal1":        r.HolderID,
		"hiduserYn":          smart,
	} {
		params[k] = v
	}
	return params
}

// Pay submits a card payment for a reservation.
func (c *Client) Pay(ctx context.Context, r PaymentRequest) (Payload, error) {
	if err := NewRequestValidator().ValidatePaymentRequest(r); err != nil {
		return nil, fmt.Errorf("invalid payment request: %w", err)
	}
	return c.Call(ctx, EndpointPayment, paymentParams(r))
}
