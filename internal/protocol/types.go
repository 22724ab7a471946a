// Package protocol implements the vendor's mobile JSON API as seen from an
// authenticated browser session. This file defines the endpoint constants,
// the loosely typed payload model with its single-or-list normalization,
// and the Train snapshot built from schedule rows.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Vendor origin and page URLs
const (
	DefaultBaseURL = "https://www.korail.com"
	LoginPath      = "/ticket/login"
	SearchPath     = "/ticket/search/general"
)

// Vendor API endpoint paths
const (
	EndpointSchedule        = "/classes/com.korail.mobile.seatMovie.ScheduleView"
	EndpointLoginCheck      = "/ebizweb/common/loginCheck"
	EndpointReserve         = "/classes/com.korail.mobile.certification.TicketReservation"
	EndpointReservationList = "/classes/com.korail.mobile.certification.ReservationList"
	EndpointReservationView = "/classes/com.korail.mobile.reservation.ReservationView"
	EndpointMyTicket        = "/classes/com.korail.mobile.myTicket.MyTicketList"
	EndpointPayment         = "/classes/com.korail.mobile.payment.ReservationPayment"
)

// Mobile client identity expected by the reservation lookup and payment endpoints
const (
	MobileDevice  = "AD"
	MobileVersion = "250601002"
	MobileKey     = "korail1234567890"
)

// Web client identity used by search and reserve
const (
	WebDevice  = "BH"
	WebVersion = "999999999"
)

// Seat availability codes
const (
	SeatAvailable = "11"
	SeatSoldOut   = "13"
	SeatWaiting   = "09"
)

// Train group codes
const (
	TrainGroupKTX = "100"
	TrainGroupAll = "00"
)

// Timeouts
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultCallTimeout       = 20 * time.Second
	DefaultMinCallSpacing    = 250 * time.Millisecond
)

// Payload is a decoded vendor JSON object.
type Payload map[string]interface{}

// Str returns the value under key as a trimmed string. Missing and null values yield "".
func (p Payload) Str(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(stringify(p[key]))
}

// Has reports whether key is present, even with an empty value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Child returns the object stored under key, or nil when it is absent or not an object.
func (p Payload) Child(key string) Payload {
	if p == nil {
		return nil
	}
	return asPayload(p[key])
}

// Items returns the objects stored under key, normalizing the vendor's
// single-object-or-array encoding.
func (p Payload) Items(key string) []Payload {
	if p == nil {
		return nil
	}
	return NodeOf(p[key]).Items()
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Strings flattens the payload into a map of stringified values.
func (p Payload) Strings() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = stringify(v)
	}
	return out
}

func asPayload(v interface{}) Payload {
	switch m := v.(type) {
	case Payload:
		return m
	case map[string]interface{}:
		return Payload(m)
	default:
		return nil
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

// NodeShape tells how a repeated vendor field was encoded.
type NodeShape int

const (
	ShapeAbsent NodeShape = iota
	ShapeSingle
	ShapeList
)

// Node is a repeated vendor field, which the vendor encodes as nothing,
// one bare object, or an array of objects.
type Node struct {
	Shape NodeShape
	items []Payload
}

// NodeOf classifies a decoded JSON value. Non-object array elements are dropped.
func NodeOf(v interface{}) Node {
	if single := asPayload(v); single != nil {
		return Node{Shape: ShapeSingle, items: []Payload{single}}
	}
	list, ok := v.([]interface{})
	if !ok {
		return Node{Shape: ShapeAbsent}
	}
	items := make([]Payload, 0, len(list))
	for _, el := range list {
		if obj := asPayload(el); obj != nil {
			items = append(items, obj)
		}
	}
	return Node{Shape: ShapeList, items: items}
}

// Items returns the node's objects; absent nodes yield an empty slice.
func (n Node) Items() []Payload {
	return n.items
}

// SeatClass is the fare category of a reservation
type SeatClass string

const (
	SeatGeneral  SeatClass = "general"
	SeatSpecial  SeatClass = "special"
	SeatStanding SeatClass = "standing"
)

// CarClassCode returns the vendor's passenger-car class code. Standing
// tickets are booked as general class.
func (s SeatClass) CarClassCode() string {
	if s == SeatSpecial {
		return "2"
	}
	return "1"
}

// TrainKey identifies a scheduled trip across repeated searches.
type TrainKey struct {
	DepDate   string `json:"depDate" yaml:"depDate"`
	TrainNo   string `json:"trainNo" yaml:"trainNo"`
	DepTime   string `json:"depTime" yaml:"depTime"`
	Departure string `json:"departure" yaml:"departure"`
	Arrival   string `json:"arrival" yaml:"arrival"`
}

// String renders the key for logs.
func (k TrainKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s-%s", k.DepDate, k.TrainNo, k.DepTime, k.Departure, k.Arrival)
}

// Train is an immutable snapshot of one scheduled service from a search.
type Train struct {
	TrainNo      string
	TrainType    string
	TrainGroup   string
	Departure    string
	Arrival      string
	DepTime      string
	ArrTime      string
	DepDate      string
	GeneralSeat  string
	GeneralCode  string
	SpecialSeat  string
	SpecialCode  string
	StandingSeat string
	StandingCode string
	WaitingSeat  string
	WaitingCode  string
	Price        string
	Raw          map[string]string
}

// TrainFromSchedule builds a Train from a schedule row.
func TrainFromSchedule(row Payload) Train {
	raw := row.Strings()
	waitingCode, ok := raw["h_wait_rsv_flg"]
	if !ok {
		waitingCode = raw["h_wait_rsv_cd"]
	}
	return Train{
		TrainNo:      raw["h_trn_no"],
		TrainType:    raw["h_car_tp_nm"],
		TrainGroup:   raw["h_trn_gp_nm"],
		Departure:    raw["h_dpt_rs_stn_nm"],
		Arrival:      raw["h_arv_rs_stn_nm"],
		DepTime:      raw["h_dpt_tm_qb"],
		ArrTime:      raw["h_arv_tm_qb"],
		DepDate:      raw["h_dpt_dt"],
		GeneralSeat:  raw["h_gen_rsv_nm"],
		GeneralCode:  raw["h_gen_rsv_cd"],
		SpecialSeat:  raw["h_spe_rsv_nm"],
		SpecialCode:  raw["h_spe_rsv_cd"],
		StandingSeat: raw["h_stnd_rsv_nm"],
		StandingCode: raw["h_stnd_rsv_cd"],
		WaitingSeat:  raw["h_wait_rsv_nm"],
		WaitingCode:  waitingCode,
		Price:        raw["h_rcvd_amt"],
		Raw:          raw,
	}
}

// Key returns the train's cross-poll identity.
func (t Train) Key() TrainKey {
	return TrainKey{
		DepDate:   t.DepDate,
		TrainNo:   t.TrainNo,
		DepTime:   t.DepTime,
		Departure: t.Departure,
		Arrival:   t.Arrival,
	}
}

// HasGeneral reports whether general seats can be reserved.
func (t Train) HasGeneral() bool { return t.GeneralCode == SeatAvailable }

// HasSpecial reports whether special seats can be reserved.
func (t Train) HasSpecial() bool { return t.SpecialCode == SeatAvailable }

// HasStanding reports whether standing tickets can be reserved.
func (t Train) HasStanding() bool { return t.StandingCode == SeatAvailable }

// HasAnySeat reports whether a general or special seat can be reserved.
func (t Train) HasAnySeat() bool { return t.HasGeneral() || t.HasSpecial() }

// HasWaitingList reports whether the waiting list is open. The status code
// wins when it is "09"; otherwise the display text is inspected, which is a
// heuristic over vendor wording.
func (t Train) HasWaitingList() bool {
	code := strings.TrimSpace(t.WaitingCode)
	if code != "" && isDigits(code) && len(code) < 2 {
		code = strings.Repeat("0", 2-len(code)) + code
	}
	if code == SeatWaiting {
		return true
	}

	name := strings.TrimSpace(t.WaitingSeat)
	if name == "" || !strings.Contains(name, "가능") {
		return false
	}
	for _, negative := range []string{"불가", "없", "마감"} {
		if strings.Contains(name, negative) {
			return false
		}
	}
	return true
}

// WaitingStatus returns the display text of the waiting list.
func (t Train) WaitingStatus() string {
	if name := strings.TrimSpace(t.WaitingSeat); name != "" {
		return name
	}
	if t.HasWaitingList() {
		return "가능"
	}
	return "불가"
}

// DepartureTimeParam returns the departure time as HHMMSS for reservation requests.
func (t Train) DepartureTimeParam() string {
	dep := t.Raw["h_dpt_tm"]
	if dep == "" {
		dep = t.Raw["h_dpt_tm_qb"]
	}
	dep = strings.ReplaceAll(dep, ":", "")
	if len(dep) == 4 {
		dep += "00"
	}
	return dep
}

// rawOr returns the raw field or fallback when the field is absent.
func (t Train) rawOr(key, fallback string) string {
	if v, ok := t.Raw[key]; ok {
		return v
	}
	return fallback
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigitsOnly strips every non-digit character from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConnectionStatistics tracks vendor call performance
type ConnectionStatistics struct {
	TotalRequests       int64         `json:"totalRequests"`
	SuccessfulRequests  int64         `json:"successfulRequests"`
	FailedRequests      int64         `json:"failedRequests"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastRequestTime     time.Time     `json:"lastRequestTime"`
}
