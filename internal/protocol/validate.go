package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stations served by the KTX network, in the order offered for selection.
var Stations = []string{
	"서울", "용산", "광명", "수서", "영등포", "수원", "평택", "천안아산", "천안",
	"오송", "조치원", "대전", "서대전", "김천구미", "구미", "동대구", "대구",
	"경주", "울산(통도사)", "포항", "경산", "밀양", "부산", "구포", "창원중앙",
	"평창", "진부(오대산)", "강릉", "익산", "전주", "광주송정", "목포", "순천",
	"청량리", "정동진",
}

// Default route
const (
	DefaultDeparture = "서울"
	DefaultArrival   = "부산"
)

// IsKnownStation reports whether name is one of Stations.
func IsKnownStation(name string) bool {
	for _, s := range Stations {
		if s == name {
			return true
		}
	}
	return false
}

// PadHour left-pads a one-digit hour with a zero.
func PadHour(hour string) string {
	hour = strings.TrimSpace(hour)
	if len(hour) == 1 {
		return "0" + hour
	}
	return hour
}

// ValidationError represents request validation failures
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// RequestValidator checks requests before they are sent to the vendor
type RequestValidator struct{}

// NewRequestValidator creates a new request validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{}
}

// ValidateSearchQuery validates a schedule search
func (rv *RequestValidator) ValidateSearchQuery(q SearchQuery) error {
	if strings.TrimSpace(q.Departure) == "" {
		return &ValidationError{Field: "departure", Message: "cannot be empty"}
	}
	if strings.TrimSpace(q.Arrival) == "" {
		return &ValidationError{Field: "arrival", Message: "cannot be empty"}
	}
	if q.Departure == q.Arrival {
		return &ValidationError{Field: "arrival", Message: "must differ from departure"}
	}
	if err := rv.ValidateDate(q.Date); err != nil {
		return err
	}
	if err := rv.ValidateHour(q.Hour); err != nil {
		return err
	}
	if q.Adults < 1 || q.Adults > 9 {
		return &ValidationError{Field: "adults", Message: "must be between 1 and 9"}
	}
	return nil
}

// ValidateDate checks a YYYYMMDD date
func (rv *RequestValidator) ValidateDate(date string) error {
	if len(date) != 8 {
		return &ValidationError{Field: "date", Message: "must be YYYYMMDD"}
	}
	if _, err := time.Parse("20060102", date); err != nil {
		return &ValidationError{Field: "date", Message: "must be a valid YYYYMMDD date"}
	}
	return nil
}

// ValidateHour checks an hour between 00 and 23
func (rv *RequestValidator) ValidateHour(hour string) error {
	h, err := strconv.Atoi(PadHour(hour))
	if err != nil || len(PadHour(hour)) != 2 || h < 0 || h > 23 {
		return &ValidationError{Field: "hour", Message: "must be between 00 and 23"}
	}
	return nil
}

// ValidatePaymentRequest validates a payment request
func (rv *RequestValidator) ValidatePaymentRequest(r PaymentRequest) error {
	switch {
	case r.PNR == "":
		return &ValidationError{Field: "pnr", Message: "cannot be empty"}
	case r.WctNo == "":
		return &ValidationError{Field: "wctNo", Message: "cannot be empty"}
	case DigitsOnly(r.Amount) != r.Amount || r.Amount == "" || strings.TrimLeft(r.Amount, "0") == "":
		return &ValidationError{Field: "amount", Message: "must be a positive number"}
	case r.CardNumber == "":
		return &ValidationError{Field: "cardNumber", Message: "cannot be empty"}
	case r.HolderType != "J" && r.HolderType != "S":
		return &ValidationError{Field: "holderType", Message: "must be J or S"}
	case r.Installment < 0:
		return &ValidationError{Field: "installment", Message: "cannot be negative"}
	}
	return nil
}
