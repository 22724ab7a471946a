package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Sentinel errors for outcomes that are not raised by the vendor.
var (
	ErrPaymentDataIncomplete = stderrors.New("payment data incomplete")
	ErrCardIncomplete        = stderrors.New("card details incomplete")
	ErrPaymentFailed         = stderrors.New("payment failed")
	ErrTooManyErrors         = stderrors.New("too many consecutive errors")
	ErrAttemptsExhausted     = stderrors.New("attempt budget exhausted")
	ErrReauthTimeout         = stderrors.New("re-authentication timed out")
	ErrCancelled             = stderrors.New("cancelled")
	ErrNotAuthenticated      = stderrors.New("not authenticated")
	ErrMalformedResponse     = stderrors.New("malformed vendor response")
)

// Vendor result codes that mean the session is no longer valid.
var sessionExpiredCodes = map[string]struct{}{
	"P058":      {},
	"WRT300004": {},
	"WRD000003": {},
}

// Vendor result codes that mean the query matched nothing.
var noDataCodes = map[string]struct{}{
	"P100":      {},
	"WRG000000": {},
	"WRD000061": {},
	"WRT300005": {},
}

// VendorError is a failure reported by the vendor inside a well-formed response.
type VendorError struct {
	Message  string
	Code     string
	Endpoint string
}

// Error implements the error interface
func (e *VendorError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// NewVendorError returns a vendor error, defaulting the message when empty.
func NewVendorError(endpoint, message, code string) *VendorError {
	if strings.TrimSpace(message) == "" {
		message = "Korail API failed"
	}
	return &VendorError{Message: message, Code: strings.TrimSpace(code), Endpoint: endpoint}
}

// IsSessionExpired reports whether the vendor error signals an expired session.
func (e *VendorError) IsSessionExpired() bool {
	_, ok := sessionExpiredCodes[e.Code]
	return ok
}

// IsNoData reports whether the vendor error only means "nothing found".
func (e *VendorError) IsNoData() bool {
	if _, ok := noDataCodes[e.Code]; ok {
		return true
	}
	return strings.Contains(e.Message, "예약") && strings.Contains(e.Message, "없")
}

// RejectionError wraps a vendor error returned for a reservation request.
type RejectionError struct {
	TrainNo string
	Err     *VendorError
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("reservation for train %s rejected: %v", e.TrainNo, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Kind is the class an error falls into.
type Kind int

const (
	KindNone Kind = iota
	KindSessionExpired
	KindNoData
	KindVendor
	KindBusinessRejection
	KindTransient
	KindPaymentDataIncomplete
	KindCardIncomplete
	KindPaymentFailed
	KindCancelled
	KindFatal
)

var kindNames = map[Kind]string{
	KindNone:                  "none",
	KindSessionExpired:        "session_expired",
	KindNoData:                "no_data",
	KindVendor:                "vendor",
	KindBusinessRejection:     "business_rejection",
	KindTransient:             "transient",
	KindPaymentDataIncomplete: "payment_data_incomplete",
	KindCardIncomplete:        "card_incomplete",
	KindPaymentFailed:         "payment_failed",
	KindCancelled:             "cancelled",
	KindFatal:                 "fatal",
}

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classify maps an error to its Kind. It has no side effects.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if stderrors.Is(err, ErrCancelled) || stderrors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var vendor *VendorError
	if stderrors.As(err, &vendor) {
		if vendor.IsSessionExpired() {
			return KindSessionExpired
		}
		var rejection *RejectionError
		if stderrors.As(err, &rejection) {
			return KindBusinessRejection
		}
		if vendor.IsNoData() {
			return KindNoData
		}
		return KindVendor
	}

	switch {
	case stderrors.Is(err, ErrCardIncomplete):
		return KindCardIncomplete
	case stderrors.Is(err, ErrPaymentDataIncomplete):
		return KindPaymentDataIncomplete
	case stderrors.Is(err, ErrPaymentFailed):
		return KindPaymentFailed
	case stderrors.Is(err, ErrTooManyErrors), stderrors.Is(err, ErrAttemptsExhausted),
		stderrors.Is(err, ErrReauthTimeout), stderrors.Is(err, ErrNotAuthenticated):
		return KindFatal
	}

	var ctxErr *ContextualError
	if stderrors.As(err, &ctxErr) {
		return ctxErr.Kind()
	}
	return KindTransient
}

// IsSessionExpired is shorthand for Classify(err) == KindSessionExpired.
func IsSessionExpired(err error) bool {
	return Classify(err) == KindSessionExpired
}

// IsNoData is shorthand for Classify(err) == KindNoData.
func IsNoData(err error) bool {
	return Classify(err) == KindNoData
}
