package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"session code P058", NewVendorError("/x", "세션 만료", "P058"), KindSessionExpired},
		{"session code WRT300004", NewVendorError("/x", "", "WRT300004"), KindSessionExpired},
		{"session code WRD000003", NewVendorError("/x", "", "WRD000003"), KindSessionExpired},
		{"no data code", NewVendorError("/x", "조회 결과가 없습니다", "P100"), KindNoData},
		{"no data WRD000061", NewVendorError("/x", "", "WRD000061"), KindNoData},
		{"no data by message", NewVendorError("/x", "예약 내역이 없습니다", "XYZ"), KindNoData},
		{"generic vendor", NewVendorError("/x", "잔여석 없음", "ERR1"), KindVendor},
		{"wrapped session", fmt.Errorf("search: %w", NewVendorError("/x", "", "P058")), KindSessionExpired},
		{"rejection", &RejectionError{TrainNo: "101", Err: NewVendorError("/x", "매진", "R1")}, KindBusinessRejection},
		{"rejection with session code", &RejectionError{TrainNo: "101", Err: NewVendorError("/x", "", "P058")}, KindSessionExpired},
		{"cancelled", context.Canceled, KindCancelled},
		{"cancelled sentinel", fmt.Errorf("poll: %w", ErrCancelled), KindCancelled},
		{"payment incomplete", fmt.Errorf("x: %w", ErrPaymentDataIncomplete), KindPaymentDataIncomplete},
		{"card incomplete", fmt.Errorf("x: %w", ErrCardIncomplete), KindCardIncomplete},
		{"payment failed", ErrPaymentFailed, KindPaymentFailed},
		{"too many", ErrTooManyErrors, KindFatal},
		{"reauth timeout", fmt.Errorf("%w after 5m0s", ErrReauthTimeout), KindFatal},
		{"rejected after restart", fmt.Errorf("%w: saved session rejected", ErrNotAuthenticated), KindFatal},
		{"network", stderrors.New("connection reset"), KindTransient},
		{"unrecoverable contextual", NewConfigurationError("config").WithMessage("bad").Build(), KindFatal},
		{"invalid card", fmt.Errorf("pay: %w", NewValidationError("payment").WithMessage("bad expiry").Build()), KindFatal},
		{"navigation timeout", NewBrowserError("protocol").WithMessage("navigation failed").Build(), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestVendorErrorKeepsMessageAndCode(t *testing.T) {
	err := fmt.Errorf("reserve: %w", NewVendorError("/api", "좌석이 없습니다", "WRR800029"))

	var vendor *VendorError
	require.True(t, stderrors.As(err, &vendor))
	assert.Equal(t, "좌석이 없습니다", vendor.Message)
	assert.Equal(t, "WRR800029", vendor.Code)
	assert.Contains(t, err.Error(), "WRR800029")
}

func TestVendorErrorDefaultMessage(t *testing.T) {
	assert.Equal(t, "Korail API failed", NewVendorError("/api", "  ", "").Error())
}

func TestDecide(t *testing.T) {
	tests := []struct {
		op   Operation
		kind Kind
		want Action
	}{
		{OpSearch, KindNone, ActionContinue},
		{OpSearch, KindSessionExpired, ActionReauthenticate},
		{OpSearch, KindNoData, ActionIgnore},
		{OpSearch, KindVendor, ActionRetry},
		{OpSearch, KindTransient, ActionRetry},
		{OpReserve, KindSessionExpired, ActionReauthenticate},
		{OpReserve, KindBusinessRejection, ActionSkip},
		{OpReserve, KindTransient, ActionSkip},
		{OpPay, KindSessionExpired, ActionAbort},
		{OpPay, KindPaymentDataIncomplete, ActionAbort},
		{OpPay, KindCardIncomplete, ActionAbort},
		{OpList, KindNoData, ActionIgnore},
		{OpProbe, KindTransient, ActionIgnore},
		{OpSearch, KindCancelled, ActionStop},
		{OpSearch, KindFatal, ActionAbort},
	}
	for _, tt := range tests {
		t.Run(string(tt.op)+"/"+tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.op, tt.kind))
		})
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestErrorChainCombined(t *testing.T) {
	chain := NewErrorChain(nil)
	assert.NoError(t, chain.Combined("payment", "lookup failed"))

	chain.Add(stderrors.New("a")).Add(nil).Add(fmt.Errorf("b: %w", ErrNotAuthenticated))
	err := chain.Combined("payment", "lookup failed")
	require.Error(t, err)
	assert.Equal(t, "payment: lookup failed: a; b: not authenticated", err.Error())
	assert.Len(t, chain.Errors(), 2)
	assert.ErrorIs(t, err, ErrNotAuthenticated, "later failures stay matchable")
}

func TestContextualErrorText(t *testing.T) {
	err := NewNetworkError("protocol").
		WithOperation("call").
		WithMessage("call to /search failed").
		WithCause(stderrors.New("connection reset")).
		Build()
	assert.Equal(t, "protocol call: call to /search failed: connection reset", err.Error())
}

func TestAttrGroupsContextualDetails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := fmt.Errorf("search: %w", NewProtocolError("protocol").
		WithOperation("decode").
		WithMessage("bad schedule").
		WithContext("endpoint", "/schedule").
		Build())
	logger.Warn("Search error", Attr(err))

	var record struct {
		Error struct {
			Text   string            `json:"text"`
			Detail map[string]string `json:"detail"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, err.Error(), record.Error.Text)
	assert.Equal(t, "decode", record.Error.Detail["operation"])
	assert.Equal(t, "/schedule", record.Error.Detail["endpoint"])
	assert.Equal(t, "protocol", record.Error.Detail["type"])

	assert.Equal(t, slog.String("error", "plain"), Attr(stderrors.New("plain")))
}
