package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

func TestEngineObserverCounters(t *testing.T) {
	r := NewRecorder()
	trains := []protocol.Train{{TrainNo: "101"}, {TrainNo: "103"}}

	r.PollCompleted(1, trains)
	r.PollCompleted(2, trains[:1])
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Polls))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TrainsSeen))

	r.ErrorClassified(errors.OpSearch, errors.KindTransient)
	r.ErrorClassified(errors.OpSearch, errors.KindTransient)
	r.ErrorClassified(errors.OpReserve, errors.KindSessionExpired)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Errors.WithLabelValues("search", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Errors.WithLabelValues("reserve", "session_expired")))

	r.ReservationAttempted(trains[0], protocol.SeatGeneral, &errors.VendorError{Message: "sold out"})
	r.ReservationAttempted(trains[0], protocol.SeatSpecial, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Attempts.WithLabelValues("general", "vendor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Attempts.WithLabelValues("special", "reserved")))
}

func TestObserveCall(t *testing.T) {
	r := NewRecorder()
	r.ObserveCall(protocol.EndpointSchedule, 120*time.Millisecond, nil)
	r.ObserveCall(protocol.EndpointSchedule, 3*time.Second, fmt.Errorf("timeout"))
	r.ObserveCall(protocol.EndpointLoginCheck, 50*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.VendorCalls.WithLabelValues("ScheduleView", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VendorCalls.WithLabelValues("ScheduleView", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VendorCalls.WithLabelValues("loginCheck", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.VendorLatency))
}

func TestPaymentAndNotificationCounters(t *testing.T) {
	r := NewRecorder()
	r.PaymentFinished(nil)
	r.PaymentFinished(fmt.Errorf("x: %w", errors.ErrPaymentDataIncomplete))
	r.NotificationFinished("telegram", nil)
	r.NotificationFinished("amqp", fmt.Errorf("dial"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Payments.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Payments.WithLabelValues("payment_data_incomplete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues("telegram", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues("amqp", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.PollCompleted(1, nil)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ktxgo_polls_total 1")
}

func TestServeStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	r := NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, addr, logging.Discard()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "ktxgo_polls_total")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics listener did not stop")
	}
}

func TestEndpointName(t *testing.T) {
	assert.Equal(t, "ScheduleView", endpointName(protocol.EndpointSchedule))
	assert.Equal(t, "loginCheck", endpointName(protocol.EndpointLoginCheck))
	assert.Equal(t, "plain", endpointName("plain"))
}
