// Package metrics exposes Prometheus counters for the polling engine, vendor
// calls, payments and notifications.
package metrics

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// Recorder holds the ktxgo collectors. Label values are bounded: no PNRs,
// train numbers or run ids.
type Recorder struct {
	registry *prometheus.Registry

	Polls         prometheus.Counter
	TrainsSeen    prometheus.Gauge
	Errors        *prometheus.CounterVec
	Attempts      *prometheus.CounterVec
	VendorCalls   *prometheus.CounterVec
	VendorLatency *prometheus.HistogramVec
	Payments      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,

		Polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "ktxgo_polls_total",
			Help: "Total number of completed availability searches.",
		}),
		TrainsSeen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ktxgo_trains_listed",
			Help: "Number of trains in the most recent search.",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ktxgo_errors_total",
			Help: "Total number of classified errors, by operation and kind.",
		}, []string{"operation", "kind"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ktxgo_reservation_attempts_total",
			Help: "Total number of reservation attempts, by seat class and result.",
		}, []string{"seat", "result"}),
		VendorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ktxgo_vendor_calls_total",
			Help: "Total number of vendor API calls, by endpoint and result.",
		}, []string{"endpoint", "result"}),
		VendorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ktxgo_vendor_call_duration_seconds",
			Help:    "Vendor API call latency, by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"endpoint"}),
		Payments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ktxgo_payments_total",
			Help: "Total number of payment attempts, by result.",
		}, []string{"result"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ktxgo_notifications_total",
			Help: "Total number of notification deliveries, by channel and result.",
		}, []string{"channel", "result"}),
	}
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PollCompleted implements engine.Observer
func (r *Recorder) PollCompleted(_ int, trains []protocol.Train) {
	r.Polls.Inc()
	r.TrainsSeen.Set(float64(len(trains)))
}

// ErrorClassified implements engine.Observer
func (r *Recorder) ErrorClassified(op errors.Operation, kind errors.Kind) {
	r.Errors.WithLabelValues(string(op), kind.String()).Inc()
}

// ReservationAttempted implements engine.Observer
func (r *Recorder) ReservationAttempted(_ protocol.Train, seat protocol.SeatClass, err error) {
	label := "reserved"
	if err != nil {
		label = errors.Classify(err).String()
	}
	r.Attempts.WithLabelValues(string(seat), label).Inc()
}

// ObserveCall is a protocol.CallObserver.
func (r *Recorder) ObserveCall(endpoint string, duration time.Duration, err error) {
	name := endpointName(endpoint)
	r.VendorCalls.WithLabelValues(name, result(err)).Inc()
	r.VendorLatency.WithLabelValues(name).Observe(duration.Seconds())
}

// PaymentFinished counts a payment attempt.
func (r *Recorder) PaymentFinished(err error) {
	label := "ok"
	if err != nil {
		label = errors.Classify(err).String()
	}
	r.Payments.WithLabelValues(label).Inc()
}

// NotificationFinished is a notify.ResultFunc.
func (r *Recorder) NotificationFinished(channel string, err error) {
	r.Notifications.WithLabelValues(channel, result(err)).Inc()
}

// endpointName shortens a vendor path to its last segment, e.g.
// "com.korail.mobile.seatMovie.ScheduleView" becomes "ScheduleView".
func endpointName(endpoint string) string {
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == '/' || endpoint[i] == '.' {
			return endpoint[i+1:]
		}
	}
	return endpoint
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listener started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics listener shutdown failed: %w", err)
		}
		return nil
	}
}
