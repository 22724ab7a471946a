package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// DefaultTimeout bounds one delivery attempt of one channel.
const DefaultTimeout = 15 * time.Second

// ResultFunc is called once per channel after a delivery attempt.
type ResultFunc func(channel string, err error)

// Dispatcher fans an event out to every channel in the background.
type Dispatcher struct {
	notifiers []interfaces.Notifier
	timeout   time.Duration
	onResult  ResultFunc
	logger    *logging.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher over notifiers. onResult may be nil.
func NewDispatcher(notifiers []interfaces.Notifier, onResult ResultFunc, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetNotifyLogger()
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   DefaultTimeout,
		onResult:  onResult,
		logger:    logger,
	}
}

// Dispatch starts one delivery per channel and returns immediately.
// Deliveries are detached from the caller's context. Wait bounds how long
// the process lingers for them.
func (d *Dispatcher) Dispatch(event interfaces.Event) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n interfaces.Notifier) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			err := n.Notify(ctx, event)
			if err != nil {
				d.logger.Warn("Notification failed", "channel", n.Name(), "pnr", event.PNR, "error", err.Error())
			}
			if d.onResult != nil {
				d.onResult(n.Name(), err)
			}
		}(n)
	}
}

// Wait blocks until every started delivery has finished or ctx is done.
// It reports whether all deliveries finished.
func (d *Dispatcher) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		d.logger.Warn("Gave up waiting for notifications")
		return false
	}
}
