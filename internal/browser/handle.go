package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// Handle is a Driver that forwards to a replaceable underlying driver. The
// application restarts the browser headed for a manual login and headless
// again afterwards; holders of the Handle keep working across restarts.
type Handle struct {
	factory  interfaces.DriverFactory
	current  interfaces.Driver
	headless bool
	logger   *logging.Logger
	mutex    sync.RWMutex
}

// Open creates a Handle with a driver started by factory.
func Open(ctx context.Context, factory interfaces.DriverFactory, headless bool, logger *logging.Logger) (*Handle, error) {
	if factory == nil {
		return nil, fmt.Errorf("driver factory cannot be nil")
	}
	if logger == nil {
		logger = logging.GetBrowserLogger()
	}
	driver, err := factory(ctx, headless)
	if err != nil {
		return nil, err
	}
	return &Handle{factory: factory, current: driver, headless: headless, logger: logger}, nil
}

// Headless reports the mode of the current driver.
func (h *Handle) Headless() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.headless
}

// Restart closes the current driver and starts a new one in the given
// mode. The old driver is closed before the new one starts because both
// would share the same profile files.
func (h *Handle) Restart(ctx context.Context, headless bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.current != nil {
		if err := h.current.Close(); err != nil {
			h.logger.Warn("Error closing browser before restart", "error", err.Error())
		}
		h.current = nil
	}
	driver, err := h.factory(ctx, headless)
	if err != nil {
		return fmt.Errorf("failed to restart browser (headless=%t): %w", headless, err)
	}
	h.current = driver
	h.headless = headless
	h.logger.Info("Browser restarted", "headless", headless)
	return nil
}

func (h *Handle) driver() (interfaces.Driver, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.current == nil {
		return nil, browserError("handle", "browser is not running", nil)
	}
	return h.current, nil
}

// Navigate forwards to the current driver.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	d, err := h.driver()
	if err != nil {
		return err
	}
	return d.Navigate(ctx, url)
}

// CallEndpoint forwards to the current driver.
func (h *Handle) CallEndpoint(ctx context.Context, path string, params map[string]string) (string, error) {
	d, err := h.driver()
	if err != nil {
		return "", err
	}
	return d.CallEndpoint(ctx, path, params)
}

// IsSessionPersisted forwards to the current driver.
func (h *Handle) IsSessionPersisted() bool {
	d, err := h.driver()
	if err != nil {
		return false
	}
	return d.IsSessionPersisted()
}

// PersistSession forwards to the current driver.
func (h *Handle) PersistSession() error {
	d, err := h.driver()
	if err != nil {
		return err
	}
	return d.PersistSession()
}

// ClearSession forwards to the current driver.
func (h *Handle) ClearSession() error {
	d, err := h.driver()
	if err != nil {
		return err
	}
	return d.ClearSession()
}

// Close closes the current driver. Restart may open a new one afterwards.
func (h *Handle) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.current == nil {
		return nil
	}
	err := h.current.Close()
	h.current = nil
	return err
}
