// Package protocol implements vendor API communication through a browser Driver.
// This file provides the Client, which paces calls, decodes responses,
// detects vendor-reported failures and keeps call statistics.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// CallObserver is notified after every vendor call.
type CallObserver func(endpoint string, duration time.Duration, err error)

// Client performs vendor API calls over a Driver
type Client struct {
	driver      interfaces.Driver
	baseURL     string
	limiter     *rate.Limiter
	callTimeout time.Duration
	observer    CallObserver
	logger      *logging.Logger

	mutex     sync.RWMutex
	stats     ConnectionStatistics
	lastError error
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithBaseURL overrides the vendor origin used for page navigation.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithMinCallSpacing sets the minimum spacing between two vendor calls. Zero disables pacing.
func WithMinCallSpacing(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithCallTimeout bounds each vendor call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithObserver registers a call observer, typically a metrics recorder.
func WithObserver(observer CallObserver) ClientOption {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a vendor client on top of driver
func NewClient(driver interfaces.Driver, opts ...ClientOption) (*Client, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver cannot be nil")
	}

	c := &Client{
		driver:      driver,
		baseURL:     DefaultBaseURL,
		limiter:     rate.NewLimiter(rate.Every(DefaultMinCallSpacing), 1),
		callTimeout: DefaultCallTimeout,
		logger:      logging.GetGlobalLogger().WithComponent("protocol"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Driver returns the underlying driver.
func (c *Client) Driver() interfaces.Driver {
	return c.driver
}

// LoginURL returns the absolute URL of the login page.
func (c *Client) LoginURL() string {
	return c.baseURL + LoginPath
}

// SearchURL returns the absolute URL of the search page.
func (c *Client) SearchURL() string {
	return c.baseURL + SearchPath
}

// Navigate loads a vendor page through the driver.
func (c *Client) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, DefaultNavigationTimeout)
	defer cancel()
	if err := c.driver.Navigate(navCtx, url); err != nil {
		return errors.NewBrowserError("protocol").
			WithMessage("navigation failed").
			WithOperation("navigate").
			WithContext("url", url).
			WithCause(err).
			Build()
	}
	return nil
}

// Call POSTs params to endpoint and returns the decoded payload. A response
// whose strResult is FAIL is returned as *errors.VendorError.
func (c *Client) Call(ctx context.Context, endpoint string, params map[string]string) (Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for call slot: %w", err)
	}

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	start := time.Now()
	body, err := c.driver.CallEndpoint(callCtx, endpoint, params)
	var payload Payload
	if err == nil {
		payload, err = decodePayload(endpoint, body)
	} else if ctx.Err() != nil {
		err = fmt.Errorf("call to %s interrupted: %w", endpoint, ctx.Err())
	} else {
		err = c.wrapNetworkError(endpoint, err)
	}
	duration := time.Since(start)

	c.updateStatistics(duration, err)
	c.logger.LogVendorCall(endpoint, duration, err)
	if c.observer != nil {
		c.observer(endpoint, duration, err)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// decodePayload parses a response body and surfaces vendor failures.
func decodePayload(endpoint, body string) (Payload, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return nil, malformed(endpoint, fmt.Sprintf("Empty response from %s", endpoint), nil)
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed(endpoint, fmt.Sprintf("Invalid JSON from %s", endpoint), err)
	}

	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, malformed(endpoint, fmt.Sprintf("Unexpected JSON payload from %s", endpoint), nil)
	}
	payload := Payload(obj)

	if payload.Str("strResult") == "FAIL" {
		message := payload.Str("h_msg_txt")
		if message == "" {
			message = payload.Str("message")
		}
		code := payload.Str("h_msg_cd")
		if code == "" {
			code = payload.Str("code")
		}
		return nil, errors.NewVendorError(endpoint, message, code)
	}
	return payload, nil
}

func malformed(endpoint, message string, cause error) error {
	if cause != nil {
		cause = fmt.Errorf("%w: %v", errors.ErrMalformedResponse, cause)
	} else {
		cause = errors.ErrMalformedResponse
	}
	return errors.NewProtocolError("protocol").
		WithMessage(message).
		WithOperation("decode").
		WithContext("endpoint", endpoint).
		WithCause(cause).
		Build()
}

func (c *Client) wrapNetworkError(endpoint string, err error) error {
	return errors.NewNetworkError("protocol").
		WithMessage(fmt.Sprintf("call to %s failed", endpoint)).
		WithOperation("call").
		WithCause(err).
		Build()
}

func (c *Client) updateStatistics(responseTime time.Duration, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := &c.stats
	stats.TotalRequests++
	stats.LastRequestTime = time.Now()
	if err == nil {
		stats.SuccessfulRequests++
	} else {
		stats.FailedRequests++
		c.lastError = err
	}

	if stats.TotalRequests == 1 {
		stats.AverageResponseTime = responseTime
	} else {
		total := stats.AverageResponseTime * time.Duration(stats.TotalRequests-1)
		stats.AverageResponseTime = (total + responseTime) / time.Duration(stats.TotalRequests)
	}
}

// Statistics returns a copy of the call statistics
func (c *Client) Statistics() ConnectionStatistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// LastError returns the most recent call error
func (c *Client) LastError() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastError
}
