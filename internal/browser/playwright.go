package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// fetchScript posts a form from inside the page so the session cookies and
// origin are those of the logged-in browser.
// The fetch is aborted after timeoutMs so that an abandoned call cannot
// hold the page indefinitely.
const fetchScript = `async ({ endpoint, params, timeoutMs }) => {
	const form = new FormData();
	for (const [key, value] of Object.entries(params)) {
		form.append(key, value == null ? "" : String(value));
	}
	const controller = new AbortController();
	const timer = setTimeout(() => controller.abort(), timeoutMs);
	try {
		const response = await fetch(endpoint, {
			method: "POST",
			body: form,
			credentials: "include",
			signal: controller.signal
		});
		const text = await response.text();
		return { ok: response.ok, status: response.status, text };
	} finally {
		clearTimeout(timer);
	}
}`

// PlaywrightOptions configures the Firefox driver
type PlaywrightOptions struct {
	Headless          bool
	BaseURL           string
	State             State
	NavigationTimeout time.Duration
	Locale            string
	// InstallBrowsers downloads the Playwright driver and Firefox when missing.
	InstallBrowsers bool
}

// Playwright drives Firefox through playwright-go
type Playwright struct {
	opts    PlaywrightOptions
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	logger  *logging.Logger
	mutex   sync.Mutex
}

// Launch starts Firefox, restores the persisted session and opens the
// search page.
func Launch(ctx context.Context, opts PlaywrightOptions, logger *logging.Logger) (*Playwright, error) {
	if logger == nil {
		logger = logging.GetBrowserLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = protocol.DefaultBaseURL
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = protocol.DefaultNavigationTimeout
	}
	if opts.Locale == "" {
		opts.Locale = "ko-KR"
	}

	d := &Playwright{opts: opts, logger: logger}
	if err := d.start(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.Navigate(ctx, strings.TrimRight(opts.BaseURL, "/")+protocol.SearchPath); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Playwright) start() error {
	if d.opts.InstallBrowsers {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"firefox"}}); err != nil {
			return browserError("install", "failed to install Firefox", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return browserError("start", "could not start playwright", err)
	}
	d.pw = pw

	d.browser, err = pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
	})
	if err != nil {
		return browserError("launch", "could not launch Firefox", err)
	}

	if err := d.opts.State.Prepare(); err != nil {
		d.logger.Warn("Could not secure session files", "error", err.Error())
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Locale: playwright.String(d.opts.Locale),
	}
	restoredStorage := d.opts.State.HasStorage()
	if restoredStorage {
		contextOpts.StorageStatePath = playwright.String(d.opts.State.StoragePath())
	}
	d.context, err = d.browser.NewContext(contextOpts)
	if err != nil {
		return browserError("context", "could not create browser context", err)
	}
	if err := d.context.AddInitScript(playwright.Script{Content: playwright.String(StealthScript)}); err != nil {
		return browserError("context", "could not install init script", err)
	}
	if !restoredStorage {
		d.restoreCookies()
	}

	d.page, err = d.context.NewPage()
	if err != nil {
		return browserError("page", "could not open page", err)
	}
	d.page.SetDefaultTimeout(float64(d.opts.NavigationTimeout.Milliseconds()))

	d.logger.Info("Browser started",
		"headless", d.opts.Headless,
		"restored_storage", restoredStorage)
	return nil
}

// restoreCookies loads a cookie-only session saved by older runs.
func (d *Playwright) restoreCookies() {
	cookies, err := d.opts.State.ReadCookies()
	if err != nil {
		d.logger.Warn("Ignoring unreadable cookie file", "error", err.Error())
		return
	}
	if len(cookies) == 0 {
		return
	}
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HttpOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		optional = append(optional, oc)
	}
	if err := d.context.AddCookies(optional); err != nil {
		d.logger.Warn("Could not restore cookies", "error", err.Error())
	}
}

// Navigate loads url and waits for network idle.
func (d *Playwright) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.page == nil {
		return browserError("navigate", "browser not started", nil)
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(d.opts.NavigationTimeout.Milliseconds())),
	})
	return err
}

type evalResult struct {
	value interface{}
	err   error
}

// exclusive runs fn while holding mu and waits for it or for ctx. When ctx
// ends first the caller returns at once but mu stays held until fn returns,
// so the next call never overlaps one still in flight.
func exclusive(ctx context.Context, mu *sync.Mutex, fn func() evalResult) (evalResult, error) {
	if err := ctx.Err(); err != nil {
		return evalResult{}, err
	}
	mu.Lock()
	done := make(chan evalResult, 1)
	go func() {
		defer mu.Unlock()
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return evalResult{}, ctx.Err()
	case res := <-done:
		return res, nil
	}
}

// fetchTimeout bounds the page-side fetch by the call deadline, or by
// DefaultCallTimeout when ctx has none.
func fetchTimeout(ctx context.Context) time.Duration {
	timeout := protocol.DefaultCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

// CallEndpoint POSTs params from inside the page and returns the body text.
func (d *Playwright) CallEndpoint(ctx context.Context, path string, params map[string]string) (string, error) {
	timeoutMs := fetchTimeout(ctx).Milliseconds()
	res, err := exclusive(ctx, &d.mutex, func() evalResult {
		if d.page == nil {
			return evalResult{err: browserError("call", "browser not started", nil)}
		}
		v, err := d.page.Evaluate(fetchScript, map[string]interface{}{
			"endpoint":  path,
			"params":    params,
			"timeoutMs": timeoutMs,
		})
		return evalResult{value: v, err: err}
	})
	if err != nil {
		return "", err
	}
	if res.err != nil {
		return "", res.err
	}

	out, ok := res.value.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected fetch result %T", res.value)
	}
	text, _ := out["text"].(string)
	return text, nil
}

// IsSessionPersisted reports whether a saved session exists on disk.
func (d *Playwright) IsSessionPersisted() bool {
	return d.opts.State.Exists()
}

// PersistSession saves the storage state and a cookie export.
func (d *Playwright) PersistSession() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.context == nil {
		return nil
	}
	if err := d.opts.State.Prepare(); err != nil {
		return err
	}

	chain := errors.NewErrorChain(d.logger)
	if state, err := d.context.StorageState(); err != nil {
		chain.Add(fmt.Errorf("storage state: %w", err))
	} else if data, err := json.Marshal(state); err != nil {
		chain.Add(fmt.Errorf("storage state: %w", err))
	} else {
		chain.Add(d.opts.State.WriteStorage(data))
	}

	cookies, err := d.context.Cookies()
	if err != nil {
		chain.Add(fmt.Errorf("cookies: %w", err))
	} else {
		out := make([]Cookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HttpOnly: c.HttpOnly,
				Secure:   c.Secure,
			})
		}
		chain.Add(d.opts.State.WriteCookies(out))
	}

	if err := chain.Combined("browser", "failed to persist session"); err != nil {
		return err
	}
	d.logger.Info("Session saved", "dir", d.opts.State.Dir)
	return nil
}

// ClearSession deletes the persisted session files.
func (d *Playwright) ClearSession() error {
	return d.opts.State.Clear()
}

// Close shuts down the page, browser and Playwright, ignoring errors from
// parts that were never started.
func (d *Playwright) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	chain := errors.NewErrorChain(d.logger)
	if d.context != nil {
		chain.Add(d.context.Close())
	}
	if d.browser != nil {
		chain.Add(d.browser.Close())
	}
	if d.pw != nil {
		chain.Add(d.pw.Stop())
	}
	d.page, d.context, d.browser, d.pw = nil, nil, nil, nil
	return chain.Combined("browser", "failed to close browser")
}

func browserError(operation, message string, cause error) error {
	b := errors.NewBrowserError("browser").WithOperation(operation).WithMessage(message)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b.Build()
}
