package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// Credentials fill the login form when the HTTP driver visits the login page.
type Credentials struct {
	Member   string
	Password string
}

// HTTPOptions configures the HTTP driver
type HTTPOptions struct {
	BaseURL string
	State   State
	Timeout time.Duration
	// Login, when set, is submitted whenever the login page is opened.
	Login *Credentials
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// HTTP is a Driver that speaks to the vendor with net/http and a cookie
// jar. It cannot run page scripts, so it only works against sites that
// accept plain form posts, such as the mock vendor.
type HTTP struct {
	opts   HTTPOptions
	base   *url.URL
	client *http.Client
	jar    *cookiejar.Jar
	logger *logging.Logger
	mutex  sync.Mutex
}

// NewHTTP creates an HTTP driver and restores persisted cookies.
func NewHTTP(opts HTTPOptions, logger *logging.Logger) (*HTTP, error) {
	if logger == nil {
		logger = logging.GetBrowserLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = protocol.DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = protocol.DefaultNavigationTimeout
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	d := &HTTP{
		opts: opts,
		base: base,
		jar:  jar,
		client: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		logger: logger,
	}
	if err := d.restore(); err != nil {
		logger.Warn("Ignoring unreadable cookie file", "error", err.Error())
	}
	return d, nil
}

func (d *HTTP) restore() error {
	cookies, err := d.opts.State.ReadCookies()
	if err != nil || len(cookies) == 0 {
		return err
	}
	jarCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			HttpOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		jarCookies = append(jarCookies, hc)
	}
	d.jar.SetCookies(d.base, jarCookies)
	d.logger.Debug("Cookies restored", "count", len(jarCookies))
	return nil
}

func (d *HTTP) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return d.base.ResolveReference(u), nil
}

// Navigate GETs url. Opening the login page submits the configured
// credentials instead.
func (d *HTTP) Navigate(ctx context.Context, ref string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	target, err := d.resolve(ref)
	if err != nil {
		return err
	}
	if target.Path == protocol.LoginPath && d.opts.Login != nil {
		form := url.Values{
			"txtMember": {d.opts.Login.Member},
			"txtPwd":    {d.opts.Login.Password},
		}
		_, err := d.do(ctx, http.MethodPost, target, form)
		return err
	}
	_, err = d.do(ctx, http.MethodGet, target, nil)
	return err
}

// CallEndpoint POSTs params form-encoded and returns the body text.
func (d *HTTP) CallEndpoint(ctx context.Context, path string, params map[string]string) (string, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	target, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	form := make(url.Values, len(params))
	for k, v := range params {
		form.Set(k, v)
	}
	return d.do(ctx, http.MethodPost, target, form)
}

func (d *HTTP) do(ctx context.Context, method string, target *url.URL, form url.Values) (string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept-Language", "ko-KR")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%s %s: HTTP %d", method, target.Path, resp.StatusCode)
	}
	return string(data), nil
}

// IsSessionPersisted reports whether a cookie export exists.
func (d *HTTP) IsSessionPersisted() bool {
	return d.opts.State.HasCookies()
}

// PersistSession writes the jar's cookies for the vendor origin.
func (d *HTTP) PersistSession() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var out []Cookie
	for _, c := range d.jar.Cookies(d.base) {
		out = append(out, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: d.base.Hostname(),
			Path:   "/",
		})
	}
	if err := d.opts.State.WriteCookies(out); err != nil {
		return err
	}
	d.logger.Info("Session saved", "dir", d.opts.State.Dir, "cookies", len(out))
	return nil
}

// ClearSession deletes the persisted session files.
func (d *HTTP) ClearSession() error {
	return d.opts.State.Clear()
}

// Close releases idle connections.
func (d *HTTP) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
