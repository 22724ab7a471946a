// Package session tracks whether the browser session is authenticated with
// the vendor and restores it when it is lost. Authentication is re-derived
// from a login-check probe on every question; the only state handed out is
// an explicit State value the caller owns.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// Vendor is the part of the protocol client the session manager needs.
type Vendor interface {
	LoginCheck(ctx context.Context) (protocol.Payload, error)
	Navigate(ctx context.Context, url string) error
	LoginURL() string
	SearchURL() string
}

// Profile identifies the logged-in member. Fields may be empty.
type Profile struct {
	MemberNo string `json:"memberNo"`
	Name     string `json:"name"`
	LoginID  string `json:"loginId"`
}

// State is the result of one authentication check.
type State struct {
	Authenticated bool
	Profile       *Profile
	CheckedAt     time.Time
}

// Options tunes probe timing
type Options struct {
	// StableChecks is the number of consecutive positive probes required.
	StableChecks int
	// ProbeInterval separates probes within one stability window.
	ProbeInterval time.Duration
	// StableWindow bounds one stability check.
	StableWindow time.Duration
	// RetryPause separates stability checks while waiting for a login.
	RetryPause time.Duration
}

// DefaultOptions returns the probe timing used against the live site.
func DefaultOptions() Options {
	return Options{
		StableChecks:  2,
		ProbeInterval: 300 * time.Millisecond,
		StableWindow:  600 * time.Millisecond,
		RetryPause:    time.Second,
	}
}

// Manager answers authentication questions and drives re-authentication
type Manager struct {
	vendor  Vendor
	options Options
	logger  *logging.Logger
	now     func() time.Time
}

// NewManager creates a session manager
func NewManager(vendor Vendor, options Options, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetSessionLogger()
	}
	if options.StableChecks < 1 {
		options.StableChecks = 1
	}
	return &Manager{
		vendor:  vendor,
		options: options,
		logger:  logger,
		now:     time.Now,
	}
}

var (
	successResults = map[string]bool{"SUCC": true, "SUCCESS": true, "Y": true}
	placeholders   = map[string]bool{"N": true, "FALSE": true, "0": true}

	identityKeys  = []string{"strMbCrdNo", "strCustNm", "mbCrdNo"}
	loginFlagKeys = []string{"loginYn", "isLogin"}

	memberNoKeys = []string{"strMbCrdNo", "mbCrdNo", "strCustNo", "custNo"}
	nameKeys     = []string{"strCustNm", "custNm", "h_cust_nm", "strUserNm"}
	loginIDKeys  = []string{"strCustId", "custId", "userId"}
)

// HasNoLoginMarker reports whether the probe message says nobody is logged in.
func HasNoLoginMarker(data protocol.Payload) bool {
	msg := data.Str("h_msg_txt")
	if strings.Contains(msg, "로그인 정보가 없습니다") {
		return true
	}
	return strings.Contains(msg, "로그인") && strings.Contains(msg, "없")
}

func meaningful(value string) bool {
	return value != "" && !placeholders[strings.ToUpper(value)]
}

func firstMeaningful(data protocol.Payload, keys []string) string {
	for _, key := range keys {
		if v := data.Str(key); meaningful(v) {
			return v
		}
	}
	return ""
}

// Evaluate applies the authentication rule to a login-check payload: no
// no-login marker, and either a success result with a real identity field
// or a positive login flag.
func Evaluate(data protocol.Payload) bool {
	if HasNoLoginMarker(data) {
		return false
	}
	if successResults[data.Str("strResult")] && firstMeaningful(data, identityKeys) != "" {
		return true
	}
	return firstMeaningful(data, loginFlagKeys) != ""
}

// ExtractProfile reads the member profile from a login-check payload. It
// returns nil when the payload says nobody is logged in.
func ExtractProfile(data protocol.Payload) *Profile {
	if HasNoLoginMarker(data) {
		return nil
	}
	return &Profile{
		MemberNo: firstMeaningful(data, memberNoKeys),
		Name:     firstMeaningful(data, nameKeys),
		LoginID:  firstMeaningful(data, loginIDKeys),
	}
}

// IsAuthenticated probes the vendor. Any probe failure counts as not authenticated.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	data, err := m.vendor.LoginCheck(ctx)
	if err != nil {
		m.logger.Debug("Login check failed", "error", err.Error(), "kind", errors.Classify(err).String())
		return false
	}
	return Evaluate(data)
}

// Profile returns the logged-in member, or nil when nobody is logged in or the probe fails.
func (m *Manager) Profile(ctx context.Context) *Profile {
	data, err := m.vendor.LoginCheck(ctx)
	if err != nil {
		m.logger.Debug("Login check failed", "error", err.Error())
		return nil
	}
	return ExtractProfile(data)
}

// Check performs one probe and returns the resulting State.
func (m *Manager) Check(ctx context.Context) State {
	state := State{CheckedAt: m.now()}
	data, err := m.vendor.LoginCheck(ctx)
	if err != nil {
		m.logger.Debug("Login check failed", "error", err.Error())
		return state
	}
	state.Authenticated = Evaluate(data)
	if state.Authenticated {
		state.Profile = ExtractProfile(data)
	}
	return state
}

// WaitStable reports whether the session is authenticated on the configured
// number of consecutive probes within the stability window.
func (m *Manager) WaitStable(ctx context.Context) (bool, error) {
	streak := 0
	deadline := m.now().Add(m.options.StableWindow)
	interval := m.options.ProbeInterval
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}

	for {
		if m.IsAuthenticated(ctx) {
			streak++
			if streak >= m.options.StableChecks {
				return true, nil
			}
		} else {
			streak = 0
		}

		if !m.now().Before(deadline) {
			return false, nil
		}
		if err := errors.Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// Reauthenticate opens the login page and waits until a stable login is
// observed or timeout elapses, then returns to the search page. It returns
// false without error on timeout. Persisting the session is left to the caller.
func (m *Manager) Reauthenticate(ctx context.Context, timeout time.Duration) (bool, error) {
	m.logger.Info("Waiting for login", "timeout", timeout)
	if err := m.vendor.Navigate(ctx, m.vendor.LoginURL()); err != nil {
		return false, err
	}

	deadline := m.now().Add(timeout)
	for m.now().Before(deadline) {
		ok, err := m.WaitStable(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			m.logger.LogSessionChange(false, true, "login observed")
			if err := m.vendor.Navigate(ctx, m.vendor.SearchURL()); err != nil {
				m.logger.Warn("Could not return to search page", "error", err.Error())
			}
			return true, nil
		}
		if err := errors.Sleep(ctx, m.options.RetryPause); err != nil {
			return false, err
		}
	}
	m.logger.Warn("Login wait timed out", "timeout", timeout)
	return false, nil
}
