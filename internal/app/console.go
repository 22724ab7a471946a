// Package app provides the console controller that wires the reservation
// engine to its collaborators: the browser handle, the vendor client, the
// session manager, payment, the credential store, the journal, metrics and
// notification channels. cmd/ktxgo builds one Console per invocation and
// calls one of its commands.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ktxgo/ktxgo/internal/auth"
	"github.com/ktxgo/ktxgo/internal/browser"
	"github.com/ktxgo/ktxgo/internal/config"
	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/journal"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/metrics"
	"github.com/ktxgo/ktxgo/internal/payment"
	"github.com/ktxgo/ktxgo/internal/protocol"
	"github.com/ktxgo/ktxgo/internal/session"
	"github.com/ktxgo/ktxgo/internal/ui/components"
)

// JournalOff disables the journal when used as the profile's journal path.
const JournalOff = "off"

// Dependencies holds the collaborators a Console can be given instead of
// building them from the profile. Zero values select the defaults.
type Dependencies struct {
	Factory  interfaces.DriverFactory
	Prompter interfaces.Prompter
	Store    interfaces.SecretStore
	Metrics  *metrics.Recorder
	Output   io.Writer
	Logger   *logging.Logger
	Now      func() time.Time

	// Notifiers replaces the channels built from the profile.
	Notifiers []interfaces.Notifier

	// Session tunes login probing. The zero value uses session.DefaultOptions.
	Session session.Options
}

// Console is the operator-facing controller for one invocation.
type Console struct {
	profile  *config.Profile
	handle   *browser.Handle
	client   *protocol.Client
	session  *session.Manager
	payments *payment.Resolver
	metrics  *metrics.Recorder
	journal  *journal.Store
	store    interfaces.SecretStore
	warnings *auth.Warnings
	prompter interfaces.Prompter

	notifiers []interfaces.Notifier
	out       io.Writer
	outMutex  sync.Mutex
	logger    *logging.Logger
	now       func() time.Time
}

// NewConsole opens the browser and builds every collaborator for profile.
// headless selects the initial browser mode.
func NewConsole(ctx context.Context, profile *config.Profile, headless bool, deps Dependencies) (*Console, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	c := &Console{
		profile:   profile,
		metrics:   deps.Metrics,
		store:     deps.Store,
		prompter:  deps.Prompter,
		notifiers: deps.Notifiers,
		out:       deps.Output,
		logger:    logger,
		now:       deps.Now,
		warnings:  auth.NewWarnings(logger.WithComponent("auth")),
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.metrics == nil {
		c.metrics = metrics.NewRecorder()
	}
	if c.store == nil {
		c.store = auth.Open(profile.DataDir, c.warnings, logger.WithComponent("auth"))
	}

	factory := deps.Factory
	if factory == nil {
		factory = DriverFactory(profile, logger.WithComponent("browser"))
	}
	handle, err := browser.Open(ctx, factory, headless, logger.WithComponent("browser"))
	if err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	c.handle = handle

	c.client, err = protocol.NewClient(handle,
		protocol.WithBaseURL(profile.Vendor.BaseURL),
		protocol.WithMinCallSpacing(profile.Vendor.MinCallSpacing),
		protocol.WithCallTimeout(profile.Vendor.CallTimeout),
		protocol.WithObserver(c.metrics.ObserveCall),
		protocol.WithLogger(logger.WithComponent("protocol")),
	)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to create vendor client: %w", err)
	}

	opts := deps.Session
	if opts == (session.Options{}) {
		opts = session.DefaultOptions()
	}
	c.session = session.NewManager(c.client, opts, logger.WithComponent("session"))
	c.payments = payment.NewResolver(c.client, logger.WithComponent("payment"))

	if path := journalPath(profile); path != "" {
		store, err := journal.Open(path, logger.WithComponent("journal"))
		if err != nil {
			// The journal is an audit trail; runs continue without it.
			logger.Warn("Journal disabled", "path", path, "error", err.Error())
		} else {
			c.journal = store
		}
	}

	logger.Debug("Console initialized",
		"profile", profile.Name,
		"driver", profile.Vendor.Driver,
		"headless", headless,
		"journal", c.journal != nil)
	return c, nil
}

// DriverFactory returns the browser factory selected by the profile.
func DriverFactory(profile *config.Profile, logger *logging.Logger) interfaces.DriverFactory {
	state := browser.NewState(profile.DataDir)
	if profile.Vendor.Driver == config.DriverHTTP {
		return browser.HTTPFactory(browser.HTTPOptions{
			BaseURL: profile.Vendor.BaseURL,
			State:   state,
			Login:   &browser.Credentials{Member: profile.Vendor.Member, Password: profile.Vendor.Password},
		}, logger)
	}
	return browser.PlaywrightFactory(browser.PlaywrightOptions{
		BaseURL:         profile.Vendor.BaseURL,
		State:           state,
		InstallBrowsers: profile.Vendor.InstallBrowsers,
	}, logger)
}

func journalPath(profile *config.Profile) string {
	switch profile.Journal {
	case JournalOff:
		return ""
	case "":
		return filepath.Join(profile.DataDir, journal.DefaultFile)
	default:
		return profile.Journal
	}
}

// Metrics returns the recorder that observes this console.
func (c *Console) Metrics() *metrics.Recorder {
	return c.metrics
}

// Close releases the browser and the journal.
func (c *Console) Close() error {
	var firstErr error
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.handle.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// printf writes a timestamped line to the console output.
func (c *Console) printf(format string, args ...interface{}) {
	c.outMutex.Lock()
	defer c.outMutex.Unlock()
	fmt.Fprintf(c.out, "[%s] %s\n", c.now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (c *Console) status(status, format string, args ...interface{}) {
	fmt.Fprintln(c.out, components.RenderStatus(status, fmt.Sprintf(format, args...)))
}

// PrintError renders err as an error pane on the console output.
func (c *Console) PrintError(err error) {
	fmt.Fprintln(c.out, components.RenderError(err, 80))
}
