package app

import (
	"context"
	"fmt"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/session"
)

// EnsureLogin makes sure the browser holds an authenticated session. A
// saved session is reused when it still works. Otherwise a headless
// browser is restarted with a window for a manual login, the session is
// persisted, and the browser goes back to headless and is checked again.
// It implements engine.LoginEnsurer.
func (c *Console) EnsureLogin(ctx context.Context) error {
	if c.session.IsAuthenticated(ctx) {
		c.printf("Logged in via saved session.")
		return nil
	}

	headless := c.handle.Headless()
	if headless {
		c.printf("No saved session. Restarting browser for manual login...")
		if err := c.handle.Restart(ctx, false); err != nil {
			return err
		}
	}

	c.printf("Please log in through the browser window (%s timeout).", c.profile.LoginTimeout)
	ok, err := c.session.Reauthenticate(ctx, c.profile.LoginTimeout)
	if err != nil {
		return err
	}
	if !ok {
		c.printf("Login timed out.")
		return fmt.Errorf("%w after %s", errors.ErrReauthTimeout, c.profile.LoginTimeout)
	}

	if err := c.handle.PersistSession(); err != nil {
		c.logger.Warn("Could not persist session", "error", err.Error())
	}
	c.printf("Login successful, session saved.")

	if headless {
		if err := c.handle.Restart(ctx, true); err != nil {
			return err
		}
		if !c.session.IsAuthenticated(ctx) {
			c.printf("Saved session expired immediately. Try --no-headless.")
			return fmt.Errorf("%w: saved session rejected after headless restart", errors.ErrNotAuthenticated)
		}
	}
	return nil
}

// Login runs EnsureLogin and reports the member that is logged in.
func (c *Console) Login(ctx context.Context) (*session.Profile, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return nil, err
	}
	state := c.session.Check(ctx)
	if !state.Authenticated {
		return nil, errors.ErrNotAuthenticated
	}
	if state.Profile != nil {
		c.printf("Member: %s %s", state.Profile.Name, state.Profile.MemberNo)
	}
	return state.Profile, nil
}

// Logout removes the persisted browser session.
func (c *Console) Logout() error {
	if err := c.handle.ClearSession(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.printf("Saved session removed.")
	return nil
}
