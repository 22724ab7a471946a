package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ktxgo/ktxgo/internal/lock"
)

// lockName identifies the vendor account whose browser the run owns.
func (c *Console) lockName() string {
	if c.profile.Vendor.Member != "" {
		return c.profile.Vendor.Member
	}
	return c.profile.Name
}

// Run performs Reserve alongside the process's background services: the
// metrics listener when an address is configured and the keepalive of the
// Redis ownership lock when a Redis address is configured. The services
// stop when the reservation run ends. Losing the lock ends the run; a
// failing metrics listener only logs.
func (c *Console) Run(ctx context.Context, opts Options) (*Outcome, error) {
	var owner *lock.RedisLock
	if addr := c.profile.Lock.RedisAddr; addr != "" {
		l, err := lock.NewRedisLock(ctx, lock.RedisConfig{
			Addr:     addr,
			Password: c.profile.Lock.RedisPassword,
			DB:       c.profile.Lock.RedisDB,
		}, c.lockName(), c.profile.Lock.TTL, c.logger.WithComponent("lock"))
		if err != nil {
			return nil, err
		}
		defer l.Close()
		if err := l.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("account %s: %w", c.lockName(), err)
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("Could not release lock", "key", l.Key(), "error", err.Error())
			}
		}()
		owner = l
	}

	servicesCtx, stopServices := context.WithCancel(ctx)
	defer stopServices()
	g, gctx := errgroup.WithContext(servicesCtx)

	if addr := c.profile.MetricsAddr; addr != "" {
		g.Go(func() error {
			if err := c.metrics.Serve(gctx, addr, c.logger.WithComponent("metrics")); err != nil {
				c.logger.Warn("Metrics listener stopped", "addr", addr, "error", err.Error())
			}
			return nil
		})
	}
	if owner != nil {
		g.Go(func() error {
			return owner.KeepAlive(gctx)
		})
	}

	var outcome *Outcome
	g.Go(func() error {
		defer stopServices()
		var err error
		outcome, err = c.Reserve(gctx, opts)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcome, nil
}
