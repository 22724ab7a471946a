// Package lock keeps two runs from driving the same vendor account at once.
// The vendor invalidates a session when a second browser logs in, so
// ownership of an account is claimed in Redis before the driver starts.
package lock

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ktxgo/ktxgo/internal/logging"
)

// KeyPrefix namespaces lock keys.
const KeyPrefix = "ktxgo:driver:"

var (
	// ErrHeld is returned when another run owns the lock.
	ErrHeld = stderrors.New("lock is held by another run")

	// ErrLost is returned when the lock expired or was taken over.
	ErrLost = stderrors.New("lock lost")
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLock is an exclusive, expiring lock on one key.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisLock connects to Redis and prepares a lock for name. Nothing is
// claimed until Acquire.
func NewRedisLock(ctx context.Context, config RedisConfig, name string, ttl time.Duration, logger *logging.Logger) (*RedisLock, error) {
	if name == "" {
		return nil, fmt.Errorf("lock name cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("lock")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLock{
		client: client,
		key:    KeyPrefix + name,
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Key returns the Redis key of the lock.
func (l *RedisLock) Key() string { return l.key }

// Acquire claims the lock or fails with ErrHeld.
func (l *RedisLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHeld, l.key)
	}
	l.logger.Info("Lock acquired", "key", l.key, "ttl", l.ttl.String())
	return nil
}

// Refresh extends the lock by its TTL if this run still owns it.
func (l *RedisLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, l.key)
	}
	return nil
}

// KeepAlive refreshes the lock every third of its TTL until ctx is done.
// It returns nil on cancellation and ErrLost when ownership is gone.
func (l *RedisLock) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if stderrors.Is(err, ErrLost) {
					return err
				}
				l.logger.Warn("Lock refresh failed", "key", l.key, "error", err.Error())
			}
		}
	}
}

// Release gives the lock up if this run still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLost, l.key)
	}
	l.logger.Info("Lock released", "key", l.key)
	return nil
}

// Close closes the Redis connection.
func (l *RedisLock) Close() error {
	return l.client.Close()
}
