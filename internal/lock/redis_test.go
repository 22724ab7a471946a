package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/logging"
)

func newTestLock(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration) *RedisLock {
	t.Helper()
	l, err := NewRedisLock(context.Background(), RedisConfig{Addr: mr.Addr()}, "1234567890", ttl, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAcquireIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	first := newTestLock(t, mr, time.Minute)
	second := newTestLock(t, mr, time.Minute)

	require.NoError(t, first.Acquire(ctx))
	assert.Equal(t, "ktxgo:driver:1234567890", first.Key())
	assert.True(t, mr.Exists(first.Key()))

	assert.ErrorIs(t, second.Acquire(ctx), ErrHeld)

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(first.Key()))
	require.NoError(t, second.Acquire(ctx))
}

func TestReleaseDoesNotStealForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	owner := newTestLock(t, mr, time.Minute)
	other := newTestLock(t, mr, time.Minute)

	require.NoError(t, owner.Acquire(ctx))
	assert.ErrorIs(t, other.Release(ctx), ErrLost)
	assert.True(t, mr.Exists(owner.Key()))
}

func TestRefreshExtendsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	l := newTestLock(t, mr, 10*time.Second)

	require.NoError(t, l.Acquire(ctx))
	mr.FastForward(8 * time.Second)
	require.NoError(t, l.Refresh(ctx))
	mr.FastForward(8 * time.Second)
	assert.True(t, mr.Exists(l.Key()))
}

func TestRefreshAfterExpiryReportsLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	l := newTestLock(t, mr, 10*time.Second)

	require.NoError(t, l.Acquire(ctx))
	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, l.Refresh(ctx), ErrLost)
	assert.ErrorIs(t, l.Release(ctx), ErrLost)
}

func TestKeepAliveStopsOnLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	l := newTestLock(t, mr, 90*time.Millisecond)

	require.NoError(t, l.Acquire(ctx))
	mr.Del(l.Key())

	done := make(chan error, 1)
	go func() { done <- l.KeepAlive(ctx) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLost)
	case <-time.After(2 * time.Second):
		t.Fatal("keep-alive did not notice the lost lock")
	}
}

func TestKeepAliveReturnsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLock(t, mr, time.Minute)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.KeepAlive(ctx))
}

func TestNewRedisLockValidates(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := NewRedisLock(context.Background(), RedisConfig{Addr: mr.Addr()}, "", time.Minute, logging.Discard())
	assert.Error(t, err)
	_, err = NewRedisLock(context.Background(), RedisConfig{Addr: mr.Addr()}, "x", 0, logging.Discard())
	assert.Error(t, err)
}

func TestNewRedisLockUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisLock(context.Background(), RedisConfig{Addr: addr}, "x", time.Minute, logging.Discard())
	assert.ErrorContains(t, err, "redis connection failed")
}
