package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/protocol"
)

func TestExclusiveHoldsLockUntilAbandonedCallFinishes(t *testing.T) {
	var mu sync.Mutex
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := exclusive(ctx, &mu, func() evalResult {
		<-release
		return evalResult{value: "late"}
	})
	require.ErrorIs(t, err, context.Canceled)

	second := make(chan evalResult, 1)
	go func() {
		res, _ := exclusive(context.Background(), &mu, func() evalResult {
			return evalResult{value: "next"}
		})
		second <- res
	}()

	select {
	case <-second:
		t.Fatal("second call ran while the first was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case res := <-second:
		assert.Equal(t, "next", res.value)
	case <-time.After(time.Second):
		t.Fatal("second call never ran")
	}
}

func TestExclusiveSkipsCancelledContext(t *testing.T) {
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	_, err := exclusive(ctx, &mu, func() evalResult {
		ran = true
		return evalResult{}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.True(t, mu.TryLock(), "lock must not be left held")
}

func TestFetchTimeoutFollowsDeadline(t *testing.T) {
	assert.Equal(t, protocol.DefaultCallTimeout, fetchTimeout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got := fetchTimeout(ctx)
	assert.LessOrEqual(t, got, 3*time.Second)
	assert.Greater(t, got, 2*time.Second)
}
