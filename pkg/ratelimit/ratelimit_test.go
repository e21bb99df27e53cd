package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

var smallWindow = policy.RateWindow{Duration: time.Minute, MaxRequests: 3}

// ---------------------------------------------------------------------------
// MemoryLimiter
// ---------------------------------------------------------------------------

func TestMemoryLimiter_EnforcesWindow(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter()

	for i := range 3 {
		decision, err := limiter.Allow(context.Background(), "user-1|patient", smallWindow)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(context.Background(), "user-1|patient", smallWindow)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
	assert.False(t, decision.ResetAt.IsZero())
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for range 3 {
		_, err := limiter.Allow(context.Background(), "k", smallWindow)
		require.NoError(t, err)
	}
	decision, err := limiter.Allow(context.Background(), "k", smallWindow)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	now = now.Add(smallWindow.Duration)
	decision, err = limiter.Allow(context.Background(), "k", smallWindow)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a fresh window refills the budget")
	assert.Equal(t, 2, decision.Remaining)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter()

	for range 3 {
		_, err := limiter.Allow(context.Background(), "exhausted", smallWindow)
		require.NoError(t, err)
	}
	decision, err := limiter.Allow(context.Background(), "fresh", smallWindow)
	require.NoError(t, err)
	assert.True(t, decision.Allowed,
		"one caller's exhaustion must not affect another's budget")
}

func TestMemoryLimiter_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter()

	_, err := limiter.Allow(context.Background(), "", smallWindow)
	assert.Equal(t, sserr.CodeValidationRequired, sserr.GetCode(err))

	_, err = limiter.Allow(context.Background(), "k", policy.RateWindow{})
	assert.Equal(t, sserr.CodeInternalConfiguration, sserr.GetCode(err))
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, err := limiter.Allow(context.Background(), "old", smallWindow)
	require.NoError(t, err)

	now = now.Add(2 * smallWindow.Duration)
	limiter.Sweep(smallWindow.Duration)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.windows)
}

// ---------------------------------------------------------------------------
// RedisLimiter
// ---------------------------------------------------------------------------

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client), mr
}

func TestRedisLimiter_EnforcesWindow(t *testing.T) {
	t.Parallel()
	limiter, _ := newTestRedisLimiter(t)

	for i := range 3 {
		decision, err := limiter.Allow(context.Background(), "user-1|patient", smallWindow)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(context.Background(), "user-1|patient", smallWindow)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
}

func TestRedisLimiter_WindowExpiryRefills(t *testing.T) {
	t.Parallel()
	limiter, mr := newTestRedisLimiter(t)

	for range 3 {
		_, err := limiter.Allow(context.Background(), "k", smallWindow)
		require.NoError(t, err)
	}

	mr.FastForward(smallWindow.Duration + time.Second)

	decision, err := limiter.Allow(context.Background(), "k", smallWindow)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "key expiry starts a fresh window")
	assert.Equal(t, 2, decision.Remaining)
}

func TestRedisLimiter_FailsClosedWhenStoreIsDown(t *testing.T) {
	t.Parallel()
	limiter, mr := newTestRedisLimiter(t)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "k", smallWindow)
	require.Error(t, err, "an unreachable store must deny, not admit")
	assert.Equal(t, sserr.CodeUnavailableDependency, sserr.GetCode(err))
}

// ---------------------------------------------------------------------------
// IPLimiter
// ---------------------------------------------------------------------------

func TestIPLimiter_BurstThenThrottle(t *testing.T) {
	t.Parallel()
	limiter := NewIPLimiter(1, 3, time.Minute)

	for range 3 {
		assert.True(t, limiter.Allow("203.0.113.10"))
	}
	assert.False(t, limiter.Allow("203.0.113.10"),
		"the burst is spent; refill is one token per second")
	assert.True(t, limiter.Allow("198.51.100.7"),
		"a different address has its own bucket")
}

func TestIPLimiter_SweepReclaimsIdleBuckets(t *testing.T) {
	t.Parallel()
	limiter := NewIPLimiter(1, 1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("203.0.113.10")
	require.Equal(t, 1, limiter.Len())

	now = now.Add(2 * time.Minute)
	limiter.sweep()
	assert.Zero(t, limiter.Len())
}
