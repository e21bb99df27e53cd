package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// rateKeyPrefix namespaces rate counter keys in the shared Redis instance.
const rateKeyPrefix = "gateway:rate:"

// Cmdable is the subset of Redis commands the limiter needs. Narrow so
// tests can run against miniredis through a real *redis.Client.
type Cmdable interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Compile-time interface compliance check.
var _ Cmdable = (*redis.Client)(nil)

// RedisLimiter is the Redis-backed fixed-window [Limiter] shared by all
// gateway replicas. Each key's first INCR in a window creates the
// counter; EXPIRE NX pins the window end exactly once, so racing
// replicas agree on the reset time.
//
// RedisLimiter is safe for concurrent use by multiple goroutines.
type RedisLimiter struct {
	client Cmdable
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a RedisLimiter over the given client.
func NewRedisLimiter(client Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow implements [Limiter]. A store failure returns an error so the
// gateway denies rather than waving traffic through unmetered.
func (l *RedisLimiter) Allow(ctx context.Context, key string, window policy.RateWindow) (Decision, error) {
	if key == "" {
		return Decision{}, sserr.New(sserr.CodeValidationRequired,
			"ratelimit: key must not be empty")
	}
	if window.Duration <= 0 || window.MaxRequests <= 0 {
		return Decision{}, sserr.New(sserr.CodeInternalConfiguration,
			"ratelimit: invalid rate window")
	}

	redisKey := rateKeyPrefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"ratelimit: counter increment failed")
	}

	// EXPIRE NX sets the window deadline only if the key has none: the
	// replica that created the counter wins, and later INCRs leave the
	// deadline untouched.
	if err := l.client.ExpireNX(ctx, redisKey, window.Duration).Err(); err != nil {
		return Decision{}, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"ratelimit: window expiry set failed")
	}

	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"ratelimit: window expiry read failed")
	}
	if ttl < 0 {
		ttl = window.Duration
	}
	resetAt := time.Now().Add(ttl)

	if count > int64(window.MaxRequests) {
		return Decision{
			Allowed:   false,
			Limit:     window.MaxRequests,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     window.MaxRequests,
		Remaining: window.MaxRequests - int(count),
		ResetAt:   resetAt,
	}, nil
}
