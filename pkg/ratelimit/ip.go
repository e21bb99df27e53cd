package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter is the coarse pre-authentication limiter: a token bucket per
// client IP, checked before any credential parsing so an unauthenticated
// flood cannot spend signature verification or database work.
//
// Buckets are created on first sight and dropped after an idle TTL by a
// background sweeper, bounding memory under address churn.
//
// IPLimiter is safe for concurrent use by multiple goroutines.
type IPLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter creates an IPLimiter admitting rps requests per second
// with the given burst per address. Idle buckets are reclaimed after ttl
// by [IPLimiter.StartSweeper].
func NewIPLimiter(rps float64, burst int, ttl time.Duration) *IPLimiter {
	return &IPLimiter{
		buckets: make(map[string]*ipBucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow reports whether the address is within its budget and consumes
// one token if so.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = l.now()
	l.mu.Unlock()

	return bucket.limiter.Allow()
}

// StartSweeper launches a goroutine that drops buckets idle longer than
// the TTL. It stops when ctx is canceled.
func (l *IPLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// sweep removes buckets not seen within the TTL.
func (l *IPLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.ttl)
	for ip, bucket := range l.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// Len reports the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
