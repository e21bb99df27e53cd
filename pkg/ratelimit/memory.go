package ratelimit

import (
	"context"
	"sync"
	"time"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// MemoryLimiter is an in-process fixed-window [Limiter] for tests and
// single-replica deployments.
//
// MemoryLimiter is safe for concurrent use by multiple goroutines.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowState
	now     func() time.Time
}

type windowState struct {
	count   int
	startAt time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*windowState),
		now:     time.Now,
	}
}

// Allow implements [Limiter].
func (l *MemoryLimiter) Allow(_ context.Context, key string, window policy.RateWindow) (Decision, error) {
	if key == "" {
		return Decision{}, sserr.New(sserr.CodeValidationRequired,
			"ratelimit: key must not be empty")
	}
	if window.Duration <= 0 || window.MaxRequests <= 0 {
		return Decision{}, sserr.New(sserr.CodeInternalConfiguration,
			"ratelimit: invalid rate window")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.windows[key]
	if !ok || now.Sub(state.startAt) >= window.Duration {
		state = &windowState{startAt: now}
		l.windows[key] = state
	}

	resetAt := state.startAt.Add(window.Duration)
	if state.count >= window.MaxRequests {
		return Decision{
			Allowed:   false,
			Limit:     window.MaxRequests,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	state.count++
	return Decision{
		Allowed:   true,
		Limit:     window.MaxRequests,
		Remaining: window.MaxRequests - state.count,
		ResetAt:   resetAt,
	}, nil
}

// Sweep drops windows that ended before the cutoff, bounding memory in
// long-running processes. Callers run it on a ticker.
func (l *MemoryLimiter) Sweep(cutoff time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, state := range l.windows {
		if now.Sub(state.startAt) >= cutoff {
			delete(l.windows, key)
		}
	}
}
