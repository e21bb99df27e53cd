package gateway

import (
	"context"
	"sync"
	"time"
)

// Defaults for [NewDefaultLockout].
const (
	DefaultLockoutThreshold = 10
	DefaultLockoutWindow    = 5 * time.Minute
	DefaultLockoutDuration  = 15 * time.Minute
)

// Lockout temporarily refuses credential verification for a caller
// address after repeated failures, slowing credential-stuffing runs.
//
// Counters are keyed by caller address rather than by account: counting
// per account would let an attacker lock a victim out by spraying bad
// passwords at their login, and a distributed stuffing run rotating
// addresses never concentrates enough failures on one account key to
// trip it anyway. The per-address window catches the attacker's own
// request source instead.
//
// Lockout is safe for concurrent use by multiple goroutines.
type Lockout struct {
	mu      sync.Mutex
	entries map[string]*lockoutEntry

	threshold int
	window    time.Duration
	duration  time.Duration

	now func() time.Time
}

type lockoutEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// NewLockout builds a tracker that locks a key for duration after
// threshold failures within window.
func NewLockout(threshold int, window, duration time.Duration) *Lockout {
	return &Lockout{
		entries:   make(map[string]*lockoutEntry),
		threshold: threshold,
		window:    window,
		duration:  duration,
		now:       time.Now,
	}
}

// NewDefaultLockout builds a tracker with the platform defaults.
func NewDefaultLockout() *Lockout {
	return NewLockout(DefaultLockoutThreshold, DefaultLockoutWindow, DefaultLockoutDuration)
}

// Locked reports whether the key is currently locked out, and until
// when.
func (l *Lockout) Locked(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return false, time.Time{}
	}
	if l.now().Before(entry.lockedUntil) {
		return true, entry.lockedUntil
	}
	return false, time.Time{}
}

// Fail records a failed verification for the key. Crossing the
// threshold within the window starts the lockout.
func (l *Lockout) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		entry = &lockoutEntry{windowStart: now}
		l.entries[key] = entry
	}
	entry.failures++
	if entry.failures >= l.threshold {
		entry.lockedUntil = now.Add(l.duration)
	}
}

// Reset clears the key's failure count after a successful
// verification.
func (l *Lockout) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Sweep discards entries whose window and lockout have both passed.
func (l *Lockout) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.window && !now.Before(entry.lockedUntil) {
			delete(l.entries, key)
		}
	}
}

// StartSweeper runs [Lockout.Sweep] every interval until ctx is done.
func (l *Lockout) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Len returns the number of tracked keys.
func (l *Lockout) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
