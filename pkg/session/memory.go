package session

import (
	"context"
	"sync"
	"time"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// MemoryStore is an in-memory [Store] for tests and single-process
// deployments. Entries carry an absolute deadline derived from the Put
// ttl; Get treats a past-deadline entry as absent, and an optional
// sweeper goroutine reclaims the memory.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	session  Session
	deadline time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || s.now().After(entry.deadline) {
		delete(s.entries, id)
		return nil, sserr.Newf(sserr.CodeNotFound, "session: no session %q", id)
	}
	copied := entry.session
	return &copied, nil
}

// Put implements [Store].
func (s *MemoryStore) Put(_ context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" {
		return sserr.New(sserr.CodeValidationRequired, "session: session ID must not be empty")
	}
	if ttl <= 0 {
		return sserr.New(sserr.CodeValidation, "session: ttl must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sess.ID] = memoryEntry{
		session:  *sess,
		deadline: s.now().Add(ttl),
	}
	return nil
}

// Delete implements [Store]. Deleting an absent session is a no-op.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// StartSweeper launches a goroutine that periodically drops expired
// entries. It stops when ctx is canceled. Get already hides expired
// entries; the sweeper only bounds memory growth.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes all entries past their deadline.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, entry := range s.entries {
		if now.After(entry.deadline) {
			delete(s.entries, id)
		}
	}
}

// Len reports the number of live and not-yet-swept entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
