package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

// MemoryStore is an in-memory [Store] and [PrivilegeStore] for tests and
// single-process examples. It mirrors the PostgreSQL store's semantics,
// including the profile-refresh-never-touches-privilege rule.
//
// MemoryStore is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu        sync.Mutex
	bySubject map[string]*Account
	byID      map[uuid.UUID]*Account
	now       func() time.Time
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ PrivilegeStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySubject: make(map[string]*Account),
		byID:      make(map[uuid.UUID]*Account),
		now:       time.Now,
	}
}

// FindOrCreate implements [Store].
func (s *MemoryStore) FindOrCreate(_ context.Context, ext ExternalIdentity) (*Account, error) {
	if ext.SubjectID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired,
			"account: external subject ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if acct, ok := s.bySubject[ext.SubjectID]; ok {
		acct.Email = ext.Email
		acct.DisplayName = ext.DisplayName
		acct.UpdatedAt = now
		acct.LastSeenAt = now
		return copyAccount(acct), nil
	}

	acct := &Account{
		ID:                uuid.New(),
		ExternalSubjectID: ext.SubjectID,
		Email:             ext.Email,
		DisplayName:       ext.DisplayName,
		Role:              policy.RolePatient,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastSeenAt:        now,
	}
	s.bySubject[ext.SubjectID] = acct
	s.byID[acct.ID] = acct
	return copyAccount(acct), nil
}

// GetByID implements [Store].
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return nil, sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
	}
	return copyAccount(acct), nil
}

// SetRole implements [Store].
func (s *MemoryStore) SetRole(_ context.Context, id uuid.UUID, role policy.Role) error {
	if !role.Valid() {
		return sserr.Newf(sserr.CodeValidation, "account: unknown role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
	}
	acct.Role = role
	acct.UpdatedAt = s.now()
	return nil
}

// Deactivate implements [Store].
func (s *MemoryStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
	}
	acct.Active = false
	acct.UpdatedAt = s.now()
	return nil
}

// RoleFor implements [PrivilegeStore].
func (s *MemoryStore) RoleFor(_ context.Context, id uuid.UUID) (policy.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return "", sserr.Newf(sserr.CodeNotFoundAccount, "account: no account with id %s", id)
	}
	return acct.Role, nil
}

// copyAccount returns a defensive copy so callers cannot mutate stored
// state through the returned pointer.
func copyAccount(acct *Account) *Account {
	copied := *acct
	return &copied
}
