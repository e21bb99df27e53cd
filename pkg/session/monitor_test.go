package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhub-health/gateway-core/pkg/account"
	"github.com/mindhub-health/gateway-core/pkg/credential"
	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

func boundIdentity(role policy.Role, sid string) *account.BoundIdentity {
	return &account.BoundIdentity{
		Account: account.Account{ID: uuid.New(), Role: role, Active: true},
		Role:    role,
		Claims: &credential.VerifiedClaims{
			Subject:   "user-123",
			SessionID: sid,
			Source:    credential.SourceSessionCookie,
		},
	}
}

// testMonitor returns a monitor over a MemoryStore with a controllable
// clock shared by monitor and store.
func testMonitor(t *testing.T) (*Monitor, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	monitor, err := NewMonitor(store, policy.DefaultTable(), slog.Default())
	require.NoError(t, err)

	now := time.Now()
	monitor.now = func() time.Time { return now }
	store.now = func() time.Time { return now }
	return monitor, store, &now
}

var okFP = Fingerprint{IP: "203.0.113.10", UserAgent: "Mozilla/5.0 (clinic workstation)"}

func TestValidate_EstablishesOnFirstSight(t *testing.T) {
	t.Parallel()
	monitor, store, _ := testMonitor(t)
	bound := boundIdentity(policy.RoleNurse, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, bound.Account.ID, sess.AccountID)
	assert.Equal(t, okFP.IP, sess.IP)
	assert.Equal(t, okFP.UserAgent, sess.UserAgent)
}

func TestValidate_NonSessionCredentialPassesThrough(t *testing.T) {
	t.Parallel()
	monitor, store, _ := testMonitor(t)
	bound := boundIdentity(policy.RoleSystem, "")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))
	assert.Zero(t, store.Len(), "no record is created without a session ID")
}

func TestValidate_ExpiresAfterRoleTimeout(t *testing.T) {
	t.Parallel()
	monitor, store, now := testMonitor(t)
	bound := boundIdentity(policy.RolePatient, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	// Patient timeout is 15 minutes; idle 16.
	*now = now.Add(16 * time.Minute)
	err := monitor.Validate(context.Background(), bound, okFP)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeSessionExpired, sserr.GetCode(err))

	_, err = store.Get(context.Background(), "sess-1")
	assert.True(t, sserr.IsNotFound(err), "expired session must be removed")
}

func TestValidate_ActivitySlidesTheWindow(t *testing.T) {
	t.Parallel()
	monitor, _, now := testMonitor(t)
	bound := boundIdentity(policy.RolePatient, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	// Stay just inside the 15-minute patient window three times over.
	for range 3 {
		*now = now.Add(10 * time.Minute)
		require.NoError(t, monitor.Validate(context.Background(), bound, okFP),
			"each request resets the inactivity window")
	}
}

func TestValidate_RoleTimeoutsDiffer(t *testing.T) {
	t.Parallel()
	monitor, _, now := testMonitor(t)
	patient := boundIdentity(policy.RolePatient, "sess-patient")
	psychiatrist := boundIdentity(policy.RolePsychiatrist, "sess-psych")

	require.NoError(t, monitor.Validate(context.Background(), patient, okFP))
	require.NoError(t, monitor.Validate(context.Background(), psychiatrist, okFP))

	// 30 minutes idle: past the patient's 15m window, inside the
	// psychiatrist's 1h window.
	*now = now.Add(30 * time.Minute)

	err := monitor.Validate(context.Background(), patient, okFP)
	assert.Equal(t, sserr.CodeSessionExpired, sserr.GetCode(err))
	assert.NoError(t, monitor.Validate(context.Background(), psychiatrist, okFP))
}

func TestValidate_UserAgentChangeDestroysSession(t *testing.T) {
	t.Parallel()
	monitor, store, _ := testMonitor(t)
	bound := boundIdentity(policy.RoleNurse, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	stolen := Fingerprint{IP: okFP.IP, UserAgent: "curl/8.5.0"}
	err := monitor.Validate(context.Background(), bound, stolen)
	require.Error(t, err)
	assert.Equal(t, sserr.CodeSessionAnomaly, sserr.GetCode(err))

	_, err = store.Get(context.Background(), "sess-1")
	assert.True(t, sserr.IsNotFound(err), "anomalous session must be destroyed")
}

func TestValidate_IPChangeIsToleratedAndRecorded(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	monitor, err := NewMonitor(store, policy.DefaultTable(), logger)
	require.NoError(t, err)
	bound := boundIdentity(policy.RoleNurse, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	roaming := Fingerprint{IP: "198.51.100.7", UserAgent: okFP.UserAgent}
	require.NoError(t, monitor.Validate(context.Background(), bound, roaming),
		"an IP change alone must not deny the request")

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", sess.IP, "record follows the caller's address")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, slog.LevelWarn.String(), record["level"],
		"a mid-session address change is a medium-severity event")
	assert.Equal(t, "198.51.100.7", record["new_ip"])
}

func TestDestroy(t *testing.T) {
	t.Parallel()
	monitor, store, _ := testMonitor(t)
	bound := boundIdentity(policy.RoleNurse, "sess-1")

	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))
	require.NoError(t, monitor.Destroy(context.Background(), "sess-1"))

	_, err := store.Get(context.Background(), "sess-1")
	assert.True(t, sserr.IsNotFound(err))
}

func TestMemoryStore_SweepDropsExpired(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(context.Background(), &Session{ID: "a"}, time.Minute))
	require.NoError(t, store.Put(context.Background(), &Session{ID: "b"}, time.Hour))

	now = now.Add(2 * time.Minute)
	store.sweep()

	assert.Equal(t, 1, store.Len())
	_, err := store.Get(context.Background(), "b")
	assert.NoError(t, err)
}
