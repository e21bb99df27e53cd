package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
	"github.com/mindhub-health/gateway-core/pkg/policy"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)

	sess := &Session{
		ID:             "sess-1",
		AccountID:      uuid.New(),
		Role:           policy.RoleNurse,
		IP:             "203.0.113.10",
		UserAgent:      "Mozilla/5.0",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		LastActivityAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Put(context.Background(), sess, 30*time.Minute))

	got, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.AccountID, got.AccountID)
	assert.Equal(t, sess.Role, got.Role)
	assert.Equal(t, sess.IP, got.IP)
}

func TestRedisStore_GetMissing(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, sserr.IsNotFound(err))
}

func TestRedisStore_TTLExpiresSession(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t)

	sess := &Session{ID: "sess-1", AccountID: uuid.New(), Role: policy.RolePatient}
	require.NoError(t, store.Put(context.Background(), sess, 15*time.Minute))

	mr.FastForward(16 * time.Minute)

	_, err := store.Get(context.Background(), "sess-1")
	assert.True(t, sserr.IsNotFound(err),
		"Redis key TTL enforces the inactivity timeout")
}

func TestRedisStore_Delete(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)

	sess := &Session{ID: "sess-1", AccountID: uuid.New(), Role: policy.RolePatient}
	require.NoError(t, store.Put(context.Background(), sess, time.Minute))
	require.NoError(t, store.Delete(context.Background(), "sess-1"))

	_, err := store.Get(context.Background(), "sess-1")
	assert.True(t, sserr.IsNotFound(err))

	assert.NoError(t, store.Delete(context.Background(), "sess-1"),
		"deleting an absent session is a no-op")
}

func TestRedisStore_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)

	assert.Error(t, store.Put(context.Background(), &Session{}, time.Minute))
	assert.Error(t, store.Put(context.Background(), &Session{ID: "x"}, 0))
}

func TestMonitor_OverRedisStore(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)
	monitor, err := NewMonitor(store, policy.DefaultTable(), nil)
	require.NoError(t, err)

	bound := boundIdentity(policy.RoleNurse, "sess-redis")
	require.NoError(t, monitor.Validate(context.Background(), bound, okFP))

	stolen := Fingerprint{IP: okFP.IP, UserAgent: "curl/8.5.0"}
	verr := monitor.Validate(context.Background(), bound, stolen)
	assert.Equal(t, sserr.CodeSessionAnomaly, sserr.GetCode(verr))
}
