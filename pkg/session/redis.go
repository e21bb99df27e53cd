package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// sessionKeyPrefix namespaces session keys in the shared Redis instance.
const sessionKeyPrefix = "gateway:session:"

// Cmdable is the subset of Redis commands the session store needs. The
// interface is intentionally narrow so tests can substitute miniredis
// behind a real *redis.Client without mocking the full command surface.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Compile-time interface compliance check.
var _ Cmdable = (*redis.Client)(nil)

// RedisStore is the Redis-backed [Store] for multi-replica deployments.
// Sessions are stored as JSON under a namespaced key with the role's
// inactivity timeout as the key TTL, so Redis itself expires idle
// sessions and no sweeper is needed.
//
// RedisStore is safe for concurrent use by multiple goroutines.
type RedisStore struct {
	client Cmdable
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore over the given client.
func NewRedisStore(client Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sserr.Newf(sserr.CodeNotFound, "session: no session %q", id)
		}
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"session: store read failed")
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal,
			"session: stored session is corrupt")
	}
	return &sess, nil
}

// Put implements [Store].
func (s *RedisStore) Put(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" {
		return sserr.New(sserr.CodeValidationRequired, "session: session ID must not be empty")
	}
	if ttl <= 0 {
		return sserr.New(sserr.CodeValidation, "session: ttl must be positive")
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "session: failed to encode session")
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.ID, payload, ttl).Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"session: store write failed")
	}
	return nil
}

// Delete implements [Store]. Deleting an absent session is a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"session: store delete failed")
	}
	return nil
}
