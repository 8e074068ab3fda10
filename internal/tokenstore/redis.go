package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the part of *redis.Client the store needs.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore shares tokens between several api replicas. Expiry is delegated to
// Redis via SET ... EX.
type RedisStore struct {
	client  redisClient
	prefix  string
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRedisStore connects to addr. A non-positive ttl means DefaultTTL.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisStore(rdb, ttl)
}

func newRedisStore(client redisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client:  client,
		prefix:  "edr:",
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *RedisStore) Put(ctx context.Context, tok PendingToken) error {
	now := s.nowFunc()
	if tok.InsertedAt.IsZero() {
		tok.InsertedAt = now
	}
	ttl := expiryFor(tok, s.ttl).Sub(now)
	if ttl <= 0 {
		// already expired: nothing to store
		return nil
	}
	body, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+tok.TransferID, body, ttl).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, transferID string) (PendingToken, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+transferID).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingToken{}, false, nil
	}
	if err != nil {
		return PendingToken{}, false, fmt.Errorf("tokenstore: redis get: %w", err)
	}
	var tok PendingToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return PendingToken{}, false, fmt.Errorf("tokenstore: unmarshal: %w", err)
	}
	return tok, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, transferID string) error {
	if err := s.client.Del(ctx, s.prefix+transferID).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis del: %w", err)
	}
	return nil
}
