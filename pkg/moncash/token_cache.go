package moncash

import (
	"context"
	"sync"
	"time"

	"github.com/tishop/marketplace-backend/pkg/redis"
)

// TokenCache stores the short-lived OAuth token so replicas do not each mint their own.
type TokenCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

type redisStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	GatewayTokenKey(gateway string) string
}

// RedisTokenCache shares the token across API replicas.
type RedisTokenCache struct {
	store redisStore
}

func NewRedisTokenCache(store redisStore) *RedisTokenCache {
	return &RedisTokenCache{store: store}
}

func (r *RedisTokenCache) key() string {
	return r.store.GatewayTokenKey("moncash")
}

func (r *RedisTokenCache) Get(ctx context.Context) (string, bool, error) {
	val, err := r.store.Get(ctx, r.key())
	if err != nil {
		if redis.IsMiss(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, val != "", nil
}

func (r *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	return r.store.Set(ctx, r.key(), token, ttl)
}

// MemoryTokenCache keeps the token in process.
type MemoryTokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMemoryTokenCache(now func() time.Time) *MemoryTokenCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenCache{now: now}
}

func (m *MemoryTokenCache) Get(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || !m.now().Before(m.expires) {
		return "", false, nil
	}
	return m.token, true, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expires = m.now().Add(ttl)
	return nil
}
