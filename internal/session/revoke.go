package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ballotd/apiserver/config"
	redis "github.com/redis/go-redis/v9"
)

// Revoker remembers logged-out sessions until they would have expired.
type Revoker interface {
	Revoke(ctx context.Context, id string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryRevoker keeps revocations in process memory.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevoker) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, until := range m.revoked {
		if !until.After(now) {
			delete(m.revoked, key)
		}
	}
	if expiresAt.After(now) {
		m.revoked[id] = expiresAt
	}
	return nil
}

func (m *MemoryRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[id]
	return ok && until.After(m.now()), nil
}

const revokedKeyPrefix = "session:revoked:"

// RedisRevoker shares revocations between instances through Redis keys
// that expire together with the token.
type RedisRevoker struct {
	rdb *redis.Client
}

func NewRedisRevoker(ctx context.Context, cfg config.RedisConfig) (*RedisRevoker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisRevoker{rdb: rdb}, nil
}

func (r *RedisRevoker) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, revokedKeyPrefix+id, 1, ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revokedKeyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevoker) Close() error {
	return r.rdb.Close()
}

// NewRevoker picks Redis when an address is configured and process memory
// otherwise.
func NewRevoker(ctx context.Context, cfg config.RedisConfig) (Revoker, func() error, error) {
	if cfg.Addr == "" {
		return NewMemoryRevoker(), func() error { return nil }, nil
	}
	revoker, err := NewRedisRevoker(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return revoker, revoker.Close, nil
}
