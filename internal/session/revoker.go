package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker хранит идентификаторы отозванных токенов до окончания их срока действия.
type Revoker interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// MemoryRevoker хранит отозванные токены в памяти процесса.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker создаёт пустое хранилище.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke запоминает идентификатор до момента until.
func (r *MemoryRevoker) Revoke(_ context.Context, id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, k)
		}
	}

	if until.After(now) {
		r.revoked[id] = until
	}
	return nil
}

// IsRevoked сообщает, отозван ли идентификатор.
func (r *MemoryRevoker) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.revoked[id]
	if !ok {
		return false, nil
	}
	if !exp.After(r.now()) {
		delete(r.revoked, id)
		return false, nil
	}
	return true, nil
}

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRevoker хранит отозванные токены в Redis с TTL, равным остатку срока действия.
type RedisRevoker struct {
	client redisClient
	prefix string
	now    func() time.Time
}

// NewRedisRevoker создаёт хранилище поверх клиента Redis.
func NewRedisRevoker(client redisClient) *RedisRevoker {
	return &RedisRevoker{
		client: client,
		prefix: "moneytoflows:revoked:",
		now:    time.Now,
	}
}

// Revoke записывает ключ с истечением в момент until.
func (r *RedisRevoker) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.prefix+id, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// IsRevoked проверяет наличие ключа.
func (r *RedisRevoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// ConnectRedis открывает клиент Redis и проверяет соединение.
func ConnectRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}
