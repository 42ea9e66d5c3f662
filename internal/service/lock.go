package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettlementLock serializes settlement of a single transaction id across
// server instances.
type SettlementLock interface {
	Acquire(ctx context.Context, transactionID string) (bool, error)
	Release(ctx context.Context, transactionID string)
}

// RedisSettlementLock implements SettlementLock with a Redis SETNX key per
// transaction id. The TTL bounds how long a crashed settlement can hold the
// lock.
type RedisSettlementLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSettlementLock(client *redis.Client, ttl time.Duration) *RedisSettlementLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSettlementLock{client: client, ttl: ttl}
}

func (l *RedisSettlementLock) Acquire(ctx context.Context, transactionID string) (bool, error) {
	return l.client.SetNX(ctx, l.key(transactionID), "1", l.ttl).Result()
}

func (l *RedisSettlementLock) Release(ctx context.Context, transactionID string) {
	l.client.Del(ctx, l.key(transactionID))
}

func (l *RedisSettlementLock) key(transactionID string) string {
	return fmt.Sprintf("settlement_lock:%s", transactionID)
}
