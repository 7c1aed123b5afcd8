package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

const (
	stockSnapshotKeyPrefix = "stock:snapshot:"
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultSnapshotTTL     = 30 * time.Second
)

// RedisAdapter holds the non-authoritative state of the ledger: checkout
// idempotency keys and display snapshots of stock. MySQL stays the only
// source of truth for stock.
type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
	snapshotTTL    time.Duration
}

type RedisOption func(*RedisAdapter)

func WithIdempotencyTTL(ttl time.Duration) RedisOption {
	return func(r *RedisAdapter) {
		if ttl > 0 {
			r.idempotencyTTL = ttl
		}
	}
}

func WithSnapshotTTL(ttl time.Duration) RedisOption {
	return func(r *RedisAdapter) {
		if ttl > 0 {
			r.snapshotTTL = ttl
		}
	}
}

func NewRedisAdapter(client *redis.Client, opts ...RedisOption) *RedisAdapter {
	r := &RedisAdapter{
		client:         client,
		idempotencyTTL: defaultIdempotencyTTL,
		snapshotTTL:    defaultSnapshotTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func snapshotKey(key domain.StockKey) string {
	return stockSnapshotKeyPrefix + key.ProductID + ":" + key.Size
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx idempotency key")
	}
	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return errors.Wrap(r.client.Del(ctx, key).Err(), "release idempotency key")
}

func (r *RedisAdapter) GetStockSnapshot(ctx context.Context, key domain.StockKey) (int, bool, error) {
	stock, err := r.client.Get(ctx, snapshotKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "get stock snapshot")
	}
	return stock, true, nil
}

func (r *RedisAdapter) SetStockSnapshot(ctx context.Context, key domain.StockKey, stock int) error {
	return errors.Wrap(r.client.Set(ctx, snapshotKey(key), stock, r.snapshotTTL).Err(), "set stock snapshot")
}

func (r *RedisAdapter) InvalidateStock(ctx context.Context, keys ...domain.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, snapshotKey(key))
	}
	return errors.Wrap(r.client.Del(ctx, names...).Err(), "invalidate stock snapshots")
}
