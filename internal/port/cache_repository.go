package port

import (
	"context"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so a rejected request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetStockSnapshot returns a possibly stale stock figure for display
	GetStockSnapshot(ctx context.Context, key domain.StockKey) (int, bool, error)

	SetStockSnapshot(ctx context.Context, key domain.StockKey, stock int) error

	// InvalidateStock drops snapshots after a committed stock mutation
	InvalidateStock(ctx context.Context, keys ...domain.StockKey) error
}
