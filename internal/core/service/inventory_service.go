package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

// InventoryService exposes the stock store outside of order placement.
type InventoryService struct {
	deps Deps
}

func NewInventoryService(deps Deps) *InventoryService {
	return &InventoryService{deps: deps}
}

// Decrement removes amount units from one stock unit without creating an order.
// It reports false, with no change, when fewer than amount units are on hand.
func (s *InventoryService) Decrement(ctx context.Context, productID, size string, amount int) (bool, error) {
	ctx, span := tracing.Start(ctx, "InventoryService.Decrement")
	defer span.End()

	key := domain.StockKey{ProductID: strings.TrimSpace(productID), Size: strings.TrimSpace(size)}
	span.SetAttributes(attribute.String("stock.key", key.String()), attribute.Int("stock.amount", amount))

	if key.ProductID == "" {
		s.deps.Metrics.ObserveAdjustment("invalid")
		return false, domain.NewValidationError("productId", "product id is required")
	}
	if key.Size == "" {
		s.deps.Metrics.ObserveAdjustment("invalid")
		return false, domain.NewValidationError("size", "size is required")
	}
	if amount < 1 {
		s.deps.Metrics.ObserveAdjustment("invalid")
		return false, domain.NewValidationError("amount", "amount must be at least 1")
	}

	ok, err := s.deps.DB.TryDecrement(ctx, key, amount)
	if err != nil {
		s.deps.Metrics.ObserveAdjustment("error")
		return false, errors.Wrap(err, "decrement stock")
	}
	if !ok {
		s.deps.Metrics.ObserveAdjustment("insufficient_stock")
		zlog.Ctx(ctx).Info().Str("stock_key", key.String()).Int("amount", amount).Msg("manual decrement refused")
		return false, nil
	}

	s.deps.Metrics.ObserveAdjustment("applied")
	s.deps.invalidate(ctx, key)
	s.deps.publish(ctx, domain.LedgerEvent{
		Type:  domain.EventStockAdjusted,
		Stock: []domain.StockMovement{{ProductID: key.ProductID, Size: key.Size, Delta: -amount}},
	})
	zlog.Ctx(ctx).Info().Str("stock_key", key.String()).Int("amount", amount).Msg("manual decrement applied")
	return true, nil
}

// Stock returns a display figure for one unit. It may be stale and must not
// be used to decide a mutation. A snapshot written here can land after a
// concurrent commit invalidated the key, in which case the old figure is
// served until the snapshot TTL expires.
func (s *InventoryService) Stock(ctx context.Context, productID, size string) (int, error) {
	key := domain.StockKey{ProductID: strings.TrimSpace(productID), Size: strings.TrimSpace(size)}
	if key.ProductID == "" || key.Size == "" {
		return 0, domain.NewValidationError("stockKey", "product id and size are required")
	}

	if s.deps.Cache != nil {
		stock, ok, err := s.deps.Cache.GetStockSnapshot(ctx, key)
		if err != nil {
			zlog.Ctx(ctx).Warn().Err(err).Str("stock_key", key.String()).Msg("stock snapshot read failed")
		} else if ok {
			return stock, nil
		}
	}

	unit, err := s.deps.DB.GetStock(ctx, key)
	if err != nil {
		return 0, errors.Wrap(err, "get stock")
	}
	if unit == nil {
		return 0, domain.ErrStockUnitNotFound
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetStockSnapshot(ctx, key, unit.Stock); err != nil {
			zlog.Ctx(ctx).Warn().Err(err).Str("stock_key", key.String()).Msg("stock snapshot write failed")
		}
	}
	return unit.Stock, nil
}

func (s *InventoryService) ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.NewValidationError("productId", "product id is required")
	}
	units, err := s.deps.DB.ListStock(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "list stock")
	}
	return units, nil
}

// RealizedRevenue is the sum of delivered order totals.
func (s *InventoryService) RealizedRevenue(ctx context.Context) (decimal.Decimal, error) {
	revenue, err := s.deps.DB.RealizedRevenue(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "realized revenue")
	}
	return revenue, nil
}

func (s *InventoryService) ListPatches(ctx context.Context) ([]domain.Patch, error) {
	if s.deps.Patches == nil {
		return nil, nil
	}
	patches, err := s.deps.Patches.ListPatches(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list patches")
	}
	return patches, nil
}
