package service

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/metrics"
	"github.com/rl1809/kit-ledger/internal/port"
)

// Deps are the collaborators shared by the ledger services. DB is required;
// a nil Cache, Patches, Events or Metrics disables that concern.
type Deps struct {
	DB      port.DatabaseRepository
	Cache   port.CacheRepository
	Patches port.PatchCatalog
	Events  port.EventPublisher
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

// publish is best effort: the change it reports is already committed.
func (d Deps) publish(ctx context.Context, event domain.LedgerEvent) {
	if d.Events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}
	if err := d.Events.Publish(ctx, event); err != nil {
		d.Metrics.PublishFailed()
		zlog.Ctx(ctx).Error().Err(err).Str("event", string(event.Type)).Str("order_id", event.OrderID).
			Msg("failed to publish ledger event")
	}
}

func (d Deps) invalidate(ctx context.Context, keys ...domain.StockKey) {
	if d.Cache == nil || len(keys) == 0 {
		return
	}
	if err := d.Cache.InvalidateStock(ctx, keys...); err != nil {
		zlog.Ctx(ctx).Warn().Err(err).Int("keys", len(keys)).Msg("failed to invalidate stock snapshots")
	}
}

func movementKeys(movements []domain.StockMovement) []domain.StockKey {
	keys := make([]domain.StockKey, 0, len(movements))
	for _, m := range movements {
		keys = append(keys, domain.StockKey{ProductID: m.ProductID, Size: m.Size})
	}
	return keys
}
