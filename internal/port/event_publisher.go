package port

import (
	"context"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type EventPublisher interface {
	// Publish delivers an event after its change has been committed
	Publish(ctx context.Context, event domain.LedgerEvent) error
}
