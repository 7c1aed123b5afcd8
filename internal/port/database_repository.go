package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type DatabaseRepository interface {
	// PlaceOrder applies every stock reservation and inserts the order with its
	// items in one transaction. A failed reservation returns
	// *domain.InsufficientStockError and leaves no trace.
	PlaceOrder(ctx context.Context, order domain.Order, reservations []domain.StockReservation) error

	// TryDecrement subtracts amount only if enough stock is on hand
	TryDecrement(ctx context.Context, key domain.StockKey, amount int) (bool, error)

	// GetStock returns nil when the unit does not exist
	GetStock(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error)

	ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error)

	// TransitionOrder moves an order from t.From to t.To, reporting false when
	// no row matched the guard
	TransitionOrder(ctx context.Context, orderID string, t domain.Transition, at time.Time) (bool, error)

	// RevertOrder declines a processed order and credits its immediate items
	// back in the same transaction. It reports false when the guard did not hold.
	RevertOrder(ctx context.Context, orderID string, at time.Time) ([]domain.StockMovement, bool, error)

	// GetOrder returns nil when the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	// UpdateOrderItem locks the item, applies mutate and writes the result back
	UpdateOrderItem(ctx context.Context, itemID string, mutate func(*domain.OrderItem) error) error

	// RealizedRevenue sums the totals of delivered orders
	RealizedRevenue(ctx context.Context) (decimal.Decimal, error)
}
