package handler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type stubOrders struct {
	placed  []domain.PlaceOrderRequest
	err     error
	view    *domain.OrderView
	orders  []domain.Order
	filters []domain.OrderFilter
}

func (s *stubOrders) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.Order, error) {
	s.placed = append(s.placed, req)
	if s.err != nil {
		return nil, s.err
	}
	var items []domain.OrderItem
	for _, l := range req.Items {
		items = append(items, l.NewOrderItem("item", "order-1", time.Time{}))
	}
	return &domain.Order{ID: "order-1", Total: domain.OrderTotal(items, req.ShippingCost)}, nil
}

func (s *stubOrders) GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error) {
	if s.view == nil || s.view.ID != orderID {
		return nil, domain.ErrOrderNotFound
	}
	return s.view, nil
}

func (s *stubOrders) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.filters = append(s.filters, filter)
	return s.orders, s.err
}

type stubLifecycle struct {
	calls []string
	err   error
	slot  int
	name  *string
}

func (s *stubLifecycle) Take(ctx context.Context, orderID string) error {
	s.calls = append(s.calls, "take:"+orderID)
	return s.err
}

func (s *stubLifecycle) Deliver(ctx context.Context, orderID string) error {
	s.calls = append(s.calls, "deliver:"+orderID)
	return s.err
}

func (s *stubLifecycle) Revert(ctx context.Context, orderID string) error {
	s.calls = append(s.calls, "revert:"+orderID)
	return s.err
}

func (s *stubLifecycle) SetPatchSlot(ctx context.Context, itemID string, slot int, name *string) error {
	s.calls = append(s.calls, "patch:"+itemID)
	s.slot, s.name = slot, name
	return s.err
}

type stubInventory struct {
	stock   map[domain.StockKey]int
	applied bool
	err     error
}

func (s *stubInventory) Decrement(ctx context.Context, productID, size string, amount int) (bool, error) {
	return s.applied, s.err
}

func (s *stubInventory) Stock(ctx context.Context, productID, size string) (int, error) {
	stock, ok := s.stock[domain.StockKey{ProductID: productID, Size: size}]
	if !ok {
		return 0, domain.ErrStockUnitNotFound
	}
	return stock, nil
}

func (s *stubInventory) ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error) {
	var units []domain.StockUnit
	for key, stock := range s.stock {
		if key.ProductID == productID {
			units = append(units, domain.StockUnit{ProductID: key.ProductID, Size: key.Size, Stock: stock})
		}
	}
	return units, nil
}

func (s *stubInventory) RealizedRevenue(ctx context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("235.00"), nil
}

func (s *stubInventory) ListPatches(ctx context.Context) ([]domain.Patch, error) {
	return []domain.Patch{{ID: 1, Name: "Serie A", Price: decimal.NewFromInt(15)}}, nil
}
