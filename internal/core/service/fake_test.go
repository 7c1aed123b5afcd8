package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

// Mock DatabaseRepository. One mutex stands in for the row locks of the real
// store, so every method is linearizable like the MySQL transactions.
type mockDB struct {
	mu     sync.Mutex
	stock  map[domain.StockKey]int
	orders map[string]*domain.Order
	order  []string
	failOn error
}

func newMockDB() *mockDB {
	return &mockDB{
		stock:  make(map[domain.StockKey]int),
		orders: make(map[string]*domain.Order),
	}
}

func (m *mockDB) setStock(productID, size string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[domain.StockKey{ProductID: productID, Size: size}] = stock
}

func (m *mockDB) stockOf(productID, size string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[domain.StockKey{ProductID: productID, Size: size}]
}

func (m *mockDB) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockDB) PlaceOrder(ctx context.Context, order domain.Order, reservations []domain.StockReservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}

	for _, r := range reservations {
		available, ok := m.stock[r.Key]
		if !ok || available < r.Quantity {
			return &domain.InsufficientStockError{
				Line:      r.Line,
				ProductID: r.Key.ProductID,
				Size:      r.Key.Size,
				Requested: r.Quantity,
				Available: available,
			}
		}
	}
	for _, r := range reservations {
		m.stock[r.Key] -= r.Quantity
	}

	stored := order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	m.orders[order.ID] = &stored
	m.order = append(m.order, order.ID)
	return nil
}

func (m *mockDB) TryDecrement(ctx context.Context, key domain.StockKey, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	available, ok := m.stock[key]
	if !ok || available < amount {
		return false, nil
	}
	m.stock[key] = available - amount
	return true, nil
}

func (m *mockDB) GetStock(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stock[key]
	if !ok {
		return nil, nil
	}
	return &domain.StockUnit{ProductID: key.ProductID, Size: key.Size, Stock: stock}, nil
}

func (m *mockDB) ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var units []domain.StockUnit
	for key, stock := range m.stock {
		if key.ProductID == productID {
			units = append(units, domain.StockUnit{ProductID: key.ProductID, Size: key.Size, Stock: stock})
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Size < units[j].Size })
	return units, nil
}

func (m *mockDB) TransitionOrder(ctx context.Context, orderID string, t domain.Transition, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != t.From {
		return false, nil
	}
	o.Status = t.To
	o.UpdatedAt = at
	switch t.To {
	case domain.OrderStatusTaken:
		o.TakenAt = &at
	case domain.OrderStatusDelivered:
		o.DeliveredAt = &at
	}
	return true, nil
}

func (m *mockDB) RevertOrder(ctx context.Context, orderID string, at time.Time) ([]domain.StockMovement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || !o.InventoryProcessed || !o.Status.Revertible() {
		return nil, false, nil
	}

	var movements []domain.StockMovement
	for _, item := range o.Items {
		if !item.Category.TracksStock() {
			continue
		}
		key := domain.StockKey{ProductID: item.ProductID, Size: item.Size}
		if _, ok := m.stock[key]; !ok {
			return nil, false, domain.ErrStockUnitNotFound
		}
		movements = append(movements, domain.StockMovement{ProductID: key.ProductID, Size: key.Size, Delta: item.Quantity})
	}
	for _, mv := range movements {
		m.stock[domain.StockKey{ProductID: mv.ProductID, Size: mv.Size}] += mv.Delta
	}

	o.Status = domain.OrderStatusDeclined
	o.InventoryProcessed = false
	o.UpdatedAt = at
	o.DeclinedAt = &at
	return movements, true, nil
}

func (m *mockDB) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (m *mockDB) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, id := range m.order {
		o := m.orders[id]
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockDB) UpdateOrderItem(ctx context.Context, itemID string, mutate func(*domain.OrderItem) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		for i := range o.Items {
			if o.Items[i].ID != itemID {
				continue
			}
			item := o.Items[i]
			if err := mutate(&item); err != nil {
				return err
			}
			o.Items[i] = item
			return nil
		}
	}
	return domain.ErrOrderItemNotFound
}

func (m *mockDB) RealizedRevenue(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusDelivered {
			total = total.Add(o.Total)
		}
	}
	return total, nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	snapshots      map[domain.StockKey]int
	invalidated    []domain.StockKey
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		snapshots:      make(map[domain.StockKey]int),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) GetStockSnapshot(ctx context.Context, key domain.StockKey) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.snapshots[key]
	return stock, ok, nil
}

func (m *mockCacheRepo) SetStockSnapshot(ctx context.Context, key domain.StockKey, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = stock
	return nil
}

func (m *mockCacheRepo) InvalidateStock(ctx context.Context, keys ...domain.StockKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.snapshots, key)
	}
	m.invalidated = append(m.invalidated, keys...)
	return nil
}

// Mock PatchCatalog
type mockCatalog map[string]domain.Patch

func newMockCatalog(names ...string) mockCatalog {
	c := mockCatalog{}
	for i, name := range names {
		c[name] = domain.Patch{ID: uint(i + 1), Name: name, Price: decimal.NewFromInt(1500)}
	}
	return c
}

func (c mockCatalog) ListPatches(ctx context.Context) ([]domain.Patch, error) {
	out := make([]domain.Patch, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c mockCatalog) FindByNames(ctx context.Context, names []string) (map[string]domain.Patch, error) {
	// case-insensitive, like the catalog table's collation
	out := make(map[string]domain.Patch)
	for _, name := range names {
		for _, p := range c {
			if strings.EqualFold(p.Name, name) {
				out[p.Name] = p
			}
		}
	}
	return out, nil
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	err    error
}

func (p *mockPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *mockPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errBackend = errors.New("backend unavailable")

type fixture struct {
	db        *mockDB
	cache     *mockCacheRepo
	events    *mockPublisher
	orders    *OrderService
	lifecycle *LifecycleService
	inventory *InventoryService
}

func newFixture() *fixture {
	f := &fixture{
		db:     newMockDB(),
		cache:  newMockCacheRepo(),
		events: &mockPublisher{},
	}
	deps := Deps{
		DB:      f.db,
		Cache:   f.cache,
		Patches: newMockCatalog("Champions League", "Serie A", "Scudetto"),
		Events:  f.events,
		Clock:   func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	f.orders = NewOrderService(deps)
	f.lifecycle = NewLifecycleService(deps)
	f.inventory = NewInventoryService(deps)
	return f
}

func immediateLine(productID, size string, qty int, price int64) domain.LineRequest {
	return domain.LineRequest{
		ProductID:   productID,
		ProductCode: productID + "-code",
		ProductName: "Kit " + productID,
		Quantity:    qty,
		Size:        size,
		UnitPrice:   decimal.NewFromInt(price),
		Category:    domain.CategoryImmediate,
	}
}

func preorderLine(productID string, qty int, price int64, patches ...string) domain.LineRequest {
	return domain.LineRequest{
		ProductID:   productID,
		ProductName: "Preorder " + productID,
		Quantity:    qty,
		Size:        "L",
		UnitPrice:   decimal.NewFromInt(price),
		Category:    domain.CategoryPreorder,
		Patches:     patches,
	}
}

func placeRequest(lines ...domain.LineRequest) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		Customer: domain.Customer{Name: "Ana", Email: "ana@example.com"},
		Items:    lines,
	}
}
