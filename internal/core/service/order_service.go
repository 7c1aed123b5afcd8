package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

const idempotencyKeyPrefix = "checkout:"

type OrderService struct {
	deps Deps
}

func NewOrderService(deps Deps) *OrderService {
	return &OrderService{deps: deps}
}

// PlaceOrder validates the request and commits the order together with the
// stock reservations of its immediate lines. On any error nothing is persisted.
func (s *OrderService) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (_ *domain.Order, err error) {
	started := time.Now()
	ctx, span := tracing.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	outcome := "error"
	defer func() {
		s.deps.Metrics.ObservePlacement(outcome, started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := req.Validate(); err != nil {
		outcome = "invalid"
		return nil, err
	}
	if req, err = s.resolvePatches(ctx, req); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			outcome = "invalid"
		}
		return nil, err
	}

	if req.RequestID != "" && s.deps.Cache != nil {
		key := idempotencyKeyPrefix + req.RequestID
		ok, setErr := s.deps.Cache.SetIdempotency(ctx, key)
		if setErr != nil {
			return nil, errors.Wrap(setErr, "idempotency check failed")
		}
		if !ok {
			outcome = "duplicate"
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if releaseErr := s.deps.Cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
				zlog.Ctx(ctx).Warn().Err(releaseErr).Str("request_id", req.RequestID).Msg("failed to release idempotency key")
			}
		}()
	}

	order := s.newOrder(req)
	reservations := domain.Reservations(order.Items)
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.items", len(order.Items)),
		attribute.Int("order.reservations", len(reservations)),
	)

	if err := s.deps.DB.PlaceOrder(ctx, order, reservations); err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			outcome = "insufficient_stock"
			zlog.Ctx(ctx).Info().
				Str("product_id", stockErr.ProductID).
				Str("size", stockErr.Size).
				Int("requested", stockErr.Requested).
				Int("available", stockErr.Available).
				Msg("order rejected: insufficient stock")
			return nil, err
		}
		return nil, errors.Wrap(err, "place order")
	}
	outcome = "placed"

	keys := make([]domain.StockKey, 0, len(reservations))
	movements := make([]domain.StockMovement, 0, len(reservations))
	for _, r := range reservations {
		keys = append(keys, r.Key)
		movements = append(movements, domain.StockMovement{ProductID: r.Key.ProductID, Size: r.Key.Size, Delta: -r.Quantity})
	}
	s.deps.invalidate(ctx, keys...)
	s.deps.publish(ctx, domain.LedgerEvent{
		Type:       domain.EventOrderPlaced,
		OrderID:    order.ID,
		Total:      order.Total.String(),
		Stock:      movements,
		OccurredAt: order.CreatedAt,
	})

	zlog.Ctx(ctx).Info().Str("order_id", order.ID).Str("total", order.Total.String()).Msg("order placed")
	return &order, nil
}

func (s *OrderService) newOrder(req domain.PlaceOrderRequest) domain.Order {
	now := s.deps.now()
	customer := req.Customer
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(customer.Email)
	customer.Address = strings.TrimSpace(customer.Address)

	order := domain.Order{
		ID:                 uuid.NewString(),
		Customer:           customer,
		ShippingCost:       req.ShippingCost,
		Status:             domain.OrderStatusPending,
		InventoryProcessed: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, line := range req.Items {
		order.Items = append(order.Items, line.NewOrderItem(uuid.NewString(), order.ID, now))
	}
	order.Total = domain.OrderTotal(order.Items, req.ShippingCost)
	return order
}

// resolvePatches rejects patch names that are not in the catalog and rewrites
// the others to the catalog's spelling.
func (s *OrderService) resolvePatches(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlaceOrderRequest, error) {
	names := req.PatchNames()
	if len(names) == 0 || s.deps.Patches == nil {
		return req, nil
	}

	found, err := s.deps.Patches.FindByNames(ctx, names)
	if err != nil {
		return req, errors.Wrap(err, "look up patches")
	}
	known := domain.NewPatchIndex(found)

	items := make([]domain.LineRequest, len(req.Items))
	for i, line := range req.Items {
		if len(line.Patches) > 0 {
			resolved := make([]string, 0, len(line.Patches))
			for _, name := range line.Patches {
				patch, ok := known.Lookup(name)
				if !ok {
					return req, domain.NewValidationError("items["+strconv.Itoa(i)+"].patches", "unknown patch "+name)
				}
				resolved = append(resolved, patch.Name)
			}
			line.Patches = resolved
		}
		items[i] = line
	}
	req.Items = items
	return req, nil
}

// GetOrder composes the admin read model of one order.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.NewValidationError("orderId", "order id is required")
	}

	order, err := s.deps.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	catalog := domain.PatchIndex{}
	var names []string
	for _, item := range order.Items {
		names = append(names, item.Patches.Names()...)
	}
	if len(names) > 0 && s.deps.Patches != nil {
		found, err := s.deps.Patches.FindByNames(ctx, names)
		if err != nil {
			return nil, errors.Wrap(err, "look up patches")
		}
		catalog = domain.NewPatchIndex(found)
	}

	view := &domain.OrderView{Order: *order}
	for _, item := range order.Items {
		iv := domain.OrderItemView{OrderItem: item}
		for _, name := range item.Patches.Names() {
			patch, ok := catalog.Lookup(name)
			if !ok {
				// removed from the catalog after the order was placed
				patch = domain.Patch{Name: name}
			}
			iv.PatchDetails = append(iv.PatchDetails, patch)
		}
		view.Items = append(view.Items, iv)
	}
	return view, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "unknown status "+string(filter.Status))
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, err := s.deps.DB.ListOrders(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
