package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/kit-ledger/internal/core/domain"
	"github.com/rl1809/kit-ledger/internal/tracing"
)

// LifecycleService applies the admin actions on placed orders.
type LifecycleService struct {
	deps Deps
}

func NewLifecycleService(deps Deps) *LifecycleService {
	return &LifecycleService{deps: deps}
}

// Take claims a pending order for fulfilment.
func (s *LifecycleService) Take(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, domain.TransitionTake, domain.EventOrderTaken)
}

// Deliver marks a taken order as delivered; its total becomes realized revenue.
func (s *LifecycleService) Deliver(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, domain.TransitionDeliver, domain.EventOrderDelivered)
}

func (s *LifecycleService) transition(ctx context.Context, orderID string, t domain.Transition, event domain.EventType) (err error) {
	ctx, span := tracing.Start(ctx, "LifecycleService."+t.Action)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	defer s.observe(ctx, t.Action, orderID, &err)

	if strings.TrimSpace(orderID) == "" {
		return domain.NewValidationError("orderId", "order id is required")
	}

	ok, err := s.deps.DB.TransitionOrder(ctx, orderID, t, s.deps.now())
	if err != nil {
		return errors.Wrapf(err, "%s order", t.Action)
	}
	if !ok {
		return s.rejection(ctx, orderID, t.Action)
	}

	s.deps.publish(ctx, domain.LedgerEvent{Type: event, OrderID: orderID})
	return nil
}

// Revert declines an order whose stock is still charged and returns the stock
// of its immediate items. Only the first call on an order succeeds.
func (s *LifecycleService) Revert(ctx context.Context, orderID string) (err error) {
	ctx, span := tracing.Start(ctx, "LifecycleService.revert")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	defer s.observe(ctx, domain.ActionRevert, orderID, &err)

	if strings.TrimSpace(orderID) == "" {
		return domain.NewValidationError("orderId", "order id is required")
	}

	movements, ok, err := s.deps.DB.RevertOrder(ctx, orderID, s.deps.now())
	if err != nil {
		return errors.Wrap(err, "revert order")
	}
	if !ok {
		return s.rejection(ctx, orderID, domain.ActionRevert)
	}

	s.deps.invalidate(ctx, movementKeys(movements)...)
	s.deps.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventOrderDeclined,
		OrderID: orderID,
		Stock:   movements,
	})
	return nil
}

// rejection explains why a guarded update touched no rows.
func (s *LifecycleService) rejection(ctx context.Context, orderID, action string) error {
	order, err := s.deps.DB.GetOrder(ctx, orderID)
	if err != nil {
		return errors.Wrapf(err, "%s order: load current state", action)
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}
	return &domain.TransitionError{
		OrderID:   orderID,
		Action:    action,
		Current:   order.Status,
		Processed: order.InventoryProcessed,
	}
}

func (s *LifecycleService) observe(ctx context.Context, action, orderID string, errp *error) {
	err := *errp
	outcome := "applied"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		outcome = "rejected"
	case errors.Is(err, domain.ErrOrderNotFound):
		outcome = "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.deps.Metrics.ObserveTransition(action, outcome)

	log := zlog.Ctx(ctx)
	if err != nil {
		ev := log.Warn()
		if outcome == "error" {
			ev = log.Error()
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		ev.Err(err).Str("order_id", orderID).Str("action", action).Msg("order transition failed")
		return
	}
	log.Info().Str("order_id", orderID).Str("action", action).Msg("order transition applied")
}

// SetPatchSlot replaces or clears (name == nil) one patch slot of a preorder
// line item after the order was placed.
func (s *LifecycleService) SetPatchSlot(ctx context.Context, itemID string, slot int, name *string) error {
	ctx, span := tracing.Start(ctx, "LifecycleService.SetPatchSlot")
	defer span.End()

	if strings.TrimSpace(itemID) == "" {
		return domain.NewValidationError("itemId", "order item id is required")
	}
	if slot < 0 || slot >= domain.MaxPatchesPerItem {
		return domain.NewValidationError("slot", domain.ErrInvalidPatchSlot.Error())
	}

	if name != nil && s.deps.Patches != nil {
		found, err := s.deps.Patches.FindByNames(ctx, []string{strings.TrimSpace(*name)})
		if err != nil {
			return errors.Wrap(err, "look up patch")
		}
		patch, ok := domain.NewPatchIndex(found).Lookup(*name)
		if !ok {
			return domain.NewValidationError("name", "unknown patch "+*name)
		}
		name = &patch.Name
	}

	err := s.deps.DB.UpdateOrderItem(ctx, itemID, func(item *domain.OrderItem) error {
		if item.Category != domain.CategoryPreorder {
			return domain.NewValidationError("itemId", "patches are only allowed on preorder items")
		}
		var err error
		if name == nil {
			err = item.Patches.Clear(slot)
		} else {
			err = item.Patches.Set(slot, *name)
		}
		if err != nil {
			return domain.NewValidationError("name", err.Error())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderItemNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			return err
		}
		return errors.Wrap(err, "update patch slot")
	}

	zlog.Ctx(ctx).Info().Str("item_id", itemID).Int("slot", slot).Msg("patch slot updated")
	return nil
}
