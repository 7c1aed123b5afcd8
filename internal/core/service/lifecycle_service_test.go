package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

func placeP1(t *testing.T, f *fixture) *domain.Order {
	t.Helper()
	order, err := f.orders.PlaceOrder(context.Background(), placeRequest(immediateLine("P1", "M", 1, 10000)))
	require.NoError(t, err)
	return order
}

func TestRevert_ReturnsStockOnce(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	ctx := context.Background()

	order := placeP1(t, f)
	assert.Equal(t, 4, f.db.stockOf("P1", "M"))

	require.NoError(t, f.lifecycle.Revert(ctx, order.ID))
	assert.Equal(t, 5, f.db.stockOf("P1", "M"))

	stored, err := f.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, stored.InventoryProcessed)
	assert.Equal(t, domain.OrderStatusDeclined, stored.Status)
	assert.NotNil(t, stored.DeclinedAt)

	err = f.lifecycle.Revert(ctx, order.ID)
	var tErr *domain.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "order already declined")
	assert.Equal(t, 5, f.db.stockOf("P1", "M"))
}

func TestRevert_ConcurrentCreditsOnce(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	order := placeP1(t, f)

	var wg sync.WaitGroup
	var successCount, rejectCount atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.lifecycle.Revert(context.Background(), order.ID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrConcurrencyConflict):
				rejectCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successCount.Load())
	assert.EqualValues(t, 7, rejectCount.Load())
	assert.Equal(t, 5, f.db.stockOf("P1", "M"))
}

func TestRevert_PublishesMovements(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	order := placeP1(t, f)

	require.NoError(t, f.lifecycle.Revert(context.Background(), order.ID))

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()
	assert.Equal(t, domain.EventOrderDeclined, last.Type)
	assert.Equal(t, []domain.StockMovement{{ProductID: "P1", Size: "M", Delta: 1}}, last.Stock)
}

func TestRevert_TakenOrder(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	ctx := context.Background()
	order := placeP1(t, f)

	require.NoError(t, f.lifecycle.Take(ctx, order.ID))
	require.NoError(t, f.lifecycle.Revert(ctx, order.ID))
	assert.Equal(t, 5, f.db.stockOf("P1", "M"))
}

func TestRevert_DeliveredOrderRejected(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	ctx := context.Background()
	order := placeP1(t, f)

	require.NoError(t, f.lifecycle.Take(ctx, order.ID))
	require.NoError(t, f.lifecycle.Deliver(ctx, order.ID))

	err := f.lifecycle.Revert(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, 4, f.db.stockOf("P1", "M"))
}

func TestTransitions_StateMachine(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	ctx := context.Background()
	order := placeP1(t, f)

	// deliver before take
	err := f.lifecycle.Deliver(ctx, order.ID)
	var tErr *domain.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, domain.OrderStatusPending, tErr.Current)

	require.NoError(t, f.lifecycle.Take(ctx, order.ID))
	assert.ErrorIs(t, f.lifecycle.Take(ctx, order.ID), domain.ErrConcurrencyConflict)
	require.NoError(t, f.lifecycle.Deliver(ctx, order.ID))

	stored, err := f.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, stored.Status)
	assert.NotNil(t, stored.TakenAt)
	assert.NotNil(t, stored.DeliveredAt)

	revenue, err := f.inventory.RealizedRevenue(ctx)
	require.NoError(t, err)
	assert.True(t, revenue.Equal(decimal.NewFromInt(10000)))
}

func TestTransitions_DeclinedIsTerminal(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	ctx := context.Background()
	order := placeP1(t, f)
	require.NoError(t, f.lifecycle.Revert(ctx, order.ID))

	err := f.lifecycle.Take(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "order already declined")
}

func TestTransitions_UnknownOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.lifecycle.Take(ctx, "nope"), domain.ErrOrderNotFound)
	assert.ErrorIs(t, f.lifecycle.Deliver(ctx, "nope"), domain.ErrOrderNotFound)
	assert.ErrorIs(t, f.lifecycle.Revert(ctx, "nope"), domain.ErrOrderNotFound)
	assert.ErrorIs(t, f.lifecycle.Revert(ctx, " "), domain.ErrInvalidInput)
}

func TestSetPatchSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, placeRequest(preorderLine("P9", 1, 9000, "Serie A")))
	require.NoError(t, err)
	itemID := order.Items[0].ID
	name := func(s string) *string { return &s }

	require.NoError(t, f.lifecycle.SetPatchSlot(ctx, itemID, 1, name("Scudetto")))
	stored, err := f.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchSlots{"Serie A", "Scudetto"}, stored.Items[0].Patches)

	// the other slot already holds it
	err = f.lifecycle.SetPatchSlot(ctx, itemID, 0, name("Scudetto"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = f.lifecycle.SetPatchSlot(ctx, itemID, 0, name("Premier League"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = f.lifecycle.SetPatchSlot(ctx, itemID, 2, name("Serie A"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, f.lifecycle.SetPatchSlot(ctx, itemID, 0, nil))
	stored, err = f.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchSlots{"", "Scudetto"}, stored.Items[0].Patches)

	// stored with the catalog's spelling, and still distinct from the other slot
	require.NoError(t, f.lifecycle.SetPatchSlot(ctx, itemID, 0, name("champions league")))
	stored, err = f.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchSlots{"Champions League", "Scudetto"}, stored.Items[0].Patches)
	assert.ErrorIs(t, f.lifecycle.SetPatchSlot(ctx, itemID, 0, name("scudetto")), domain.ErrInvalidInput)

	assert.ErrorIs(t, f.lifecycle.SetPatchSlot(ctx, "missing", 0, nil), domain.ErrOrderItemNotFound)
}

func TestSetPatchSlot_ImmediateItemRejected(t *testing.T) {
	f := newFixture()
	f.db.setStock("P1", "M", 5)
	order := placeP1(t, f)
	patch := "Serie A"

	err := f.lifecycle.SetPatchSlot(context.Background(), order.Items[0].ID, 0, &patch)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
