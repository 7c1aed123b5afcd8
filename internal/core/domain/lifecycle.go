package domain

import "time"

const (
	ActionTake    = "take"
	ActionDeliver = "deliver"
	ActionRevert  = "revert"
)

// Transition is a guarded status change: it applies only to an order
// currently in From.
type Transition struct {
	Action string
	From   OrderStatus
	To     OrderStatus
}

var (
	TransitionTake    = Transition{Action: ActionTake, From: OrderStatusPending, To: OrderStatusTaken}
	TransitionDeliver = Transition{Action: ActionDeliver, From: OrderStatusTaken, To: OrderStatusDelivered}
)

// EventType names a ledger event published after a commit.
type EventType string

const (
	EventOrderPlaced    EventType = "order.placed"
	EventOrderTaken     EventType = "order.taken"
	EventOrderDelivered EventType = "order.delivered"
	EventOrderDeclined  EventType = "order.declined"
	EventStockAdjusted  EventType = "stock.adjusted"
)

type LedgerEvent struct {
	Type       EventType       `json:"type"`
	OrderID    string          `json:"orderId,omitempty"`
	Total      string          `json:"total,omitempty"`
	Stock      []StockMovement `json:"stock,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// StockMovement is a signed change applied to one stock unit.
type StockMovement struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Delta     int    `json:"delta"`
}

// AggregateKey is the partition key for the event.
func (e LedgerEvent) AggregateKey() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	if len(e.Stock) > 0 {
		return e.Stock[0].ProductID + "/" + e.Stock[0].Size
	}
	return string(e.Type)
}

// OrderView is the admin read model: an order with its items and the catalog
// entries of the patches they reference.
type OrderView struct {
	Order
	Items []OrderItemView
}

type OrderItemView struct {
	OrderItem
	PatchDetails []Patch
}

// OrderFilter narrows an order listing. A zero Status lists every order.
type OrderFilter struct {
	Status OrderStatus
	Limit  int
	Offset int
}
