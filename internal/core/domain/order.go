package domain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds a line quantity and the units one order reserves from a
// single stock unit. It matches the INT stock and quantity columns.
const MaxQuantity = math.MaxInt32

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusTaken     OrderStatus = "taken"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusDeclined  OrderStatus = "declined"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusTaken, OrderStatusDelivered, OrderStatusDeclined:
		return true
	}
	return false
}

// Revertible reports whether an order in this status may still return its stock.
func (s OrderStatus) Revertible() bool {
	return s == OrderStatusPending || s == OrderStatusTaken
}

type Customer struct {
	Name          string
	Email         string
	Phone         string
	Address       string
	Notes         string
	NeedsShipping bool
}

type Order struct {
	ID                 string
	Customer           Customer
	ShippingCost       decimal.Decimal
	Total              decimal.Decimal
	Status             OrderStatus
	InventoryProcessed bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	TakenAt            *time.Time
	DeliveredAt        *time.Time
	DeclinedAt         *time.Time
	Items              []OrderItem
}

type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	ProductCode  string
	ProductName  string
	Quantity     int
	Size         string
	CustomName   string
	CustomNumber string
	Patches      PatchSlots
	UnitPrice    decimal.Decimal
	Subtotal     decimal.Decimal
	Category     Category
	CreatedAt    time.Time
}

// LineTotal is unitPrice × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderTotal computes Σ(unitPrice × quantity) + shippingCost.
func OrderTotal(items []OrderItem, shippingCost decimal.Decimal) decimal.Decimal {
	total := shippingCost
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// PlaceOrderRequest is a proposed order as submitted by the storefront checkout.
type PlaceOrderRequest struct {
	RequestID    string
	Customer     Customer
	Items        []LineRequest
	ShippingCost decimal.Decimal
}

type LineRequest struct {
	ProductID    string
	ProductCode  string
	ProductName  string
	Quantity     int
	Size         string
	CustomName   string
	CustomNumber string
	Patches      []string
	UnitPrice    decimal.Decimal
	Category     Category
}

// Validate checks the placement preconditions. Patch names are checked for
// shape only; catalog membership is checked by the service.
func (r PlaceOrderRequest) Validate() error {
	if strings.TrimSpace(r.Customer.Name) == "" {
		return NewValidationError("customer.name", "name is required")
	}
	if strings.TrimSpace(r.Customer.Email) == "" {
		return NewValidationError("customer.email", "email is required")
	}
	if r.Customer.NeedsShipping && strings.TrimSpace(r.Customer.Address) == "" {
		return NewValidationError("customer.address", "address is required when shipping is requested")
	}
	if r.ShippingCost.IsNegative() {
		return NewValidationError("shippingCost", "shipping cost cannot be negative")
	}
	if !r.Customer.NeedsShipping && !r.ShippingCost.IsZero() {
		return NewValidationError("shippingCost", "shipping cost given but shipping not requested")
	}
	if len(r.Items) == 0 {
		return NewValidationError("items", "cart is empty")
	}

	reserved := make(map[StockKey]int)
	for i, line := range r.Items {
		if err := line.validate(i); err != nil {
			return err
		}
		if !line.Category.TracksStock() {
			continue
		}
		key := StockKey{ProductID: line.ProductID, Size: strings.TrimSpace(line.Size)}
		reserved[key] += line.Quantity
		if reserved[key] > MaxQuantity {
			return NewValidationError("items["+strconv.Itoa(i)+"].quantity",
				"order reserves more than "+strconv.Itoa(MaxQuantity)+" units of "+key.String())
		}
	}
	return nil
}

func (l LineRequest) validate(index int) error {
	field := func(name string) string {
		return "items[" + strconv.Itoa(index) + "]." + name
	}

	if strings.TrimSpace(l.ProductID) == "" {
		return NewValidationError(field("productId"), "product id is required")
	}
	if !l.Category.Valid() {
		return NewValidationError(field("category"), "unknown category "+string(l.Category))
	}
	if l.Quantity < 1 {
		return NewValidationError(field("quantity"), "quantity must be at least 1")
	}
	if l.Quantity > MaxQuantity {
		return NewValidationError(field("quantity"), "quantity must be at most "+strconv.Itoa(MaxQuantity))
	}
	if l.UnitPrice.IsNegative() {
		return NewValidationError(field("unitPrice"), "unit price cannot be negative")
	}
	if l.Category.TracksStock() && strings.TrimSpace(l.Size) == "" {
		return NewValidationError(field("size"), "size is required for immediate items")
	}
	if len(l.Patches) > 0 && l.Category != CategoryPreorder {
		return NewValidationError(field("patches"), "patches are only allowed on preorder items")
	}
	if _, err := NewPatchSlots(l.Patches); err != nil {
		return NewValidationError(field("patches"), err.Error())
	}
	return nil
}

// NewOrderItem snapshots a validated line into an order item.
func (l LineRequest) NewOrderItem(id, orderID string, now time.Time) OrderItem {
	slots, _ := NewPatchSlots(l.Patches)
	item := OrderItem{
		ID:           id,
		OrderID:      orderID,
		ProductID:    l.ProductID,
		ProductCode:  l.ProductCode,
		ProductName:  l.ProductName,
		Quantity:     l.Quantity,
		Size:         strings.TrimSpace(l.Size),
		CustomName:   l.CustomName,
		CustomNumber: l.CustomNumber,
		Patches:      slots,
		UnitPrice:    l.UnitPrice,
		Category:     l.Category,
		CreatedAt:    now,
	}
	item.Subtotal = item.LineTotal()
	return item
}

// PatchNames collects every patch name referenced by the request.
func (r PlaceOrderRequest) PatchNames() []string {
	var names []string
	for _, line := range r.Items {
		names = append(names, line.Patches...)
	}
	return names
}
