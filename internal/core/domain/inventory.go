package domain

import (
	"sort"
	"time"
)

// Category is the fulfillment category of a product. Only immediate products
// carry finite stock.
type Category string

const (
	CategoryImmediate Category = "immediate"
	CategoryPreorder  Category = "preorder"
	CategoryAccessory Category = "accessory"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryImmediate, CategoryPreorder, CategoryAccessory:
		return true
	}
	return false
}

// TracksStock reports whether lines of this category decrement the stock store.
func (c Category) TracksStock() bool {
	return c == CategoryImmediate
}

// StockKey identifies one stock unit.
type StockKey struct {
	ProductID string
	Size      string
}

func (k StockKey) String() string {
	return k.ProductID + "/" + k.Size
}

type StockUnit struct {
	ProductID string
	Size      string
	Stock     int
	Version   int
	UpdatedAt time.Time
}

func (u StockUnit) Key() StockKey {
	return StockKey{ProductID: u.ProductID, Size: u.Size}
}

// StockReservation is the aggregated demand of an order on one stock unit.
// Line is the index of the first order line that asked for the key.
type StockReservation struct {
	Key      StockKey
	Quantity int
	Line     int
}

// Reservations aggregates the immediate lines of items per stock key, sorted by
// key so that concurrent placements always lock rows in the same order.
func Reservations(items []OrderItem) []StockReservation {
	byKey := make(map[StockKey]*StockReservation)
	for i, item := range items {
		if !item.Category.TracksStock() {
			continue
		}
		key := StockKey{ProductID: item.ProductID, Size: item.Size}
		if r, ok := byKey[key]; ok {
			r.Quantity += item.Quantity
			continue
		}
		byKey[key] = &StockReservation{Key: key, Quantity: item.Quantity, Line: i}
	}

	out := make([]StockReservation, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ProductID != out[j].Key.ProductID {
			return out[i].Key.ProductID < out[j].Key.ProductID
		}
		return out[i].Key.Size < out[j].Key.Size
	})
	return out
}
