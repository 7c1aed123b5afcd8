package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/kit-ledger/internal/core/domain"
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func decrement(ctx context.Context, ex execer, key domain.StockKey, amount int) (bool, error) {
	result, err := ex.ExecContext(ctx, `
		UPDATE product_sizes
		SET stock = stock - ?, version = version + 1
		WHERE product_id = ? AND size = ? AND stock >= ?`,
		amount, key.ProductID, key.Size, amount,
	)
	if err != nil {
		return false, errors.Wrapf(err, "decrement %s", key)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return rows == 1, nil
}

func (m *MySQLAdapter) PlaceOrder(ctx context.Context, order domain.Order, reservations []domain.StockReservation) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range reservations {
			ok, err := decrement(ctx, tx, r.Key, r.Quantity)
			if err != nil {
				return err
			}
			if ok {
				continue
			}

			var available int
			err = tx.QueryRowContext(ctx, `
				SELECT stock FROM product_sizes WHERE product_id = ? AND size = ?`,
				r.Key.ProductID, r.Key.Size,
			).Scan(&available)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(err, "query stock %s", r.Key)
			}
			return &domain.InsufficientStockError{
				Line:      r.Line,
				ProductID: r.Key.ProductID,
				Size:      r.Key.Size,
				Requested: r.Quantity,
				Available: available,
			}
		}

		c := order.Customer
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_name, customer_email, customer_phone, customer_address, notes,
				needs_shipping, shipping_cost, total, status, inventory_processed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, c.Name, c.Email, nullString(c.Phone), nullString(c.Address), nullString(c.Notes),
			c.NeedsShipping, order.ShippingCost, order.Total, order.Status, order.InventoryProcessed,
			order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for i, item := range order.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, line_no, product_id, product_code, product_name, quantity,
					size, custom_name, custom_number, patch_1, patch_2, unit_price, subtotal, category, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, order.ID, i, item.ProductID, nullString(item.ProductCode), nullString(item.ProductName),
				item.Quantity, nullString(item.Size), nullString(item.CustomName), nullString(item.CustomNumber),
				nullString(item.Patches[0]), nullString(item.Patches[1]), item.UnitPrice, item.Subtotal,
				item.Category, item.CreatedAt,
			)
			if err != nil {
				return errors.Wrapf(err, "insert order item %d", i)
			}
		}
		return nil
	})
}

func (m *MySQLAdapter) TryDecrement(ctx context.Context, key domain.StockKey, amount int) (bool, error) {
	return decrement(ctx, m.db, key, amount)
}

func (m *MySQLAdapter) GetStock(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error) {
	var unit domain.StockUnit
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, size, stock, version, updated_at
		FROM product_sizes WHERE product_id = ? AND size = ?`, key.ProductID, key.Size,
	).Scan(&unit.ProductID, &unit.Size, &unit.Stock, &unit.Version, &unit.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query stock")
	}
	return &unit, nil
}

func (m *MySQLAdapter) ListStock(ctx context.Context, productID string) ([]domain.StockUnit, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, size, stock, version, updated_at
		FROM product_sizes WHERE product_id = ? ORDER BY size`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "query stock")
	}
	defer rows.Close()

	var units []domain.StockUnit
	for rows.Next() {
		var unit domain.StockUnit
		if err := rows.Scan(&unit.ProductID, &unit.Size, &unit.Stock, &unit.Version, &unit.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan stock")
		}
		units = append(units, unit)
	}
	return units, errors.Wrap(rows.Err(), "iterate stock")
}

// SetStock creates or overwrites a stock unit. Used for seeding and tests;
// the ledger itself only ever moves stock with conditional updates.
func (m *MySQLAdapter) SetStock(ctx context.Context, key domain.StockKey, stock int) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO product_sizes (product_id, size, stock, version) VALUES (?, ?, ?, 0)
		ON DUPLICATE KEY UPDATE stock = VALUES(stock), version = version + 1`,
		key.ProductID, key.Size, stock,
	)
	return errors.Wrapf(err, "set stock %s", key)
}

var transitionColumns = map[domain.OrderStatus]string{
	domain.OrderStatusTaken:     "taken_at",
	domain.OrderStatusDelivered: "delivered_at",
}

func (m *MySQLAdapter) TransitionOrder(ctx context.Context, orderID string, t domain.Transition, at time.Time) (bool, error) {
	column, ok := transitionColumns[t.To]
	if !ok {
		return false, errors.Errorf("no transition into %s", t.To)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, `+column+` = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.To, at, at, orderID, t.From,
	)
	if err != nil {
		return false, errors.Wrapf(err, "%s order", t.Action)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return rows == 1, nil
}

func (m *MySQLAdapter) RevertOrder(ctx context.Context, orderID string, at time.Time) ([]domain.StockMovement, bool, error) {
	var (
		movements []domain.StockMovement
		applied   bool
	)

	err := m.withTx(ctx, func(tx *sql.Tx) error {
		// The guarded flip takes the row lock; a concurrent revert blocks here
		// and then matches zero rows.
		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, inventory_processed = FALSE, declined_at = ?, updated_at = ?
			WHERE id = ? AND inventory_processed = TRUE AND status IN (?, ?)`,
			domain.OrderStatusDeclined, at, at, orderID, domain.OrderStatusPending, domain.OrderStatusTaken,
		)
		if err != nil {
			return errors.Wrap(err, "decline order")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected")
		}
		if rows == 0 {
			return nil
		}

		movements, err = immediateMovements(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, mv := range movements {
			result, err := tx.ExecContext(ctx, `
				UPDATE product_sizes SET stock = stock + ?, version = version + 1
				WHERE product_id = ? AND size = ?`,
				mv.Delta, mv.ProductID, mv.Size,
			)
			if err != nil {
				return errors.Wrapf(err, "increment %s/%s", mv.ProductID, mv.Size)
			}
			if rows, err := result.RowsAffected(); err != nil {
				return errors.Wrap(err, "rows affected")
			} else if rows == 0 {
				return errors.Wrapf(domain.ErrStockUnitNotFound, "%s/%s", mv.ProductID, mv.Size)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return movements, applied, nil
}

func immediateMovements(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.StockMovement, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, size, SUM(quantity)
		FROM order_items
		WHERE order_id = ? AND category = ?
		GROUP BY product_id, size
		ORDER BY product_id, size`,
		orderID, domain.CategoryImmediate,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ProductID, &mv.Size, &mv.Delta); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		movements = append(movements, mv)
	}
	return movements, errors.Wrap(rows.Err(), "iterate order items")
}

const orderColumns = `id, customer_name, customer_email, customer_phone, customer_address, notes,
	needs_shipping, shipping_cost, total, status, inventory_processed, created_at, updated_at,
	taken_at, delivered_at, declined_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                                domain.Order
		phone, address, notes            sql.NullString
		takenAt, deliveredAt, declinedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Customer.Name, &o.Customer.Email, &phone, &address, &notes,
		&o.Customer.NeedsShipping, &o.ShippingCost, &o.Total, &o.Status, &o.InventoryProcessed,
		&o.CreatedAt, &o.UpdatedAt, &takenAt, &deliveredAt, &declinedAt)
	if err != nil {
		return o, err
	}
	o.Customer.Phone = phone.String
	o.Customer.Address = address.String
	o.Customer.Notes = notes.String
	o.TakenAt = timePtr(takenAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.DeclinedAt = timePtr(declinedAt)
	return o, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}

	rows, err := m.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY line_no`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order items")
	}
	return &order, nil
}

// ListOrders returns order headers, newest first. Items are loaded by GetOrder.
func (m *MySQLAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, order)
	}
	return orders, errors.Wrap(rows.Err(), "iterate orders")
}

const itemColumns = `id, order_id, product_id, product_code, product_name, quantity, size,
	custom_name, custom_number, patch_1, patch_2, unit_price, subtotal, category, created_at`

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item                                       domain.OrderItem
		code, name, size, customName, customNumber sql.NullString
		patch1, patch2                             sql.NullString
	)
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &code, &name, &item.Quantity, &size,
		&customName, &customNumber, &patch1, &patch2, &item.UnitPrice, &item.Subtotal, &item.Category,
		&item.CreatedAt)
	if err != nil {
		return item, err
	}
	item.ProductCode = code.String
	item.ProductName = name.String
	item.Size = size.String
	item.CustomName = customName.String
	item.CustomNumber = customNumber.String
	item.Patches = domain.PatchSlots{patch1.String, patch2.String}
	return item, nil
}

func (m *MySQLAdapter) UpdateOrderItem(ctx context.Context, itemID string, mutate func(*domain.OrderItem) error) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM order_items WHERE id = ? FOR UPDATE`, itemID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderItemNotFound
		}
		if err != nil {
			return errors.Wrap(err, "lock order item")
		}

		if err := mutate(&item); err != nil {
			return err
		}

		// Only the patch slots are mutable after placement.
		_, err = tx.ExecContext(ctx, `UPDATE order_items SET patch_1 = ?, patch_2 = ? WHERE id = ?`,
			nullString(item.Patches[0]), nullString(item.Patches[1]), itemID)
		return errors.Wrap(err, "update order item")
	})
}

func (m *MySQLAdapter) RealizedRevenue(ctx context.Context) (decimal.Decimal, error) {
	var revenue decimal.Decimal
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM orders WHERE status = ?`, domain.OrderStatusDelivered,
	).Scan(&revenue)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum revenue")
	}
	return revenue, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
