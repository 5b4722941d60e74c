package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, client_id, created_by, status, payment_method, total_amount, idempotency_key, reserved_at, created_at, updated_at`

const itemColumns = `id, order_id, product_variant_id, unit_price, quantity, subtotal`

// CreateOrder persists an order and its items in one transaction. When client
// is non-nil it is upserted by email first and becomes the order's client.
// References to clients, users and variants are checked inside the same
// transaction, so a failure leaves nothing behind.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, client *models.Client) error {
	return s.withTx(ctx, "create order", func(tx *sqlx.Tx) error {
		if client != nil {
			if err := s.upsertClient(ctx, tx, client); err != nil {
				return err
			}
			order.ClientID = &client.ID
		} else if order.ClientID != nil {
			exists, err := rowExists(ctx, tx, "SELECT EXISTS(SELECT 1 FROM clients WHERE id = ?)", *order.ClientID)
			if err != nil {
				return err
			}
			if !exists {
				return &models.InvalidReferenceError{Field: "client_id", ID: *order.ClientID}
			}
		}

		if order.CreatedBy != nil {
			exists, err := rowExists(ctx, tx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", *order.CreatedBy)
			if err != nil {
				return err
			}
			if !exists {
				return &models.InvalidReferenceError{Field: "created_by", ID: *order.CreatedBy}
			}
		}

		if err := checkLiveVariants(ctx, tx, order.Items); err != nil {
			return err
		}

		ts := now()
		order.CreatedAt = ts
		order.UpdatedAt = ts
		err := tx.GetContext(ctx, &order.ID, tx.Rebind(`
			INSERT INTO orders (client_id, created_by, status, payment_method, total_amount, idempotency_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			order.ClientID, order.CreatedBy, order.Status, order.PaymentMethod,
			order.TotalAmount, order.IdempotencyKey, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, &item.ID, tx.Rebind(`
				INSERT INTO order_items (order_id, product_variant_id, unit_price, quantity, subtotal)
				VALUES (?, ?, ?, ?, ?)
				RETURNING id`),
				item.OrderID, item.VariantID, item.UnitPrice, item.Quantity, item.Subtotal)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}
		return nil
	})
}

func checkLiveVariants(ctx context.Context, tx *sqlx.Tx, items []models.OrderItem) error {
	wanted := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := wanted[item.VariantID]; !ok {
			wanted[item.VariantID] = struct{}{}
			ids = append(ids, item.VariantID)
		}
	}

	query, args, err := sqlx.In("SELECT id FROM product_variants WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return err
	}
	var found []int64
	if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to check variants: %w", err)
	}
	for _, id := range found {
		delete(wanted, id)
	}
	for _, id := range ids {
		if _, missing := wanted[id]; missing {
			return &models.InvalidReferenceError{Field: "product_variant_id", ID: id}
		}
	}
	return nil
}

// GetOrderByID retrieves an order by ID with its items attached
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return nil, err
	}

	order.Items, err = s.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil if none
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE idempotency_key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = ? ORDER BY id"), orderID)
	return items, err
}

// ListOrders retrieves orders newest first with client display fields and items
func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]models.OrderSummary, error) {
	orders := []models.OrderSummary{}
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(`
		SELECT
			o.id, o.client_id, o.created_by, o.status, o.payment_method, o.total_amount,
			o.idempotency_key, o.reserved_at, o.created_at, o.updated_at,
			c.first_name, c.last_name, c.email AS client_email
		FROM orders o
		LEFT JOIN clients c ON c.id = o.client_id
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT ? OFFSET ?`),
		limit, offset)
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	query, args, err := sqlx.In("SELECT "+itemColumns+" FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []models.OrderItem{}
		}
	}
	return orders, nil
}

// UpdateOrderStatus writes a new status unconditionally and returns the status it replaced
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (models.OrderStatus, error) {
	var previous models.OrderStatus
	err := s.withTx(ctx, "update order status", func(tx *sqlx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		err := tx.GetContext(ctx, &previous, tx.Rebind(
			"SELECT status FROM orders WHERE id = ?"+s.dialect.forUpdate), orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return &models.NotFoundError{Entity: "order", ID: orderID}
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"),
			status, now(), orderID)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		return nil
	})
	return previous, err
}

// DeleteOrder removes an order and its items
func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	return s.withTx(ctx, "delete order", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM order_items WHERE order_id = ?"), orderID); err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM orders WHERE id = ?"), orderID)
		if err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &models.NotFoundError{Entity: "order", ID: orderID}
		}
		return nil
	})
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return rowExists(ctx, s.db, "SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = ?)", eventID)
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING"),
		eventID, eventType, now())
	return err
}
