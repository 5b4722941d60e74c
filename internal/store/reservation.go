package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// ConfirmResult describes what a confirmation transaction did
type ConfirmResult struct {
	PreviousStatus models.OrderStatus
	// AlreadyReserved is set when the order's stock was banked by an earlier
	// confirmation; stock is left alone
	AlreadyReserved bool
	// StatusChanged is false only when the order was already confirmed
	StatusChanged bool
	Demand          []models.VariantDemand
}

// ReleaseResult describes what a release transaction did
type ReleaseResult struct {
	PreviousStatus models.OrderStatus
	// Released is false when the order held no reserved stock
	Released bool
	Demand   []models.VariantDemand
}

type lockedOrder struct {
	Status     models.OrderStatus `db:"status"`
	ReservedAt *time.Time         `db:"reserved_at"`
}

// ConfirmOrderTx moves a pending order to confirmed and decrements the stock of
// every variant it orders, all or nothing.
//
// Locks are taken on the order row first and then on each variant row in
// ascending id order, so two confirmations touching overlapping variants
// cannot deadlock. A lock wait that exceeds the configured timeout comes back
// as a TransientLockTimeoutError.
func (s *Store) ConfirmOrderTx(ctx context.Context, orderID int64) (*ConfirmResult, error) {
	result := &ConfirmResult{}
	err := s.withTx(ctx, "confirm order", func(tx *sqlx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result.PreviousStatus = order.Status

		if order.ReservedAt != nil {
			result.AlreadyReserved = true
			switch order.Status {
			case models.OrderStatusConfirmed:
				return nil
			case models.OrderStatusCancelled, models.OrderStatusReturned:
				return &models.InvalidTransitionError{OrderID: orderID, From: order.Status, To: models.OrderStatusConfirmed}
			}
			// Moved off confirmed by a plain status write; the stock is still banked.
			_, err := tx.ExecContext(ctx, tx.Rebind(
				"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"),
				models.OrderStatusConfirmed, now(), orderID)
			if err != nil {
				return fmt.Errorf("failed to confirm order: %w", err)
			}
			result.StatusChanged = true
			return nil
		}
		if order.Status != models.OrderStatusPending {
			return &models.InvalidTransitionError{OrderID: orderID, From: order.Status, To: models.OrderStatusConfirmed}
		}

		demand, err := orderDemand(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if len(demand) == 0 {
			return models.NewValidationError("items", fmt.Sprintf("order %d has no items", orderID))
		}

		for _, d := range demand {
			stock, err := s.lockVariant(ctx, tx, d.VariantID)
			if err != nil {
				return err
			}
			if stock < d.Quantity {
				return &models.InsufficientStockError{VariantID: d.VariantID, Available: stock, Requested: d.Quantity}
			}
		}

		for _, d := range demand {
			_, err := tx.ExecContext(ctx, tx.Rebind(
				"UPDATE product_variants SET initial_quantity = initial_quantity - ? WHERE id = ?"),
				d.Quantity, d.VariantID)
			if err != nil {
				return fmt.Errorf("failed to decrement variant %d: %w", d.VariantID, err)
			}
		}

		ts := now()
		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE orders SET status = ?, reserved_at = ?, updated_at = ? WHERE id = ?"),
			models.OrderStatusConfirmed, ts, ts, orderID)
		if err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}

		result.StatusChanged = true
		result.Demand = demand
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseOrderStockTx sets the order's status and, if its stock is reserved,
// gives the reserved quantities back to their variants.
func (s *Store) ReleaseOrderStockTx(ctx context.Context, orderID int64, status models.OrderStatus) (*ReleaseResult, error) {
	result := &ReleaseResult{}
	err := s.withTx(ctx, "release order stock", func(tx *sqlx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result.PreviousStatus = order.Status

		ts := now()
		if order.ReservedAt == nil {
			_, err = tx.ExecContext(ctx, tx.Rebind(
				"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?"),
				status, ts, orderID)
			return err
		}

		demand, err := orderDemand(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, d := range demand {
			if _, err := s.lockVariant(ctx, tx, d.VariantID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(
				"UPDATE product_variants SET initial_quantity = initial_quantity + ? WHERE id = ?"),
				d.Quantity, d.VariantID)
			if err != nil {
				return fmt.Errorf("failed to restock variant %d: %w", d.VariantID, err)
			}
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE orders SET status = ?, reserved_at = NULL, updated_at = ? WHERE id = ?"),
			status, ts, orderID)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		result.Released = true
		result.Demand = demand
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) lockOrder(ctx context.Context, tx *sqlx.Tx, orderID int64) (*lockedOrder, error) {
	var order lockedOrder
	err := tx.GetContext(ctx, &order, tx.Rebind(
		"SELECT status, reserved_at FROM orders WHERE id = ?"+s.dialect.forUpdate), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

func (s *Store) lockVariant(ctx context.Context, tx *sqlx.Tx, variantID int64) (int, error) {
	var stock int
	err := tx.GetContext(ctx, &stock, tx.Rebind(
		"SELECT initial_quantity FROM product_variants WHERE id = ?"+s.dialect.forUpdate), variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &models.InvalidReferenceError{Field: "product_variant_id", ID: variantID}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock variant %d: %w", variantID, err)
	}
	return stock, nil
}

// orderDemand sums an order's quantities per variant in ascending variant id order
func orderDemand(ctx context.Context, tx *sqlx.Tx, orderID int64) ([]models.VariantDemand, error) {
	var demand []models.VariantDemand
	err := tx.SelectContext(ctx, &demand, tx.Rebind(`
		SELECT product_variant_id, SUM(quantity) AS quantity
		FROM order_items
		WHERE order_id = ?
		GROUP BY product_variant_id
		ORDER BY product_variant_id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return demand, nil
}
