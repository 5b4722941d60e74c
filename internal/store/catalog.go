package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const variantColumns = `id, product_id, size_id, color_id, sku, price, initial_quantity, created_at, deleted_at`

// pendingDemandSQL sums, per variant, the quantities of non-cancelled orders whose
// stock has not been reserved yet. Reserved orders are already subtracted from
// initial_quantity by the reservation transaction, so counting them here would
// count them twice.
const pendingDemandSQL = `
	SELECT oi.product_variant_id, SUM(oi.quantity) AS qty
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id
	WHERE o.status <> ? AND o.reserved_at IS NULL
	GROUP BY oi.product_variant_id`

// CreateProduct inserts a product and its variants in one transaction
func (s *Store) CreateProduct(ctx context.Context, product *models.Product, variants []models.Variant) error {
	return s.withTx(ctx, "create product", func(tx *sqlx.Tx) error {
		product.CreatedAt = now()
		err := tx.GetContext(ctx, &product.ID, tx.Rebind(`
			INSERT INTO products (name, description, created_at)
			VALUES (?, ?, ?)
			RETURNING id`),
			product.Name, product.Description, product.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}

		for i := range variants {
			v := &variants[i]
			v.ProductID = product.ID
			v.CreatedAt = product.CreatedAt
			if err := s.insertVariant(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertVariant(ctx context.Context, tx *sqlx.Tx, v *models.Variant) error {
	if err := s.checkAttribute(ctx, tx, "sizes", "size_id", v.SizeID); err != nil {
		return err
	}
	if err := s.checkAttribute(ctx, tx, "colors", "color_id", v.ColorID); err != nil {
		return err
	}

	err := tx.GetContext(ctx, &v.ID, tx.Rebind(`
		INSERT INTO product_variants (product_id, size_id, color_id, sku, price, initial_quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		v.ProductID, v.SizeID, v.ColorID, v.SKU, v.Price, v.InitialQuantity, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

func (s *Store) checkAttribute(ctx context.Context, tx *sqlx.Tx, table, field string, id *int64) error {
	if id == nil {
		return nil
	}
	exists, err := rowExists(ctx, tx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = ?)", *id)
	if err != nil {
		return err
	}
	if !exists {
		return &models.InvalidReferenceError{Field: field, ID: *id}
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, s.db.Rebind(
		"SELECT id, name, description, created_at, deleted_at FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "product", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetVariantByID retrieves a variant by ID, including soft-deleted ones
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	var v models.Variant
	err := s.db.GetContext(ctx, &v, s.db.Rebind(
		"SELECT "+variantColumns+" FROM product_variants WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "variant", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetLiveVariantsByIDs retrieves the variants among ids that are not soft-deleted
func (s *Store) GetLiveVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error) {
	if len(ids) == 0 {
		return []models.Variant{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+variantColumns+" FROM product_variants WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}

	var variants []models.Variant
	err = s.db.SelectContext(ctx, &variants, s.db.Rebind(query), args...)
	return variants, err
}

// AvailableQuantity derives a variant's sellable stock from the ledger formula
func (s *Store) AvailableQuantity(ctx context.Context, variantID int64) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available, s.db.Rebind(`
		SELECT pv.initial_quantity - COALESCE((
			SELECT SUM(oi.quantity)
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE oi.product_variant_id = pv.id
			  AND o.status <> ?
			  AND o.reserved_at IS NULL
		), 0)
		FROM product_variants pv
		WHERE pv.id = ?`),
		models.OrderStatusCancelled, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &models.NotFoundError{Entity: "variant", ID: variantID}
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

// GetVariantStock lists the live variants of a product with their ledger quantities
func (s *Store) GetVariantStock(ctx context.Context, productID int64) ([]models.VariantStock, error) {
	var rows []models.VariantStock
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT
			pv.id AS variant_id,
			pv.sku,
			sz.name AS size,
			c.name AS color,
			pv.initial_quantity,
			COALESCE(d.qty, 0) AS pending_quantity,
			pv.initial_quantity - COALESCE(d.qty, 0) AS current_quantity
		FROM product_variants pv
		LEFT JOIN sizes sz ON sz.id = pv.size_id
		LEFT JOIN colors c ON c.id = pv.color_id
		LEFT JOIN (`+pendingDemandSQL+`) d ON d.product_variant_id = pv.id
		WHERE pv.product_id = ? AND pv.deleted_at IS NULL
		ORDER BY pv.id`),
		models.OrderStatusCancelled, productID)
	return rows, err
}

// VariantFilter narrows a catalog search. Empty fields match everything.
type VariantFilter struct {
	// Search matches the product name or description, case-insensitively
	Search  string
	Size    string
	Color   string
	InStock bool
	Limit   int
	Offset  int
}

// SearchVariants lists live variants of live products with their ledger quantities
func (s *Store) SearchVariants(ctx context.Context, f VariantFilter) ([]models.VariantListing, error) {
	where := []string{"p.deleted_at IS NULL", "pv.deleted_at IS NULL"}
	args := []interface{}{models.OrderStatusCancelled}

	if f.Search != "" {
		where = append(where, fmt.Sprintf("(p.name %[1]s ? OR p.description %[1]s ?)", s.dialect.like))
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if f.Size != "" {
		where = append(where, "sz.name = ?")
		args = append(args, f.Size)
	}
	if f.Color != "" {
		where = append(where, "c.name = ?")
		args = append(args, f.Color)
	}
	if f.InStock {
		where = append(where, "pv.initial_quantity - COALESCE(d.qty, 0) > 0")
	}
	args = append(args, f.Limit, f.Offset)

	rows := []models.VariantListing{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT
			p.id AS product_id,
			p.name AS product_name,
			pv.id AS variant_id,
			pv.sku,
			pv.price,
			sz.name AS size,
			c.name AS color,
			pv.initial_quantity,
			COALESCE(d.qty, 0) AS pending_quantity,
			pv.initial_quantity - COALESCE(d.qty, 0) AS current_quantity
		FROM product_variants pv
		JOIN products p ON p.id = pv.product_id
		LEFT JOIN sizes sz ON sz.id = pv.size_id
		LEFT JOIN colors c ON c.id = pv.color_id
		LEFT JOIN (`+pendingDemandSQL+`) d ON d.product_variant_id = pv.id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY p.id, pv.id
		LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search variants: %w", err)
	}
	return rows, nil
}

// ListLowStockVariants returns live variants whose ledger quantity is at or below threshold
func (s *Store) ListLowStockVariants(ctx context.Context, variantIDs []int64, threshold int) ([]models.VariantStock, error) {
	if len(variantIDs) == 0 {
		return []models.VariantStock{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT
			pv.id AS variant_id,
			pv.sku,
			pv.initial_quantity,
			COALESCE(d.qty, 0) AS pending_quantity,
			pv.initial_quantity - COALESCE(d.qty, 0) AS current_quantity
		FROM product_variants pv
		LEFT JOIN (`+pendingDemandSQL+`) d ON d.product_variant_id = pv.id
		WHERE pv.id IN (?)
		  AND pv.deleted_at IS NULL
		  AND pv.initial_quantity - COALESCE(d.qty, 0) <= ?
		ORDER BY pv.id`,
		models.OrderStatusCancelled, variantIDs, threshold)
	if err != nil {
		return nil, err
	}

	var rows []models.VariantStock
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...)
	return rows, err
}

// Restock adds quantity to a live variant under its row lock and returns the new stock
func (s *Store) Restock(ctx context.Context, variantID int64, quantity int) (int, error) {
	var stock int
	err := s.withTx(ctx, "restock", func(tx *sqlx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		err := tx.GetContext(ctx, &stock, tx.Rebind(
			"SELECT initial_quantity FROM product_variants WHERE id = ? AND deleted_at IS NULL"+s.dialect.forUpdate),
			variantID)
		if errors.Is(err, sql.ErrNoRows) {
			return &models.NotFoundError{Entity: "variant", ID: variantID}
		}
		if err != nil {
			return fmt.Errorf("failed to lock variant: %w", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE product_variants SET initial_quantity = initial_quantity + ? WHERE id = ?"),
			quantity, variantID)
		if err != nil {
			return fmt.Errorf("failed to restock variant: %w", err)
		}
		stock += quantity
		return nil
	})
	return stock, err
}

// SoftDeleteVariant hides a variant from listings and new orders
func (s *Store) SoftDeleteVariant(ctx context.Context, variantID int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE product_variants SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL"),
		now(), variantID)
	if err != nil {
		return s.classify("delete variant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &models.NotFoundError{Entity: "variant", ID: variantID}
	}
	return nil
}

// CreateAttribute inserts a size or color
func (s *Store) CreateAttribute(ctx context.Context, table string, attr *models.Attribute) error {
	if table != "sizes" && table != "colors" {
		return fmt.Errorf("unknown attribute table: %s", table)
	}
	err := s.db.GetContext(ctx, &attr.ID, s.db.Rebind(
		"INSERT INTO "+table+" (name) VALUES (?) RETURNING id"), attr.Name)
	return s.classify("create attribute", err)
}

// ListAttributes lists all sizes or colors
func (s *Store) ListAttributes(ctx context.Context, table string) ([]models.Attribute, error) {
	if table != "sizes" && table != "colors" {
		return nil, fmt.Errorf("unknown attribute table: %s", table)
	}
	attrs := []models.Attribute{}
	err := s.db.SelectContext(ctx, &attrs, "SELECT id, name FROM "+table+" ORDER BY name")
	return attrs, err
}

// rowExists runs an EXISTS query on q and reports its result
func rowExists(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, sqlx.Rebind(bindTypeOf(q), query), args...)
	return exists, err
}

func bindTypeOf(q sqlx.QueryerContext) int {
	if b, ok := q.(interface{ DriverName() string }); ok {
		return sqlx.BindType(b.DriverName())
	}
	return sqlx.QUESTION
}
