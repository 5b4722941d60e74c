package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryService answers stock questions and maintains the catalog
type InventoryService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(store *store.Store) *InventoryService {
	return &InventoryService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AvailableQuantity returns the sellable stock of a variant. The value is
// read without locks and may be stale by the time it is used; only
// confirmation guarantees stock.
func (s *InventoryService) AvailableQuantity(ctx context.Context, variantID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.AvailableQuantity",
		attribute.Int64("variant_id", variantID))
	defer span.End()

	available, err := s.store.AvailableQuantity(ctx, variantID)
	util.RecordError(span, err)
	return available, err
}

// GetProductStock lists the live variants of a product with their stock and the product totals
func (s *InventoryService) GetProductStock(ctx context.Context, productID int64) (*models.ProductStock, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.GetProductStock",
		attribute.Int64("product_id", productID))
	defer span.End()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if product.DeletedAt != nil {
		return nil, &models.NotFoundError{Entity: "product", ID: productID}
	}

	variants, err := s.store.GetVariantStock(ctx, productID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to get variant stock: %w", err)
	}

	stock := &models.ProductStock{
		ProductID: product.ID,
		Name:      product.Name,
		Variants:  variants,
	}
	if stock.Variants == nil {
		stock.Variants = []models.VariantStock{}
	}
	for _, v := range variants {
		stock.InitialQuantity += v.InitialQuantity
		stock.PendingQuantity += v.PendingQuantity
		stock.CurrentQuantity += v.CurrentQuantity
	}
	return stock, nil
}

// CreateProductRequest represents a request to create a product with its variants
type CreateProductRequest struct {
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	Variants    []CreateVariantRequest `json:"variants"`
}

// CreateVariantRequest represents one variant of a new product
type CreateVariantRequest struct {
	SizeID          *int64          `json:"size_id,omitempty"`
	ColorID         *int64          `json:"color_id,omitempty"`
	SKU             *string         `json:"sku,omitempty"`
	Price           decimal.Decimal `json:"price"`
	InitialQuantity int             `json:"initial_quantity"`
}

// ProductResponse is a created product with its variants
type ProductResponse struct {
	models.Product
	Variants []models.Variant `json:"variants"`
}

// CreateProduct validates and stores a product and its variants together
func (s *InventoryService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*ProductResponse, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateProduct")
	defer span.End()

	if err := requireText("name", req.Name); err != nil {
		return nil, err
	}

	variants := make([]models.Variant, len(req.Variants))
	for i, v := range req.Variants {
		if err := validatePrice(fmt.Sprintf("variants[%d].price", i), v.Price); err != nil {
			return nil, err
		}
		if v.InitialQuantity < 0 {
			return nil, models.NewValidationError(fmt.Sprintf("variants[%d].initial_quantity", i), "must not be negative")
		}
		variants[i] = models.Variant{
			SizeID:          v.SizeID,
			ColorID:         v.ColorID,
			SKU:             v.SKU,
			Price:           v.Price,
			InitialQuantity: v.InitialQuantity,
		}
	}

	product := &models.Product{Name: strings.TrimSpace(req.Name), Description: req.Description}
	if err := s.store.CreateProduct(ctx, product, variants); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.Int("variants", len(variants)))
	return &ProductResponse{Product: *product, Variants: variants}, nil
}

// Restock adds units to a variant and returns its new stock
func (s *InventoryService) Restock(ctx context.Context, variantID int64, quantity int) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Restock",
		attribute.Int64("variant_id", variantID))
	defer span.End()

	if quantity <= 0 {
		return 0, models.NewValidationError("quantity", "must be greater than zero")
	}

	stock, err := s.store.Restock(ctx, variantID, quantity)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	util.StockRestockedUnits.Add(float64(quantity))
	s.logger.Info("Variant restocked",
		zap.Int64("variant_id", variantID),
		zap.Int("quantity", quantity),
		zap.Int("stock", stock))
	return stock, nil
}

// DeleteVariant soft-deletes a variant
func (s *InventoryService) DeleteVariant(ctx context.Context, variantID int64) error {
	if err := s.store.SoftDeleteVariant(ctx, variantID); err != nil {
		return err
	}
	s.logger.Info("Variant deleted", zap.Int64("variant_id", variantID))
	return nil
}

// LowStockVariants returns the variants among ids at or below threshold
func (s *InventoryService) LowStockVariants(ctx context.Context, variantIDs []int64, threshold int) ([]models.VariantStock, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.LowStockVariants")
	defer span.End()

	rows, err := s.store.ListLowStockVariants(ctx, variantIDs, threshold)
	util.RecordError(span, err)
	return rows, err
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// SearchCatalog lists live variants matching filter, with the same ledger
// quantities AvailableQuantity reports
func (s *InventoryService) SearchCatalog(ctx context.Context, filter store.VariantFilter) ([]models.VariantListing, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SearchCatalog",
		attribute.String("search", filter.Search),
		attribute.Bool("in_stock", filter.InStock))
	defer span.End()

	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Limit <= 0 {
		filter.Limit = defaultSearchLimit
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, err := s.store.SearchVariants(ctx, filter)
	util.RecordError(span, err)
	return rows, err
}

// CreateSize adds a size
func (s *InventoryService) CreateSize(ctx context.Context, name string) (*models.Attribute, error) {
	return s.createAttribute(ctx, "sizes", name)
}

// CreateColor adds a color
func (s *InventoryService) CreateColor(ctx context.Context, name string) (*models.Attribute, error) {
	return s.createAttribute(ctx, "colors", name)
}

func (s *InventoryService) createAttribute(ctx context.Context, table, name string) (*models.Attribute, error) {
	if err := requireText("name", name); err != nil {
		return nil, err
	}
	attr := &models.Attribute{Name: strings.TrimSpace(name)}
	if err := s.store.CreateAttribute(ctx, table, attr); err != nil {
		return nil, err
	}
	return attr, nil
}

// ListSizes lists all sizes
func (s *InventoryService) ListSizes(ctx context.Context) ([]models.Attribute, error) {
	return s.store.ListAttributes(ctx, "sizes")
}

// ListColors lists all colors
func (s *InventoryService) ListColors(ctx context.Context) ([]models.Attribute, error) {
	return s.store.ListAttributes(ctx, "colors")
}
