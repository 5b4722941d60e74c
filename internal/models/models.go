package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry owning one or more variants
type Product struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Variant is a purchasable size/color/SKU combination of a product.
// InitialQuantity is the remaining physical stock: confirmed orders are
// banked into it by the reservation transaction.
type Variant struct {
	ID              int64           `db:"id" json:"id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	SizeID          *int64          `db:"size_id" json:"size_id,omitempty"`
	ColorID         *int64          `db:"color_id" json:"color_id,omitempty"`
	SKU             *string         `db:"sku" json:"sku,omitempty"`
	Price           decimal.Decimal `db:"price" json:"price"`
	InitialQuantity int             `db:"initial_quantity" json:"initial_quantity"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	DeletedAt       *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// VariantStock is one row of a product stock listing
type VariantStock struct {
	VariantID       int64   `db:"variant_id" json:"variant_id"`
	SKU             *string `db:"sku" json:"sku,omitempty"`
	Size            *string `db:"size" json:"size,omitempty"`
	Color           *string `db:"color" json:"color,omitempty"`
	InitialQuantity int     `db:"initial_quantity" json:"initial_quantity"`
	PendingQuantity int     `db:"pending_quantity" json:"pending_quantity"`
	CurrentQuantity int     `db:"current_quantity" json:"current_quantity"`
}

// VariantListing is one row of the catalog search with its ledger quantities
type VariantListing struct {
	ProductID       int64           `db:"product_id" json:"product_id"`
	ProductName     string          `db:"product_name" json:"product_name"`
	VariantID       int64           `db:"variant_id" json:"variant_id"`
	SKU             *string         `db:"sku" json:"sku,omitempty"`
	Price           decimal.Decimal `db:"price" json:"price"`
	Size            *string         `db:"size" json:"size,omitempty"`
	Color           *string         `db:"color" json:"color,omitempty"`
	InitialQuantity int             `db:"initial_quantity" json:"initial_quantity"`
	PendingQuantity int             `db:"pending_quantity" json:"pending_quantity"`
	CurrentQuantity int             `db:"current_quantity" json:"current_quantity"`
}

// ProductStock aggregates the stock of a product's live variants
type ProductStock struct {
	ProductID       int64          `json:"product_id"`
	Name            string         `json:"name"`
	InitialQuantity int            `json:"initial_quantity"`
	PendingQuantity int            `json:"pending_quantity"`
	CurrentQuantity int            `json:"current_quantity"`
	Variants        []VariantStock `json:"variants"`
}

// Attribute is a size or color a variant may reference
type Attribute struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Client is a customer identified by email
type Client struct {
	ID         int64     `db:"id" json:"id"`
	FirstName  *string   `db:"first_name" json:"first_name,omitempty"`
	LastName   *string   `db:"last_name" json:"last_name,omitempty"`
	Email      string    `db:"email" json:"email"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Address    *string   `db:"address" json:"address,omitempty"`
	City       *string   `db:"city" json:"city,omitempty"`
	PostalCode *string   `db:"postal_code" json:"postal_code,omitempty"`
	Country    *string   `db:"country" json:"country,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// User is a back-office account referenced by orders.created_by
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	RoleID    int64     `db:"role_id" json:"role_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a placed order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	ClientID       *int64          `db:"client_id" json:"client_id"`
	CreatedBy      *int64          `db:"created_by" json:"created_by"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ReservedAt     *time.Time      `db:"reserved_at" json:"reserved_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderSummary is the list projection of an order with client display fields
type OrderSummary struct {
	Order
	FirstName   *string `db:"first_name" json:"first_name"`
	LastName    *string `db:"last_name" json:"last_name"`
	ClientEmail *string `db:"client_email" json:"client_email"`
}

// OrderItem is a line of an order; price and quantity are fixed at creation
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	VariantID int64           `db:"product_variant_id" json:"product_variant_id"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// NewOrderItem builds an order line with its subtotal computed
func NewOrderItem(variantID int64, unitPrice decimal.Decimal, quantity int) OrderItem {
	return OrderItem{
		VariantID: variantID,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// OrderTotal sums the subtotals of items
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// VariantDemand is the total quantity an order requests of one variant
type VariantDemand struct {
	VariantID int64 `db:"product_variant_id"`
	Quantity  int   `db:"quantity"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// Roles
const (
	RoleAdmin        = "admin"
	RoleAdvancedUser = "advanced_user"
	RoleCustomer     = "customer"
)
