package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderConfirmed     = "ORDER_CONFIRMED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeLowStockAlert      = "LOW_STOCK_ALERT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	ClientID    *int64          `json:"client_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderConfirmedEvent published when an order's stock has been reserved
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every committed status write
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// LowStockAlertEvent published when a variant drops to or below the alert threshold
type LowStockAlertEvent struct {
	BaseEvent
	VariantID int64 `json:"variant_id"`
	Available int   `json:"available"`
	Threshold int   `json:"threshold"`
	OrderID   int64 `json:"order_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64           `json:"product_variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ItemData converts order items into their event representation
func ItemData(items []OrderItem) []OrderItemData {
	data := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return data
}
