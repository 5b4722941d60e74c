package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventPublisher is the outbound stream of order events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishLowStockAlert(ctx context.Context, event *models.LowStockAlertEvent) error
}

// OrderOptions tunes OrderService behaviour
type OrderOptions struct {
	DefaultPageSize int
	MaxPageSize     int
	// RestockOnCancel gives reserved stock back when an order is cancelled or returned
	RestockOnCancel bool
}

// OrderService handles order business logic
type OrderService struct {
	store          *store.Store
	eventPublisher EventPublisher
	opts           OrderOptions
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store *store.Store, eventPublisher EventPublisher, opts OrderOptions) *OrderService {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 200
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	return &OrderService{
		store:          store,
		eventPublisher: eventPublisher,
		opts:           opts,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	ClientID       *int64             `json:"client_id,omitempty"`
	Client         *ClientRequest     `json:"client,omitempty"`
	CreatedBy      *int64             `json:"created_by,omitempty"`
	PaymentMethod  string             `json:"payment_method"`
	Items          []OrderItemRequest `json:"items"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order. A missing unit price is
// taken from the variant's current price.
type OrderItemRequest struct {
	VariantID int64            `json:"product_variant_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// ClientRequest carries inline client details, matched to existing clients by email
type ClientRequest struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone,omitempty"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Country    *string `json:"country,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if err := requireText("payment_method", r.PaymentMethod); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return models.NewValidationError("items", "at least one item is required")
	}
	for i, item := range r.Items {
		if item.VariantID <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].product_variant_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return models.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if item.UnitPrice != nil {
			if err := validatePrice(fmt.Sprintf("items[%d].unit_price", i), *item.UnitPrice); err != nil {
				return err
			}
		}
	}
	if r.Client != nil {
		if r.ClientID != nil {
			return models.NewValidationError("client", "client and client_id are mutually exclusive")
		}
		if err := requireText("client.email", r.Client.Email); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrder validates the request and stores a pending order with its items.
// Stock is not touched until the order is confirmed.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existingOrder, err := s.store.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existingOrder != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", key),
				zap.Int64("order_id", existingOrder.ID))
			return existingOrder, nil
		}
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := &models.Order{
		ClientID:      req.ClientID,
		CreatedBy:     req.CreatedBy,
		Status:        models.OrderStatusPending,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		TotalAmount:   models.OrderTotal(items),
		Items:         items,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	var client *models.Client
	if req.Client != nil {
		client = &models.Client{
			FirstName:  req.Client.FirstName,
			LastName:   req.Client.LastName,
			Email:      strings.ToLower(strings.TrimSpace(req.Client.Email)),
			Phone:      req.Client.Phone,
			Address:    req.Client.Address,
			City:       req.Client.City,
			PostalCode: req.Client.PostalCode,
			Country:    req.Client.Country,
		}
	}

	if err := s.store.CreateOrder(ctx, order, client); err != nil {
		if key != "" && errors.Is(err, models.ErrConflict) {
			// a concurrent request with the same key won the insert
			if winner, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, key); lookupErr == nil && winner != nil {
				return winner, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total_amount", order.TotalAmount.StringFixed(priceScale)))

	s.publish(ctx, models.EventTypeOrderCreated, func() error {
		return s.eventPublisher.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
			OrderID:     order.ID,
			ClientID:    order.ClientID,
			TotalAmount: order.TotalAmount,
			Items:       models.ItemData(order.Items),
		})
	})

	return order, nil
}

// priceItems builds order lines, copying the current variant price where none was given
func (s *OrderService) priceItems(ctx context.Context, reqs []OrderItemRequest) ([]models.OrderItem, error) {
	var unpriced []int64
	for _, r := range reqs {
		if r.UnitPrice == nil {
			unpriced = append(unpriced, r.VariantID)
		}
	}

	prices := make(map[int64]decimal.Decimal, len(unpriced))
	if len(unpriced) > 0 {
		variants, err := s.store.GetLiveVariantsByIDs(ctx, unpriced)
		if err != nil {
			return nil, fmt.Errorf("failed to load variants: %w", err)
		}
		for _, v := range variants {
			prices[v.ID] = v.Price
		}
	}

	items := make([]models.OrderItem, 0, len(reqs))
	for _, r := range reqs {
		price := r.UnitPrice
		if price == nil {
			p, ok := prices[r.VariantID]
			if !ok {
				return nil, &models.InvalidReferenceError{Field: "product_variant_id", ID: r.VariantID}
			}
			price = &p
		}
		items = append(items, models.NewOrderItem(r.VariantID, *price, r.Quantity))
	}
	return items, nil
}

// GetOrder retrieves an order by ID with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	util.RecordError(span, err)
	return order, err
}

// ListOrders returns a page of orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, limit, offset int) ([]models.OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	limit, offset = s.page(limit, offset)
	span.SetAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset))

	orders, err := s.store.ListOrders(ctx, limit, offset)
	util.RecordError(span, err)
	return orders, err
}

func (s *OrderService) page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = s.opts.DefaultPageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// DeleteOrder removes an order and its items. Reserved stock is not given back.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		util.RecordError(span, err)
		return err
	}

	util.OrdersDeletedTotal.Inc()
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID))
	return nil
}

// Confirm reserves stock for every item of a pending order and marks it
// confirmed, or changes nothing. An order whose stock is already reserved is
// marked confirmed without touching stock again, unless it was cancelled or
// returned.
func (s *OrderService) Confirm(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm", attribute.Int64("order_id", orderID))
	defer span.End()

	start := time.Now()
	res, err := s.store.ConfirmOrderTx(ctx, orderID)
	util.ReservationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := failureReason(err)
		util.ReservationsFailedTotal.WithLabelValues(reason).Inc()
		util.RecordError(span, err)
		s.logger.Warn("Order confirmation failed",
			zap.Int64("order_id", orderID),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, err
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if res.AlreadyReserved {
		if res.StatusChanged {
			util.OrderStatusChangesTotal.WithLabelValues(string(models.OrderStatusConfirmed)).Inc()
			s.logger.Info("Order reconfirmed, stock already reserved",
				zap.Int64("order_id", orderID),
				zap.String("from", string(res.PreviousStatus)))
			s.publishStatusChanged(ctx, orderID, res.PreviousStatus, models.OrderStatusConfirmed)
		} else {
			s.logger.Info("Order already confirmed, stock untouched", zap.Int64("order_id", orderID))
		}
		return order, nil
	}

	util.OrdersConfirmedTotal.Inc()
	util.OrderStatusChangesTotal.WithLabelValues(string(models.OrderStatusConfirmed)).Inc()
	s.logger.Info("Order confirmed",
		zap.Int64("order_id", orderID),
		zap.Int("variants", len(res.Demand)))

	s.publish(ctx, models.EventTypeOrderConfirmed, func() error {
		return s.eventPublisher.PublishOrderConfirmed(ctx, &models.OrderConfirmedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderConfirmed),
			OrderID:     order.ID,
			TotalAmount: order.TotalAmount,
			Items:       models.ItemData(order.Items),
		})
	})
	s.publishStatusChanged(ctx, orderID, res.PreviousStatus, models.OrderStatusConfirmed)

	return order, nil
}

// SetStatus moves an order to status. Confirmation runs the stock
// reservation; every other status is a plain write.
func (s *OrderService) SetStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if status == models.OrderStatusConfirmed {
		return s.Confirm(ctx, orderID)
	}

	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(status)))
	defer span.End()

	var previous models.OrderStatus
	if s.opts.RestockOnCancel && (status == models.OrderStatusCancelled || status == models.OrderStatusReturned) {
		res, err := s.store.ReleaseOrderStockTx(ctx, orderID, status)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		previous = res.PreviousStatus
		if res.Released {
			util.StockReleasedTotal.Inc()
			s.logger.Info("Reserved stock released",
				zap.Int64("order_id", orderID),
				zap.String("status", string(status)))
		}
	} else {
		prev, err := s.store.UpdateOrderStatus(ctx, orderID, status)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		previous = prev
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))
	s.publishStatusChanged(ctx, orderID, previous, status)

	return s.store.GetOrderByID(ctx, orderID)
}

// GetClient retrieves a client by ID
func (s *OrderService) GetClient(ctx context.Context, clientID int64) (*models.Client, error) {
	return s.store.GetClientByID(ctx, clientID)
}

func (s *OrderService) publishStatusChanged(ctx context.Context, orderID int64, from, to models.OrderStatus) {
	s.publish(ctx, models.EventTypeOrderStatusChanged, func() error {
		return s.eventPublisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:   orderID,
			From:      from,
			To:        to,
		})
	})
}

// publish runs fn and logs its failure; the change it reports is already committed
func (s *OrderService) publish(ctx context.Context, eventType string, fn func() error) {
	if err := fn(); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(eventType).Inc()
		s.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// failureReason names the error kind for metric labels
func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "db_error"
	}
}
