package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	confirmed []*models.OrderConfirmedEvent
	changed   []*models.OrderStatusChangedEvent
	alerts    []*models.LowStockAlertEvent
	err       error
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *fakePublisher) PublishOrderConfirmed(ctx context.Context, e *models.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return p.err
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

func (p *fakePublisher) PublishLowStockAlert(ctx context.Context, e *models.LowStockAlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, e)
	return p.err
}

type fixture struct {
	store     *store.Store
	orders    *OrderService
	inventory *InventoryService
	events    *fakePublisher
}

func newFixture(t *testing.T, opts OrderOptions) *fixture {
	t.Helper()

	s, err := store.NewStore(store.Options{Driver: store.DriverSQLite, URL: ":memory:", LockTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())

	events := &fakePublisher{}
	return &fixture{
		store:     s,
		orders:    NewOrderService(s, events, opts),
		inventory: NewInventoryService(s),
		events:    events,
	}
}

// variants creates one product with a variant per stock level, all priced 10.00
func (f *fixture) variants(t *testing.T, stock ...int) []int64 {
	t.Helper()

	req := &CreateProductRequest{Name: "Canvas tote"}
	for _, qty := range stock {
		req.Variants = append(req.Variants, CreateVariantRequest{
			Price:           decimal.RequireFromString("10.00"),
			InitialQuantity: qty,
		})
	}
	product, err := f.inventory.CreateProduct(context.Background(), req)
	require.NoError(t, err)

	ids := make([]int64, len(product.Variants))
	for i, v := range product.Variants {
		ids[i] = v.ID
	}
	return ids
}

func (f *fixture) order(t *testing.T, items ...OrderItemRequest) *models.Order {
	t.Helper()

	order, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		PaymentMethod: "card",
		Items:         items,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) stock(t *testing.T, variantID int64) int {
	t.Helper()

	v, err := f.store.GetVariantByID(context.Background(), variantID)
	require.NoError(t, err)
	return v.InitialQuantity
}

func line(variantID int64, qty int) OrderItemRequest {
	return OrderItemRequest{VariantID: variantID, Quantity: qty}
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOrderTotal(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10, 10)

	order := f.order(t,
		OrderItemRequest{VariantID: ids[0], Quantity: 3, UnitPrice: price("19.99")},
		OrderItemRequest{VariantID: ids[1], Quantity: 2, UnitPrice: price("5")},
	)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "69.97", order.TotalAmount.StringFixed(2))

	stored, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range stored.Items {
		assert.True(t, item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Equal(item.Subtotal))
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sum.Equal(stored.TotalAmount))

	// creation does not move stock
	assert.Equal(t, 10, f.stock(t, ids[0]))
	require.Len(t, f.events.created, 1)
	assert.Equal(t, order.ID, f.events.created[0].OrderID)
}

func TestCreateOrderCopiesVariantPrice(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)

	order := f.order(t, line(ids[0], 2))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "10.00", order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "20.00", order.TotalAmount.StringFixed(2))

	_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		PaymentMethod: "card",
		Items:         []OrderItemRequest{line(9999, 1)},
	})
	assert.ErrorIs(t, err, models.ErrInvalidReference)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateOrderRequest
	}{
		{"no items", &CreateOrderRequest{PaymentMethod: "card"}},
		{"missing payment method", &CreateOrderRequest{Items: []OrderItemRequest{line(ids[0], 1)}}},
		{"zero quantity", &CreateOrderRequest{PaymentMethod: "card", Items: []OrderItemRequest{line(ids[0], 0)}}},
		{"negative price", &CreateOrderRequest{PaymentMethod: "card", Items: []OrderItemRequest{
			{VariantID: ids[0], Quantity: 1, UnitPrice: price("-1.00")},
		}}},
		{"sub-cent price", &CreateOrderRequest{PaymentMethod: "card", Items: []OrderItemRequest{
			{VariantID: ids[0], Quantity: 1, UnitPrice: price("1.005")},
		}}},
		{"inline client without email", &CreateOrderRequest{
			PaymentMethod: "card",
			Items:         []OrderItemRequest{line(ids[0], 1)},
			Client:        &ClientRequest{},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(ctx, tt.req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	orders, err := f.orders.ListOrders(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.events.created)
}

func TestCreateOrderInvalidReferences(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	missing := int64(404)

	_, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		ClientID:      &missing,
		PaymentMethod: "card",
		Items:         []OrderItemRequest{line(ids[0], 1)},
	})
	assert.ErrorIs(t, err, models.ErrInvalidReference)

	_, err = f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CreatedBy:     &missing,
		PaymentMethod: "card",
		Items:         []OrderItemRequest{line(ids[0], 1)},
	})
	assert.ErrorIs(t, err, models.ErrInvalidReference)
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	req := &CreateOrderRequest{
		PaymentMethod:  "card",
		Items:          []OrderItemRequest{line(ids[0], 1)},
		IdempotencyKey: "checkout-123",
		Client:         &ClientRequest{Email: "Lea@Example.com"},
	}
	first, err := f.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	orders, err := f.orders.ListOrders(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].ClientEmail)
	assert.Equal(t, "lea@example.com", *orders[0].ClientEmail)
	assert.Len(t, f.events.created, 1)
}

func TestConfirmAllOrNothing(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 4, 10)
	a, b := ids[0], ids[1]

	order := f.order(t, line(a, 5), line(b, 3))
	_, err := f.orders.SetStatus(context.Background(), order.ID, models.OrderStatusConfirmed)

	var stockErr *models.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, a, stockErr.VariantID)
	assert.Equal(t, 4, f.stock(t, a))
	assert.Equal(t, 10, f.stock(t, b))

	stored, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Empty(t, f.events.confirmed)
}

func TestConfirmDecrementsOnce(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 4))
	confirmed, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, 6, f.stock(t, ids[0]))

	again, err := f.orders.Confirm(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, again.Status)
	assert.Equal(t, 6, f.stock(t, ids[0]))

	require.Len(t, f.events.confirmed, 1)
	require.Len(t, f.events.changed, 1)
	assert.Equal(t, models.OrderStatusPending, f.events.changed[0].From)
	assert.Equal(t, models.OrderStatusConfirmed, f.events.changed[0].To)
}

func TestConfirmConcurrentOrders(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 5)

	orders := []*models.Order{f.order(t, line(ids[0], 4)), f.order(t, line(ids[0], 4))}

	errs := make([]error, len(orders))
	var g errgroup.Group
	for i, o := range orders {
		i, o := i, o
		g.Go(func() error {
			_, errs[i] = f.orders.SetStatus(context.Background(), o.ID, models.OrderStatusConfirmed)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, f.stock(t, ids[0]))
}

func TestLedgerConsistency(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 20)
	ctx := context.Background()

	a := f.order(t, line(ids[0], 3))
	b := f.order(t, line(ids[0], 5))
	cancelled := f.order(t, line(ids[0], 100))

	_, err := f.orders.SetStatus(ctx, cancelled.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	for _, o := range []*models.Order{a, b} {
		_, err := f.orders.SetStatus(ctx, o.ID, models.OrderStatusConfirmed)
		require.NoError(t, err)
	}

	// confirmed orders are banked into stock, cancelled ones never count
	assert.Equal(t, 12, f.stock(t, ids[0]))
	available, err := f.inventory.AvailableQuantity(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 12, available)

	// a pending order counts against availability without touching stock
	f.order(t, line(ids[0], 2))
	available, err = f.inventory.AvailableQuantity(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 10, available)
	assert.Equal(t, 12, f.stock(t, ids[0]))
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 3))

	_, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatus("lost"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.orders.SetStatus(ctx, 9999, models.OrderStatusShipped)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)

	shipped, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)

	// cancellation keeps the reservation unless restock on cancel is enabled
	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 7, f.stock(t, ids[0]))

	_, err = f.orders.Confirm(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 7, f.stock(t, ids[0]))

	last := f.events.changed[len(f.events.changed)-1]
	assert.Equal(t, models.OrderStatusShipped, last.From)
	assert.Equal(t, models.OrderStatusCancelled, last.To)
}

func TestConfirmCancelledOrderIsRejected(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 3))
	_, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = f.orders.Confirm(ctx, order.ID)
	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.OrderStatusCancelled, transitionErr.From)
	assert.Equal(t, 10, f.stock(t, ids[0]))
}

func TestReconfirmAfterStatusRollback(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 3))
	_, err := f.orders.Confirm(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusPending)
	require.NoError(t, err)

	reconfirmed, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, reconfirmed.Status)
	assert.NotNil(t, reconfirmed.ReservedAt)
	assert.Equal(t, 7, f.stock(t, ids[0]))
	assert.Len(t, f.events.confirmed, 1)

	last := f.events.changed[len(f.events.changed)-1]
	assert.Equal(t, models.OrderStatusPending, last.From)
	assert.Equal(t, models.OrderStatusConfirmed, last.To)

	available, err := f.inventory.AvailableQuantity(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 7, available)
}

func TestConfirmAfterCancellingConfirmedOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 3))
	_, err := f.orders.Confirm(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusConfirmed)
	var transitionErr *models.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.OrderStatusCancelled, transitionErr.From)

	cancelled, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 7, f.stock(t, ids[0]))
}

func TestRestockOnCancel(t *testing.T) {
	f := newFixture(t, OrderOptions{RestockOnCancel: true})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 4))
	_, err := f.orders.Confirm(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, f.stock(t, ids[0]))

	cancelled, err := f.orders.SetStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ReservedAt)
	assert.Equal(t, 10, f.stock(t, ids[0]))

	available, err := f.inventory.AvailableQuantity(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 10, available)

	// returning afterwards gives nothing back twice
	_, err = f.orders.SetStatus(ctx, order.ID, models.OrderStatusReturned)
	require.NoError(t, err)
	assert.Equal(t, 10, f.stock(t, ids[0]))
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	f.events.err = errors.New("broker down")
	ids := f.variants(t, 10)

	order := f.order(t, line(ids[0], 1))
	_, err := f.orders.Confirm(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, 9, f.stock(t, ids[0]))
}

func TestListOrdersPaging(t *testing.T) {
	f := newFixture(t, OrderOptions{DefaultPageSize: 2, MaxPageSize: 3})
	ids := f.variants(t, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.order(t, line(ids[0], 1))
	}

	orders, err := f.orders.ListOrders(ctx, 0, -5)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = f.orders.ListOrders(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 3)

	orders, err = f.orders.ListOrders(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	ids := f.variants(t, 10)
	ctx := context.Background()

	order := f.order(t, line(ids[0], 1))
	require.NoError(t, f.orders.DeleteOrder(ctx, order.ID))

	_, err := f.orders.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.orders.DeleteOrder(ctx, order.ID), models.ErrNotFound)
}
