package worker

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type alertRecorder struct {
	alerts []*models.LowStockAlertEvent
}

func (r *alertRecorder) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (r *alertRecorder) PublishOrderConfirmed(context.Context, *models.OrderConfirmedEvent) error {
	return nil
}

func (r *alertRecorder) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (r *alertRecorder) PublishLowStockAlert(ctx context.Context, e *models.LowStockAlertEvent) error {
	r.alerts = append(r.alerts, e)
	return nil
}

func TestHandleOrderConfirmed(t *testing.T) {
	s, err := store.NewStore(store.Options{Driver: store.DriverSQLite, URL: ":memory:", LockTimeout: time.Second})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())

	ctx := context.Background()
	rec := &alertRecorder{}
	inventory := service.NewInventoryService(s)
	orders := service.NewOrderService(s, rec, service.OrderOptions{})

	product, err := inventory.CreateProduct(ctx, &service.CreateProductRequest{
		Name: "Socks",
		Variants: []service.CreateVariantRequest{
			{Price: decimal.RequireFromString("4.00"), InitialQuantity: 6},
			{Price: decimal.RequireFromString("4.00"), InitialQuantity: 40},
		},
	})
	require.NoError(t, err)
	low, plenty := product.Variants[0].ID, product.Variants[1].ID

	order, err := orders.CreateOrder(ctx, &service.CreateOrderRequest{
		PaymentMethod: "card",
		Items: []service.OrderItemRequest{
			{VariantID: low, Quantity: 3},
			{VariantID: plenty, Quantity: 3},
		},
	})
	require.NoError(t, err)
	order, err = orders.Confirm(ctx, order.ID)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	previous := util.GetLogger()
	util.SetLogger(zap.New(core))
	t.Cleanup(func() { util.SetLogger(previous) })

	w := NewLowStockWorker(nil, s, inventory, rec, 5)
	event := &models.OrderConfirmedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-42", EventType: models.EventTypeOrderConfirmed},
		OrderID:   order.ID,
		Items:     models.ItemData(order.Items),
	}

	require.NoError(t, w.HandleOrderConfirmed(ctx, event))
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, low, rec.alerts[0].VariantID)
	assert.Equal(t, 3, rec.alerts[0].Available)
	assert.Equal(t, 5, rec.alerts[0].Threshold)

	warned := logs.FilterMessage("Low stock").All()
	require.Len(t, warned, 1)
	assert.Equal(t, low, warned[0].ContextMap()["variant_id"])

	// redelivery is ignored
	require.NoError(t, w.HandleOrderConfirmed(ctx, event))
	assert.Len(t, rec.alerts, 1)
	assert.Equal(t, 1, logs.FilterMessage("Low stock").Len())
}
