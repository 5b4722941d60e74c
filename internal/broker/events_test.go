package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	keys   []string
	events []interface{}
	err    error
}

func (p *recordingProducer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return p.err
}

func TestEventPublisherKeys(t *testing.T) {
	rec := &recordingProducer{}
	ep := NewEventPublisher(rec)
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderCreated(ctx, &models.OrderCreatedEvent{OrderID: 7}))
	require.NoError(t, ep.PublishOrderConfirmed(ctx, &models.OrderConfirmedEvent{OrderID: 7}))
	require.NoError(t, ep.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{OrderID: 8}))
	require.NoError(t, ep.PublishLowStockAlert(ctx, &models.LowStockAlertEvent{VariantID: 3}))

	assert.Equal(t, []string{"order-7", "order-7", "order-8", "variant-3"}, rec.keys)
}

func TestEventPublisherPropagatesError(t *testing.T) {
	ep := NewEventPublisher(&recordingProducer{err: errors.New("broker down")})
	err := ep.PublishOrderCreated(context.Background(), &models.OrderCreatedEvent{OrderID: 1})
	assert.EqualError(t, err, "broker down")
}

func TestHandleMessageRoutesOrderConfirmed(t *testing.T) {
	event := models.OrderConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderConfirmed,
			Timestamp: time.Now(),
		},
		OrderID:     12,
		TotalAmount: decimal.RequireFromString("31.50"),
		Items:       []models.OrderItemData{{VariantID: 4, Quantity: 3, UnitPrice: decimal.RequireFromString("10.50")}},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var got *models.OrderConfirmedEvent
	eh := NewEventHandler()
	eh.OnOrderConfirmed(func(ctx context.Context, e *models.OrderConfirmedEvent) error {
		got = e
		return nil
	})

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, int64(12), got.OrderID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(4), got.Items[0].VariantID)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	called := false
	eh := NewEventHandler()
	eh.OnOrderConfirmed(func(ctx context.Context, e *models.OrderConfirmedEvent) error {
		called = true
		return nil
	})

	payload := []byte(`{"event_id":"x","event_type":"ORDER_CREATED","order_id":1}`)
	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	assert.False(t, called)

	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestLogProducer(t *testing.T) {
	ep := NewEventPublisher(NewLogProducer())
	assert.NoError(t, ep.PublishOrderCreated(context.Background(), &models.OrderCreatedEvent{OrderID: 1}))
}
