package worker

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LowStockWorker watches confirmed orders and raises alerts for variants
// whose available stock fell to the threshold or below
type LowStockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	inventory    *service.InventoryService
	events       service.EventPublisher
	threshold    int
	logger       *zap.Logger
}

// NewLowStockWorker creates a new low stock worker. consumer may be nil when
// events are fed to HandleOrderConfirmed directly.
func NewLowStockWorker(
	consumer *broker.Consumer,
	store *store.Store,
	inventory *service.InventoryService,
	events service.EventPublisher,
	threshold int,
) *LowStockWorker {
	w := &LowStockWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		inventory:    inventory,
		events:       events,
		threshold:    threshold,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderConfirmed(w.HandleOrderConfirmed)
	return w
}

// Start starts the worker
func (w *LowStockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting low stock worker", zap.Int("threshold", w.threshold))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LowStockWorker) Stop() error {
	w.logger.Info("Stopping low stock worker")
	return w.consumer.Close()
}

// HandleOrderConfirmed checks the stock of every variant in a confirmed order.
// Each event is handled at most once.
func (w *LowStockWorker) HandleOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "LowStockWorker.HandleOrderConfirmed")
	defer span.End()

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	seen := make(map[int64]bool, len(event.Items))
	ids := make([]int64, 0, len(event.Items))
	for _, item := range event.Items {
		if !seen[item.VariantID] {
			seen[item.VariantID] = true
			ids = append(ids, item.VariantID)
		}
	}

	low, err := w.inventory.LowStockVariants(ctx, ids, w.threshold)
	if err != nil {
		return fmt.Errorf("failed to check stock levels: %w", err)
	}

	for _, v := range low {
		util.LowStockAlertsTotal.Inc()
		w.logger.Warn("Low stock",
			zap.Int64("variant_id", v.VariantID),
			zap.Int("available", v.CurrentQuantity),
			zap.Int("threshold", w.threshold),
			zap.Int64("order_id", event.OrderID))

		alert := &models.LowStockAlertEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeLowStockAlert,
				Timestamp: time.Now().UTC(),
			},
			VariantID: v.VariantID,
			Available: v.CurrentQuantity,
			Threshold: w.threshold,
			OrderID:   event.OrderID,
		}
		if err := w.events.PublishLowStockAlert(ctx, alert); err != nil {
			util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeLowStockAlert).Inc()
			w.logger.Error("Failed to publish LowStockAlert event", zap.Error(err))
		}
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
