package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (nopPublisher) PublishOrderConfirmed(context.Context, *models.OrderConfirmedEvent) error {
	return nil
}

func (nopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (nopPublisher) PublishLowStockAlert(context.Context, *models.LowStockAlertEvent) error {
	return nil
}

type testEnv struct {
	server    *Server
	orders    *service.OrderService
	inventory *service.InventoryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewStore(store.Options{Driver: store.DriverSQLite, URL: ":memory:", LockTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())

	orders := service.NewOrderService(s, nopPublisher{}, service.OrderOptions{})
	inventory := service.NewInventoryService(s)
	return &testEnv{
		server:    NewServer(orders, inventory),
		orders:    orders,
		inventory: inventory,
	}
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult, v interface{}) {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestStockTools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product, err := env.inventory.CreateProduct(ctx, &service.CreateProductRequest{
		Name: "Scarf",
		Variants: []service.CreateVariantRequest{
			{Price: decimal.RequireFromString("12.00"), InitialQuantity: 9},
		},
	})
	require.NoError(t, err)
	variantID := product.Variants[0].ID

	_, err = env.orders.CreateOrder(ctx, &service.CreateOrderRequest{
		Client:        &service.ClientRequest{Email: "a@example.com"},
		PaymentMethod: "cash",
		Items:         []service.OrderItemRequest{{VariantID: variantID, Quantity: 4}},
	})
	require.NoError(t, err)

	result, err := env.server.handleGetVariantStock(ctx, call("get_variant_stock", map[string]interface{}{
		"variant_id": float64(variantID),
	}))
	require.NoError(t, err)
	var variant struct {
		VariantID int64 `json:"variant_id"`
		Available int   `json:"available"`
	}
	resultJSON(t, result, &variant)
	assert.Equal(t, variantID, variant.VariantID)
	assert.Equal(t, 5, variant.Available)

	result, err = env.server.handleGetProductStock(ctx, call("get_product_stock", map[string]interface{}{
		"product_id": float64(product.ID),
	}))
	require.NoError(t, err)
	var stock models.ProductStock
	resultJSON(t, result, &stock)
	assert.Equal(t, 9, stock.InitialQuantity)
	assert.Equal(t, 4, stock.PendingQuantity)
	assert.Equal(t, 5, stock.CurrentQuantity)

	_, err = env.server.handleGetVariantStock(ctx, call("get_variant_stock", map[string]interface{}{
		"variant_id": float64(9999),
	}))
	requireCode(t, err, ErrorCodeNotFound)

	_, err = env.server.handleGetVariantStock(ctx, call("get_variant_stock", map[string]interface{}{
		"variant_id": "abc",
	}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = env.server.handleGetProductStock(ctx, call("get_product_stock", nil))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestOrderTools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product, err := env.inventory.CreateProduct(ctx, &service.CreateProductRequest{
		Name:     "Belt",
		Variants: []service.CreateVariantRequest{{Price: decimal.RequireFromString("20.00"), InitialQuantity: 10}},
	})
	require.NoError(t, err)

	var last *models.Order
	for i := 0; i < 3; i++ {
		last, err = env.orders.CreateOrder(ctx, &service.CreateOrderRequest{
			Client:        &service.ClientRequest{Email: "b@example.com"},
			PaymentMethod: "card",
			Items:         []service.OrderItemRequest{{VariantID: product.Variants[0].ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}

	result, err := env.server.handleGetOrder(ctx, call("get_order", map[string]interface{}{
		"order_id": float64(last.ID),
	}))
	require.NoError(t, err)
	var order models.Order
	resultJSON(t, result, &order)
	assert.Equal(t, last.ID, order.ID)
	assert.Len(t, order.Items, 1)

	result, err = env.server.handleListOrders(ctx, call("list_orders", map[string]interface{}{
		"limit": float64(2),
	}))
	require.NoError(t, err)
	var page struct {
		Orders []models.OrderSummary `json:"orders"`
		Count  int                   `json:"count"`
	}
	resultJSON(t, result, &page)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, last.ID, page.Orders[0].ID)

	result, err = env.server.handleListOrders(ctx, call("list_orders", nil))
	require.NoError(t, err)
	resultJSON(t, result, &page)
	assert.Equal(t, 3, page.Count)

	_, err = env.server.handleListOrders(ctx, call("list_orders", map[string]interface{}{"limit": 1.5}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = env.server.handleGetOrder(ctx, call("get_order", map[string]interface{}{"order_id": float64(424242)}))
	requireCode(t, err, ErrorCodeNotFound)
}
