package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func idSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
	}
}

// getVariantStockTool returns the tool definition for get_variant_stock
func getVariantStockTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_variant_stock",
		Description: "Get the quantity of a product variant still available for new orders",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"variant_id": idSchema("Product variant id"),
			},
			Required: []string{"variant_id"},
		},
	}
}

// getProductStockTool returns the tool definition for get_product_stock
func getProductStockTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_product_stock",
		Description: "Get initial, pending and current stock for every live variant of a product",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"product_id": idSchema("Product id"),
			},
			Required: []string{"product_id"},
		},
	}
}

// getOrderTool returns the tool definition for get_order
func getOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_order",
		Description: "Get an order with its items",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idSchema("Order id"),
			},
			Required: []string{"order_id"},
		},
	}
}

// listOrdersTool returns the tool definition for list_orders
func listOrdersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_orders",
		Description: "List orders, newest first, with client names and items",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of orders to return",
					"default":     50,
					"minimum":     1,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of orders to skip",
					"default":     0,
					"minimum":     0,
				},
			},
		},
	}
}
