package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"storefront/internal/models"

	"github.com/mark3labs/mcp-go/mcp"
)

// Error codes for MCP tool failures
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Requested entity does not exist
)

func (s *Server) handleGetVariantStock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	variantID, err := requireID(args, "variant_id")
	if err != nil {
		return nil, err
	}

	available, err := s.inventory.AvailableQuantity(ctx, variantID)
	if err != nil {
		return nil, toolError("failed to get variant stock", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"variant_id": variantID,
		"available":  available,
	})), nil
}

func (s *Server) handleGetProductStock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	productID, err := requireID(args, "product_id")
	if err != nil {
		return nil, err
	}

	stock, err := s.inventory.GetProductStock(ctx, productID)
	if err != nil {
		return nil, toolError("failed to get product stock", err)
	}

	return mcp.NewToolResultText(formatJSON(stock)), nil
}

func (s *Server) handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, toolError("failed to get order", err)
	}

	return mcp.NewToolResultText(formatJSON(order)), nil
}

func (s *Server) handleListOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Arguments are optional here
	args, _ := request.Params.Arguments.(map[string]interface{})

	limit, err := optionalInt(args, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := optionalInt(args, "offset")
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.ListOrders(ctx, limit, offset)
	if err != nil {
		return nil, toolError("failed to list orders", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})), nil
}

// toolError maps a service error onto an MCP error code
func toolError(message string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrValidation):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireID extracts a positive integer id. JSON numbers arrive as float64.
func requireID(args map[string]interface{}, key string) (int64, error) {
	raw, ok := args[key].(float64)
	if !ok || raw < 1 || raw != math.Trunc(raw) {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be a positive integer", map[string]interface{}{
			"param": key,
		})
	}
	return int64(raw), nil
}

func optionalInt(args map[string]interface{}, key string) (int, error) {
	v, present := args[key]
	if !present || v == nil {
		return 0, nil
	}
	raw, ok := v.(float64)
	if !ok || raw != math.Trunc(raw) {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{
			"param": key,
		})
	}
	return int(raw), nil
}

// formatJSON formats data as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
