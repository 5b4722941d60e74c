package mcp

import (
	"context"

	"storefront/internal/service"

	"github.com/mark3labs/mcp-go/server"
)

const (
	// ServerName is the MCP server name
	ServerName = "storefront"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes read-only stock and order tools over MCP
type Server struct {
	mcp       *server.MCPServer
	orders    *service.OrderService
	inventory *service.InventoryService
}

// NewServer creates a new MCP server instance
func NewServer(orders *service.OrderService, inventory *service.InventoryService) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		orders:    orders,
		inventory: inventory,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(getVariantStockTool(), s.handleGetVariantStock)
	s.mcp.AddTool(getProductStockTool(), s.handleGetProductStock)
	s.mcp.AddTool(getOrderTool(), s.handleGetOrder)
	s.mcp.AddTool(listOrdersTool(), s.handleListOrders)
}
