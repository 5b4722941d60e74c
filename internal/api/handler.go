package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orderService     *service.OrderService
	inventoryService *service.InventoryService
	verifier         *auth.Verifier

	limiter           RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration

	readiness map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, inventoryService *service.InventoryService, verifier *auth.Verifier) *Handler {
	return &Handler{
		orderService:     orderService,
		inventoryService: inventoryService,
		verifier:         verifier,
		readiness:        make(map[string]ReadinessCheck),
		logger:           util.GetLogger(),
	}
}

// WithRateLimiter limits order creation to requests per window per client IP
func (h *Handler) WithRateLimiter(limiter RateLimiter, requests int, window time.Duration) *Handler {
	h.limiter = limiter
	h.rateLimitRequests = requests
	h.rateLimitWindow = window
	return h
}

// WithReadinessCheck registers a dependency probed by /ready
func (h *Handler) WithReadinessCheck(name string, check ReadinessCheck) *Handler {
	h.readiness[name] = check
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	staff := h.requireRoles(models.RoleAdmin, models.RoleAdvancedUser)
	admin := h.requireRoles(models.RoleAdmin)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.rateLimit(), h.createOrder)
		v1.GET("/orders", staff, h.listOrders)
		v1.GET("/orders/:id", staff, h.getOrder)
		v1.PUT("/orders/:id", staff, h.updateOrderStatus)
		v1.DELETE("/orders/:id", admin, h.deleteOrder)

		v1.GET("/clients/:id", staff, h.getClient)

		v1.GET("/products", h.searchProducts)
		v1.POST("/products", admin, h.createProduct)
		v1.GET("/products/:id/stock", h.getProductStock)

		v1.GET("/variants/:id/stock", h.getVariantStock)
		v1.POST("/variants/:id/restock", admin, h.restockVariant)
		v1.DELETE("/variants/:id", admin, h.deleteVariant)

		v1.GET("/sizes", h.listSizes)
		v1.POST("/sizes", admin, h.createSize)
		v1.GET("/colors", h.listColors)
		v1.POST("/colors", admin, h.createColor)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.readiness))
	ready := true
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// orderResource is an order with hypermedia links
type orderResource struct {
	*models.Order
	Links map[string]link `json:"_links"`
}

type link struct {
	Href   string      `json:"href"`
	Method string      `json:"method,omitempty"`
	Body   interface{} `json:"body,omitempty"`
}

func newOrderResource(order *models.Order) orderResource {
	self := fmt.Sprintf("/api/v1/orders/%d", order.ID)
	links := map[string]link{
		"self":       {Href: self},
		"delete":     {Href: self, Method: http.MethodDelete},
		"collection": {Href: "/api/v1/orders"},
	}
	if order.Status == models.OrderStatusPending {
		links["confirm"] = link{
			Href:   self,
			Method: http.MethodPut,
			Body:   gin.H{"status": models.OrderStatusConfirmed},
		}
	}
	return orderResource{Order: order, Links: links}
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newOrderResource(order))
}

// listOrders handles paged order listing
func (h *Handler) listOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		writeError(c, err)
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"limit":  limit,
		"offset": offset,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResource(order))
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// updateOrderStatus moves an order to a new status; confirmed reserves stock
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}

	order, err := h.orderService.SetStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResource(order))
}

func (h *Handler) deleteOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(c.Request.Context(), orderID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) getClient(c *gin.Context) {
	clientID, ok := pathID(c, "client")
	if !ok {
		return
	}

	client, err := h.orderService.GetClient(c.Request.Context(), clientID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, client)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}

	product, err := h.inventoryService.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

// searchProducts lists variants by product text, size, color and stock
func (h *Handler) searchProducts(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		writeError(c, err)
		return
	}

	filter := store.VariantFilter{
		Search: c.Query("search"),
		Size:   c.Query("size"),
		Color:  c.Query("color"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.Query("in_stock"); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, models.NewValidationError("in_stock", "must be true or false"))
			return
		}
		filter.InStock = inStock
	}

	variants, err := h.inventoryService.SearchCatalog(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  variants,
		"count": len(variants),
	})
}

func (h *Handler) getProductStock(c *gin.Context) {
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}

	stock, err := h.inventoryService.GetProductStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stock)
}

// getVariantStock returns the ledger's available quantity for one variant
func (h *Handler) getVariantStock(c *gin.Context) {
	variantID, ok := pathID(c, "variant")
	if !ok {
		return
	}

	available, err := h.inventoryService.AvailableQuantity(c.Request.Context(), variantID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id": variantID,
		"available":  available,
	})
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) restockVariant(c *gin.Context) {
	variantID, ok := pathID(c, "variant")
	if !ok {
		return
	}

	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}

	stock, err := h.inventoryService.Restock(c.Request.Context(), variantID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"variant_id":       variantID,
		"initial_quantity": stock,
	})
}

func (h *Handler) deleteVariant(c *gin.Context) {
	variantID, ok := pathID(c, "variant")
	if !ok {
		return
	}

	if err := h.inventoryService.DeleteVariant(c.Request.Context(), variantID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type attributeRequest struct {
	Name string `json:"name"`
}

func (h *Handler) listSizes(c *gin.Context) {
	h.listAttributes(c, h.inventoryService.ListSizes)
}

func (h *Handler) listColors(c *gin.Context) {
	h.listAttributes(c, h.inventoryService.ListColors)
}

func (h *Handler) createSize(c *gin.Context) {
	h.createAttribute(c, h.inventoryService.CreateSize)
}

func (h *Handler) createColor(c *gin.Context) {
	h.createAttribute(c, h.inventoryService.CreateColor)
}

func (h *Handler) listAttributes(c *gin.Context, list func(context.Context) ([]models.Attribute, error)) {
	attrs, err := list(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attrs)
}

func (h *Handler) createAttribute(c *gin.Context, create func(context.Context, string) (*models.Attribute, error)) {
	var req attributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}

	attr, err := create(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attr)
}

// pathID parses the :id parameter, writing a 400 when it is not a positive integer
func pathID(c *gin.Context, entity string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid %s id", entity))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, "must be an integer")
	}
	return v, nil
}
