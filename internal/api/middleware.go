package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// RateLimiter counts requests per key in fixed windows
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// requireRoles rejects requests without a valid token for one of roles
func (h *Handler) requireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.verifier.Authorize(c.Request.Context(), c.GetHeader("Authorization"), roles...)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// rateLimit limits requests per client IP. Limiter failures let the request through.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || h.rateLimitRequests <= 0 {
			c.Next()
			return
		}

		allowed, retryAfter, err := h.limiter.Allow(c.Request.Context(), c.ClientIP(), h.rateLimitRequests, h.rateLimitWindow)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			util.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		c.Next()
	}
}
