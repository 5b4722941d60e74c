package api

import (
	"errors"
	"net/http"
	"strings"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// lockRetryAfter is the Retry-After hint, in seconds, sent with lock timeouts
const lockRetryAfter = "1"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeError maps an error kind onto its HTTP status and error code
func writeError(c *gin.Context, err error) {
	var (
		stockErr    *models.InsufficientStockError
		notFoundErr *models.NotFoundError
	)

	switch {
	case errors.As(err, &stockErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:      "INSUFFICIENT_STOCK",
			Message:   err.Error(),
			VariantID: &stockErr.VariantID,
			Available: &stockErr.Available,
			Requested: &stockErr.Requested,
		}})
	case errors.Is(err, models.ErrValidation):
		abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, models.ErrInvalidReference):
		abortWithError(c, http.StatusBadRequest, "INVALID_REFERENCE", err.Error())
	case errors.As(err, &notFoundErr):
		abortWithError(c, http.StatusNotFound, strings.ToUpper(notFoundErr.Entity)+"_NOT_FOUND", err.Error())
	case errors.Is(err, models.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, models.ErrLockTimeout):
		c.Header("Retry-After", lockRetryAfter)
		abortWithError(c, http.StatusServiceUnavailable, "LOCK_TIMEOUT", "stock is busy, retry the request")
	case errors.Is(err, models.ErrInvalidTransition):
		abortWithError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, models.ErrConflict):
		abortWithError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, auth.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	case errors.Is(err, auth.ErrUnauthorized):
		abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token")
	default:
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
