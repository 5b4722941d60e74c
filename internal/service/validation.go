package service

import (
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// priceScale is the number of decimal places a price may carry
const priceScale = 2

func validatePrice(field string, price decimal.Decimal) error {
	if price.IsNegative() {
		return models.NewValidationError(field, "must not be negative")
	}
	if !price.Equal(price.Round(priceScale)) {
		return models.NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", priceScale))
	}
	return nil
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return models.NewValidationError(field, "is required")
	}
	return nil
}
