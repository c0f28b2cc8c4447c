package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chargeup/payment-engine/internal/services"
	"github.com/gin-gonic/gin"
)

// statusFor maps a payment error onto an HTTP status. Rate limiting is checked
// first because key issuance failures can wrap it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrInvalidBilling),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidWalletPhone),
		errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSavedCardNotFound),
		errors.Is(err, services.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrOrderSettled),
		errors.Is(err, services.ErrPersistenceConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrKeyIssuanceFailed),
		errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError renders err as {"error", "message", "code"}
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code := services.ErrorCode(err)
	if status == http.StatusTooManyRequests {
		code = "RATE_LIMITED"
	}

	message := "An unexpected error occurred"
	var pe *services.PaymentError
	if errors.As(err, &pe) && pe.Message != "" {
		message = pe.Message
	} else if status != http.StatusInternalServerError {
		message = err.Error()
	}

	c.JSON(status, gin.H{
		"error":   strings.ToLower(code),
		"message": message,
		"code":    code,
	})
}
