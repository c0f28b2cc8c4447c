package services

import (
	"errors"
	"fmt"

	"github.com/chargeup/payment-engine/pkg/paymob"
)

// Payment domain errors. Handlers map them onto HTTP responses with errors.Is.
var (
	ErrUnauthorized        = errors.New("caller identity required")
	ErrInvalidBilling      = errors.New("billing data incomplete")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrRateLimited         = errors.New("payment gateway rate limit exceeded")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrDuplicateWebhook    = errors.New("webhook already processed")
	ErrOrderNotFound       = errors.New("payment order not found")
	ErrPersistenceConflict = errors.New("concurrent write conflict")
	ErrKeyIssuanceFailed   = errors.New("payment key issuance failed")
	ErrInvalidAmount       = errors.New("amount must be a positive number of minor units")
	ErrInvalidWalletPhone  = errors.New("invalid wallet phone number")
	ErrSavedCardNotFound   = errors.New("saved card not found")
	ErrOrderSettled        = errors.New("payment order already settled")
	ErrInvalidRequest      = errors.New("invalid payment request")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInvalidBilling, "INVALID_BILLING"},
	{ErrRateLimited, "RATE_LIMITED"},
	{ErrKeyIssuanceFailed, "KEY_ISSUANCE_FAILED"},
	{ErrGatewayUnavailable, "GATEWAY_UNAVAILABLE"},
	{ErrSignatureInvalid, "SIGNATURE_INVALID"},
	{ErrDuplicateWebhook, "DUPLICATE_WEBHOOK"},
	{ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{ErrPersistenceConflict, "PERSISTENCE_CONFLICT"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidWalletPhone, "INVALID_WALLET_PHONE"},
	{ErrSavedCardNotFound, "SAVED_CARD_NOT_FOUND"},
	{ErrOrderSettled, "ORDER_SETTLED"},
	{ErrInvalidRequest, "INVALID_REQUEST"},
}

// PaymentError carries a stable error code alongside the wrapped cause
type PaymentError struct {
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// newPaymentError wraps kind (and an optional cause) with a caller-facing message
func newPaymentError(kind error, message string, cause error) *PaymentError {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &PaymentError{Code: codeFor(kind), Message: message, Err: err}
}

// ErrorCode returns the stable code for err, or INTERNAL_ERROR
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return codeFor(err)
}

func codeFor(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL_ERROR"
}

// gatewayError maps a gateway client failure onto the domain taxonomy
func gatewayError(op string, err error) error {
	if errors.Is(err, paymob.ErrRateLimited) {
		return newPaymentError(ErrRateLimited, op+" was rate limited", err)
	}
	return newPaymentError(ErrGatewayUnavailable, op+" failed", err)
}
