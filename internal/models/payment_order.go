package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of a locally owned checkout order.
// Values are stored capitalized; NormalizeOrderStatus maps any casing onto them.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "Created"
	OrderStatusAwaitingPayment OrderStatus = "AwaitingPayment"
	OrderStatusPending         OrderStatus = "Pending"
	OrderStatusPaid            OrderStatus = "Paid"
	OrderStatusFailed          OrderStatus = "Failed"
	OrderStatusVoided          OrderStatus = "Voided"
	OrderStatusRefunded        OrderStatus = "Refunded"
)

var orderStatusByKey = map[string]OrderStatus{
	"created":          OrderStatusCreated,
	"awaitingpayment":  OrderStatusAwaitingPayment,
	"awaiting_payment": OrderStatusAwaitingPayment,
	"order_created":    OrderStatusAwaitingPayment,
	"pending":          OrderStatusPending,
	"paid":             OrderStatusPaid,
	"success":          OrderStatusPaid,
	"failed":           OrderStatusFailed,
	"declined":         OrderStatusFailed,
	"voided":           OrderStatusVoided,
	"refunded":         OrderStatusRefunded,
}

// NormalizeOrderStatus maps a status string of any casing onto its canonical value.
// The second return is false when the input is not a known status.
func NormalizeOrderStatus(s string) (OrderStatus, bool) {
	status, ok := orderStatusByKey[strings.ToLower(strings.TrimSpace(s))]
	return status, ok
}

// IsSettled reports whether money has moved (or been returned) for the order.
// Settled orders keep their amount and currency.
func (s OrderStatus) IsSettled() bool {
	return s == OrderStatusPaid || s == OrderStatusRefunded || s == OrderStatusVoided
}

// CanTransitionTo reports whether a reconciliation observation may move the
// order from s to next. Settled states only move forward (Paid to Refunded or Voided).
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case OrderStatusPaid:
		return next == OrderStatusRefunded || next == OrderStatusVoided
	case OrderStatusRefunded, OrderStatusVoided:
		return false
	}
	return true
}

// PaymentOrder is the local checkout intent keyed by merchant order id
type PaymentOrder struct {
	ID                      uuid.UUID   `json:"id" db:"id"`
	MerchantOrderID         string      `json:"merchant_order_id" db:"merchant_order_id"`
	GatewayOrderID          *int64      `json:"gateway_order_id,omitempty" db:"gateway_order_id"`
	UserID                  string      `json:"user_id" db:"user_id"`
	AmountCents             int64       `json:"amount_cents" db:"amount_cents"`
	Currency                string      `json:"currency" db:"currency"`
	Status                  OrderStatus `json:"status" db:"status"`
	LastPaymentKey          *string     `json:"-" db:"last_payment_key"`
	PaymentKeyExpiresAt     *time.Time  `json:"payment_key_expires_at,omitempty" db:"payment_key_expires_at"`
	PaymentKeyIntegrationID *int        `json:"-" db:"payment_key_integration_id"`
	CreatedAt               time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at" db:"updated_at"`
}

// IsBound reports whether a gateway order has been created for this order
func (o *PaymentOrder) IsBound() bool {
	return o.GatewayOrderID != nil && *o.GatewayOrderID > 0
}

// CachedKey returns the last issued payment key if it was issued for the given
// integration and stays valid for longer than margin.
func (o *PaymentOrder) CachedKey(integrationID int, now time.Time, margin time.Duration) (string, bool) {
	if o.LastPaymentKey == nil || *o.LastPaymentKey == "" || o.PaymentKeyExpiresAt == nil {
		return "", false
	}
	if o.PaymentKeyIntegrationID == nil || *o.PaymentKeyIntegrationID != integrationID {
		return "", false
	}
	if !o.PaymentKeyExpiresAt.After(now.Add(margin)) {
		return "", false
	}
	return *o.LastPaymentKey, true
}
