package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/sirupsen/logrus"
)

// CompositeMerchantOrderID embeds the owning user into the merchant order id
// sent to the gateway, so callbacks can be attributed without a lookup.
func CompositeMerchantOrderID(userID, merchantOrderID string) string {
	if userID == "" {
		return merchantOrderID
	}
	return "uid:" + userID + "|ord:" + merchantOrderID
}

// ParseMerchantOrderID splits a gateway merchant order id into the local
// merchant order id and the embedded user id. Plain ids pass through.
func ParseMerchantOrderID(raw string) (merchantOrderID, userID string) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "uid:") && !strings.Contains(raw, "ord:") {
		return raw, ""
	}
	for _, part := range strings.Split(raw, "|") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "uid:"):
			userID = strings.TrimPrefix(part, "uid:")
		case strings.HasPrefix(part, "ord:"):
			merchantOrderID = strings.TrimPrefix(part, "ord:")
		}
	}
	if merchantOrderID == "" {
		merchantOrderID = raw
	}
	return merchantOrderID, userID
}

// ============================================================================
// ORDER LEDGER
// ============================================================================

// OrderLedger owns writes to payment orders
type OrderLedger struct {
	orders OrderStore
	logger *logrus.Logger
}

// NewOrderLedger creates a new order ledger
func NewOrderLedger(orders OrderStore, logger *logrus.Logger) *OrderLedger {
	return &OrderLedger{orders: orders, logger: logger}
}

// UpsertOrder creates the order on first sight or refreshes its amount and currency
func (l *OrderLedger) UpsertOrder(ctx context.Context, merchantOrderID string, amountCents int64, currency, userID string) (*models.PaymentOrder, error) {
	if userID == "" {
		return nil, newPaymentError(ErrUnauthorized, "sign in to start a payment", nil)
	}
	if amountCents <= 0 {
		return nil, newPaymentError(ErrInvalidAmount, "amount must be greater than zero", nil)
	}

	existing, err := l.orders.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.UserID != userID {
		l.logger.WithFields(logrus.Fields{
			"merchant_order_id": merchantOrderID,
			"user_id":           userID,
		}).Warn("Merchant order id belongs to another user")
		return nil, newPaymentError(ErrUnauthorized, "order belongs to another account", nil)
	}

	order, err := l.orders.Upsert(ctx, &models.PaymentOrder{
		MerchantOrderID: merchantOrderID,
		UserID:          userID,
		AmountCents:     amountCents,
		Currency:        currency,
		Status:          models.OrderStatusCreated,
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"merchant_order_id": order.MerchantOrderID,
		"amount_cents":      order.AmountCents,
		"currency":          order.Currency,
		"status":            order.Status,
	}).Debug("Payment order upserted")

	return order, nil
}

// Get returns an order by merchant order id
func (l *OrderLedger) Get(ctx context.Context, merchantOrderID string) (*models.PaymentOrder, error) {
	order, err := l.orders.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ============================================================================
// GATEWAY ORDER BINDER
// ============================================================================

// GatewayOrderBinder creates at most one gateway order per merchant order id
type GatewayOrderBinder struct {
	orders  OrderStore
	gateway Gateway
	tokens  AuthTokens
	logger  *logrus.Logger
}

// NewGatewayOrderBinder creates a new binder
func NewGatewayOrderBinder(orders OrderStore, gateway Gateway, tokens AuthTokens, logger *logrus.Logger) *GatewayOrderBinder {
	return &GatewayOrderBinder{
		orders:  orders,
		gateway: gateway,
		tokens:  tokens,
		logger:  logger,
	}
}

// Bind returns the order's gateway order id, creating the gateway order when
// the order is unbound. On failure it returns 0 and nothing is persisted.
// Callers must hold the order lock.
func (b *GatewayOrderBinder) Bind(ctx context.Context, order *models.PaymentOrder) (int64, error) {
	if order.IsBound() {
		return *order.GatewayOrderID, nil
	}

	var gatewayOrderID int64
	err := withAuthRetry(ctx, b.tokens, func(token string) error {
		id, err := b.gateway.CreateOrder(ctx, paymob.CreateOrderRequest{
			AuthToken:       token,
			AmountCents:     order.AmountCents,
			Currency:        order.Currency,
			MerchantOrderID: CompositeMerchantOrderID(order.UserID, order.MerchantOrderID),
			DeliveryNeeded:  false,
			Items:           []interface{}{},
		})
		gatewayOrderID = id
		return err
	})
	if err != nil {
		b.logger.WithError(err).WithField("merchant_order_id", order.MerchantOrderID).Error("Gateway order creation failed")
		return 0, gatewayError("order creation", err)
	}
	if gatewayOrderID <= 0 {
		return 0, newPaymentError(ErrGatewayUnavailable, "order creation failed", paymob.ErrMalformedResponse)
	}

	return b.persist(ctx, order, gatewayOrderID)
}

// Adopt binds a gateway order id obtained outside the order endpoint, such as
// the order created by a payment intention. Bound orders keep their id.
func (b *GatewayOrderBinder) Adopt(ctx context.Context, order *models.PaymentOrder, gatewayOrderID int64) (int64, error) {
	if order.IsBound() {
		return *order.GatewayOrderID, nil
	}
	if gatewayOrderID <= 0 {
		return 0, nil
	}
	return b.persist(ctx, order, gatewayOrderID)
}

func (b *GatewayOrderBinder) persist(ctx context.Context, order *models.PaymentOrder, gatewayOrderID int64) (int64, error) {
	bound, err := b.orders.SetGatewayOrderID(ctx, order.MerchantOrderID, gatewayOrderID)
	if err != nil {
		return 0, fmt.Errorf("failed to persist gateway order id: %w", err)
	}
	if !bound {
		// Bound by another instance; the stored id wins
		stored, err := b.orders.GetByMerchantOrderID(ctx, order.MerchantOrderID)
		if err != nil {
			return 0, err
		}
		if stored == nil || !stored.IsBound() {
			return 0, ErrOrderNotFound
		}
		*order = *stored
		return *stored.GatewayOrderID, nil
	}

	order.GatewayOrderID = &gatewayOrderID
	if order.Status == models.OrderStatusCreated {
		order.Status = models.OrderStatusAwaitingPayment
	}

	b.logger.WithFields(logrus.Fields{
		"merchant_order_id": order.MerchantOrderID,
		"gateway_order_id":  gatewayOrderID,
	}).Info("Gateway order bound")

	return gatewayOrderID, nil
}

// withAuthRetry runs call with a cached token, refreshing the token once if
// the gateway rejects it
func withAuthRetry(ctx context.Context, tokens AuthTokens, call func(token string) error) error {
	token, err := tokens.Get(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	if !errors.Is(err, paymob.ErrAuthRejected) {
		return err
	}

	if invErr := tokens.Invalidate(ctx); invErr != nil {
		return err
	}
	token, err = tokens.Get(ctx)
	if err != nil {
		return err
	}
	return call(token)
}
