package services

import (
	"context"
	"strings"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/sirupsen/logrus"
)

// paymentKeyReuseMargin is the minimum remaining lifetime of a reused key
const paymentKeyReuseMargin = 30 * time.Second

// KeyRequest describes the payment key to issue for an order
type KeyRequest struct {
	AmountCents   int64
	Currency      string
	Billing       models.BillingData
	IntegrationID int
	TTL           time.Duration
	Tokenize      bool
}

// PaymentKeyIssuer issues method-bound payment keys against bound orders
type PaymentKeyIssuer struct {
	orders  OrderStore
	gateway Gateway
	tokens  AuthTokens
	now     func() time.Time
	logger  *logrus.Logger
}

// NewPaymentKeyIssuer creates a new key issuer
func NewPaymentKeyIssuer(orders OrderStore, gateway Gateway, tokens AuthTokens, logger *logrus.Logger) *PaymentKeyIssuer {
	return &PaymentKeyIssuer{
		orders:  orders,
		gateway: gateway,
		tokens:  tokens,
		now:     time.Now,
		logger:  logger,
	}
}

// ValidateBilling normalizes billing data, failing with ErrInvalidBilling when
// a mandatory field is missing
func ValidateBilling(billing models.BillingData) (models.BillingData, error) {
	normalized, missing := billing.Normalize()
	if len(missing) > 0 {
		return normalized, newPaymentError(ErrInvalidBilling, "missing billing fields: "+strings.Join(missing, ", "), nil)
	}
	return normalized, nil
}

// GetOrCreateKey returns the order's cached key when it was issued for the
// same integration and stays valid for more than 30 seconds; otherwise it
// issues and stores a new one. Callers must hold the order lock.
func (i *PaymentKeyIssuer) GetOrCreateKey(ctx context.Context, order *models.PaymentOrder, req KeyRequest) (string, error) {
	now := i.now()
	if key, ok := order.CachedKey(req.IntegrationID, now, paymentKeyReuseMargin); ok {
		i.logger.WithFields(logrus.Fields{
			"merchant_order_id": order.MerchantOrderID,
			"integration_id":    req.IntegrationID,
		}).Debug("Reusing cached payment key")
		return key, nil
	}

	billing, err := ValidateBilling(req.Billing)
	if err != nil {
		return "", err
	}
	if !order.IsBound() {
		return "", newPaymentError(ErrKeyIssuanceFailed, "order has no gateway order", nil)
	}

	var key string
	err = withAuthRetry(ctx, i.tokens, func(token string) error {
		k, err := i.gateway.CreatePaymentKey(ctx, paymob.PaymentKeyRequest{
			AuthToken:     token,
			AmountCents:   req.AmountCents,
			Expiration:    int(req.TTL / time.Second),
			OrderID:       *order.GatewayOrderID,
			BillingData:   paymob.BillingData(billing),
			Currency:      req.Currency,
			IntegrationID: req.IntegrationID,
			Tokenize:      req.Tokenize,
		})
		key = k
		return err
	})
	if err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"merchant_order_id": order.MerchantOrderID,
			"gateway_order_id":  *order.GatewayOrderID,
		}).Error("Payment key issuance failed")
		return "", newPaymentError(ErrKeyIssuanceFailed, "could not issue payment key", gatewayError("payment key", err))
	}
	if key == "" {
		return "", newPaymentError(ErrKeyIssuanceFailed, "gateway returned no payment key", nil)
	}

	expiresAt := now.Add(req.TTL)
	if err := i.orders.SetPaymentKey(ctx, order.MerchantOrderID, key, req.IntegrationID, expiresAt); err != nil {
		// The key is valid regardless; the next checkout just issues another
		i.logger.WithError(err).WithField("merchant_order_id", order.MerchantOrderID).Warn("Failed to cache payment key")
	}

	integrationID := req.IntegrationID
	order.LastPaymentKey = &key
	order.PaymentKeyExpiresAt = &expiresAt
	order.PaymentKeyIntegrationID = &integrationID

	return key, nil
}
