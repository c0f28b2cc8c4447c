package services

import (
	"context"
	"testing"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boundOrder(orders *memOrders, merchantOrderID string, gatewayOrderID int64) *models.PaymentOrder {
	order := &models.PaymentOrder{
		MerchantOrderID: merchantOrderID,
		GatewayOrderID:  &gatewayOrderID,
		UserID:          "user-1",
		AmountCents:     1500,
		Currency:        "EGP",
		Status:          models.OrderStatusAwaitingPayment,
	}
	orders.put(order)
	return orders.get(merchantOrderID)
}

func keyRequest(integrationID int) KeyRequest {
	return KeyRequest{
		AmountCents:   1500,
		Currency:      "EGP",
		Billing:       validBilling(),
		IntegrationID: integrationID,
		TTL:           time.Hour,
	}
}

func TestValidateBilling(t *testing.T) {
	billing, err := ValidateBilling(validBilling())
	require.NoError(t, err)
	assert.Equal(t, models.BillingPlaceholder, billing.City)

	_, err = ValidateBilling(models.BillingData{FirstName: "Mona", Email: " "})
	require.ErrorIs(t, err, ErrInvalidBilling)
	assert.Contains(t, err.Error(), "last_name")
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), "phone_number")
}

func TestPaymentKeyIssuer_IssuesAndCaches(t *testing.T) {
	orders := newMemOrders()
	gateway := newFakeGateway()
	issuer := NewPaymentKeyIssuer(orders, gateway, &fakeTokens{}, quietLogger())
	ctx := context.Background()

	order := boundOrder(orders, "m-1", 9001)
	key, err := issuer.GetOrCreateKey(ctx, order, keyRequest(11))
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, int64(9001), gateway.lastKeyRequest.OrderID)
	assert.Equal(t, 3600, gateway.lastKeyRequest.Expiration)
	assert.Equal(t, "NA", gateway.lastKeyRequest.BillingData.City)

	// Reused for the same integration
	again, err := issuer.GetOrCreateKey(ctx, orders.get("m-1"), keyRequest(11))
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// A different integration needs its own key
	other, err := issuer.GetOrCreateKey(ctx, orders.get("m-1"), keyRequest(22))
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	_, keyCalls, _ := gateway.calls()
	assert.Equal(t, 2, keyCalls)
}

func TestPaymentKeyIssuer_NearExpiryKeyIsReissued(t *testing.T) {
	orders := newMemOrders()
	gateway := newFakeGateway()
	issuer := NewPaymentKeyIssuer(orders, gateway, &fakeTokens{}, quietLogger())
	ctx := context.Background()

	order := boundOrder(orders, "m-1", 9001)
	stale := "old-key"
	integrationID := 11
	expiresAt := time.Now().Add(10 * time.Second)
	order.LastPaymentKey = &stale
	order.PaymentKeyIntegrationID = &integrationID
	order.PaymentKeyExpiresAt = &expiresAt

	key, err := issuer.GetOrCreateKey(ctx, order, keyRequest(11))
	require.NoError(t, err)
	assert.NotEqual(t, stale, key)
}

func TestPaymentKeyIssuer_InvalidBillingMakesNoCall(t *testing.T) {
	orders := newMemOrders()
	gateway := newFakeGateway()
	issuer := NewPaymentKeyIssuer(orders, gateway, &fakeTokens{}, quietLogger())

	req := keyRequest(11)
	req.Billing.PhoneNumber = ""
	_, err := issuer.GetOrCreateKey(context.Background(), boundOrder(orders, "m-1", 9001), req)
	assert.ErrorIs(t, err, ErrInvalidBilling)

	_, keyCalls, _ := gateway.calls()
	assert.Zero(t, keyCalls)
}

func TestPaymentKeyIssuer_Failures(t *testing.T) {
	orders := newMemOrders()
	gateway := newFakeGateway()
	issuer := NewPaymentKeyIssuer(orders, gateway, &fakeTokens{}, quietLogger())
	ctx := context.Background()

	unbound := &models.PaymentOrder{MerchantOrderID: "m-0", UserID: "u", AmountCents: 100, Currency: "EGP"}
	_, err := issuer.GetOrCreateKey(ctx, unbound, keyRequest(11))
	assert.ErrorIs(t, err, ErrKeyIssuanceFailed)

	gateway.keyErr = paymob.ErrRateLimited
	_, err = issuer.GetOrCreateKey(ctx, boundOrder(orders, "m-1", 9001), keyRequest(11))
	assert.ErrorIs(t, err, ErrKeyIssuanceFailed)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "KEY_ISSUANCE_FAILED", ErrorCode(err))
	assert.Nil(t, orders.get("m-1").LastPaymentKey)
}
