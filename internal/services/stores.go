package services

import (
	"context"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/google/uuid"
)

// OrderStore persists payment orders
type OrderStore interface {
	Upsert(ctx context.Context, order *models.PaymentOrder) (*models.PaymentOrder, error)
	GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (*models.PaymentOrder, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.PaymentOrder, error)
	SetGatewayOrderID(ctx context.Context, merchantOrderID string, gatewayOrderID int64) (bool, error)
	SetPaymentKey(ctx context.Context, merchantOrderID, key string, integrationID int, expiresAt time.Time) error
	UpdateStatus(ctx context.Context, merchantOrderID string, status models.OrderStatus) error
	ListStale(ctx context.Context, statuses []models.OrderStatus, updatedBefore, createdAfter time.Time, limit int) ([]*models.PaymentOrder, error)
}

// TransactionStore persists payment transactions
type TransactionStore interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	Update(ctx context.Context, txn *models.PaymentTransaction) error
	GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID int64) (*models.PaymentTransaction, error)
	GetLatestUnmatched(ctx context.Context, merchantOrderID string) (*models.PaymentTransaction, error)
	CountByMerchantOrderID(ctx context.Context, merchantOrderID string) (int, error)
}

// WebhookAuditStore appends webhook audit entries
type WebhookAuditStore interface {
	Log(ctx context.Context, audit *models.WebhookAuditLog) error
}

// CardTokenStore holds tokenization idempotency records
type CardTokenStore interface {
	CreatePending(ctx context.Context, record *models.CardTokenWebhookRecord) (bool, error)
	GetByWebhookID(ctx context.Context, webhookID string) (*models.CardTokenWebhookRecord, error)
	Finish(ctx context.Context, record *models.CardTokenWebhookRecord) error
}

// InstrumentStore persists saved payment instruments
type InstrumentStore interface {
	Create(ctx context.Context, inst *models.SavedPaymentInstrument) error
	GetByUserAndToken(ctx context.Context, userID, token string) (*models.SavedPaymentInstrument, error)
	GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.SavedPaymentInstrument, error)
	ListByUser(ctx context.Context, userID string) ([]*models.SavedPaymentInstrument, error)
}

// UserLookup resolves account ids
type UserLookup interface {
	FindIDByEmail(ctx context.Context, email string) (string, error)
}

// CacheStore is a store shared by every instance, with TTLs and atomic counters
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Gateway is the subset of the gateway client the engine calls
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, req paymob.CreateOrderRequest) (int64, error)
	CreatePaymentKey(ctx context.Context, req paymob.PaymentKeyRequest) (string, error)
	Pay(ctx context.Context, paymentKey string, source paymob.PaySource) (*paymob.PayResult, error)
	CreateIntention(ctx context.Context, req paymob.IntentionRequest) (*paymob.IntentionResponse, error)
	GetOrder(ctx context.Context, authToken string, gatewayOrderID int64) (*paymob.OrderResource, error)
	LatestTransaction(ctx context.Context, authToken string, gatewayOrderID int64) (paymob.TransactionResource, bool, error)
	IframeURL(iframeID int, paymentKey string) string
}

// AuthTokens hands out gateway bearer tokens
type AuthTokens interface {
	Get(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}
