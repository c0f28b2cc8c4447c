package models

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationType identifies which payment action produced a transaction row
type IntegrationType string

const (
	IntegrationCard      IntegrationType = "Card"
	IntegrationWallet    IntegrationType = "Wallet"
	IntegrationApplePay  IntegrationType = "ApplePay"
	IntegrationIntention IntegrationType = "Intention"
	IntegrationCardToken IntegrationType = "CardToken"
	IntegrationWebhook   IntegrationType = "Webhook"
)

// TransactionSource records which path last wrote the row
type TransactionSource string

const (
	TransactionSourceCheckout TransactionSource = "checkout"
	TransactionSourceWebhook  TransactionSource = "webhook"
	TransactionSourcePoll     TransactionSource = "poll"
)

// PaymentTransaction is one attempted payment action against an order.
// Status uses the same canonical values as OrderStatus.
type PaymentTransaction struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	MerchantOrderID      string            `json:"merchant_order_id" db:"merchant_order_id"`
	GatewayTransactionID *int64            `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	GatewayOrderID       *int64            `json:"gateway_order_id,omitempty" db:"gateway_order_id"`
	IntegrationType      IntegrationType   `json:"integration_type" db:"integration_type"`
	AmountCents          int64             `json:"amount_cents" db:"amount_cents"`
	Currency             string            `json:"currency" db:"currency"`
	Status               OrderStatus       `json:"status" db:"status"`
	IsSuccess            bool              `json:"is_success" db:"is_success"`
	IsPending            bool              `json:"is_pending" db:"is_pending"`
	SignatureVerified    bool              `json:"signature_verified" db:"signature_verified"`
	ResponseCode         *string           `json:"response_code,omitempty" db:"response_code"`
	ResponseMessage      *string           `json:"response_message,omitempty" db:"response_message"`
	Source               TransactionSource `json:"source" db:"source"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// NewPendingTransaction creates the initial row recorded at checkout
func NewPendingTransaction(order *PaymentOrder, integration IntegrationType) *PaymentTransaction {
	now := time.Now()
	return &PaymentTransaction{
		ID:              uuid.New(),
		MerchantOrderID: order.MerchantOrderID,
		GatewayOrderID:  order.GatewayOrderID,
		IntegrationType: integration,
		AmountCents:     order.AmountCents,
		Currency:        order.Currency,
		Status:          OrderStatusPending,
		IsPending:       true,
		Source:          TransactionSourceCheckout,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
