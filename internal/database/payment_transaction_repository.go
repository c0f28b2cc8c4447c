package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const paymentTransactionColumns = `
	id, merchant_order_id, gateway_transaction_id, gateway_order_id,
	integration_type, amount_cents, currency, status,
	is_success, is_pending, signature_verified,
	response_code, response_message, source,
	created_at, updated_at`

// PaymentTransactionRepository handles payment_transactions persistence
type PaymentTransactionRepository struct {
	db *sqlx.DB
}

// NewPaymentTransactionRepository creates a new payment transaction repository
func NewPaymentTransactionRepository(db *sqlx.DB) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{db: db}
}

// Create inserts a transaction row. A gateway transaction id already on
// record yields ErrUniqueViolation.
func (r *PaymentTransactionRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	query := `
		INSERT INTO payment_transactions (
			id, merchant_order_id, gateway_transaction_id, gateway_order_id,
			integration_type, amount_cents, currency, status,
			is_success, is_pending, signature_verified,
			response_code, response_message, source,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16
		)`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.MerchantOrderID, txn.GatewayTransactionID, txn.GatewayOrderID,
		txn.IntegrationType, txn.AmountCents, txn.Currency, txn.Status,
		txn.IsSuccess, txn.IsPending, txn.SignatureVerified,
		txn.ResponseCode, txn.ResponseMessage, txn.Source,
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return wrapUnique(err, "failed to create payment transaction")
	}
	return nil
}

// Update overwrites the mutable fields of a transaction row
func (r *PaymentTransactionRepository) Update(ctx context.Context, txn *models.PaymentTransaction) error {
	txn.UpdatedAt = time.Now()

	query := `
		UPDATE payment_transactions SET
			gateway_transaction_id = $2,
			gateway_order_id = $3,
			amount_cents = $4,
			currency = $5,
			status = $6,
			is_success = $7,
			is_pending = $8,
			signature_verified = $9,
			response_code = $10,
			response_message = $11,
			source = $12,
			updated_at = $13
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID,
		txn.GatewayTransactionID,
		txn.GatewayOrderID,
		txn.AmountCents,
		txn.Currency,
		txn.Status,
		txn.IsSuccess,
		txn.IsPending,
		txn.SignatureVerified,
		txn.ResponseCode,
		txn.ResponseMessage,
		txn.Source,
		txn.UpdatedAt,
	)
	if err != nil {
		return wrapUnique(err, "failed to update payment transaction")
	}
	return nil
}

// GetByGatewayTransactionID returns the row for a gateway transaction or nil
func (r *PaymentTransactionRepository) GetByGatewayTransactionID(ctx context.Context, gatewayTransactionID int64) (*models.PaymentTransaction, error) {
	query := `SELECT ` + paymentTransactionColumns + ` FROM payment_transactions WHERE gateway_transaction_id = $1`
	return r.getOne(ctx, query, gatewayTransactionID)
}

// GetLatestUnmatched returns the newest row of an order not yet tied to a
// gateway transaction, or nil
func (r *PaymentTransactionRepository) GetLatestUnmatched(ctx context.Context, merchantOrderID string) (*models.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentTransactionColumns + `
		FROM payment_transactions
		WHERE merchant_order_id = $1 AND gateway_transaction_id IS NULL
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, merchantOrderID)
}

// CountByMerchantOrderID counts the rows recorded for an order
func (r *PaymentTransactionRepository) CountByMerchantOrderID(ctx context.Context, merchantOrderID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payment_transactions WHERE merchant_order_id = $1`, merchantOrderID)
	if err != nil {
		return 0, fmt.Errorf("failed to count payment transactions: %w", err)
	}
	return count, nil
}

// ListByMerchantOrderID returns an order's transactions, oldest first
func (r *PaymentTransactionRepository) ListByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*models.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentTransactionColumns + `
		FROM payment_transactions
		WHERE merchant_order_id = $1
		ORDER BY created_at ASC`

	var txns []*models.PaymentTransaction
	if err := r.db.SelectContext(ctx, &txns, query, merchantOrderID); err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	return txns, nil
}

func (r *PaymentTransactionRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.GetContext(ctx, &txn, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &txn, nil
}
