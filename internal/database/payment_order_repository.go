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
	"github.com/lib/pq"
)

const paymentOrderColumns = `
	id, merchant_order_id, gateway_order_id, user_id,
	amount_cents, currency, status,
	last_payment_key, payment_key_expires_at, payment_key_integration_id,
	created_at, updated_at`

// PaymentOrderRepository handles payment_orders persistence
type PaymentOrderRepository struct {
	db *sqlx.DB
}

// NewPaymentOrderRepository creates a new payment order repository
func NewPaymentOrderRepository(db *sqlx.DB) *PaymentOrderRepository {
	return &PaymentOrderRepository{db: db}
}

// Upsert creates the order on first sight or refreshes its amount and currency.
// Settled orders keep their amount and currency; an amount or currency change
// drops the cached payment key. The owning user is never reassigned.
func (r *PaymentOrderRepository) Upsert(ctx context.Context, order *models.PaymentOrder) (*models.PaymentOrder, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusCreated
	}

	query := `
		INSERT INTO payment_orders (
			id, merchant_order_id, user_id, amount_cents, currency, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW(), NOW()
		)
		ON CONFLICT (merchant_order_id) DO UPDATE SET
			amount_cents = CASE WHEN payment_orders.status IN ('Paid', 'Refunded', 'Voided')
				THEN payment_orders.amount_cents ELSE EXCLUDED.amount_cents END,
			currency = CASE WHEN payment_orders.status IN ('Paid', 'Refunded', 'Voided')
				THEN payment_orders.currency ELSE EXCLUDED.currency END,
			last_payment_key = CASE
				WHEN payment_orders.amount_cents = EXCLUDED.amount_cents
					AND payment_orders.currency = EXCLUDED.currency
				THEN payment_orders.last_payment_key ELSE NULL END,
			payment_key_expires_at = CASE
				WHEN payment_orders.amount_cents = EXCLUDED.amount_cents
					AND payment_orders.currency = EXCLUDED.currency
				THEN payment_orders.payment_key_expires_at ELSE NULL END,
			updated_at = NOW()
		RETURNING ` + paymentOrderColumns

	var saved models.PaymentOrder
	err := r.db.GetContext(ctx, &saved, query,
		order.ID, order.MerchantOrderID, order.UserID, order.AmountCents, order.Currency, order.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment order: %w", err)
	}

	return &saved, nil
}

// GetByMerchantOrderID returns the order or nil if it does not exist
func (r *PaymentOrderRepository) GetByMerchantOrderID(ctx context.Context, merchantOrderID string) (*models.PaymentOrder, error) {
	return r.getOne(ctx, `SELECT `+paymentOrderColumns+` FROM payment_orders WHERE merchant_order_id = $1`, merchantOrderID)
}

// GetByGatewayOrderID returns the order bound to a gateway order id or nil
func (r *PaymentOrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID int64) (*models.PaymentOrder, error) {
	return r.getOne(ctx, `SELECT `+paymentOrderColumns+` FROM payment_orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r *PaymentOrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.GetContext(ctx, &order, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment order: %w", err)
	}
	return &order, nil
}

// SetGatewayOrderID binds the gateway order id once. It returns false when the
// order was already bound, in which case the stored id is left untouched.
func (r *PaymentOrderRepository) SetGatewayOrderID(ctx context.Context, merchantOrderID string, gatewayOrderID int64) (bool, error) {
	query := `
		UPDATE payment_orders
		SET gateway_order_id = $2,
			status = CASE WHEN status = 'Created' THEN 'AwaitingPayment' ELSE status END,
			updated_at = NOW()
		WHERE merchant_order_id = $1 AND gateway_order_id IS NULL`

	result, err := r.db.ExecContext(ctx, query, merchantOrderID, gatewayOrderID)
	if err != nil {
		return false, wrapUnique(err, "failed to bind gateway order")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// SetPaymentKey stores the last issued key with its absolute expiry
func (r *PaymentOrderRepository) SetPaymentKey(ctx context.Context, merchantOrderID, key string, integrationID int, expiresAt time.Time) error {
	query := `
		UPDATE payment_orders
		SET last_payment_key = $2,
			payment_key_expires_at = $3,
			payment_key_integration_id = $4,
			updated_at = NOW()
		WHERE merchant_order_id = $1`

	_, err := r.db.ExecContext(ctx, query, merchantOrderID, key, expiresAt, integrationID)
	if err != nil {
		return fmt.Errorf("failed to store payment key: %w", err)
	}
	return nil
}

// UpdateStatus sets the order status
func (r *PaymentOrderRepository) UpdateStatus(ctx context.Context, merchantOrderID string, status models.OrderStatus) error {
	query := `
		UPDATE payment_orders
		SET status = $2, updated_at = NOW()
		WHERE merchant_order_id = $1`

	result, err := r.db.ExecContext(ctx, query, merchantOrderID, status)
	if err != nil {
		return fmt.Errorf("failed to update payment order status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment order %s: %w", merchantOrderID, sql.ErrNoRows)
	}
	return nil
}

// ListStale returns bound orders still waiting on an outcome, oldest first
func (r *PaymentOrderRepository) ListStale(ctx context.Context, statuses []models.OrderStatus, updatedBefore, createdAfter time.Time, limit int) ([]*models.PaymentOrder, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT ` + paymentOrderColumns + `
		FROM payment_orders
		WHERE status = ANY($1)
			AND gateway_order_id IS NOT NULL
			AND updated_at < $2
			AND created_at > $3
		ORDER BY updated_at ASC
		LIMIT $4`

	var orders []*models.PaymentOrder
	if err := r.db.SelectContext(ctx, &orders, query, pq.Array(names), updatedBefore, createdAfter, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale payment orders: %w", err)
	}
	return orders, nil
}
