package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/jmoiron/sqlx"
)

// CardTokenWebhookRepository stores tokenization idempotency records
type CardTokenWebhookRepository struct {
	db *sqlx.DB
}

// NewCardTokenWebhookRepository creates a new card token webhook repository
func NewCardTokenWebhookRepository(db *sqlx.DB) *CardTokenWebhookRepository {
	return &CardTokenWebhookRepository{db: db}
}

// CreatePending inserts the Pending record for a webhook id. It returns false,
// without error, when a record for the id already exists.
func (r *CardTokenWebhookRepository) CreatePending(ctx context.Context, record *models.CardTokenWebhookRecord) (bool, error) {
	query := `
		INSERT INTO card_token_webhooks (
			id, webhook_id, status, raw_payload, received_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (webhook_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, record.WebhookID, record.Status, record.RawPayload, record.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create card token webhook record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// GetByWebhookID returns the record for a webhook id or nil
func (r *CardTokenWebhookRepository) GetByWebhookID(ctx context.Context, webhookID string) (*models.CardTokenWebhookRecord, error) {
	var record models.CardTokenWebhookRecord
	err := r.db.GetContext(ctx, &record, `SELECT * FROM card_token_webhooks WHERE webhook_id = $1`, webhookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card token webhook record: %w", err)
	}
	return &record, nil
}

// Finish writes the extracted card details and terminal status
func (r *CardTokenWebhookRepository) Finish(ctx context.Context, record *models.CardTokenWebhookRecord) error {
	query := `
		UPDATE card_token_webhooks SET
			user_id = $2,
			card_token = $3,
			last4 = $4,
			brand = $5,
			expiry_month = $6,
			expiry_year = $7,
			status = $8,
			failure_reason = $9,
			saved_instrument_id = $10,
			processed_at = $11
		WHERE webhook_id = $1`

	_, err := r.db.ExecContext(ctx, query,
		record.WebhookID,
		record.UserID,
		record.CardToken,
		record.Last4,
		record.Brand,
		record.ExpiryMonth,
		record.ExpiryYear,
		record.Status,
		record.FailureReason,
		record.SavedInstrumentID,
		record.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish card token webhook record: %w", err)
	}
	return nil
}
