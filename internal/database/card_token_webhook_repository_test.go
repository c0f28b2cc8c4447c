package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardTokenWebhookRepository_CreatePending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCardTokenWebhookRepository(db)
	ctx := context.Background()
	record := models.NewCardTokenWebhookRecord("txn:555", `{"obj":{}}`)

	t.Run("First Delivery", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO card_token_webhooks`).
			WithArgs(record.ID, "txn:555", "Pending", `{"obj":{}}`, record.ReceivedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := repo.CreatePending(ctx, record)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("Redelivery", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO card_token_webhooks (.+) ON CONFLICT \(webhook_id\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := repo.CreatePending(ctx, record)
		require.NoError(t, err)
		assert.False(t, created)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardTokenWebhookRepository_GetByWebhookID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCardTokenWebhookRepository(db)
	ctx := context.Background()
	now := time.Now()

	columns := []string{
		"id", "webhook_id", "user_id", "card_token", "last4", "brand",
		"expiry_month", "expiry_year", "status", "failure_reason",
		"saved_instrument_id", "raw_payload", "received_at", "processed_at",
	}
	instrumentID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM card_token_webhooks WHERE webhook_id`).
		WithArgs("txn:555").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			uuid.NewString(), "txn:555", "42", "tok_abc", "4242", "Visa",
			int64(12), int64(2030), "Saved", nil,
			instrumentID.String(), "{}", now, now,
		))

	record, err := repo.GetByWebhookID(ctx, "txn:555")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.CardTokenSaved, record.Status)
	assert.Equal(t, instrumentID, *record.SavedInstrumentID)
	assert.Equal(t, 12, *record.ExpiryMonth)

	mock.ExpectQuery(`SELECT \* FROM card_token_webhooks WHERE webhook_id`).
		WithArgs("txn:556").
		WillReturnError(sql.ErrNoRows)

	record, err = repo.GetByWebhookID(ctx, "txn:556")
	assert.NoError(t, err)
	assert.Nil(t, record)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCardTokenWebhookRepository_Finish(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCardTokenWebhookRepository(db)

	record := models.NewCardTokenWebhookRecord("txn:555", "{}").Finish(models.CardTokenFailedNoUser, "no user id")

	mock.ExpectExec(`UPDATE card_token_webhooks SET`).
		WithArgs("txn:555", nil, nil, nil, nil, nil, nil, "FailedNoUser", "no user id", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Finish(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}
