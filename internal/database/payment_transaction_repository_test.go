package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transactionColumns = []string{
	"id", "merchant_order_id", "gateway_transaction_id", "gateway_order_id",
	"integration_type", "amount_cents", "currency", "status",
	"is_success", "is_pending", "signature_verified",
	"response_code", "response_message", "source",
	"created_at", "updated_at",
}

func TestPaymentTransactionRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentTransactionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		txn := &models.PaymentTransaction{
			MerchantOrderID: "ord-1",
			IntegrationType: models.IntegrationCard,
			AmountCents:     10000,
			Currency:        "EGP",
			Status:          models.OrderStatusPending,
			IsPending:       true,
			Source:          models.TransactionSourceCheckout,
		}

		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(ctx, txn))
		assert.NotEqual(t, uuid.Nil, txn.ID)
		assert.False(t, txn.CreatedAt.IsZero())
	})

	t.Run("Duplicate Gateway Transaction", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_payment_transactions_gateway_txn"})

		gwTxn := int64(555)
		err := repo.Create(ctx, &models.PaymentTransaction{MerchantOrderID: "ord-1", GatewayTransactionID: &gwTxn})
		assert.ErrorIs(t, err, ErrUniqueViolation)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentTransactionRepository_GetByGatewayTransactionID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentTransactionRepository(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE gateway_transaction_id`).
		WithArgs(int64(555)).
		WillReturnRows(sqlmock.NewRows(transactionColumns).AddRow(
			uuid.NewString(), "ord-1", int64(555), int64(987),
			"Webhook", int64(10000), "EGP", "Paid",
			true, false, true,
			"APPROVED", "Approved", "webhook",
			now, now,
		))

	txn, err := repo.GetByGatewayTransactionID(ctx, 555)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, models.OrderStatusPaid, txn.Status)
	assert.True(t, txn.IsSuccess)
	assert.Equal(t, "APPROVED", *txn.ResponseCode)

	mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE gateway_transaction_id`).
		WithArgs(int64(556)).
		WillReturnError(sql.ErrNoRows)

	txn, err = repo.GetByGatewayTransactionID(ctx, 556)
	assert.NoError(t, err)
	assert.Nil(t, txn)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentTransactionRepository_GetLatestUnmatched(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentTransactionRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE merchant_order_id = \$1 AND gateway_transaction_id IS NULL`).
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(transactionColumns).AddRow(
			uuid.NewString(), "ord-1", nil, int64(987),
			"Card", int64(10000), "EGP", "Pending",
			false, true, false,
			nil, nil, "checkout",
			now, now,
		))

	txn, err := repo.GetLatestUnmatched(context.Background(), "ord-1")
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Nil(t, txn.GatewayTransactionID)
	assert.Equal(t, models.IntegrationCard, txn.IntegrationType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentTransactionRepository_Update(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentTransactionRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE payment_transactions SET`).
		WithArgs(id, int64(555), int64(987), int64(10000), "EGP", "Paid",
			true, false, true, nil, nil, "webhook", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	gwTxn, gwOrder := int64(555), int64(987)
	err := repo.Update(context.Background(), &models.PaymentTransaction{
		ID:                   id,
		GatewayTransactionID: &gwTxn,
		GatewayOrderID:       &gwOrder,
		AmountCents:          10000,
		Currency:             "EGP",
		Status:               models.OrderStatusPaid,
		IsSuccess:            true,
		SignatureVerified:    true,
		Source:               models.TransactionSourceWebhook,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentTransactionRepository_CountByMerchantOrderID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentTransactionRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_transactions`).
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountByMerchantOrderID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
