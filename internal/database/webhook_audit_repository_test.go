package database

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWebhookAuditRepository_Log(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookAuditRepository(db, quietLogger())
	ctx := context.Background()

	t.Run("Invalid Signature Still Logged", func(t *testing.T) {
		audit := models.NewWebhookAuditLog(models.WebhookEventTransaction, `{"obj":{"id":1}}`).
			SetIdentifiers("ord-1", 987, 555).
			SetMetadata("POST", "203.0.113.9", "Go-http-client/1.1", "")
		audit.Fields = models.JSONB{"obj.id": "1"}

		mock.ExpectExec(`INSERT INTO webhook_audit_logs`).
			WithArgs(audit.ID, "TRANSACTION",
				"ord-1", int64(987), int64(555),
				false, false, "ignored", nil,
				`{"obj":{"id":1}}`, sqlmock.AnyArg(),
				"POST", "203.0.113.9", "Go-http-client/1.1", nil,
				sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Log(ctx, audit))
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO webhook_audit_logs`).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Log(ctx, models.NewWebhookAuditLog(models.WebhookEventUnknown, "{}"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to log webhook audit")
	})

	t.Run("Nil Entry", func(t *testing.T) {
		assert.Error(t, repo.Log(ctx, nil))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
