package database

import (
	"context"
	"fmt"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// WebhookAuditRepository appends webhook audit rows
type WebhookAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewWebhookAuditRepository creates a new webhook audit repository
func NewWebhookAuditRepository(db *sqlx.DB, logger *logrus.Logger) *WebhookAuditRepository {
	return &WebhookAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log inserts an audit entry. Rows are never updated afterwards.
func (r *WebhookAuditRepository) Log(ctx context.Context, audit *models.WebhookAuditLog) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.ReceivedAt.IsZero() {
		audit.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO webhook_audit_logs (
			id, event_type,
			merchant_order_id, gateway_order_id, gateway_transaction_id,
			is_hmac_valid, is_processed, outcome, error_message,
			raw_payload, fields,
			http_method, ip_address, user_agent, device_info,
			received_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15,
			$16
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.EventType,
		audit.MerchantOrderID, audit.GatewayOrderID, audit.GatewayTransactionID,
		audit.IsHmacValid, audit.IsProcessed, audit.Outcome, audit.ErrorMessage,
		audit.RawPayload, audit.Fields,
		audit.HTTPMethod, audit.IPAddress, audit.UserAgent, audit.DeviceInfo,
		audit.ReceivedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":    audit.EventType,
			"is_hmac_valid": audit.IsHmacValid,
		}).Error("CRITICAL: Failed to write webhook audit log")
		return fmt.Errorf("failed to log webhook audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"outcome":    audit.Outcome,
	}).Debug("Webhook audit logged")

	return nil
}

// ListByMerchantOrderID returns the audit trail of an order, oldest first
func (r *WebhookAuditRepository) ListByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*models.WebhookAuditLog, error) {
	var audits []*models.WebhookAuditLog
	query := `
		SELECT * FROM webhook_audit_logs
		WHERE merchant_order_id = $1
		ORDER BY received_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, merchantOrderID); err != nil {
		return nil, fmt.Errorf("failed to list webhook audits: %w", err)
	}
	return audits, nil
}
