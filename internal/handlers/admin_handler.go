package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TransactionHistory lists an order's transactions
type TransactionHistory interface {
	ListByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*models.PaymentTransaction, error)
}

// WebhookHistory lists the callbacks received for an order
type WebhookHistory interface {
	ListByMerchantOrderID(ctx context.Context, merchantOrderID string) ([]*models.WebhookAuditLog, error)
}

// JobStatusProvider reports scheduled job state
type JobStatusProvider interface {
	GetJobStatus() map[string]interface{}
}

// AdminHandler serves operator endpoints for inspecting payments
type AdminHandler struct {
	orders       OrderReader
	transactions TransactionHistory
	webhooks     WebhookHistory
	jobs         JobStatusProvider
	logger       *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	orders OrderReader,
	transactions TransactionHistory,
	webhooks WebhookHistory,
	jobs JobStatusProvider,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		orders:       orders,
		transactions: transactions,
		webhooks:     webhooks,
		jobs:         jobs,
		logger:       logger,
	}
}

// GetOrder handles GET /api/v1/admin/orders/:merchant_order_id.
// It returns the order with its transactions and webhook audit trail.
func (h *AdminHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	merchantOrderID := strings.TrimSpace(c.Param("merchant_order_id"))

	order, err := h.orders.Get(ctx, merchantOrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	transactions, err := h.transactions.ListByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		h.logger.WithError(err).WithField("merchant_order_id", merchantOrderID).Error("Failed to list transactions")
		respondError(c, err)
		return
	}

	webhooks, err := h.webhooks.ListByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		h.logger.WithError(err).WithField("merchant_order_id", merchantOrderID).Error("Failed to list webhook audits")
		respondError(c, err)
		return
	}

	if transactions == nil {
		transactions = []*models.PaymentTransaction{}
	}
	if webhooks == nil {
		webhooks = []*models.WebhookAuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"order":        order,
		"transactions": transactions,
		"webhooks":     webhooks,
	})
}

// GetJobStatus handles GET /api/v1/admin/jobs
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}
