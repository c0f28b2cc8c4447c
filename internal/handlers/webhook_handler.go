package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/chargeup/payment-engine/internal/services"
	"github.com/chargeup/payment-engine/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody caps the callback body read into memory
const maxWebhookBody = 1 << 20

// WebhookIngestor verifies, audits and dispatches callbacks
type WebhookIngestor interface {
	Handle(ctx context.Context, req services.WebhookRequest) *services.WebhookResult
}

// WebhookHandler receives gateway callbacks
type WebhookHandler struct {
	ingestor WebhookIngestor
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingestor WebhookIngestor, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// Receive handles POST|GET /api/v1/payments/webhook. The sender always gets
// 200 so it stops retrying; the outcome is reported in the body.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		read, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			h.logger.WithError(err).Warn("Failed to read webhook body")
		}
		body = read
	}

	userAgent := utils.GetUserAgent(c)
	result := h.ingestor.Handle(c.Request.Context(), services.WebhookRequest{
		Method:      c.Request.Method,
		Query:       c.Request.URL.Query(),
		ContentType: c.ContentType(),
		Body:        body,
		IPAddress:   utils.GetRealIP(c),
		UserAgent:   userAgent,
		DeviceInfo:  utils.ParseUserAgent(userAgent).String(),
	})

	c.JSON(http.StatusOK, gin.H{
		"acknowledged": true,
		"status":       result.Outcome,
	})
}
