package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chargeup/payment-engine/internal/middleware"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CheckoutProcessor starts payments for each supported method
type CheckoutProcessor interface {
	CheckoutCard(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
	CheckoutWallet(ctx context.Context, req services.CheckoutRequest, phone string) (*services.CheckoutResult, error)
	CheckoutApplePay(ctx context.Context, req services.CheckoutRequest, walletToken string) (*services.CheckoutResult, error)
	ChargeSavedCard(ctx context.Context, req services.CheckoutRequest, instrumentID uuid.UUID) (*services.CheckoutResult, error)
	CheckoutIntention(ctx context.Context, req services.CheckoutRequest, paymentMethods []int) (*services.CheckoutResult, error)
}

// OrderReader loads local payment orders
type OrderReader interface {
	Get(ctx context.Context, merchantOrderID string) (*models.PaymentOrder, error)
}

// OrderStatusPoller refreshes an order from the gateway
type OrderStatusPoller interface {
	PollOrder(ctx context.Context, merchantOrderID string) (*services.ReconcileResult, error)
}

// InstrumentLister lists a user's saved cards
type InstrumentLister interface {
	ListByUser(ctx context.Context, userID string) ([]*models.SavedPaymentInstrument, error)
}

// PaymentHandler serves the authenticated payment endpoints
type PaymentHandler struct {
	checkout    CheckoutProcessor
	orders      OrderReader
	poller      OrderStatusPoller
	instruments InstrumentLister
	logger      *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(
	checkout CheckoutProcessor,
	orders OrderReader,
	poller OrderStatusPoller,
	instruments InstrumentLister,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		checkout:    checkout,
		orders:      orders,
		poller:      poller,
		instruments: instruments,
		logger:      logger,
	}
}

// CheckoutBody is the JSON body shared by the checkout endpoints
type CheckoutBody struct {
	MerchantOrderID string             `json:"merchant_order_id"`
	AmountCents     int64              `json:"amount_cents"`
	Currency        string             `json:"currency"`
	BillingData     models.BillingData `json:"billing_data"`
	Tokenize        bool               `json:"tokenize"`

	PhoneNumber    string `json:"phone_number,omitempty"`    // wallet
	WalletToken    string `json:"wallet_token,omitempty"`    // apple pay
	SavedCardID    string `json:"saved_card_id,omitempty"`   // saved card
	PaymentMethods []int  `json:"payment_methods,omitempty"` // intention
}

// ============================================================================
// CHECKOUT
// ============================================================================

// CheckoutCard handles POST /api/v1/payments/card
func (h *PaymentHandler) CheckoutCard(c *gin.Context) {
	_, req, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.checkout.CheckoutCard(c.Request.Context(), req)
	h.respond(c, result, err)
}

// CheckoutWallet handles POST /api/v1/payments/wallet
func (h *PaymentHandler) CheckoutWallet(c *gin.Context) {
	body, req, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.checkout.CheckoutWallet(c.Request.Context(), req, body.PhoneNumber)
	h.respond(c, result, err)
}

// CheckoutApplePay handles POST /api/v1/payments/apple-pay
func (h *PaymentHandler) CheckoutApplePay(c *gin.Context) {
	body, req, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.checkout.CheckoutApplePay(c.Request.Context(), req, body.WalletToken)
	h.respond(c, result, err)
}

// ChargeSavedCard handles POST /api/v1/payments/saved-card
func (h *PaymentHandler) ChargeSavedCard(c *gin.Context) {
	body, req, ok := h.bind(c)
	if !ok {
		return
	}

	instrumentID, err := uuid.Parse(strings.TrimSpace(body.SavedCardID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "saved_card_id must be a valid id",
			"code":    "INVALID_REQUEST",
		})
		return
	}

	result, err := h.checkout.ChargeSavedCard(c.Request.Context(), req, instrumentID)
	h.respond(c, result, err)
}

// CheckoutIntention handles POST /api/v1/payments/intention
func (h *PaymentHandler) CheckoutIntention(c *gin.Context) {
	body, req, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.checkout.CheckoutIntention(c.Request.Context(), req, body.PaymentMethods)
	h.respond(c, result, err)
}

// bind decodes the body and attaches the caller identity
func (h *PaymentHandler) bind(c *gin.Context) (CheckoutBody, services.CheckoutRequest, bool) {
	var body CheckoutBody

	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "sign in to start a payment",
			"code":    "UNAUTHORIZED",
		})
		return body, services.CheckoutRequest{}, false
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.WithError(err).Warn("Invalid checkout request body")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
			"code":    "INVALID_REQUEST",
		})
		return body, services.CheckoutRequest{}, false
	}

	return body, services.CheckoutRequest{
		UserID:          userCtx.UserID,
		MerchantOrderID: body.MerchantOrderID,
		AmountCents:     body.AmountCents,
		Currency:        body.Currency,
		Billing:         body.BillingData,
		Tokenize:        body.Tokenize,
	}, true
}

func (h *PaymentHandler) respond(c *gin.Context, result *services.CheckoutResult, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// STATUS & SAVED CARDS
// ============================================================================

// GetOrderStatus handles GET /api/v1/payments/orders/:merchant_order_id/status.
// The order is refreshed from the gateway; if that fails the stored status is returned.
func (h *PaymentHandler) GetOrderStatus(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, services.ErrUnauthorized)
		return
	}

	merchantOrderID := strings.TrimSpace(c.Param("merchant_order_id"))
	order, err := h.orders.Get(c.Request.Context(), merchantOrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	// Other users' orders are reported as missing
	if order.UserID != userCtx.UserID {
		respondError(c, services.ErrOrderNotFound)
		return
	}

	response := gin.H{
		"merchant_order_id": order.MerchantOrderID,
		"gateway_order_id":  order.GatewayOrderID,
		"amount_cents":      order.AmountCents,
		"currency":          order.Currency,
		"status":            order.Status,
		"refreshed":         false,
	}

	result, err := h.poller.PollOrder(c.Request.Context(), merchantOrderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			respondError(c, err)
			return
		}
		h.logger.WithError(err).WithField("merchant_order_id", merchantOrderID).Warn("Order status refresh failed")
		c.JSON(http.StatusOK, response)
		return
	}

	response["status"] = result.Status
	response["previous_status"] = result.PreviousStatus
	response["status_changed"] = result.StatusChanged
	response["refreshed"] = true
	if result.GatewayOrderID > 0 {
		response["gateway_order_id"] = result.GatewayOrderID
	}
	c.JSON(http.StatusOK, response)
}

// ListSavedCards handles GET /api/v1/payments/saved-cards
func (h *PaymentHandler) ListSavedCards(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, services.ErrUnauthorized)
		return
	}

	cards, err := h.instruments.ListByUser(c.Request.Context(), userCtx.UserID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userCtx.UserID).Error("Failed to list saved cards")
		respondError(c, err)
		return
	}
	if cards == nil {
		cards = []*models.SavedPaymentInstrument{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cards": cards,
		"count": len(cards),
	})
}
