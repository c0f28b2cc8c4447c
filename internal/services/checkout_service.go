package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/metrics"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/chargeup/payment-engine/pkg/validator"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Checkout methods, used for logs and metrics
const (
	MethodCard      = "card"
	MethodWallet    = "wallet"
	MethodApplePay  = "apple_pay"
	MethodSavedCard = "saved_card"
	MethodIntention = "intention"
)

// CheckoutConfig holds gateway identifiers used by checkout
type CheckoutConfig struct {
	DefaultCurrency       string
	IframeID              int
	CardIntegrationID     int
	WalletIntegrationID   int
	ApplePayIntegrationID int
	MotoIntegrationID     int // tokenized saved-card charges
	PaymentKeyTTL         time.Duration
	PublicKey             string
	CheckoutURL           string
}

// CheckoutRequest is the method-independent part of a checkout call
type CheckoutRequest struct {
	UserID          string
	MerchantOrderID string // generated when empty
	AmountCents     int64
	Currency        string // config default when empty
	Billing         models.BillingData
	Tokenize        bool
}

// CheckoutResult is the payload returned to the client. Fields not produced
// by a method are left empty.
type CheckoutResult struct {
	Method          string             `json:"method"`
	MerchantOrderID string             `json:"merchant_order_id"`
	GatewayOrderID  int64              `json:"gateway_order_id,omitempty"`
	Status          models.OrderStatus `json:"status"`
	PaymentKey      string             `json:"payment_key,omitempty"`
	IframeURL       string             `json:"iframe_url,omitempty"`
	RedirectURL     string             `json:"redirect_url,omitempty"`
	Reference       string             `json:"reference,omitempty"`
	TransactionID   int64              `json:"transaction_id,omitempty"`
	Success         bool               `json:"success"`
	Pending         bool               `json:"pending"`
	Message         string             `json:"message,omitempty"`
	IntentionID     string             `json:"intention_id,omitempty"`
	ClientSecret    string             `json:"client_secret,omitempty"`
	CheckoutURL     string             `json:"checkout_url,omitempty"`
}

// CheckoutService orchestrates checkout per payment method. Every method
// serializes on the merchant order id: upsert, bind, issue key, complete.
type CheckoutService struct {
	config       CheckoutConfig
	locks        *OrderLock
	ledger       *OrderLedger
	binder       *GatewayOrderBinder
	keys         *PaymentKeyIssuer
	reconciler   *ReconciliationService
	gateway      Gateway
	transactions TransactionStore
	instruments  InstrumentStore
	phones       *validator.PhoneValidator
	logger       *logrus.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	config CheckoutConfig,
	locks *OrderLock,
	ledger *OrderLedger,
	binder *GatewayOrderBinder,
	keys *PaymentKeyIssuer,
	reconciler *ReconciliationService,
	gateway Gateway,
	transactions TransactionStore,
	instruments InstrumentStore,
	logger *logrus.Logger,
) *CheckoutService {
	return &CheckoutService{
		config:       config,
		locks:        locks,
		ledger:       ledger,
		binder:       binder,
		keys:         keys,
		reconciler:   reconciler,
		gateway:      gateway,
		transactions: transactions,
		instruments:  instruments,
		phones:       validator.NewPhoneValidator(),
		logger:       logger,
	}
}

// ============================================================================
// CARD
// ============================================================================

// CheckoutCard returns the hosted card form URL for the order
func (s *CheckoutService) CheckoutCard(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.normalize(&req); err != nil {
		return s.done(MethodCard, &req, nil, err)
	}

	var result *CheckoutResult
	err := s.locks.WithLock(ctx, req.MerchantOrderID, func() error {
		order, key, err := s.prepare(ctx, req, s.config.CardIntegrationID, models.IntegrationCard)
		if err != nil {
			return err
		}
		result = newCheckoutResult(MethodCard, order)
		result.PaymentKey = key
		result.IframeURL = s.gateway.IframeURL(s.config.IframeID, key)
		result.Pending = true
		return nil
	})
	return s.done(MethodCard, &req, result, err)
}

// ============================================================================
// WALLET
// ============================================================================

// CheckoutWallet charges a mobile wallet and returns its redirect URL
func (s *CheckoutService) CheckoutWallet(ctx context.Context, req CheckoutRequest, phone string) (*CheckoutResult, error) {
	walletPhone, err := s.phones.Validate(phone)
	if err != nil {
		return s.done(MethodWallet, &req, nil, newPaymentError(ErrInvalidWalletPhone, err.Error(), nil))
	}
	if err := s.normalize(&req); err != nil {
		return s.done(MethodWallet, &req, nil, err)
	}

	var result *CheckoutResult
	err = s.locks.WithLock(ctx, req.MerchantOrderID, func() error {
		order, key, err := s.prepare(ctx, req, s.config.WalletIntegrationID, models.IntegrationWallet)
		if err != nil {
			return err
		}

		pay, err := s.gateway.Pay(ctx, key, paymob.PaySource{Identifier: walletPhone, Subtype: paymob.SourceWallet})
		if err != nil {
			return gatewayError("wallet pay", err)
		}

		result = newCheckoutResult(MethodWallet, order)
		fillPayResult(result, pay)
		result.Status = s.applyPayResult(ctx, order, models.IntegrationWallet, pay)
		return nil
	})
	return s.done(MethodWallet, &req, result, err)
}

// ============================================================================
// APPLE PAY
// ============================================================================

// CheckoutApplePay charges an Apple Pay wallet token server to server, then
// polls the gateway so the ledger reflects the outcome without a webhook
func (s *CheckoutService) CheckoutApplePay(ctx context.Context, req CheckoutRequest, walletToken string) (*CheckoutResult, error) {
	walletToken = strings.TrimSpace(walletToken)
	if walletToken == "" {
		return s.done(MethodApplePay, &req, nil, newPaymentError(ErrInvalidRequest, "apple pay token is required", nil))
	}
	if err := s.normalize(&req); err != nil {
		return s.done(MethodApplePay, &req, nil, err)
	}

	var result *CheckoutResult
	err := s.locks.WithLock(ctx, req.MerchantOrderID, func() error {
		order, key, err := s.prepare(ctx, req, s.config.ApplePayIntegrationID, models.IntegrationApplePay)
		if err != nil {
			return err
		}

		pay, err := s.gateway.Pay(ctx, key, paymob.PaySource{Identifier: walletToken, Subtype: paymob.SourceApplePay})
		if err != nil {
			return gatewayError("apple pay", err)
		}

		result = newCheckoutResult(MethodApplePay, order)
		fillPayResult(result, pay)
		result.Status = s.applyPayResult(ctx, order, models.IntegrationApplePay, pay)
		return nil
	})
	if err == nil {
		s.pollAfterCharge(ctx, result)
	}
	return s.done(MethodApplePay, &req, result, err)
}

// ============================================================================
// SAVED CARD
// ============================================================================

// ChargeSavedCard charges one of the caller's saved instruments, then polls
// the gateway for the outcome
func (s *CheckoutService) ChargeSavedCard(ctx context.Context, req CheckoutRequest, instrumentID uuid.UUID) (*CheckoutResult, error) {
	if req.UserID == "" {
		return s.done(MethodSavedCard, &req, nil, newPaymentError(ErrUnauthorized, "sign in to start a payment", nil))
	}
	inst, err := s.instruments.GetByIDForUser(ctx, instrumentID, req.UserID)
	if err != nil {
		return s.done(MethodSavedCard, &req, nil, err)
	}
	if inst == nil {
		return s.done(MethodSavedCard, &req, nil, newPaymentError(ErrSavedCardNotFound, "saved card not found", nil))
	}
	if err := s.normalize(&req); err != nil {
		return s.done(MethodSavedCard, &req, nil, err)
	}

	var result *CheckoutResult
	err = s.locks.WithLock(ctx, req.MerchantOrderID, func() error {
		order, key, err := s.prepare(ctx, req, s.config.MotoIntegrationID, models.IntegrationCardToken)
		if err != nil {
			return err
		}

		pay, err := s.gateway.Pay(ctx, key, paymob.PaySource{Identifier: inst.Token, Subtype: paymob.SourceToken})
		if err != nil {
			return gatewayError("saved card pay", err)
		}

		result = newCheckoutResult(MethodSavedCard, order)
		fillPayResult(result, pay)
		result.Status = s.applyPayResult(ctx, order, models.IntegrationCardToken, pay)
		return nil
	})
	if err == nil {
		s.pollAfterCharge(ctx, result)
	}
	return s.done(MethodSavedCard, &req, result, err)
}

// ============================================================================
// INTENTION
// ============================================================================

// CheckoutIntention creates a payment intention for client-side confirmation.
// paymentMethods defaults to the card integration.
func (s *CheckoutService) CheckoutIntention(ctx context.Context, req CheckoutRequest, paymentMethods []int) (*CheckoutResult, error) {
	if err := s.normalize(&req); err != nil {
		return s.done(MethodIntention, &req, nil, err)
	}
	if len(paymentMethods) == 0 {
		paymentMethods = []int{s.config.CardIntegrationID}
	}

	var result *CheckoutResult
	err := s.locks.WithLock(ctx, req.MerchantOrderID, func() error {
		order, err := s.upsert(ctx, req)
		if err != nil {
			return err
		}

		reference := CompositeMerchantOrderID(order.UserID, order.MerchantOrderID)
		intention, err := s.gateway.CreateIntention(ctx, paymob.IntentionRequest{
			Amount:           order.AmountCents,
			Currency:         order.Currency,
			PaymentMethods:   paymentMethods,
			BillingData:      paymob.BillingData(req.Billing),
			SpecialReference: reference,
			Tokenize:         req.Tokenize,
			MerchantOrderID:  reference,
			Metadata: map[string]interface{}{
				"user_id":           order.UserID,
				"merchant_order_id": order.MerchantOrderID,
			},
			Items: []interface{}{},
		})
		if err != nil {
			return gatewayError("intention", err)
		}

		if _, err := s.binder.Adopt(ctx, order, intention.GatewayOrderID()); err != nil {
			return err
		}
		s.recordInitialTransaction(ctx, order, models.IntegrationIntention)

		result = newCheckoutResult(MethodIntention, order)
		result.IntentionID = intention.ID
		result.ClientSecret = intention.ClientSecret
		result.RedirectURL = intention.RedirectionURL
		result.CheckoutURL = s.unifiedCheckoutURL(intention.ClientSecret)
		result.Pending = true
		return nil
	})
	return s.done(MethodIntention, &req, result, err)
}

// ============================================================================
// SHARED STEPS
// ============================================================================

// normalize validates the request and fills defaults before any network call
func (s *CheckoutService) normalize(req *CheckoutRequest) error {
	if req.UserID == "" {
		return newPaymentError(ErrUnauthorized, "sign in to start a payment", nil)
	}
	if req.AmountCents <= 0 {
		return newPaymentError(ErrInvalidAmount, "amount must be greater than zero", nil)
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = s.config.DefaultCurrency
	}
	req.MerchantOrderID = strings.TrimSpace(req.MerchantOrderID)
	if req.MerchantOrderID == "" {
		req.MerchantOrderID = uuid.NewString()
	}

	billing, err := ValidateBilling(req.Billing)
	if err != nil {
		return err
	}
	req.Billing = billing
	return nil
}

func (s *CheckoutService) upsert(ctx context.Context, req CheckoutRequest) (*models.PaymentOrder, error) {
	order, err := s.ledger.UpsertOrder(ctx, req.MerchantOrderID, req.AmountCents, req.Currency, req.UserID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsSettled() {
		return nil, newPaymentError(ErrOrderSettled, fmt.Sprintf("order is already %s", order.Status), nil)
	}
	return order, nil
}

// prepare runs upsert, bind and key issuance. Callers hold the order lock.
func (s *CheckoutService) prepare(ctx context.Context, req CheckoutRequest, integrationID int, integration models.IntegrationType) (*models.PaymentOrder, string, error) {
	order, err := s.upsert(ctx, req)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.binder.Bind(ctx, order); err != nil {
		return nil, "", err
	}

	key, err := s.keys.GetOrCreateKey(ctx, order, KeyRequest{
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		Billing:       req.Billing,
		IntegrationID: integrationID,
		TTL:           s.config.PaymentKeyTTL,
		Tokenize:      req.Tokenize,
	})
	if err != nil {
		return nil, "", err
	}

	s.recordInitialTransaction(ctx, order, integration)
	return order, key, nil
}

// recordInitialTransaction writes a Pending row the first time an order is checked out
func (s *CheckoutService) recordInitialTransaction(ctx context.Context, order *models.PaymentOrder, integration models.IntegrationType) {
	log := s.logger.WithField("merchant_order_id", order.MerchantOrderID)

	count, err := s.transactions.CountByMerchantOrderID(ctx, order.MerchantOrderID)
	if err != nil {
		log.WithError(err).Warn("Failed to count transactions")
		return
	}
	if count > 0 {
		return
	}
	if err := s.transactions.Create(ctx, models.NewPendingTransaction(order, integration)); err != nil {
		log.WithError(err).Warn("Failed to record initial transaction")
	}
}

// applyPayResult reconciles a synchronous pay response. Opaque responses
// leave the order untouched for the webhook or poll to settle.
func (s *CheckoutService) applyPayResult(ctx context.Context, order *models.PaymentOrder, integration models.IntegrationType, pay *paymob.PayResult) models.OrderStatus {
	if pay.Kind == paymob.PayKindOpaque || pay.TransactionID <= 0 {
		return order.Status
	}

	gatewayOrderID := pay.OrderID
	if gatewayOrderID == 0 && order.GatewayOrderID != nil {
		gatewayOrderID = *order.GatewayOrderID
	}

	res, err := s.reconciler.apply(ctx, Observation{
		MerchantOrderID:      order.MerchantOrderID,
		GatewayOrderID:       gatewayOrderID,
		GatewayTransactionID: pay.TransactionID,
		AmountCents:          order.AmountCents,
		Currency:             order.Currency,
		Status:               PayResultStatus(pay),
		IsSuccess:            pay.Success,
		IsPending:            pay.Pending,
		ResponseCode:         pay.ResponseCode,
		ResponseMessage:      pay.Message,
		IntegrationType:      integration,
		Source:               models.TransactionSourceCheckout,
	})
	if err != nil {
		s.logger.WithError(err).WithField("merchant_order_id", order.MerchantOrderID).Warn("Failed to apply pay response")
		return order.Status
	}
	return res.Status
}

// pollAfterCharge refreshes the result from the gateway's view of the order
func (s *CheckoutService) pollAfterCharge(ctx context.Context, result *CheckoutResult) {
	polled, err := s.reconciler.PollOrder(ctx, result.MerchantOrderID)
	if err != nil {
		s.logger.WithError(err).WithField("merchant_order_id", result.MerchantOrderID).Warn("Post-charge poll failed")
		return
	}
	result.Status = polled.Status
}

func (s *CheckoutService) unifiedCheckoutURL(clientSecret string) string {
	if s.config.CheckoutURL == "" || clientSecret == "" {
		return ""
	}
	q := url.Values{}
	q.Set("publicKey", s.config.PublicKey)
	q.Set("clientSecret", clientSecret)
	return s.config.CheckoutURL + "?" + q.Encode()
}

func (s *CheckoutService) done(method string, req *CheckoutRequest, result *CheckoutResult, err error) (*CheckoutResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"method":            method,
		"merchant_order_id": req.MerchantOrderID,
		"user_id":           req.UserID,
	})
	if err != nil {
		metrics.IncCheckout(method, strings.ToLower(ErrorCode(err)))
		log.WithError(err).Warn("Checkout failed")
		return nil, err
	}

	metrics.IncCheckout(method, "ok")
	log.WithFields(logrus.Fields{
		"gateway_order_id": result.GatewayOrderID,
		"status":           result.Status,
	}).Info("Checkout completed")
	return result, nil
}

func newCheckoutResult(method string, order *models.PaymentOrder) *CheckoutResult {
	result := &CheckoutResult{
		Method:          method,
		MerchantOrderID: order.MerchantOrderID,
		Status:          order.Status,
	}
	if order.GatewayOrderID != nil {
		result.GatewayOrderID = *order.GatewayOrderID
	}
	return result
}

func fillPayResult(result *CheckoutResult, pay *paymob.PayResult) {
	result.Success = pay.Success
	result.Pending = pay.Pending
	result.TransactionID = pay.TransactionID
	result.RedirectURL = pay.RedirectURL
	result.Reference = pay.Reference
	result.Message = pay.Message
	if pay.Kind == paymob.PayKindOpaque {
		result.Pending = true
		result.Message = "awaiting gateway confirmation"
	}
}
