package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/chargeup/payment-engine/internal/database"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/metrics"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observation is one reported payment outcome, from a webhook, a poll or a
// synchronous pay response
type Observation struct {
	MerchantOrderID      string // plain or composite
	GatewayOrderID       int64
	GatewayTransactionID int64
	AmountCents          int64
	Currency             string
	Status               models.OrderStatus // order-level status
	TransactionStatus    models.OrderStatus // defaults to Status
	IsSuccess            bool
	IsPending            bool
	SignatureVerified    bool
	ResponseCode         string
	ResponseMessage      string
	IntegrationType      models.IntegrationType
	Source               models.TransactionSource
}

// ReconcileResult describes what applying an observation changed
type ReconcileResult struct {
	MerchantOrderID    string             `json:"merchant_order_id"`
	GatewayOrderID     int64              `json:"gateway_order_id,omitempty"`
	PreviousStatus     models.OrderStatus `json:"previous_status"`
	Status             models.OrderStatus `json:"status"`
	StatusChanged      bool               `json:"status_changed"`
	TransactionID      uuid.UUID          `json:"transaction_id,omitempty"`
	TransactionCreated bool               `json:"transaction_created"`
}

// DeriveTransactionStatus applies the gateway flag precedence:
// success, then pending, voided, refunded, else failed
func DeriveTransactionStatus(success, pending, voided, refunded bool) models.OrderStatus {
	switch {
	case success:
		return models.OrderStatusPaid
	case pending:
		return models.OrderStatusPending
	case voided:
		return models.OrderStatusVoided
	case refunded:
		return models.OrderStatusRefunded
	}
	return models.OrderStatusFailed
}

// PayResultStatus classifies a synchronous pay response. Only a response
// that is successful and not pending counts as paid.
func PayResultStatus(r *paymob.PayResult) models.OrderStatus {
	switch {
	case r.ConfirmedPaid():
		return models.OrderStatusPaid
	case r.Success || r.Pending:
		return models.OrderStatusPending
	}
	return models.OrderStatusFailed
}

// InferOrderStatus derives an order-level status from a polled order,
// falling back to amounts and flags when the gateway omits one
func InferOrderStatus(order *paymob.OrderResource, txn paymob.TransactionResource, hasTxn bool) models.OrderStatus {
	if status, ok := models.NormalizeOrderStatus(order.PaymentStatus); ok {
		return status
	}
	switch {
	case order.AmountCents > 0 && order.PaidAmountCents >= order.AmountCents:
		return models.OrderStatusPaid
	case order.IsRefunded:
		return models.OrderStatusRefunded
	case order.IsVoided:
		return models.OrderStatusVoided
	case hasTxn:
		return DeriveTransactionStatus(txn.Success, txn.Pending, txn.IsVoided, txn.IsRefunded)
	}
	return models.OrderStatusAwaitingPayment
}

// ReconciliationService applies webhook and poll observations to the order
// and transaction ledgers. Both paths share one update so whichever arrives
// second converges on the same state.
type ReconciliationService struct {
	orders       OrderStore
	transactions TransactionStore
	gateway      Gateway
	tokens       AuthTokens
	locks        *OrderLock
	logger       *logrus.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	orders OrderStore,
	transactions TransactionStore,
	gateway Gateway,
	tokens AuthTokens,
	locks *OrderLock,
	logger *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		orders:       orders,
		transactions: transactions,
		gateway:      gateway,
		tokens:       tokens,
		locks:        locks,
		logger:       logger,
	}
}

// ============================================================================
// WEBHOOK PATH
// ============================================================================

// ObservationFromWebhook extracts a transaction observation from verified callback fields
func ObservationFromWebhook(f paymob.Fields) Observation {
	success := f.ObjBool("success")
	pending := f.ObjBool("pending")
	voided := f.ObjBool("is_voided")
	refunded := f.ObjBool("is_refunded")

	return Observation{
		MerchantOrderID:      f.ObjString("order.merchant_order_id", "merchant_order_id"),
		GatewayOrderID:       f.ObjInt64("order.id", "order"),
		GatewayTransactionID: f.ObjInt64("id"),
		AmountCents:          f.ObjInt64("amount_cents"),
		Currency:             f.ObjString("currency"),
		Status:               DeriveTransactionStatus(success, pending, voided, refunded),
		IsSuccess:            success,
		IsPending:            pending,
		SignatureVerified:    true,
		ResponseCode:         f.ObjString("data.txn_response_code", "txn_response_code"),
		ResponseMessage:      f.ObjString("data.message", "message"),
		IntegrationType:      models.IntegrationWebhook,
		Source:               models.TransactionSourceWebhook,
	}
}

// ApplyWebhook reconciles a verified transaction callback
func (s *ReconciliationService) ApplyWebhook(ctx context.Context, f paymob.Fields) (*ReconcileResult, error) {
	return s.Apply(ctx, ObservationFromWebhook(f))
}

// Apply resolves the observation's order, then updates it under the order lock.
// It returns ErrOrderNotFound when no identifier resolves.
func (s *ReconciliationService) Apply(ctx context.Context, obs Observation) (*ReconcileResult, error) {
	order, err := s.resolveOrder(ctx, obs)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, order.MerchantOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	obs.MerchantOrderID = order.MerchantOrderID
	return s.apply(ctx, obs)
}

// apply requires the order lock for obs.MerchantOrderID, which must be a
// local merchant order id
func (s *ReconciliationService) apply(ctx context.Context, obs Observation) (*ReconcileResult, error) {
	order, err := s.orders.GetByMerchantOrderID(ctx, obs.MerchantOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	log := s.logger.WithFields(logrus.Fields{
		"merchant_order_id":      order.MerchantOrderID,
		"gateway_transaction_id": obs.GatewayTransactionID,
		"source":                 obs.Source,
	})

	result := &ReconcileResult{
		MerchantOrderID: order.MerchantOrderID,
		PreviousStatus:  order.Status,
		Status:          order.Status,
	}
	if order.GatewayOrderID != nil {
		result.GatewayOrderID = *order.GatewayOrderID
	}

	if obs.Status != "" && obs.Status != order.Status {
		if order.Status.CanTransitionTo(obs.Status) {
			if err := s.orders.UpdateStatus(ctx, order.MerchantOrderID, obs.Status); err != nil {
				return nil, err
			}
			result.Status = obs.Status
			result.StatusChanged = true
			log.WithFields(logrus.Fields{
				"from": order.Status,
				"to":   obs.Status,
			}).Info("Payment order status updated")
		} else {
			log.WithFields(logrus.Fields{
				"current":  order.Status,
				"observed": obs.Status,
			}).Info("Ignoring status that would reopen a settled order")
		}
	}

	if obs.GatewayTransactionID > 0 {
		txn, created, err := s.upsertTransaction(ctx, order, obs)
		if err != nil {
			return nil, err
		}
		result.TransactionID = txn.ID
		result.TransactionCreated = created
	}

	metrics.IncReconciliation(string(obs.Source), string(result.Status))
	return result, nil
}

func (s *ReconciliationService) resolveOrder(ctx context.Context, obs Observation) (*models.PaymentOrder, error) {
	if obs.MerchantOrderID != "" {
		merchantOrderID, _ := ParseMerchantOrderID(obs.MerchantOrderID)
		order, err := s.orders.GetByMerchantOrderID(ctx, merchantOrderID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	if obs.GatewayOrderID > 0 {
		order, err := s.orders.GetByGatewayOrderID(ctx, obs.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, ErrOrderNotFound
}

// upsertTransaction matches by gateway transaction id, then adopts the
// order's newest unmatched row, else inserts
func (s *ReconciliationService) upsertTransaction(ctx context.Context, order *models.PaymentOrder, obs Observation) (*models.PaymentTransaction, bool, error) {
	txn, err := s.transactions.GetByGatewayTransactionID(ctx, obs.GatewayTransactionID)
	if err != nil {
		return nil, false, err
	}
	if txn == nil {
		if txn, err = s.transactions.GetLatestUnmatched(ctx, order.MerchantOrderID); err != nil {
			return nil, false, err
		}
	}

	if txn == nil {
		txn = &models.PaymentTransaction{
			MerchantOrderID: order.MerchantOrderID,
			IntegrationType: obs.IntegrationType,
			AmountCents:     order.AmountCents,
			Currency:        order.Currency,
		}
		mergeObservation(txn, order, obs)

		err := s.transactions.Create(ctx, txn)
		if err == nil {
			return txn, true, nil
		}
		if !errors.Is(err, database.ErrUniqueViolation) {
			return nil, false, err
		}

		// Another instance recorded the same gateway transaction first
		existing, getErr := s.transactions.GetByGatewayTransactionID(ctx, obs.GatewayTransactionID)
		if getErr != nil || existing == nil {
			return nil, false, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
		}
		txn = existing
	}

	mergeObservation(txn, order, obs)
	if err := s.transactions.Update(ctx, txn); err != nil {
		return nil, false, err
	}
	return txn, false, nil
}

// mergeObservation copies observed fields onto the row without letting a
// stale observation reopen a settled transaction
func mergeObservation(txn *models.PaymentTransaction, order *models.PaymentOrder, obs Observation) {
	status := obs.TransactionStatus
	if status == "" {
		status = obs.Status
	}
	if txn.Status != "" && !txn.Status.CanTransitionTo(status) {
		return
	}

	gatewayTransactionID := obs.GatewayTransactionID
	txn.GatewayTransactionID = &gatewayTransactionID
	if obs.GatewayOrderID > 0 {
		gatewayOrderID := obs.GatewayOrderID
		txn.GatewayOrderID = &gatewayOrderID
	} else if order.GatewayOrderID != nil {
		txn.GatewayOrderID = order.GatewayOrderID
	}
	if obs.AmountCents > 0 {
		txn.AmountCents = obs.AmountCents
	}
	if obs.Currency != "" {
		txn.Currency = obs.Currency
	}
	txn.Status = status
	txn.IsSuccess = obs.IsSuccess
	txn.IsPending = obs.IsPending
	txn.SignatureVerified = txn.SignatureVerified || obs.SignatureVerified
	if obs.ResponseCode != "" {
		txn.ResponseCode = &obs.ResponseCode
	}
	if obs.ResponseMessage != "" {
		txn.ResponseMessage = &obs.ResponseMessage
	}
	txn.Source = obs.Source
}

// ============================================================================
// POLL PATH
// ============================================================================

// PollOrder queries the gateway for the order's current state and applies it
func (s *ReconciliationService) PollOrder(ctx context.Context, merchantOrderID string) (*ReconcileResult, error) {
	order, err := s.orders.GetByMerchantOrderID(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !order.IsBound() {
		return &ReconcileResult{
			MerchantOrderID: order.MerchantOrderID,
			PreviousStatus:  order.Status,
			Status:          order.Status,
		}, nil
	}

	obs, err := s.observeOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, order.MerchantOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.apply(ctx, obs)
}

func (s *ReconciliationService) observeOrder(ctx context.Context, order *models.PaymentOrder) (Observation, error) {
	gatewayOrderID := *order.GatewayOrderID

	var resource *paymob.OrderResource
	var token string
	err := withAuthRetry(ctx, s.tokens, func(t string) error {
		token = t
		r, err := s.gateway.GetOrder(ctx, t, gatewayOrderID)
		resource = r
		return err
	})
	if err != nil {
		return Observation{}, gatewayError("order query", err)
	}

	txn, hasTxn := resource.LatestTransaction()
	if !hasTxn {
		txn, hasTxn, err = s.gateway.LatestTransaction(ctx, token, gatewayOrderID)
		if err != nil {
			s.logger.WithError(err).WithField("gateway_order_id", gatewayOrderID).Warn("Transaction list query failed")
			hasTxn = false
		}
	}

	status := InferOrderStatus(resource, txn, hasTxn)
	if status == models.OrderStatusAwaitingPayment {
		// No outcome reported yet
		status = ""
	}

	integration := models.IntegrationWebhook
	if hasTxn {
		if local := s.localIntegration(ctx, order.MerchantOrderID, int64(txn.ID)); local != "" {
			integration = local
		}
	}

	obs := Observation{
		MerchantOrderID: order.MerchantOrderID,
		GatewayOrderID:  gatewayOrderID,
		Status:          status,
		IntegrationType: integration,
		Source:          models.TransactionSourcePoll,
	}
	if hasTxn {
		obs.GatewayTransactionID = int64(txn.ID)
		obs.AmountCents = int64(txn.AmountCents)
		obs.Currency = txn.Currency
		obs.TransactionStatus = DeriveTransactionStatus(txn.Success, txn.Pending, txn.IsVoided, txn.IsRefunded)
		if strictPaidRule(integration) && txn.Success && txn.Pending {
			obs.Status = models.OrderStatusPending
			obs.TransactionStatus = models.OrderStatusPending
		}
		obs.IsSuccess = txn.Success
		obs.IsPending = txn.Pending
		obs.ResponseCode = txn.Data.TxnResponseCode
		obs.ResponseMessage = txn.Data.Message
	}
	return obs, nil
}

// strictPaidRule reports whether charges made through integration count as
// paid only when the gateway reports success and no longer pending.
// Server-initiated charges (Apple Pay, saved cards) follow it.
func strictPaidRule(integration models.IntegrationType) bool {
	return integration == models.IntegrationApplePay || integration == models.IntegrationCardToken
}

// localIntegration returns the integration that produced the polled
// transaction, from the matching local row or the order's unmatched row
func (s *ReconciliationService) localIntegration(ctx context.Context, merchantOrderID string, gatewayTransactionID int64) models.IntegrationType {
	txn, err := s.transactions.GetByGatewayTransactionID(ctx, gatewayTransactionID)
	if err == nil && txn == nil {
		txn, err = s.transactions.GetLatestUnmatched(ctx, merchantOrderID)
	}
	if err != nil {
		s.logger.WithError(err).WithField("merchant_order_id", merchantOrderID).Warn("Failed to look up local transaction")
		return ""
	}
	if txn == nil {
		return ""
	}
	return txn.IntegrationType
}
