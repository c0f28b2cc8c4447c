package services

import (
	"context"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chargeup/payment-engine/internal/database"
	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/metrics"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var (
	combinedExpiryPattern = regexp.MustCompile(`^\s*(\d{1,2})\s*[/\-. ]\s*(\d{2}|\d{4})\s*$`)
	nonDigitPattern       = regexp.MustCompile(`\D`)
)

// CardTokenOutcome is the result of handling one tokenization callback
type CardTokenOutcome struct {
	WebhookID    string
	Status       models.CardTokenStatus
	Replayed     bool // an earlier delivery already produced Status
	InstrumentID *uuid.UUID
}

// CardTokenService turns tokenization callbacks into saved payment instruments,
// at most once per webhook id
type CardTokenService struct {
	records     CardTokenStore
	instruments InstrumentStore
	orders      OrderStore
	users       UserLookup
	now         func() time.Time
	logger      *logrus.Logger
}

// NewCardTokenService creates a new card token service
func NewCardTokenService(
	records CardTokenStore,
	instruments InstrumentStore,
	orders OrderStore,
	users UserLookup,
	logger *logrus.Logger,
) *CardTokenService {
	return &CardTokenService{
		records:     records,
		instruments: instruments,
		orders:      orders,
		users:       users,
		now:         time.Now,
		logger:      logger,
	}
}

// Handle processes a tokenization callback. Failures after the Pending record
// is written are recorded on it and reported through the outcome, not the error.
//
// WebhookService only calls Handle for callbacks whose signature verified.
// Unverified callbacks stop at the audit log and write no record here, so a
// later valid delivery of the same event is not replayed as FailedHmac.
// Passing hmacVerified=false records FailedHmac against the webhook id.
func (s *CardTokenService) Handle(ctx context.Context, f paymob.Fields, rawPayload string, hmacVerified bool) (*CardTokenOutcome, error) {
	webhookID := s.WebhookID(f)
	log := s.logger.WithField("webhook_id", webhookID)

	if existing, err := s.records.GetByWebhookID(ctx, webhookID); err != nil {
		return nil, err
	} else if existing != nil {
		log.WithField("status", existing.Status).Info("Card token webhook already handled")
		return replayOutcome(existing), nil
	}

	record := models.NewCardTokenWebhookRecord(webhookID, rawPayload)
	created, err := s.records.CreatePending(ctx, record)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent delivery won the insert
		existing, err := s.records.GetByWebhookID(ctx, webhookID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return replayOutcome(existing), nil
		}
		return &CardTokenOutcome{WebhookID: webhookID, Status: models.CardTokenPending, Replayed: true}, nil
	}

	if !hmacVerified {
		return s.finish(ctx, record, models.CardTokenFailedHmac, "signature not verified"), nil
	}

	token := f.ObjString("token", "card_token", "saved_card_token", "source_data.token")
	if token == "" {
		return s.finish(ctx, record, models.CardTokenFailedNoToken, "payload carries no card token"), nil
	}
	record.CardToken = &token

	userID := s.resolveUserID(ctx, f)
	if userID == "" {
		return s.finish(ctx, record, models.CardTokenFailedNoUser, "no user could be resolved"), nil
	}
	record.UserID = &userID

	details := ExtractCardDetails(f)
	record.Last4 = details.Last4
	record.Brand = details.Brand
	record.ExpiryMonth = details.ExpiryMonth
	record.ExpiryYear = details.ExpiryYear

	existing, err := s.instruments.GetByUserAndToken(ctx, userID, token)
	if err != nil {
		log.WithError(err).Error("Saved instrument lookup failed")
		return s.finish(ctx, record, models.CardTokenFailedDatabase, err.Error()), nil
	}
	if existing != nil {
		record.SavedInstrumentID = &existing.ID
		return s.finish(ctx, record, models.CardTokenDuplicate, ""), nil
	}

	inst := &models.SavedPaymentInstrument{
		UserID:      userID,
		Token:       token,
		Last4:       details.Last4,
		Brand:       details.Brand,
		ExpiryMonth: details.ExpiryMonth,
		ExpiryYear:  details.ExpiryYear,
	}
	if merchantID := f.ObjString("merchant_id"); merchantID != "" {
		inst.GatewayMerchantID = &merchantID
	}

	if err := s.instruments.Create(ctx, inst); err != nil {
		if errors.Is(err, database.ErrUniqueViolation) {
			if raced, getErr := s.instruments.GetByUserAndToken(ctx, userID, token); getErr == nil && raced != nil {
				record.SavedInstrumentID = &raced.ID
			}
			return s.finish(ctx, record, models.CardTokenDuplicate, ""), nil
		}
		log.WithError(err).Error("Failed to save payment instrument")
		return s.finish(ctx, record, models.CardTokenFailedDatabase, err.Error()), nil
	}

	record.SavedInstrumentID = &inst.ID
	log.WithFields(logrus.Fields{
		"user_id":       userID,
		"instrument_id": inst.ID,
		"is_default":    inst.IsDefault,
	}).Info("Saved payment instrument created")

	return s.finish(ctx, record, models.CardTokenSaved, ""), nil
}

// WebhookID derives the idempotency key: the gateway transaction id, else the
// order id, else a hash of the token within an hour bucket, else a random id
func (s *CardTokenService) WebhookID(f paymob.Fields) string {
	if id := f.ObjInt64("transaction_id", "transaction.id", "id"); id > 0 {
		return "txn:" + strconv.FormatInt(id, 10)
	}
	if id := f.ObjInt64("order_id", "order.id", "order"); id > 0 {
		return "ord:" + strconv.FormatInt(id, 10)
	}
	if token := f.ObjString("token", "card_token", "saved_card_token", "source_data.token"); token != "" {
		bucket := s.now().UTC().Truncate(time.Hour).Format(time.RFC3339)
		sum := blake2b.Sum256([]byte(token + "|" + bucket))
		return "tok:" + hex.EncodeToString(sum[:16])
	}
	return "rnd:" + uuid.NewString()
}

// resolveUserID tries, in order: explicit metadata, the uid segment of the
// merchant order id, the order bound to the gateway order id, the local order
// by merchant order id, and finally the payer email
func (s *CardTokenService) resolveUserID(ctx context.Context, f paymob.Fields) string {
	if uid := f.ObjString("user_id", "metadata.user_id", "extra.user_id", "payment_key_claims.extra.user_id"); uid != "" {
		return uid
	}

	merchantOrderID, uid := ParseMerchantOrderID(f.ObjString("merchant_order_id", "order.merchant_order_id"))
	if uid != "" {
		return uid
	}

	if gatewayOrderID := f.ObjInt64("order_id", "order.id", "order"); gatewayOrderID > 0 {
		order, err := s.orders.GetByGatewayOrderID(ctx, gatewayOrderID)
		if err != nil {
			s.logger.WithError(err).Warn("Order lookup by gateway id failed")
		} else if order != nil && order.UserID != "" {
			return order.UserID
		}
	}

	if merchantOrderID != "" {
		order, err := s.orders.GetByMerchantOrderID(ctx, merchantOrderID)
		if err != nil {
			s.logger.WithError(err).Warn("Order lookup by merchant order id failed")
		} else if order != nil && order.UserID != "" {
			return order.UserID
		}
	}

	if email := f.ObjString("email", "billing_data.email"); email != "" {
		id, err := s.users.FindIDByEmail(ctx, email)
		if err != nil {
			s.logger.WithError(err).Warn("User lookup by email failed")
			return ""
		}
		return id
	}
	return ""
}

func (s *CardTokenService) finish(ctx context.Context, record *models.CardTokenWebhookRecord, status models.CardTokenStatus, reason string) *CardTokenOutcome {
	record.Finish(status, reason)
	if err := s.records.Finish(context.WithoutCancel(ctx), record); err != nil {
		s.logger.WithError(err).WithField("webhook_id", record.WebhookID).Error("Failed to finish card token record")
	}
	metrics.IncCardToken(string(status))

	return &CardTokenOutcome{
		WebhookID:    record.WebhookID,
		Status:       status,
		InstrumentID: record.SavedInstrumentID,
	}
}

func replayOutcome(record *models.CardTokenWebhookRecord) *CardTokenOutcome {
	return &CardTokenOutcome{
		WebhookID:    record.WebhookID,
		Status:       record.Status,
		Replayed:     true,
		InstrumentID: record.SavedInstrumentID,
	}
}

// ============================================================================
// CARD DETAILS
// ============================================================================

// CardDetails holds the display fields of a tokenized card
type CardDetails struct {
	Last4       *string
	Brand       *string
	ExpiryMonth *int
	ExpiryYear  *int
}

// ExtractCardDetails reads last four digits, brand and expiry from a callback.
// Out of range expiry values are dropped.
func ExtractCardDetails(f paymob.Fields) CardDetails {
	var d CardDetails

	last4 := nonDigitPattern.ReplaceAllString(f.ObjString("last4", "last_four", "card_last4"), "")
	if len(last4) != 4 {
		digits := nonDigitPattern.ReplaceAllString(f.ObjString("masked_pan", "source_data.pan", "pan"), "")
		last4 = ""
		if len(digits) >= 4 {
			last4 = digits[len(digits)-4:]
		}
	}
	if last4 != "" {
		d.Last4 = &last4
	}

	if brand := strings.TrimSpace(f.ObjString("card_subtype", "brand", "card_brand", "source_data.sub_type")); brand != "" {
		d.Brand = &brand
	}

	month, year := atoiOrZero(f.ObjString("expiry_month", "exp_month")), atoiOrZero(f.ObjString("expiry_year", "exp_year"))
	if month == 0 || year == 0 {
		if m := combinedExpiryPattern.FindStringSubmatch(f.ObjString("expiry", "expiry_date", "card_expiry")); m != nil {
			month, year = atoiOrZero(m[1]), atoiOrZero(m[2])
		}
	}
	if year > 0 && year < 100 {
		year += 2000
	}
	if month >= 1 && month <= 12 {
		d.ExpiryMonth = &month
	}
	if year >= 2000 && year <= 2100 {
		d.ExpiryYear = &year
	}
	return d
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
