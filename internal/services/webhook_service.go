package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/chargeup/payment-engine/internal/models"
	"github.com/chargeup/payment-engine/pkg/metrics"
	"github.com/chargeup/payment-engine/pkg/paymob"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TransactionReconciler applies verified transaction callbacks
type TransactionReconciler interface {
	ApplyWebhook(ctx context.Context, f paymob.Fields) (*ReconcileResult, error)
}

// CardTokenPipeline persists tokenized cards from verified callbacks
type CardTokenPipeline interface {
	Handle(ctx context.Context, f paymob.Fields, rawPayload string, hmacVerified bool) (*CardTokenOutcome, error)
}

// WebhookRequest is an inbound callback as received over HTTP
type WebhookRequest struct {
	Method      string
	Query       url.Values
	ContentType string
	Body        []byte
	IPAddress   string
	UserAgent   string
	DeviceInfo  string
}

// WebhookResult is what the ingestor did with a callback. Callers always
// acknowledge the sender, whatever the outcome.
type WebhookResult struct {
	AuditID         uuid.UUID
	EventType       string
	HMACValid       bool
	Outcome         models.WebhookOutcome
	MerchantOrderID string
}

// WebhookService verifies, audits and dispatches gateway callbacks
type WebhookService struct {
	hmacSecret string
	audits     WebhookAuditStore
	reconciler TransactionReconciler
	cardTokens CardTokenPipeline
	logger     *logrus.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	hmacSecret string,
	audits WebhookAuditStore,
	reconciler TransactionReconciler,
	cardTokens CardTokenPipeline,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		hmacSecret: hmacSecret,
		audits:     audits,
		reconciler: reconciler,
		cardTokens: cardTokens,
		logger:     logger,
	}
}

// ParseWebhookFields merges a JSON or form body with the query string.
// Body fields win over query fields of the same name.
func ParseWebhookFields(query url.Values, contentType string, body []byte) (paymob.Fields, error) {
	fields := paymob.Fields{}
	var parseErr error

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
	case strings.Contains(contentType, "json") || trimmed[0] == '{' || trimmed[0] == '[':
		parsed, err := paymob.FlattenJSON(trimmed)
		if err != nil {
			parseErr = err
			break
		}
		fields = parsed
	default:
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			parseErr = fmt.Errorf("failed to decode form payload: %w", err)
			break
		}
		fields.AddValues(form)
	}

	fields.AddValues(query)
	return fields, parseErr
}

// Handle processes one callback. It never fails: every attempt is audited and
// every error is folded into the outcome.
func (s *WebhookService) Handle(ctx context.Context, req WebhookRequest) (result *WebhookResult) {
	fields, parseErr := ParseWebhookFields(req.Query, req.ContentType, req.Body)
	eventType, valid := paymob.VerifyFields(s.hmacSecret, fields)

	raw := string(req.Body)
	if raw == "" {
		raw = req.Query.Encode()
	}

	merchantOrderID := fields.ObjString("order.merchant_order_id", "merchant_order_id")
	gatewayOrderID := fields.ObjInt64("order.id", "order", "order_id")
	var gatewayTransactionID int64
	if eventType == paymob.EventTransaction {
		gatewayTransactionID = fields.ObjInt64("id")
	}

	audit := models.NewWebhookAuditLog(models.WebhookEventType(eventType), raw).
		SetIdentifiers(merchantOrderID, gatewayOrderID, gatewayTransactionID).
		SetMetadata(req.Method, req.IPAddress, req.UserAgent, req.DeviceInfo)
	audit.IsHmacValid = valid
	audit.Fields = redactFields(fields)

	result = &WebhookResult{
		AuditID:         audit.ID,
		EventType:       eventType,
		HMACValid:       valid,
		Outcome:         models.WebhookOutcomeIgnored,
		MerchantOrderID: merchantOrderID,
	}

	log := s.logger.WithFields(logrus.Fields{
		"audit_id":         audit.ID,
		"event_type":       eventType,
		"hmac_valid":       valid,
		"gateway_order_id": gatewayOrderID,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Webhook processing panicked")
			result.Outcome = models.WebhookOutcomeFailed
			audit.SetError(fmt.Sprint(r))
		}
		audit.SetOutcome(result.Outcome)

		// The audit row must survive a cancelled request
		if err := s.audits.Log(context.WithoutCancel(ctx), audit); err != nil {
			log.WithError(err).Error("Failed to write webhook audit")
		}
		metrics.IncWebhook(eventType, valid, string(result.Outcome))
		log.WithField("outcome", result.Outcome).Info("Webhook handled")
	}()

	switch {
	case parseErr != nil && len(fields) == 0:
		audit.SetError(parseErr.Error())
	case !valid:
		audit.SetError(ErrSignatureInvalid.Error())
	case eventType == paymob.EventTransaction:
		res, err := s.reconciler.ApplyWebhook(ctx, fields)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			result.Outcome = models.WebhookOutcomeOrderNotFound
			audit.SetError(err.Error())
		case err != nil:
			log.WithError(err).Error("Transaction reconciliation failed")
			result.Outcome = models.WebhookOutcomeFailed
			audit.SetError(err.Error())
		default:
			result.Outcome = models.WebhookOutcomeProcessed
			result.MerchantOrderID = res.MerchantOrderID
			audit.SetIdentifiers(res.MerchantOrderID, 0, 0)
		}
	case eventType == paymob.EventCardToken:
		out, err := s.cardTokens.Handle(ctx, fields, raw, true)
		switch {
		case err != nil:
			log.WithError(err).Error("Card token processing failed")
			result.Outcome = models.WebhookOutcomeFailed
			audit.SetError(err.Error())
		case out.Replayed || out.Status == models.CardTokenDuplicate:
			result.Outcome = models.WebhookOutcomeDuplicate
		case out.Status == models.CardTokenSaved:
			result.Outcome = models.WebhookOutcomeProcessed
		default:
			result.Outcome = models.WebhookOutcomeFailed
			audit.SetError(string(out.Status))
		}
	default:
		log.Warn("Unrecognized webhook event type acknowledged without processing")
	}

	return result
}

// redactFields copies the flattened payload for the audit row, masking card tokens
func redactFields(f paymob.Fields) models.JSONB {
	m := f.Map()
	for k := range m {
		if k == "hmac" || strings.HasSuffix(k, "token") {
			m[k] = "[REDACTED]"
		}
	}
	return models.JSONB(m)
}
