package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType is the classification of an inbound gateway callback
type WebhookEventType string

const (
	WebhookEventTransaction WebhookEventType = "TRANSACTION"
	WebhookEventCardToken   WebhookEventType = "CARD_TOKEN"
	WebhookEventUnknown     WebhookEventType = "UNKNOWN"
)

// WebhookOutcome summarizes what the ingestor did with a callback
type WebhookOutcome string

const (
	WebhookOutcomeProcessed     WebhookOutcome = "processed"
	WebhookOutcomeIgnored       WebhookOutcome = "ignored"
	WebhookOutcomeDuplicate     WebhookOutcome = "duplicate"
	WebhookOutcomeOrderNotFound WebhookOutcome = "order_not_found"
	WebhookOutcomeFailed        WebhookOutcome = "failed"
)

// WebhookAuditLog is an append-only record of one inbound callback, valid or not
type WebhookAuditLog struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	EventType            WebhookEventType `json:"event_type" db:"event_type"`
	MerchantOrderID      *string          `json:"merchant_order_id,omitempty" db:"merchant_order_id"`
	GatewayOrderID       *int64           `json:"gateway_order_id,omitempty" db:"gateway_order_id"`
	GatewayTransactionID *int64           `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`

	IsHmacValid bool           `json:"is_hmac_valid" db:"is_hmac_valid"`
	IsProcessed bool           `json:"is_processed" db:"is_processed"`
	Outcome     WebhookOutcome `json:"outcome" db:"outcome"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	// Raw payload for replay and debugging
	RawPayload string `json:"raw_payload" db:"raw_payload"`
	Fields     JSONB  `json:"fields,omitempty" db:"fields"`

	// Sender metadata
	HTTPMethod *string `json:"http_method,omitempty" db:"http_method"`
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceInfo *string `json:"device_info,omitempty" db:"device_info"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// NewWebhookAuditLog creates an audit entry for a callback received now
func NewWebhookAuditLog(eventType WebhookEventType, rawPayload string) *WebhookAuditLog {
	return &WebhookAuditLog{
		ID:         uuid.New(),
		EventType:  eventType,
		RawPayload: rawPayload,
		Outcome:    WebhookOutcomeIgnored,
		ReceivedAt: time.Now(),
	}
}

// SetIdentifiers records whichever identifiers the payload carried
func (a *WebhookAuditLog) SetIdentifiers(merchantOrderID string, gatewayOrderID, gatewayTransactionID int64) *WebhookAuditLog {
	if merchantOrderID != "" {
		a.MerchantOrderID = &merchantOrderID
	}
	if gatewayOrderID > 0 {
		a.GatewayOrderID = &gatewayOrderID
	}
	if gatewayTransactionID > 0 {
		a.GatewayTransactionID = &gatewayTransactionID
	}
	return a
}

// SetOutcome sets the processing result
func (a *WebhookAuditLog) SetOutcome(outcome WebhookOutcome) *WebhookAuditLog {
	a.Outcome = outcome
	a.IsProcessed = outcome == WebhookOutcomeProcessed || outcome == WebhookOutcomeDuplicate
	return a
}

// SetError sets error information
func (a *WebhookAuditLog) SetError(message string) *WebhookAuditLog {
	a.ErrorMessage = &message
	return a
}

// SetMetadata sets sender metadata
func (a *WebhookAuditLog) SetMetadata(method, ip, userAgent, deviceInfo string) *WebhookAuditLog {
	if method != "" {
		a.HTTPMethod = &method
	}
	if ip != "" {
		a.IPAddress = &ip
	}
	if userAgent != "" {
		a.UserAgent = &userAgent
	}
	if deviceInfo != "" {
		a.DeviceInfo = &deviceInfo
	}
	return a
}
