package models

import (
	"time"

	"github.com/google/uuid"
)

// CardTokenStatus is the processing state of a tokenization callback
type CardTokenStatus string

const (
	CardTokenPending        CardTokenStatus = "Pending"
	CardTokenSaved          CardTokenStatus = "Saved"
	CardTokenDuplicate      CardTokenStatus = "Duplicate"
	CardTokenFailedHmac     CardTokenStatus = "FailedHmac"
	CardTokenFailedNoToken  CardTokenStatus = "FailedNoToken"
	CardTokenFailedNoUser   CardTokenStatus = "FailedNoUser"
	CardTokenFailedDatabase CardTokenStatus = "FailedDatabase"
)

// IsTerminal reports whether processing has finished for the record
func (s CardTokenStatus) IsTerminal() bool {
	return s != CardTokenPending
}

// CardTokenWebhookRecord is the idempotency record for one tokenization event
type CardTokenWebhookRecord struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	WebhookID         string          `json:"webhook_id" db:"webhook_id"`
	UserID            *string         `json:"user_id,omitempty" db:"user_id"`
	CardToken         *string         `json:"-" db:"card_token"`
	Last4             *string         `json:"last4,omitempty" db:"last4"`
	Brand             *string         `json:"brand,omitempty" db:"brand"`
	ExpiryMonth       *int            `json:"expiry_month,omitempty" db:"expiry_month"`
	ExpiryYear        *int            `json:"expiry_year,omitempty" db:"expiry_year"`
	Status            CardTokenStatus `json:"status" db:"status"`
	FailureReason     *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	SavedInstrumentID *uuid.UUID      `json:"saved_instrument_id,omitempty" db:"saved_instrument_id"`
	RawPayload        string          `json:"raw_payload" db:"raw_payload"`
	ReceivedAt        time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// NewCardTokenWebhookRecord creates the Pending record written before validation
func NewCardTokenWebhookRecord(webhookID, rawPayload string) *CardTokenWebhookRecord {
	return &CardTokenWebhookRecord{
		ID:         uuid.New(),
		WebhookID:  webhookID,
		Status:     CardTokenPending,
		RawPayload: rawPayload,
		ReceivedAt: time.Now(),
	}
}

// Finish moves the record to a terminal status
func (r *CardTokenWebhookRecord) Finish(status CardTokenStatus, reason string) *CardTokenWebhookRecord {
	r.Status = status
	if reason != "" {
		r.FailureReason = &reason
	}
	now := time.Now()
	r.ProcessedAt = &now
	return r
}
