package models

import (
	"time"

	"github.com/google/uuid"
)

// SavedPaymentInstrument is a tokenized card a user can charge again.
// The gateway token never leaves the server.
type SavedPaymentInstrument struct {
	ID                uuid.UUID `json:"id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	Token             string    `json:"-" db:"token"`
	Last4             *string   `json:"last4,omitempty" db:"last4"`
	Brand             *string   `json:"brand,omitempty" db:"brand"`
	ExpiryMonth       *int      `json:"expiry_month,omitempty" db:"expiry_month"`
	ExpiryYear        *int      `json:"expiry_year,omitempty" db:"expiry_year"`
	GatewayMerchantID *string   `json:"-" db:"gateway_merchant_id"`
	IsDefault         bool      `json:"is_default" db:"is_default"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
