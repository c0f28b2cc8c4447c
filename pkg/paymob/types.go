package paymob

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Pay source subtypes accepted by the pay action
const (
	SourceToken    = "TOKEN"
	SourceWallet   = "WALLET"
	SourceApplePay = "APPLE_PAY"
)

// Int64 accepts JSON numbers (integral or not), numeric strings and null
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler
func (n *Int64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = Int64(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Int64(f)
	return nil
}

// OrderRef is an order reference that arrives either as a bare id or as an object with an id
type OrderRef struct {
	ID              int64
	MerchantOrderID string
}

// UnmarshalJSON implements json.Unmarshaler
func (o *OrderRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID              Int64  `json:"id"`
			MerchantOrderID string `json:"merchant_order_id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		o.ID = int64(obj.ID)
		o.MerchantOrderID = obj.MerchantOrderID
		return nil
	}
	var id Int64
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	o.ID = int64(id)
	return nil
}

// BillingData is the billing block the gateway requires with payment keys and intentions
type BillingData struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
	Apartment      string `json:"apartment"`
	Floor          string `json:"floor"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	State          string `json:"state"`
}

// CreateOrderRequest registers a merchant order with the gateway
type CreateOrderRequest struct {
	AuthToken       string        `json:"auth_token"`
	AmountCents     int64         `json:"amount_cents"`
	Currency        string        `json:"currency"`
	MerchantOrderID string        `json:"merchant_order_id"`
	DeliveryNeeded  bool          `json:"delivery_needed"`
	Items           []interface{} `json:"items"`
}

// PaymentKeyRequest requests a method-bound payment key
type PaymentKeyRequest struct {
	AuthToken         string      `json:"auth_token"`
	AmountCents       int64       `json:"amount_cents"`
	Expiration        int         `json:"expiration"`
	OrderID           int64       `json:"order_id"`
	BillingData       BillingData `json:"billing_data"`
	Currency          string      `json:"currency"`
	IntegrationID     int         `json:"integration_id"`
	Tokenize          bool        `json:"tokenize,omitempty"`
	LockOrderWhenPaid bool        `json:"lock_order_when_paid,omitempty"`
}

// PaySource identifies what the pay action charges
type PaySource struct {
	Identifier string `json:"identifier"`
	Subtype    string `json:"subtype"`
}

// PayKind tags the shape a pay response was recognized as
type PayKind string

const (
	PayKindCard     PayKind = "card"
	PayKindWallet   PayKind = "wallet"
	PayKindApplePay PayKind = "apple_pay"
	PayKindOpaque   PayKind = "opaque"
)

// PayResult is the parsed response of the pay action. Opaque results carry
// only Raw; the flags of an opaque result are not meaningful.
type PayResult struct {
	Kind          PayKind
	Success       bool
	Pending       bool
	TransactionID int64
	OrderID       int64
	RedirectURL   string
	Reference     string
	ResponseCode  string
	Message       string
	Raw           json.RawMessage
}

// ConfirmedPaid reports whether the charge completed synchronously
func (r *PayResult) ConfirmedPaid() bool {
	return r.Kind != PayKindOpaque && r.Success && !r.Pending
}

// ParsePayResponse recognizes the pay response for the given source subtype.
// Bodies that are not JSON objects or lack success/pending/id are opaque.
func ParsePayResponse(subtype string, body []byte) *PayResult {
	result := &PayResult{Kind: PayKindOpaque, Raw: json.RawMessage(body)}

	f, err := FlattenJSON(body)
	if err != nil || !f.Has("id") || (!f.Has("success") && !f.Has("pending")) {
		return result
	}

	switch subtype {
	case SourceWallet:
		result.Kind = PayKindWallet
	case SourceApplePay:
		result.Kind = PayKindApplePay
	default:
		result.Kind = PayKindCard
	}

	result.Success = f.ObjBool("success")
	result.Pending = f.ObjBool("pending")
	result.TransactionID = f.ObjInt64("id")
	result.OrderID = f.ObjInt64("order.id", "order")
	result.RedirectURL = f.First("redirect_url", "redirection_url", "iframe_redirection_url", "data.redirect_url")
	result.Reference = f.First("data.bill_reference", "reference", "data.reference", "id")
	result.ResponseCode = f.First("data.txn_response_code", "txn_response_code")
	result.Message = f.First("data.message", "message", "detail")
	return result
}

// IntentionRequest creates a payment intention for client-side confirmation
type IntentionRequest struct {
	Amount           int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	PaymentMethods   []int                  `json:"payment_methods"`
	BillingData      BillingData            `json:"billing_data"`
	SpecialReference string                 `json:"special_reference"`
	Tokenize         bool                   `json:"tokenize,omitempty"`
	MerchantOrderID  string                 `json:"merchant_order_id"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Items            []interface{}          `json:"items"`
}

// IntentionResponse is the subset of the intention resource used by checkout
type IntentionResponse struct {
	ID             string          `json:"id"`
	ClientSecret   string          `json:"client_secret"`
	OrderID        Int64           `json:"order_id"`
	RedirectionURL string          `json:"redirection_url"`
	Status         string          `json:"status"`
	PaymentKeys    []IntentionKey  `json:"payment_keys"`
	IntentionOrder *OrderRef       `json:"intention_order_id,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// IntentionKey is a per-integration key embedded in an intention
type IntentionKey struct {
	Integration Int64  `json:"integration"`
	Key         string `json:"key"`
}

// GatewayOrderID returns the bound order id from whichever field carried it
func (r *IntentionResponse) GatewayOrderID() int64 {
	if r.OrderID > 0 {
		return int64(r.OrderID)
	}
	if r.IntentionOrder != nil {
		return r.IntentionOrder.ID
	}
	return 0
}

// TransactionResource is a transaction as returned by order and transaction queries
type TransactionResource struct {
	ID          Int64    `json:"id"`
	Success     bool     `json:"success"`
	Pending     bool     `json:"pending"`
	IsVoided    bool     `json:"is_voided"`
	IsRefunded  bool     `json:"is_refunded"`
	AmountCents Int64    `json:"amount_cents"`
	Currency    string   `json:"currency"`
	CreatedAt   string   `json:"created_at"`
	Order       OrderRef `json:"order"`
	Data        struct {
		Message         string `json:"message"`
		TxnResponseCode string `json:"txn_response_code"`
	} `json:"data"`
}

// OrderResource is the gateway's view of an order
type OrderResource struct {
	ID              Int64                 `json:"id"`
	MerchantOrderID string                `json:"merchant_order_id"`
	AmountCents     Int64                 `json:"amount_cents"`
	PaidAmountCents Int64                 `json:"paid_amount_cents"`
	Currency        string                `json:"currency"`
	PaymentStatus   string                `json:"payment_status"`
	Status          string                `json:"status"`
	IsRefunded      bool                  `json:"is_refunded"`
	IsVoided        bool                  `json:"is_voided"`
	PaymentDetails  []TransactionResource `json:"payment_details"`
	Transactions    []TransactionResource `json:"transactions"`
}

// LatestTransaction returns the most recent embedded transaction, if any
func (o *OrderResource) LatestTransaction() (TransactionResource, bool) {
	txns := o.PaymentDetails
	if len(txns) == 0 {
		txns = o.Transactions
	}
	return latest(txns)
}

// latest picks the entry with the greatest created_at, keeping list order on ties
func latest(txns []TransactionResource) (TransactionResource, bool) {
	if len(txns) == 0 {
		return TransactionResource{}, false
	}
	best := txns[0]
	for _, t := range txns[1:] {
		if t.CreatedAt >= best.CreatedAt {
			best = t
		}
	}
	return best, true
}

type transactionPage struct {
	Results []TransactionResource `json:"results"`
}
