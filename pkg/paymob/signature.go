package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Event types carried by gateway callbacks
const (
	EventTransaction = "TRANSACTION"
	EventCardToken   = "CARD_TOKEN"
	EventUnknown     = "UNKNOWN"
)

// ErrUnsupportedEvent is returned when no canonicalization rule exists for an event type
var ErrUnsupportedEvent = fmt.Errorf("unsupported webhook event type")

// transactionSignedFields is the gateway's ordered list of signed transaction paths
var transactionSignedFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

var tokenBearingKeys = []string{
	"obj.token",
	"obj.card_token",
	"obj.saved_card_token",
	"obj.source_data.token",
	"card_token",
	"saved_card_token",
	"source_data.token",
	"token",
}

// Field is one signed (path, value) pair in signing order
type Field struct {
	Path  string
	Value string
}

// ClassifyEvent determines the callback type. An explicit "type" field is
// honored; otherwise the presence of a token-bearing key marks a card token
// event and everything else is a transaction.
func ClassifyEvent(f Fields) string {
	switch strings.ToUpper(strings.TrimSpace(f.Get("type"))) {
	case "TOKEN", EventCardToken:
		return EventCardToken
	case "TRANSACTION", "TXN":
		return EventTransaction
	case "":
	default:
		return EventUnknown
	}

	for _, k := range tokenBearingKeys {
		if f.Get(k) != "" {
			return EventCardToken
		}
	}
	return EventTransaction
}

// normalizeEventType maps aliases onto the canonical event names
func normalizeEventType(eventType string) string {
	switch strings.ToUpper(eventType) {
	case EventTransaction, "TXN":
		return EventTransaction
	case EventCardToken, "TOKEN":
		return EventCardToken
	}
	return EventUnknown
}

// Canonicalize returns the signed fields for eventType in signing order
func Canonicalize(eventType string, f Fields) ([]Field, error) {
	switch normalizeEventType(eventType) {
	case EventTransaction:
		out := make([]Field, 0, len(transactionSignedFields))
		for _, path := range transactionSignedFields {
			out = append(out, Field{Path: path, Value: transactionValue(f, path)})
		}
		return out, nil
	case EventCardToken:
		// Only scalar properties carry a value. A nested object or array keeps
		// its slot in the sort order but contributes "", so its contents are
		// not covered by the signature and must not be trusted.
		names := objTopLevelNames(f)
		out := make([]Field, 0, len(names))
		for _, name := range names {
			v, _ := f.ObjValue(name)
			out = append(out, Field{Path: name, Value: v})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
}

// CanonicalString concatenates the field values
func CanonicalString(fields []Field) string {
	var b strings.Builder
	for _, fl := range fields {
		b.WriteString(fl.Value)
	}
	return b.String()
}

// transactionValue resolves a signed path, tolerating query-string callbacks
// where the order id arrives as a bare "order" field.
func transactionValue(f Fields, path string) string {
	if v, ok := f.ObjValue(path); ok {
		return v
	}
	if path == "order.id" {
		if v, ok := f.ObjValue("order"); ok {
			return v
		}
	}
	return ""
}

// objTopLevelNames lists the property names of the obj envelope, excluding
// hmac, sorted byte-wise. Query-string payloads without an envelope use
// their own top-level names.
func objTopLevelNames(f Fields) []string {
	seen := map[string]struct{}{}
	hasEnvelope := false
	for key := range f {
		if rest, ok := strings.CutPrefix(key, "obj."); ok {
			hasEnvelope = true
			seen[firstSegment(rest)] = struct{}{}
		}
	}
	if !hasEnvelope {
		for key := range f {
			name := firstSegment(key)
			if name == "type" {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	delete(seen, "hmac")

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// DecodeSecret interprets secret as hex when it has even length and only
// hex digits, and as UTF-8 text otherwise.
func DecodeSecret(secret string) []byte {
	if len(secret) > 0 && len(secret)%2 == 0 && isHex(secret) {
		if b, err := hex.DecodeString(secret); err == nil {
			return b
		}
	}
	return []byte(secret)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// Sign computes the lowercase hex HMAC-SHA512 of canonical
func Sign(secret, canonical string) string {
	mac := hmac.New(sha512.New, DecodeSecret(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares received against the expected signature in constant time
func Verify(secret, canonical, received string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(received))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, DecodeSecret(secret))
	mac.Write([]byte(canonical))
	return hmac.Equal(mac.Sum(nil), got)
}

// VerifyFields classifies, canonicalizes and verifies a flattened callback.
// The signature is read from the "hmac" field.
func VerifyFields(secret string, f Fields) (eventType string, valid bool) {
	eventType = ClassifyEvent(f)
	fields, err := Canonicalize(eventType, f)
	if err != nil {
		return eventType, false
	}
	received := f.First("hmac", "obj.hmac")
	if received == "" {
		return eventType, false
	}
	return eventType, Verify(secret, CanonicalString(fields), received)
}
