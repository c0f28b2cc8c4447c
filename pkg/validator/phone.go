package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 11 digits
	ErrInvalidLength = errors.New("wallet phone number must be exactly 11 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a mobile wallet prefix
	ErrInvalidPrefix = errors.New("wallet phone number must start with 010, 011, 012, or 015")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// walletPrefixes contains the mobile operator prefixes that support wallets
var walletPrefixes = map[string]string{
	"010": "Vodafone",
	"011": "Etisalat",
	"012": "Orange",
	"015": "WE",
}

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator validates mobile wallet numbers
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a wallet phone number
// Accepts format: 01012345678, 010 1234 5678, +20 10 1234 5678
// Returns the sanitized local number and an error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	if len(sanitized) != 11 {
		return "", ErrInvalidLength
	}

	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize removes separators and converts an international number to local form
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")
	phone = replacer.Replace(phone)

	// 00201XXXXXXXXX and 201XXXXXXXXX both become 01XXXXXXXXX
	phone = strings.TrimPrefix(phone, "00")
	if strings.HasPrefix(phone, "20") && len(phone) == 12 {
		phone = "0" + phone[2:]
	}

	return phone
}

// IsValidPrefix checks if phone number has a wallet-capable prefix
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if len(phone) < 3 {
		return false
	}
	_, ok := walletPrefixes[phone[:3]]
	return ok
}

// GetOperator returns the mobile operator name based on prefix
func (v *PhoneValidator) GetOperator(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return walletPrefixes[sanitized[:3]], nil
}

// Format formats a phone number for display: 01X XXXX XXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", sanitized[0:3], sanitized[3:7], sanitized[7:11]), nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
