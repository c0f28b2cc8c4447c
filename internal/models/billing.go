package models

import "strings"

// BillingPlaceholder fills optional billing fields the gateway still requires
const BillingPlaceholder = "NA"

// BillingData is the billing block sent with payment key and intention requests
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

// Normalize trims every field, fills optional ones with BillingPlaceholder and
// returns the names of missing mandatory fields.
func (b BillingData) Normalize() (BillingData, []string) {
	out := BillingData{
		FirstName:   strings.TrimSpace(b.FirstName),
		LastName:    strings.TrimSpace(b.LastName),
		Email:       strings.TrimSpace(b.Email),
		PhoneNumber: strings.TrimSpace(b.PhoneNumber),
	}

	var missing []string
	if out.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if out.LastName == "" {
		missing = append(missing, "last_name")
	}
	if out.Email == "" {
		missing = append(missing, "email")
	}
	if out.PhoneNumber == "" {
		missing = append(missing, "phone_number")
	}

	out.Apartment = orPlaceholder(b.Apartment)
	out.Floor = orPlaceholder(b.Floor)
	out.Street = orPlaceholder(b.Street)
	out.Building = orPlaceholder(b.Building)
	out.ShippingMethod = orPlaceholder(b.ShippingMethod)
	out.PostalCode = orPlaceholder(b.PostalCode)
	out.City = orPlaceholder(b.City)
	out.Country = orPlaceholder(b.Country)
	out.State = orPlaceholder(b.State)

	return out, missing
}

func orPlaceholder(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return BillingPlaceholder
	}
	return s
}
