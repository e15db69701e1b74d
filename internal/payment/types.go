package payment

import (
	"errors"
	"math"
	"time"
)

// Payment statuses. Transitions only move forward:
// pending -> verified -> submitted.
const (
	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusSubmitted = "submitted"
)

// Payment is one international payment instruction. Amounts are minor
// units; floats never reach storage.
type Payment struct {
	ID                 string     `json:"id"`
	CustomerID         string     `json:"customer_id"`
	AmountMinor        int64      `json:"amount_minor"`
	Currency           string     `json:"currency"`
	Provider           string     `json:"provider"`
	PayeeAccountNumber string     `json:"payee_account_number"`
	PayeeName          string     `json:"payee_name"`
	SwiftCode          string     `json:"swift_code"`
	Reference          string     `json:"reference,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	VerifiedBy         string     `json:"verified_by,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy        string     `json:"submitted_by,omitempty"`
	IdempotencyKey     string     `json:"idempotency_key,omitempty"`
}

// Draft is the customer's input for a new payment. Amount is the major-unit
// value as entered; it is validated and converted to minor units on create.
type Draft struct {
	CustomerID         string
	Amount             float64
	Currency           string
	Provider           string
	PayeeAccountNumber string
	PayeeName          string
	SwiftCode          string
	Reference          string
	IdempotencyKey     string
}

var (
	ErrNotFound          = errors.New("payment: not found")
	ErrInvalidInput      = errors.New("payment: invalid input")
	ErrInvalidTransition = errors.New("payment: invalid status transition")
)

// MinorUnits converts a validated two-decimal major-unit amount to minor
// units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
